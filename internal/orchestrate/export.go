package orchestrate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kegpm/kegpm/internal/store"
)

// ExportEntry is one line of an exported package manifest: enough to
// reinstall the same primary package set elsewhere.
type ExportEntry struct {
	Name    string
	Version string
	Pinned  bool
}

// Export lists every primary (user-requested, not dependency-only)
// installed package with its active version, in a form `kegpm install`
// given the same list would reproduce - the "reproducible manifest"
// counterpart to List's full (primary + dependency) view.
func Export(s *store.Store) ([]ExportEntry, error) {
	installed, err := s.InstalledPackages()
	if err != nil {
		return nil, err
	}

	var out []ExportEntry
	for _, pkg := range installed {
		h, err := store.Open(s, pkg)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", pkg, err)
		}
		if !h.Primary || h.ActiveVersion == nil {
			continue
		}
		out = append(out, ExportEntry{
			Name:    string(pkg),
			Version: string(*h.ActiveVersion),
			Pinned:  h.Pinned,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FormatExport renders entries in the one-per-line "name==version" format
// (with a trailing "(pinned)" marker), the plain-text manifest format
// `kegpm export` writes to stdout or a file.
func FormatExport(entries []ExportEntry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s==%s", e.Name, e.Version)
		if e.Pinned {
			b.WriteString(" (pinned)")
		}
		b.WriteByte('\n')
	}
	return b.String()
}
