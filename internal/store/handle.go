package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Handle is an owned view of one package's state: active version, all
// versions, pin/primary flags, and link targets. It is populated once and
// never mutated in place across store operations - a command that changes
// the package's state discards its Handle and asks Store for a fresh one,
// matching the "cached properties are exclusively owned within a single
// command" discipline the rest of the system follows.
type Handle struct {
	Name          Name
	store         *Store
	Versions      []Version
	ActiveVersion *Version // nil if opt-link is absent or dangling
	Pinned        bool
	Primary       bool
	OptLinkTarget string // empty if absent
	BinLinks      []string
}

// Open builds a Handle for pkg by reading its current on-disk state.
func Open(s *Store, pkg Name) (*Handle, error) {
	versions, err := s.Versions(pkg)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		Name:     pkg,
		store:    s,
		Versions: versions,
		Pinned:   fileExists(s.pinnedFlagPath(pkg)),
		Primary:  fileExists(s.primaryFlagPath(pkg)),
	}

	if target, err := os.Readlink(s.OptLinkPath(pkg)); err == nil {
		h.OptLinkTarget = target
		if v := activeVersionFromTarget(pkg, target); v != "" {
			h.ActiveVersion = &v
		}
	}

	binLinks, err := s.binLinksForPackage(pkg)
	if err != nil {
		return nil, err
	}
	h.BinLinks = binLinks

	return h, nil
}

// activeVersionFromTarget extracts the version segment from an opt-link
// target, enforcing the invariant that opt/<pkg>'s target must start with
// "Cellar/<pkg>/"; anything else is a foreign symlink and is ignored.
func activeVersionFromTarget(pkg Name, target string) Version {
	prefix := filepath.Join("Cellar", string(pkg)) + string(filepath.Separator)
	clean := filepath.Clean(target)
	if len(clean) <= len(prefix) || clean[:len(prefix)] != prefix {
		// Absolute targets and any other shape are not recognized and
		// yield no active version.
		return ""
	}
	rest := clean[len(prefix):]
	// rest may be "1.2.3" or "1.2.3/trailing/garbage"; only the first
	// segment is the version.
	for i, c := range rest {
		if c == filepath.Separator {
			return Version(rest[:i])
		}
	}
	return Version(rest)
}

// binLinksForPackage returns every R/bin/<exe> symlink whose target
// resolves through this package's opt-link (the two-hop indirection).
func (s *Store) binLinksForPackage(pkg Name) ([]string, error) {
	entries, err := os.ReadDir(s.BinDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.BinDir(), err)
	}

	optPrefix := filepath.Join("..", "opt", string(pkg)) + string(filepath.Separator)
	var links []string
	for _, e := range entries {
		target, err := os.Readlink(filepath.Join(s.BinDir(), e.Name()))
		if err != nil {
			continue
		}
		clean := filepath.Clean(target)
		if len(clean) > len(optPrefix) && clean[:len(optPrefix)] == optPrefix {
			links = append(links, e.Name())
		}
	}
	return links, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SetPinned touches or removes the .pinned flag file.
func (s *Store) SetPinned(pkg Name, pinned bool) error {
	return setPresenceFlag(s.pinnedFlagPath(pkg), pinned)
}

// SetPrimary touches or removes the .primary flag file.
func (s *Store) SetPrimary(pkg Name, primary bool) error {
	return setPresenceFlag(s.primaryFlagPath(pkg), primary)
}

func setPresenceFlag(path string, present bool) error {
	if !present {
		err := os.Remove(path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing flag %s: %w", path, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("touching flag %s: %w", path, err)
	}
	return f.Close()
}

// SetDigest writes the committed content digest for (pkg, ver), atomically
// via temp-file-then-rename, matching the archive's actual sha256.
func (s *Store) SetDigest(pkg Name, ver Version, digest string) error {
	path := s.DigestPath(pkg, ver)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(digest), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing %s: %w", path, err)
	}
	return nil
}

// Digest reads the committed digest for (pkg, ver), or "" if none is set.
func (s *Store) Digest(pkg Name, ver Version) (string, error) {
	data, err := os.ReadFile(s.DigestPath(pkg, ver))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// Sha256File computes the sha256 digest of a file on disk, used both to
// verify downloaded archives against the upstream manifest and to commit
// Cellar/<pkg>/<ver>/.brew/digest after a successful install.
func Sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Touch sets the mtime and atime of path.
func Touch(path string, atime, mtime time.Time) error {
	return os.Chtimes(path, atime, mtime)
}
