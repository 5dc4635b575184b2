// Package machofix rewrites the embedded Mach-O load commands of an
// extracted bottle's binaries so the tree is relocatable under the store
// root: dylib install names and linked-library references become
// @loader_path-relative, rpaths are stripped, and changed binaries are
// re-signed ad-hoc. It shells out to the platform utilities (otool,
// install_name_tool, codesign) rather than linking a Mach-O parsing
// library.
package machofix

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// MachOMagic is the 64-bit little-endian Mach-O magic number.
var MachOMagic = []byte{0xcf, 0xfa, 0xed, 0xfe}

// IsMachO reports whether the first four bytes of head are the Mach-O
// magic this fixer handles.
func IsMachO(head []byte) bool {
	return bytes.HasPrefix(head, MachOMagic)
}

// LoadCommands is the subset of `otool -l` output this fixer consumes:
// the binary's own install name (LC_ID_DYLIB, dylibs only), its linked
// library references (LC_LOAD_DYLIB), its rpath entries (LC_RPATH), and
// whether it carries a code signature.
type LoadCommands struct {
	InstallName string
	Linked      []string
	RPaths      []string
	Signed      bool
}

// RewriteOptions supplies the values the rewriter resolves
// @@HOMEBREW_PREFIX@@/@@HOMEBREW_CELLAR@@/@loader_path/@rpath references
// against.
type RewriteOptions struct {
	StoreRoot string
	Package   string
	Version   string
	// OptPath is R/opt/<pkg>, consulted when a resolved reference lives
	// under this package's own opt tree.
	OptPath string
}

// RewriteFile runs the full fixup sequence
// against one Mach-O file: normalize the install name, delete rpaths,
// rewrite each linked-library reference, invoke install_name_tool with the
// accumulated changes, re-sign ad-hoc if the binary was signed, and
// restore its original mtime/atime.
func RewriteFile(path string, opts RewriteOptions) (warnings []string, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	mtime := info.ModTime()

	lc, err := readLoadCommands(path)
	if err != nil {
		return nil, fmt.Errorf("reading load commands of %s: %w", path, err)
	}

	var changes bool
	var args []string

	newID := "@loader_path/" + filepath.Base(path)
	if lc.InstallName != "" && lc.InstallName != newID {
		args = append(args, "-id", newID)
		changes = true
	}

	for _, rpath := range lc.RPaths {
		args = append(args, "-delete_rpath", rpath)
		changes = true
	}

	for _, ref := range lc.Linked {
		newRef, ok, warn := resolveReference(path, ref, lc.RPaths, opts)
		if warn != "" {
			warnings = append(warnings, warn)
		}
		if !ok || newRef == ref {
			continue
		}
		args = append(args, "-change", ref, newRef)
		changes = true
	}

	if !changes {
		return warnings, nil
	}

	if err := runInstallNameTool(path, args); err != nil {
		return warnings, fmt.Errorf("install_name_tool on %s: %w", path, err)
	}

	if lc.Signed {
		if err := resign(path); err != nil {
			return warnings, fmt.Errorf("re-signing %s: %w", path, err)
		}
	}

	if err := os.Chtimes(path, mtime, mtime); err != nil {
		return warnings, fmt.Errorf("restoring timestamps on %s: %w", path, err)
	}

	return warnings, nil
}

// resolveReference resolves one linked-library reference to its new
// @loader_path-relative form. It returns
// ok=false (no rewrite) for absolute system paths left alone as-is, and a
// warning when a placeholder/@rpath reference cannot be resolved to an
// existing on-disk file.
func resolveReference(binPath, ref string, rpaths []string, opts RewriteOptions) (newRef string, ok bool, warning string) {
	resolved, resolvable := resolveOnDisk(binPath, ref, rpaths, opts)
	if !resolvable {
		if strings.HasPrefix(ref, "@") || strings.Contains(ref, "@@HOMEBREW_") {
			return "", false, fmt.Sprintf("could not resolve library reference %q from %s", ref, binPath)
		}
		// Absolute system path, left alone.
		return "", false, ""
	}

	// A reference into this package's own opt tree is rebased onto the keg
	// itself: the opt-link does not exist yet while fixup runs (linking
	// happens after), and the rewritten path must stay valid within the keg
	// across later version switches anyway.
	if opts.OptPath != "" && strings.HasPrefix(resolved, opts.OptPath+string(filepath.Separator)) {
		keg := filepath.Join(opts.StoreRoot, "Cellar", opts.Package, opts.Version)
		resolved = filepath.Join(keg, strings.TrimPrefix(resolved, opts.OptPath+string(filepath.Separator)))
	}

	if _, err := os.Stat(resolved); err != nil {
		return "", false, fmt.Sprintf("resolved library reference %q from %s does not exist on disk (%s)", ref, binPath, resolved)
	}

	rel, err := filepath.Rel(filepath.Dir(binPath), resolved)
	if err != nil {
		return "", false, fmt.Sprintf("computing relative path for %q from %s: %v", ref, binPath, err)
	}

	return "@loader_path/" + rel, true, ""
}

// resolveOnDisk maps a possibly-placeholder, possibly-@-relative
// reference to a concrete filesystem path, without checking existence.
func resolveOnDisk(binPath, ref string, rpaths []string, opts RewriteOptions) (string, bool) {
	switch {
	case strings.HasPrefix(ref, "@@HOMEBREW_PREFIX@@"):
		return opts.StoreRoot + strings.TrimPrefix(ref, "@@HOMEBREW_PREFIX@@"), true
	case strings.HasPrefix(ref, "@@HOMEBREW_CELLAR@@"):
		return filepath.Join(opts.StoreRoot, "Cellar") + strings.TrimPrefix(ref, "@@HOMEBREW_CELLAR@@"), true
	case strings.HasPrefix(ref, "@loader_path/"):
		return filepath.Join(filepath.Dir(binPath), strings.TrimPrefix(ref, "@loader_path/")), true
	case strings.HasPrefix(ref, "@rpath/"):
		rest := strings.TrimPrefix(ref, "@rpath/")
		for _, rp := range rpaths {
			candidate := filepath.Join(expandRpathBase(rp, binPath, opts), rest)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, true
			}
		}
		return "", false
	default:
		return "", false
	}
}

func expandRpathBase(rpath, binPath string, opts RewriteOptions) string {
	switch {
	case strings.HasPrefix(rpath, "@loader_path/"):
		return filepath.Join(filepath.Dir(binPath), strings.TrimPrefix(rpath, "@loader_path/"))
	case strings.HasPrefix(rpath, "@@HOMEBREW_PREFIX@@"):
		return opts.StoreRoot + strings.TrimPrefix(rpath, "@@HOMEBREW_PREFIX@@")
	default:
		return rpath
	}
}

func runInstallNameTool(path string, args []string) error {
	tool, err := exec.LookPath("install_name_tool")
	if err != nil {
		return fmt.Errorf("install_name_tool not found: %w", err)
	}
	cmd := exec.Command(tool, append(args, path)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

func resign(path string) error {
	tool, err := exec.LookPath("codesign")
	if err != nil {
		return fmt.Errorf("codesign not found: %w", err)
	}
	cmd := exec.Command(tool, "-f", "-s", "-", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}
