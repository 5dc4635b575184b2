// Package bottle implements the bottle installer: safe archive extraction
// into the store, post-install Mach-O/placeholder fixup dispatch, and
// content-digest commit. The archive safety filter rejects absolute and
// escaping paths, masks permission bits, and normalizes and verifies
// symlink targets before any entry is written to disk.
package bottle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// isPathWithinDirectory reports whether targetPath is basePath or a
// descendant of it, guarding against archive entries that try to escape
// the extraction root via ".." segments or absolute paths.
func isPathWithinDirectory(targetPath, basePath string) bool {
	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return false
	}
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return false
	}
	return absTarget == absBase || strings.HasPrefix(absTarget, absBase+string(os.PathSeparator))
}

// validateEntryPath rejects an absolute tar entry path and resolves the
// entry's target within destRoot, returning an error if it would escape.
func validateEntryPath(name, destRoot string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("archive entry has an absolute path: %s", name)
	}
	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	target := filepath.Join(destRoot, clean)
	if !isPathWithinDirectory(target, destRoot) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return target, nil
}

// validateSymlinkTarget rejects an absolute symlink target and resolves
// the destination the link would point to, verifying it stays inside
// destRoot. linkLocation is the link's own path (already validated).
func validateSymlinkTarget(linkTarget, linkLocation, destRoot string) error {
	if filepath.IsAbs(linkTarget) {
		return fmt.Errorf("absolute symlink target not allowed: %s -> %s", linkLocation, linkTarget)
	}
	resolved := filepath.Join(filepath.Dir(linkLocation), linkTarget)
	if !isPathWithinDirectory(resolved, destRoot) {
		return fmt.Errorf("symlink target escapes destination: %s -> %s (resolves to %s)", linkLocation, linkTarget, resolved)
	}
	return nil
}

// sanitizeMode masks an archive entry's permission bits to 0755, clearing
// any executable bit the entry didn't itself request and ensuring the
// owner always has read/write.
func sanitizeMode(mode os.FileMode) os.FileMode {
	perm := mode.Perm() & 0755
	perm |= 0600 // owner read/write always
	if mode.Perm()&0100 == 0 {
		perm &^= 0111 // no user-exec bit in the source entry: clear all exec bits
	}
	return perm
}

// atomicSymlink creates a symlink at linkPath via a temp-name-then-rename,
// avoiding a TOCTOU window where a concurrent reader could observe a
// partially-created link.
func atomicSymlink(target, linkPath string) error {
	tmp := linkPath + ".bottle-tmp"
	os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, linkPath); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
