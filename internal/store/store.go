// Package store implements the on-disk Cellar layout: a content-addressed,
// multi-version package tree with flag files for pin/primary state. It
// exposes the primitive path functions and package/version enumeration the
// rest of the system builds on.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Name is a package name. It may contain '@' (e.g. "node@22") but never a
// path separator.
type Name string

// Validate rejects path separators in a package name.
func (n Name) Validate() error {
	s := string(n)
	if s == "" {
		return fmt.Errorf("package name is empty")
	}
	if strings.ContainsRune(s, '/') || strings.ContainsRune(s, os.PathSeparator) {
		return fmt.Errorf("package name %q must not contain a path separator", s)
	}
	return nil
}

// Version is an opaque package version string, compared only for equality
// and sorted lexicographically for "latest" heuristics.
type Version string

// Store represents the store root R and its fixed subdirectories.
type Store struct {
	Root string
}

// New returns a Store rooted at root. It does not create any directories.
func New(root string) *Store {
	return &Store{Root: root}
}

func (s *Store) CellarDir() string   { return filepath.Join(s.Root, "Cellar") }
func (s *Store) OptDir() string      { return filepath.Join(s.Root, "opt") }
func (s *Store) BinDir() string      { return filepath.Join(s.Root, "bin") }
func (s *Store) DownloadDir() string { return filepath.Join(s.Root, "download") }
func (s *Store) CacheDir() string    { return filepath.Join(s.Root, "cache") }
func (s *Store) LibraryDir() string  { return filepath.Join(s.Root, "Library") }

// PackageDir returns R/Cellar/<pkg>.
func (s *Store) PackageDir(pkg Name) string {
	return filepath.Join(s.CellarDir(), string(pkg))
}

// InstallPath returns R/Cellar/<pkg>/<version>.
func (s *Store) InstallPath(pkg Name, ver Version) string {
	return filepath.Join(s.PackageDir(pkg), string(ver))
}

// RecipePath returns the path to the installed recipe file for (pkg, ver).
func (s *Store) RecipePath(pkg Name, ver Version) string {
	return filepath.Join(s.InstallPath(pkg, ver), ".brew", string(pkg)+".rb")
}

// DigestPath returns the path to the committed content digest for (pkg, ver).
func (s *Store) DigestPath(pkg Name, ver Version) string {
	return filepath.Join(s.InstallPath(pkg, ver), ".brew", "digest")
}

// DownloadPath returns the cached-bottle-archive path for (pkg, tag).
func (s *Store) DownloadPath(pkg Name, tag string) string {
	return filepath.Join(s.DownloadDir(), fmt.Sprintf("%s-%s.tar.gz", pkg, tag))
}

// OptLinkPath returns R/opt/<pkg>.
func (s *Store) OptLinkPath(pkg Name) string {
	return filepath.Join(s.OptDir(), string(pkg))
}

// BinLinkPath returns R/bin/<exe>.
func (s *Store) BinLinkPath(exe string) string {
	return filepath.Join(s.BinDir(), exe)
}

// ShortPath returns p relative to the store root, for logging. If p does
// not live under the root it is returned unmodified.
func (s *Store) ShortPath(p string) string {
	rel, err := filepath.Rel(s.Root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return p
	}
	return rel
}

// pinnedFlagPath and primaryFlagPath are presence-only marker files under
// R/Cellar/<pkg>/, not per-version.
func (s *Store) pinnedFlagPath(pkg Name) string {
	return filepath.Join(s.PackageDir(pkg), ".pinned")
}

func (s *Store) primaryFlagPath(pkg Name) string {
	return filepath.Join(s.PackageDir(pkg), ".primary")
}

// hasRecipe reports whether (pkg, ver) is a fully-extracted, enumerable
// install: a version is only counted if its recipe file exists. A
// half-extracted directory (interrupted mid-install) is ignored.
func (s *Store) hasRecipe(pkg Name, ver Version) bool {
	_, err := os.Stat(s.RecipePath(pkg, ver))
	return err == nil
}

// Versions lists the installed, fully-extracted versions of pkg, sorted
// lexicographically.
func (s *Store) Versions(pkg Name) ([]Version, error) {
	entries, err := os.ReadDir(s.PackageDir(pkg))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.PackageDir(pkg), err)
	}

	var versions []Version
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v := Version(e.Name())
		if s.hasRecipe(pkg, v) {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// InstalledPackages enumerates every package with at least one
// fully-extracted version under the Cellar.
func (s *Store) InstalledPackages() ([]Name, error) {
	entries, err := os.ReadDir(s.CellarDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.CellarDir(), err)
	}

	var names []Name
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pkg := Name(e.Name())
		versions, err := s.Versions(pkg)
		if err != nil {
			return nil, err
		}
		if len(versions) > 0 {
			names = append(names, pkg)
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names, nil
}

// AssertInstalled returns an error naming every package in names that has
// no fully-extracted version.
func (s *Store) AssertInstalled(names []Name) error {
	var missing []string
	for _, n := range names {
		versions, err := s.Versions(n)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			missing = append(missing, string(n))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("not installed: %s", strings.Join(missing, ", "))
	}
	return nil
}

// RemoveVersion destroys (pkg, ver): recursive removal of its version
// directory, then the package directory too if no other version remains.
// It is the caller's responsibility to unlink first; RemoveVersion does
// not touch opt/bin links.
func (s *Store) RemoveVersion(pkg Name, ver Version) error {
	dir := s.InstallPath(pkg, ver)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}

	remaining, err := s.Versions(pkg)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		return nil
	}

	// No fully-extracted version remains; drop the now-empty package
	// directory (and its flag files) entirely.
	if err := os.RemoveAll(s.PackageDir(pkg)); err != nil {
		return fmt.Errorf("removing %s: %w", s.PackageDir(pkg), err)
	}
	return nil
}
