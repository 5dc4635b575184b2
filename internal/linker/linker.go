// Package linker maintains the activation symlinks that make one version
// of each package the live one: the opt-link (R/opt/<pkg>) and bin-links
// (R/bin/<exe>) that resolve through it.
package linker

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kegpm/kegpm/internal/log"
	"github.com/kegpm/kegpm/internal/store"
)

// Options selects which link classes an operation touches.
type Options struct {
	LinkOpt bool
	LinkBin bool
}

// Linker wraps a Store with link-management operations. KegOnly reports
// whether a package refuses opt-linking without Force.
type Linker struct {
	Store   *store.Store
	Logger  log.Logger
	KegOnly func(pkg store.Name) (bool, error)
	Force   bool
}

// New returns a Linker over s. kegOnly may be nil, in which case no
// package is ever treated as keg-only.
func New(s *store.Store, logger log.Logger, kegOnly func(store.Name) (bool, error)) *Linker {
	if logger == nil {
		logger = log.NewNoop()
	}
	return &Linker{Store: s, Logger: logger, KegOnly: kegOnly}
}

// Link installs the opt-link and/or bin-links for (pkg, ver). It is
// dry-run-capable in spirit: any destination that already exists is
// logged and skipped rather than failing the whole operation.
func (l *Linker) Link(pkg store.Name, ver store.Version, opts Options) error {
	if opts.LinkOpt {
		kegOnly := false
		if l.KegOnly != nil {
			var err error
			kegOnly, err = l.KegOnly(pkg)
			if err != nil {
				return fmt.Errorf("checking keg-only for %s: %w", pkg, err)
			}
		}
		if kegOnly && !l.Force {
			l.Logger.Warn("refusing to opt-link keg-only package", "package", pkg)
		} else if err := l.linkOpt(pkg, ver); err != nil {
			return err
		}
	}

	if opts.LinkBin {
		if err := l.linkBinaries(pkg, ver); err != nil {
			return err
		}
	}

	return nil
}

func (l *Linker) linkOpt(pkg store.Name, ver store.Version) error {
	dest := l.Store.OptLinkPath(pkg)
	if _, err := os.Lstat(dest); err == nil {
		l.Logger.Warn("opt-link destination exists, skipping", "package", pkg, "path", dest)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating opt dir: %w", err)
	}

	target := filepath.Join("Cellar", string(pkg), string(ver)) + string(filepath.Separator)
	if err := os.Symlink(target, dest); err != nil {
		return fmt.Errorf("opt-linking %s: %w", pkg, err)
	}
	return nil
}

// linkBinaries exposes every user-executable regular file under
// <ver>/bin/ as R/bin/<exe>, via a two-hop symlink through the opt-link.
// Collisions (an executable name already present under R/bin from a
// different package) are skipped with a warning, first-wins by install
// order: an existing R/bin entry is never replaced. Each bin-link created
// rewrites the package's .brew/link-seq file with the current time in
// nanoseconds.
func (l *Linker) linkBinaries(pkg store.Name, ver store.Version) error {
	binDir := filepath.Join(l.Store.InstallPath(pkg, ver), "bin")
	entries, err := os.ReadDir(binDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", binDir, err)
	}

	if err := os.MkdirAll(l.Store.BinDir(), 0755); err != nil {
		return fmt.Errorf("creating bin dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		if info.Mode()&0111 == 0 {
			continue // not user-executable
		}

		dest := l.Store.BinLinkPath(e.Name())
		if _, err := os.Lstat(dest); err == nil {
			l.Logger.Warn("bin-link collision, skipping", "name", e.Name(), "package", pkg)
			continue
		}

		target := filepath.Join("..", "opt", string(pkg), "bin", e.Name())
		if err := os.Symlink(target, dest); err != nil {
			return fmt.Errorf("bin-linking %s: %w", e.Name(), err)
		}
		if err := l.recordLinkSeq(pkg); err != nil {
			return err
		}
	}
	return nil
}

func (l *Linker) recordLinkSeq(pkg store.Name) error {
	path := filepath.Join(l.Store.PackageDir(pkg), ".brew", "link-seq")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.FormatInt(time.Now().UnixNano(), 10)), 0644)
}

// Unlink removes the selected link classes for pkg.
func (l *Linker) Unlink(pkg store.Name, opts Options) error {
	if opts.LinkBin {
		if err := l.unlinkBinaries(pkg); err != nil {
			return err
		}
	}
	if opts.LinkOpt {
		dest := l.Store.OptLinkPath(pkg)
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing opt-link %s: %w", pkg, err)
		}
	}
	return nil
}

// unlinkBinaries removes every bin-link whose target resolves into pkg's
// tree (via the opt-link prefix).
func (l *Linker) unlinkBinaries(pkg store.Name) error {
	entries, err := os.ReadDir(l.Store.BinDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading bin dir: %w", err)
	}

	prefix := filepath.Join("..", "opt", string(pkg)) + string(filepath.Separator)
	for _, e := range entries {
		path := l.Store.BinLinkPath(e.Name())
		target, err := os.Readlink(path)
		if err != nil {
			continue
		}
		clean := filepath.Clean(target)
		if len(clean) > len(prefix) && clean[:len(prefix)] == prefix {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("removing bin-link %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

// Switch atomically moves the active version of pkg to newVer, preserving
// whether bin-links were present: a package with no bin-links before the
// switch has none after; one that had them gets them relinked against the
// new version.
func (l *Linker) Switch(pkg store.Name, newVer store.Version) error {
	h, err := store.Open(l.Store, pkg)
	if err != nil {
		return err
	}

	hadBinLinks := len(h.BinLinks) > 0

	if err := l.Unlink(pkg, Options{LinkOpt: true, LinkBin: true}); err != nil {
		return err
	}
	return l.Link(pkg, newVer, Options{LinkOpt: true, LinkBin: hadBinLinks})
}

// Toggle is a two-state switch: if any versioned alias of the same base
// name (pkg included) currently holds the bin-links, it drops them and
// stops there; if none does, it activates pkg's bin-links instead. This
// lets multiple versions of a package coexist without a bin-link
// conflict, without ever leaving two aliases holding the links at once.
func (l *Linker) Toggle(pkg store.Name, aliases []store.Name) error {
	candidates := make([]store.Name, 0, len(aliases)+1)
	candidates = append(candidates, pkg)
	candidates = append(candidates, aliases...)

	for _, alias := range candidates {
		h, err := store.Open(l.Store, alias)
		if err != nil {
			return err
		}
		if len(h.BinLinks) > 0 {
			return l.Unlink(alias, Options{LinkBin: true})
		}
	}

	h, err := store.Open(l.Store, pkg)
	if err != nil {
		return err
	}
	if h.ActiveVersion == nil {
		return fmt.Errorf("cannot toggle %s: no active version", pkg)
	}
	return l.Link(pkg, *h.ActiveVersion, Options{LinkBin: true})
}
