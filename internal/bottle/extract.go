package bottle

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// openTarStream opens path and wraps it with the decompressor matching its
// magic bytes: gzip for the canonical ".tar.gz" bottle extension, xz and
// zstd as alternates since OCI blobs are not guaranteed to be gzip even
// when the store-side filename says otherwise.
func openTarStream(path string) (*tar.Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening archive %s: %w", path, err)
	}

	br := bufio.NewReaderSize(f, 512)
	magic, _ := br.Peek(6)

	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		gzr, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return tar.NewReader(gzr), multiCloser{f, gzr}, nil
	case bytes.HasPrefix(magic, xzMagic):
		xzr, err := xz.NewReader(br)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("opening xz stream: %w", err)
		}
		return tar.NewReader(xzr), f, nil
	case bytes.HasPrefix(magic, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		return tar.NewReader(zr), multiCloser{f, zstdCloser{zr}}, nil
	default:
		return tar.NewReader(br), f, nil
	}
}

// removeIfEmpty removes dir if it exists and has no remaining entries,
// used to drop a package directory left empty after its one partial
// version was torn down.
func removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	os.Remove(dir)
}

type multiCloser struct {
	f   *os.File
	sub interface{ Close() error }
}

// zstdCloser adapts *zstd.Decoder's Close() (no return value) to the
// io.Closer-shaped interface multiCloser.sub expects.
type zstdCloser struct{ d *zstd.Decoder }

func (z zstdCloser) Close() error {
	z.d.Close()
	return nil
}

func (m multiCloser) Close() error {
	m.sub.Close()
	return m.f.Close()
}

// discoverLayout scans a tar stream for the first directory entry whose
// path ends in "/.brew" (or is exactly ".brew"); its first two path
// segments are the package name and version. Absence is a fatal error for
// the archive.
func discoverLayout(tr *tar.Reader) (pkg, version string, err error) {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", "", fmt.Errorf("bottle archive has no .brew layout directory")
		}
		if err != nil {
			return "", "", fmt.Errorf("reading archive header: %w", err)
		}
		if hdr.Typeflag != tar.TypeDir {
			continue
		}
		clean := strings.TrimSuffix(strings.TrimPrefix(hdr.Name, "./"), "/")
		if clean == ".brew" || strings.HasSuffix(clean, "/.brew") {
			parts := strings.Split(clean, "/")
			if len(parts) < 2 {
				return "", "", fmt.Errorf("bottle .brew directory %q has no package/version prefix", hdr.Name)
			}
			return parts[0], parts[1], nil
		}
	}
}

// Result reports what ExtractBottle discovered and did.
type Result struct {
	Package  string
	Version  string
	Warnings []string
}

// ExtractBottle safely extracts archivePath into storeRoot's Cellar,
// applying the tar safety filter entry by entry, then runs the post-install
// fixup pass (Mach-O rewrite, placeholder substitution) over the extracted
// tree. The (package, version) pair is discovered from the archive's
// .brew layout directory.
//
// Extraction makes two passes over the archive: the first discovers the
// (pkg, version) layout without writing anything, the second performs the
// actual extraction now that the destination prefix is known. Rejecting a
// malformed entry aborts the whole archive, and the package's partially
// written version directory (and its now-empty parent, if this was the
// package's only version) is torn down before returning, so the Cellar is
// left exactly as it was before the attempt.
func ExtractBottle(ctx context.Context, archivePath, storeRoot string, placeholders Placeholders) (*Result, error) {
	pkg, version, err := func() (string, string, error) {
		tr, closer, err := openTarStream(archivePath)
		if err != nil {
			return "", "", err
		}
		defer closer.Close()
		return discoverLayout(tr)
	}()
	if err != nil {
		return nil, err
	}

	cellarDir := filepath.Join(storeRoot, "Cellar")
	if err := os.MkdirAll(cellarDir, 0755); err != nil {
		return nil, fmt.Errorf("creating Cellar: %w", err)
	}

	tr, closer, err := openTarStream(archivePath)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	versionDir := filepath.Join(cellarDir, pkg, version)

	if err := extractEntries(ctx, tr, cellarDir); err != nil {
		// A rejected entry aborts the whole archive: whatever this
		// package's version directory accumulated before the rejection
		// is torn down so the Cellar is left as if extraction had never
		// been attempted.
		os.RemoveAll(versionDir)
		removeIfEmpty(filepath.Join(cellarDir, pkg))
		return nil, fmt.Errorf("extracting %s: %w", archivePath, err)
	}

	warnings, err := FixupTree(ctx, versionDir, pkg, version, storeRoot, placeholders)
	if err != nil {
		return nil, fmt.Errorf("post-install fixup for %s: %w", pkg, err)
	}

	return &Result{Package: pkg, Version: version, Warnings: warnings}, nil
}

// extractEntries applies the safety filter to every tar entry and writes
// it beneath destRoot. A rejected entry aborts the whole archive.
func extractEntries(ctx context.Context, tr *tar.Reader, destRoot string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar header: %w", err)
		}

		target, err := validateEntryPath(hdr.Name, destRoot)
		if err != nil {
			return fmt.Errorf("rejecting archive entry %q: %w", hdr.Name, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, sanitizeMode(hdr.FileInfo().Mode())|0700); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", target, err)
			}
			mode := sanitizeMode(hdr.FileInfo().Mode())
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
			if err != nil {
				return fmt.Errorf("creating file %s: %w", target, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("writing %s: %w", target, err)
			}
			f.Close()

		case tar.TypeSymlink:
			if err := validateSymlinkTarget(hdr.Linkname, target, destRoot); err != nil {
				return fmt.Errorf("rejecting symlink %q: %w", hdr.Name, err)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", target, err)
			}
			if err := atomicSymlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", target, err)
			}

		default:
			return fmt.Errorf("rejecting archive entry %q: unsupported type %v", hdr.Name, hdr.Typeflag)
		}
	}
}
