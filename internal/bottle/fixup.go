package bottle

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kegpm/kegpm/internal/machofix"
)

// FixupTree walks an extracted bottle version directory and applies the
// per-entry post-install fixup: symlinks are left
// untouched beyond a timestamp re-stamp, Mach-O files go through the
// dylib rewriter, other binaries are left alone, and everything else is
// treated as text and run through placeholder substitution.
func FixupTree(ctx context.Context, versionDir, pkg, version, storeRoot string, placeholders Placeholders) (warnings []string, err error) {
	optPath := filepath.Join(storeRoot, "opt", pkg)

	walkErr := filepath.WalkDir(versionDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		switch {
		case d.IsDir():
			return nil

		case d.Type()&fs.ModeSymlink != 0:
			info, statErr := os.Lstat(path)
			if statErr != nil {
				return fmt.Errorf("restamping symlink %s: %w", path, statErr)
			}
			if chErr := os.Chtimes(path, info.ModTime(), info.ModTime()); chErr != nil && !os.IsPermission(chErr) {
				warnings = append(warnings, fmt.Sprintf("could not restamp symlink %s: %v", path, chErr))
			}
			return nil

		case !d.Type().IsRegular():
			return nil
		}

		kind, readErr := classifyFile(path)
		if readErr != nil {
			return fmt.Errorf("classifying %s: %w", path, readErr)
		}

		switch kind {
		case fileKindMachO:
			fileWarnings, rwErr := machofix.RewriteFile(path, machofix.RewriteOptions{
				StoreRoot: storeRoot,
				Package:   pkg,
				Version:   version,
				OptPath:   optPath,
			})
			warnings = append(warnings, fileWarnings...)
			if rwErr != nil {
				return fmt.Errorf("rewriting %s: %w", path, rwErr)
			}

		case fileKindOtherBinary:
			// Left alone: only Mach-O binaries and text files are
			// rewritten, not arbitrary binary payloads (images, data).

		case fileKindText:
			subWarnings, subErr := SubstitutePlaceholders(path, placeholders)
			warnings = append(warnings, subWarnings...)
			if subErr != nil {
				return fmt.Errorf("substituting placeholders in %s: %w", path, subErr)
			}
		}

		return nil
	})
	if walkErr != nil {
		return warnings, walkErr
	}
	return warnings, nil
}

type fileKind int

const (
	fileKindText fileKind = iota
	fileKindMachO
	fileKindOtherBinary
)

// classifyFile reads the first 4KiB of path and classifies it:
// Mach-O magic wins outright, a NUL byte anywhere in the
// sampled head marks an opaque binary, otherwise it is treated as text.
func classifyFile(path string) (kind fileKind, err error) {
	f, err := os.Open(path)
	if err != nil {
		return fileKindText, err
	}
	defer f.Close()

	buf := make([]byte, 4096)
	n, readErr := bufio.NewReader(f).Read(buf)
	if readErr != nil && n == 0 {
		if errors.Is(readErr, io.EOF) {
			return fileKindText, nil
		}
		return fileKindText, readErr
	}
	head := buf[:n]

	if machofix.IsMachO(head) {
		return fileKindMachO, nil
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return fileKindOtherBinary, nil
	}
	return fileKindText, nil
}
