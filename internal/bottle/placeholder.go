package bottle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
)

// Placeholders holds the store-relative values substituted for
// "@@HOMEBREW_<KEY>@@" tokens found in extracted text files.
type Placeholders struct {
	Prefix  string // @@HOMEBREW_PREFIX@@
	Cellar  string // @@HOMEBREW_CELLAR@@
	Library string // @@HOMEBREW_LIBRARY@@
}

// tokens returns the token -> value map consulted by SubstitutePlaceholders.
func (p Placeholders) tokens() map[string]string {
	return map[string]string{
		"@@HOMEBREW_PREFIX@@":  p.Prefix,
		"@@HOMEBREW_CELLAR@@":  p.Cellar,
		"@@HOMEBREW_LIBRARY@@": p.Library,
	}
}

// placeholderTokenRe matches any "@@HOMEBREW_<KEY>@@" token, known or not -
// unknown ones are reported but left untouched.
var placeholderTokenRe = regexp.MustCompile(`@@HOMEBREW_[A-Z0-9_]+@@`)

const placeholderChunkSize = 4096

// SubstitutePlaceholders rewrites every "@@HOMEBREW_<KEY>@@" token in path
// to its mapped value. It reads the file in 4KiB windows (with enough
// overlap to catch a token split across a window boundary) rather than
// loading the whole file, since bottle text files can include large
// generated manifests. The rewrite streams to a sibling "*.brew-repl"
// file, preserves the original's mode, then atomic-renames over it so
// readers never observe a half-rewritten file.
func SubstitutePlaceholders(path string, placeholders Placeholders) (warnings []string, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	tmpPath := path + ".brew-repl"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return nil, err
	}

	tokens := placeholders.tokens()
	unknown := map[string]bool{}

	writeErr := streamReplace(in, out, tokens, unknown)
	closeErr := out.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if writeErr != nil {
			return nil, fmt.Errorf("rewriting %s: %w", path, writeErr)
		}
		return nil, closeErr
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("committing rewrite of %s: %w", path, err)
	}

	for tok := range unknown {
		warnings = append(warnings, fmt.Sprintf("unknown placeholder token %s in %s", tok, path))
	}
	return warnings, nil
}

// streamReplace reads in via a buffered window, replacing every
// placeholder token that is fully contained in the window before flushing
// it, and carrying forward a small unflushed tail (shorter than the
// longest possible token) so a token split across a read boundary is
// still matched whole on the next pass.
func streamReplace(in io.Reader, out io.Writer, tokens map[string]string, unknown map[string]bool) error {
	const maxTokenLen = 64
	br := bufio.NewReaderSize(in, placeholderChunkSize)
	var pending []byte

	for {
		buf := make([]byte, placeholderChunkSize)
		n, readErr := br.Read(buf)
		pending = append(pending, buf[:n]...)

		atEOF := readErr == io.EOF
		flushUpTo := len(pending)
		if !atEOF && flushUpTo > maxTokenLen {
			flushUpTo -= maxTokenLen
		}

		safe, rest := splitAtLastTokenBoundary(pending, flushUpTo)
		if _, err := out.Write(replaceKnownTokens(safe, tokens, unknown)); err != nil {
			return err
		}
		pending = rest

		if atEOF {
			if len(pending) > 0 {
				if _, err := out.Write(replaceKnownTokens(pending, tokens, unknown)); err != nil {
					return err
				}
			}
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// splitAtLastTokenBoundary returns pending[:limit] trimmed back to the
// start of any placeholder-prefix ("@@HOMEBREW_") that begins before
// limit but whose closing "@@" has not yet been seen, so that token is
// carried whole into the next window instead of being split.
func splitAtLastTokenBoundary(pending []byte, limit int) (safe, rest []byte) {
	if limit > len(pending) {
		limit = len(pending)
	}
	const prefix = "@@HOMEBREW_"
	cut := limit
	for i := 0; i < limit && i+len(prefix) <= len(pending); i++ {
		if string(pending[i:i+len(prefix)]) != prefix {
			continue
		}
		// Does this candidate token close before limit?
		closeRel := indexOf(pending[i:], "@@", len(prefix))
		if closeRel < 0 || i+closeRel+2 > limit {
			cut = i
			break
		}
	}
	return pending[:cut], append([]byte(nil), pending[cut:]...)
}

// indexOf finds the first "@@" in s at or after offset from, or -1.
func indexOf(s []byte, sep string, from int) int {
	if from > len(s) {
		return -1
	}
	for i := from; i+len(sep) <= len(s); i++ {
		if string(s[i:i+len(sep)]) == sep {
			return i
		}
	}
	return -1
}

// replaceKnownTokens substitutes every fully-formed placeholder token in
// buf, recording unrecognized ones in unknown but leaving them in place.
func replaceKnownTokens(buf []byte, tokens map[string]string, unknown map[string]bool) []byte {
	return placeholderTokenRe.ReplaceAllFunc(buf, func(tok []byte) []byte {
		if val, ok := tokens[string(tok)]; ok {
			return []byte(val)
		}
		unknown[string(tok)] = true
		return tok
	})
}
