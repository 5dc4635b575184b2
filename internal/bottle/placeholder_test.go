package bottle

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstitutePlaceholders_KnownTokens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wget.pc")
	content := "prefix=@@HOMEBREW_PREFIX@@\ncellar=@@HOMEBREW_CELLAR@@\nlib=@@HOMEBREW_LIBRARY@@\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	warnings, err := SubstitutePlaceholders(path, Placeholders{
		Prefix:  "/opt/kegpm",
		Cellar:  "/opt/kegpm/Cellar",
		Library: "/opt/kegpm/Library",
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "prefix=/opt/kegpm\ncellar=/opt/kegpm/Cellar\nlib=/opt/kegpm/Library\n", string(out))
}

func TestSubstitutePlaceholders_UnknownTokenPreserved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weird.txt")
	require.NoError(t, os.WriteFile(path, []byte("x=@@HOMEBREW_MYSTERY@@\n"), 0644))

	warnings, err := SubstitutePlaceholders(path, Placeholders{Prefix: "/opt/kegpm"})
	require.NoError(t, err)
	require.Len(t, warnings, 1)

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(out), "@@HOMEBREW_MYSTERY@@")
}

func TestSubstitutePlaceholders_Idempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wget.pc")
	require.NoError(t, os.WriteFile(path, []byte("prefix=@@HOMEBREW_PREFIX@@\n"), 0644))

	ph := Placeholders{Prefix: "/opt/kegpm"}
	_, err := SubstitutePlaceholders(path, ph)
	require.NoError(t, err)
	_, err = SubstitutePlaceholders(path, ph)
	require.NoError(t, err)

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(out), "@@HOMEBREW_"))
	assert.Equal(t, "prefix=/opt/kegpm\n", string(out))
}

func TestSubstitutePlaceholders_AcrossChunkBoundary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")

	// Place the token straddling a 4KiB boundary to exercise the carry
	// logic in streamReplace.
	pad := strings.Repeat("x", placeholderChunkSize-5)
	content := pad + "@@HOMEBREW_PREFIX@@" + strings.Repeat("y", 100)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := SubstitutePlaceholders(path, Placeholders{Prefix: "/opt/kegpm"})
	require.NoError(t, err)

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pad+"/opt/kegpm"+strings.Repeat("y", 100), string(out))
}
