package bottle

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPathWithinDirectory(t *testing.T) {
	assert.True(t, isPathWithinDirectory("/cellar/wget/1.0/bin", "/cellar"))
	assert.True(t, isPathWithinDirectory("/cellar", "/cellar"))
	assert.False(t, isPathWithinDirectory("/etc/passwd", "/cellar"))
	assert.False(t, isPathWithinDirectory("/cellarx/wget", "/cellar"))
}

func TestValidateEntryPath_RejectsAbsolute(t *testing.T) {
	_, err := validateEntryPath("/etc/passwd", "/cellar")
	assert.Error(t, err)
}

func TestValidateEntryPath_RejectsTraversal(t *testing.T) {
	_, err := validateEntryPath("../../etc/passwd", "/cellar")
	assert.Error(t, err)
}

func TestValidateEntryPath_AcceptsNested(t *testing.T) {
	target, err := validateEntryPath("wget/1.0/bin/wget", "/cellar")
	assert.NoError(t, err)
	assert.Equal(t, "/cellar/wget/1.0/bin/wget", target)
}

func TestValidateSymlinkTarget_RejectsAbsolute(t *testing.T) {
	err := validateSymlinkTarget("/usr/lib/libssl.dylib", "/cellar/wget/1.0/lib/link", "/cellar")
	assert.Error(t, err)
}

func TestValidateSymlinkTarget_AcceptsRelativeWithinRoot(t *testing.T) {
	err := validateSymlinkTarget("../1.0/lib/libssl.dylib", "/cellar/wget/2.0/lib/link", "/cellar")
	assert.NoError(t, err)
}

func TestValidateSymlinkTarget_RejectsEscape(t *testing.T) {
	err := validateSymlinkTarget("../../../../etc/passwd", "/cellar/wget/1.0/lib/link", "/cellar")
	assert.Error(t, err)
}

func TestSanitizeMode(t *testing.T) {
	assert.Equal(t, os.FileMode(0755), sanitizeMode(0755))
	assert.Equal(t, os.FileMode(0644), sanitizeMode(0644))
	assert.Equal(t, os.FileMode(0600), sanitizeMode(0400))
	assert.Equal(t, os.FileMode(0644)&^0111|0600, sanitizeMode(0644))
}
