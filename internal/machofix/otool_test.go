package machofix

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleOtoolOutput = `Load command 0
      cmd LC_SEGMENT_64
  cmdsize 72
Load command 5
          cmd LC_ID_DYLIB
      cmdsize 56
         name @rpath/libfoo.1.dylib (offset 24)
Load command 8
          cmd LC_LOAD_DYLIB
      cmdsize 56
         name @@HOMEBREW_PREFIX@@/opt/bar/lib/libbar.2.dylib (offset 24)
Load command 9
          cmd LC_LOAD_DYLIB
      cmdsize 48
         name /usr/lib/libSystem.B.dylib (offset 24)
Load command 10
          cmd LC_RPATH
      cmdsize 32
         path @loader_path/../lib (offset 12)
Load command 11
          cmd LC_RPATH
      cmdsize 40
         path @@HOMEBREW_PREFIX@@/lib (offset 12)
`

func TestParseLoadCommandsText(t *testing.T) {
	lc := parseLoadCommandsText(sampleOtoolOutput)

	assert.Equal(t, "@rpath/libfoo.1.dylib", lc.InstallName)
	assert.Equal(t, []string{
		"@@HOMEBREW_PREFIX@@/opt/bar/lib/libbar.2.dylib",
		"/usr/lib/libSystem.B.dylib",
	}, lc.Linked)
	assert.Equal(t, []string{
		"@loader_path/../lib",
		"@@HOMEBREW_PREFIX@@/lib",
	}, lc.RPaths)
}

func TestTrimOtoolValue(t *testing.T) {
	assert.Equal(t, "/usr/lib/libSystem.B.dylib", trimOtoolValue("/usr/lib/libSystem.B.dylib (offset 24)"))
	assert.Equal(t, "@rpath/libfoo.dylib", trimOtoolValue("@rpath/libfoo.dylib"))
}

func TestIsMachO(t *testing.T) {
	assert.True(t, IsMachO([]byte{0xcf, 0xfa, 0xed, 0xfe, 0x07, 0x00, 0x00, 0x01}))
	assert.False(t, IsMachO([]byte{0x7f, 'E', 'L', 'F'}))
	assert.False(t, IsMachO([]byte{0x1f, 0x8b}))
}
