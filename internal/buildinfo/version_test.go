package buildinfo

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionFrom(t *testing.T) {
	cases := []struct {
		name string
		info *debug.BuildInfo
		want string
	}{
		{
			name: "tagged release wins over vcs state",
			info: &debug.BuildInfo{
				Main: debug.Module{Version: "v1.2.3"},
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "abc123def456789"},
				},
			},
			want: "v1.2.3",
		},
		{
			name: "no metadata at all",
			info: &debug.BuildInfo{},
			want: "0.0.0-dev",
		},
		{
			name: "devel build with clean checkout",
			info: &debug.BuildInfo{
				Main: debug.Module{Version: "(devel)"},
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "abc123def456789"},
					{Key: "vcs.modified", Value: "false"},
				},
			},
			want: "0.0.0-dev+abc123d",
		},
		{
			name: "devel build with modified checkout",
			info: &debug.BuildInfo{
				Main: debug.Module{Version: "(devel)"},
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "abc123def456789"},
					{Key: "vcs.modified", Value: "true"},
				},
			},
			want: "0.0.0-dev+abc123d.dirty",
		},
		{
			name: "short revision kept as-is",
			info: &debug.BuildInfo{
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "ab12"},
				},
			},
			want: "0.0.0-dev+ab12",
		},
		{
			name: "unrelated settings ignored",
			info: &debug.BuildInfo{
				Settings: []debug.BuildSetting{
					{Key: "vcs", Value: "git"},
					{Key: "vcs.time", Value: "2026-07-01T12:00:00Z"},
				},
			},
			want: "0.0.0-dev",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, versionFrom(tc.info))
		})
	}
}

// Test binaries are built in module mode, so whatever ReadBuildInfo
// reports must render to a non-empty version either way.
func TestVersion_NeverEmpty(t *testing.T) {
	assert.NotEmpty(t, Version())
}
