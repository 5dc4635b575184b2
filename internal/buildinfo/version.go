// Package buildinfo derives the string `kegpm --version` prints from the
// module and VCS metadata the Go toolchain stamps into the binary.
package buildinfo

import "runtime/debug"

// develVersion labels any binary not built from a tagged module version:
// `go build` in a checkout, a test binary, or a stripped build with no
// metadata at all.
const develVersion = "0.0.0-dev"

// Version returns the module version for tagged builds (`go install
// github.com/kegpm/kegpm/cmd/kegpm@v1.2.3` yields "v1.2.3"). Source
// builds get develVersion, annotated with the short VCS revision and a
// ".dirty" marker when the checkout had uncommitted changes.
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return develVersion
	}
	return versionFrom(info)
}

func versionFrom(info *debug.BuildInfo) string {
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}

	revision, dirty := vcsState(info)
	if revision == "" {
		return develVersion
	}

	v := develVersion + "+" + revision
	if dirty {
		v += ".dirty"
	}
	return v
}

// vcsState extracts the abbreviated commit hash and modified flag from
// the build settings, both empty/false when the binary was built outside
// a VCS checkout.
func vcsState(info *debug.BuildInfo) (revision string, dirty bool) {
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	return revision, dirty
}
