package formula

import (
	"os/exec"
	"strings"
)

// codenameEntry pairs a macOS marketing codename with its major version,
// ordered oldest-to-newest so lexicographic comparisons of the table's
// index double as version comparisons.
type codenameEntry struct {
	name    string
	version string
}

// codenames is the ordered macOS codename -> version table the parser
// consults for on_<codename> blocks and `MacOS.version <op> :<codename>`
// clauses.
var codenames = []codenameEntry{
	{"yosemite", "10.10"},
	{"el_capitan", "10.11"},
	{"sierra", "10.12"},
	{"high_sierra", "10.13"},
	{"mojave", "10.14"},
	{"catalina", "10.15"},
	{"big_sur", "11"},
	{"monterey", "12"},
	{"ventura", "13"},
	{"sonoma", "14"},
	{"sequoia", "15"},
	{"tahoe", "26"},
}

func codenameIndex(name string) int {
	for i, c := range codenames {
		if c.name == name {
			return i
		}
	}
	return -1
}

func codenameVersion(name string) (string, bool) {
	for _, c := range codenames {
		if c.name == name {
			return c.version, true
		}
	}
	return "", false
}

// CodenameForVersion returns the marketing codename whose release
// matches osVersion (e.g. "14.5" -> "sonoma", "10.15.7" -> "catalina"),
// consulted by the orchestrator when it builds a Formula-API platform key
// for the running machine. A table entry matches when its version equals
// osVersion or prefixes it up to a '.': the major component for 11 and
// later, major.minor for the 10.x releases.
func CodenameForVersion(osVersion string) (string, bool) {
	for i := len(codenames) - 1; i >= 0; i-- {
		v := codenames[i].version
		if osVersion == v || strings.HasPrefix(osVersion, v+".") {
			return codenames[i].name, true
		}
	}
	return "", false
}

// MachineProfile is the process-wide snapshot of the current machine,
// consulted by every block predicate and depends_on/uses_from_macos clause.
type MachineProfile struct {
	IsMac     bool
	IsArm     bool
	OSVersion string // e.g. "14.5", compared against the codename table

	hasXcode     func(version string) bool
	clangVersion func() string
	gccVersion   func() string
}

func (p MachineProfile) HasXcode(version string) bool {
	if p.hasXcode == nil {
		return false
	}
	return p.hasXcode(version)
}

func (p MachineProfile) ClangVersion() string {
	if p.clangVersion == nil {
		return ""
	}
	return p.clangVersion()
}

func (p MachineProfile) GCCVersion() string {
	if p.gccVersion == nil {
		return ""
	}
	return p.gccVersion()
}

// CodenameAtOrAfter reports whether the profile's OS version is at or
// after the named codename in the release table.
func (p MachineProfile) CodenameAtOrAfter(name string) bool {
	target := codenameIndex(name)
	if target < 0 {
		return false
	}
	return compareVersionLex(p.OSVersion, mustCodenameVersion(name)) >= 0
}

// CodenameAtOrBefore reports whether the profile's OS version is at or
// before the named codename in the release table.
func (p MachineProfile) CodenameAtOrBefore(name string) bool {
	target := codenameIndex(name)
	if target < 0 {
		return false
	}
	return compareVersionLex(p.OSVersion, mustCodenameVersion(name)) <= 0
}

// CodenameBefore reports whether the profile's OS version is strictly
// before the named codename in the release table.
func (p MachineProfile) CodenameBefore(name string) bool {
	v, ok := codenameVersion(name)
	if !ok {
		return false
	}
	return compareVersionLex(p.OSVersion, v) < 0
}

// CodenameEquals reports whether the profile's OS version matches the
// named codename exactly.
func (p MachineProfile) CodenameEquals(name string) bool {
	v, ok := codenameVersion(name)
	if !ok {
		return false
	}
	return p.OSVersion == v
}

func mustCodenameVersion(name string) string {
	v, _ := codenameVersion(name)
	return v
}

// compareVersionLex compares two dotted-numeric version strings
// component-wise, treating a missing component as 0. Used for codename
// comparisons rather than full semver since macOS major-only codenames
// (e.g. "11") must compare sanely against "11.2".
func compareVersionLex(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := "0", "0"
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		if av == bv {
			continue
		}
		if numericLess(av, bv) {
			return -1
		}
		return 1
	}
	return 0
}

func numericLess(a, b string) bool {
	// Components here are always small non-negative integers (macOS
	// version segments); a direct length-then-lexicographic compare
	// mirrors numeric ordering without parsing into int.
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// DetectMachineProfile builds a MachineProfile by shelling out to the
// platform utilities (uname, sw_vers, xcode-select, clang/gcc --version).
// Probe failures leave the corresponding field at its zero value.
func DetectMachineProfile() MachineProfile {
	isArm := false
	if out, err := exec.Command("uname", "-m").Output(); err == nil {
		isArm = strings.TrimSpace(string(out)) == "arm64"
	}

	osVersion := ""
	if out, err := exec.Command("sw_vers", "-productVersion").Output(); err == nil {
		osVersion = strings.TrimSpace(string(out))
	}

	return MachineProfile{
		IsMac:     true,
		IsArm:     isArm,
		OSVersion: osVersion,
		hasXcode: func(version string) bool {
			out, err := exec.Command("xcode-select", "-p").Output()
			if err != nil || strings.TrimSpace(string(out)) == "" {
				return false
			}
			return true
		},
		clangVersion: func() string {
			out, err := exec.Command("clang", "--version").Output()
			if err != nil {
				return ""
			}
			return strings.TrimSpace(string(out))
		},
		gccVersion: func() string {
			out, err := exec.Command("gcc", "--version").Output()
			if err != nil {
				return ""
			}
			return strings.TrimSpace(string(out))
		},
	}
}
