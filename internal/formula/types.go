package formula

// Target classifies how a declared dependency participates in the build.
type Target int

const (
	// TargetRuntime is a normal runtime dependency (the default, or an
	// explicit :recommended token).
	TargetRuntime Target = iota
	// TargetExcluded marks a dependency excluded by a :build, :test, or
	// :optional token - it is parsed but never added to Dependencies.
	TargetExcluded
)

// DependencyTarget records one depends_on/uses_from_macos declaration that
// survived target filtering and any `if <clause>` guard.
type DependencyTarget struct {
	Name   string
	Target Target
}

// Requirement is a platform requirement contributed by a bare-symbol or
// `action:` depends_on line (not a package dependency).
type Requirement struct {
	Kind   string // e.g. "arch", "macos", "maximum_macos", "xcode"
	Value  string
	Reason string
}

// Formula is the result of parsing one recipe file under a given machine
// profile.
type Formula struct {
	Dependencies map[string]DependencyTarget
	Homepage     string
	KegOnly      bool
	InvalidArch  []Requirement
	Warnings     []string
}

// ParserOptions carries the testing and diagnostic knobs (print parse
// errors, assert known symbols, ignore rules, fake-installed probe set) as
// an explicit record threaded through Parse, so no parse run mutates
// global state.
type ParserOptions struct {
	PrintParseErrors   bool
	AssertKnownSymbols bool
	IgnoreRules        bool

	// Installed probes whether any version of a package is installed, for
	// Formula["<name>"].any_version_installed? clauses. When nil,
	// FakeInstalled is consulted instead.
	Installed func(name string) bool

	// FakeInstalled stands in for Formula["<name>"].any_version_installed?
	// during tests, without touching a real store.
	FakeInstalled map[string]bool
}

// ignoredTargets are depends_on target tokens that exclude the dependency
// from the runtime set (build-time or test-only or optional).
var ignoredTargets = map[string]bool{
	":build":    true,
	":test":     true,
	":optional": true,
}

// targetSymbols additionally recognized as valid target tokens, included
// (not excluded) when present.
var targetSymbols = map[string]bool{
	":recommended": true,
}
