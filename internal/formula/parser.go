package formula

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// line regexes. The parser is a line-oriented tokenizer over a fixed
// subset of the upstream Ruby-syntax DSL - it does not implement Ruby.
var (
	classRe       = regexp.MustCompile(`^class\s+(\w+)\s*<`)
	onBlockRe     = regexp.MustCompile(`^on_(\w+)(?:\s+(.+?))?\s+do\s*$`)
	endRe         = regexp.MustCompile(`^end\b`)
	dependsOnRe   = regexp.MustCompile(`^depends_on\s+(.+)$`)
	usesFromRe    = regexp.MustCompile(`^uses_from_macos\s+(.+)$`)
	homepageRe    = regexp.MustCompile(`^homepage\s+"([^"]*)"\s*$`)
	kegOnlyRe     = regexp.MustCompile(`^keg_only\b`)
	quotedHeadRe  = regexp.MustCompile(`^"([^"]*)"\s*(.*)$`)
	bareSymRe     = regexp.MustCompile(`^:(\w+)\s*$`)
	actionTokenRe = regexp.MustCompile(`^(\w+):\s*(.+)$`)
	symValueRe    = regexp.MustCompile(`^:(\w+)`)
	strValueRe    = regexp.MustCompile(`^"([^"]*)"`)
	ifClauseRe    = regexp.MustCompile(`^(.*)\bif\b\s+(.+)$`)
	sinceClauseRe = regexp.MustCompile(`since:\s*:(\w+)`)
)

// Parse reads the recipe at path and extracts its dependencies, homepage,
// keg-only flag, and platform applicability under profile. Unrecognized
// lines warn but do not abort the parse.
func Parse(path string, profile MachineProfile, opts ParserOptions) (*Formula, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening recipe %s: %w", path, err)
	}
	defer f.Close()

	pkg := formulaNameFromClass(path)

	p := &parser{
		profile:      profile,
		opts:         opts,
		activeStack:  []bool{true},
		knownClasses: map[string]bool{},
		result: &Formula{
			Dependencies: map[string]DependencyTarget{},
		},
		pkgName: pkg,
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		p.parseLine(strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading recipe %s: %w", path, err)
	}

	return p.result, nil
}

// formulaNameFromClass derives a best-effort package name from the recipe
// file name (e.g. "wget.rb" -> "wget"), used only for build.with?/without?
// self-reference and diagnostics; the store is the source of truth for the
// actual package name.
func formulaNameFromClass(path string) string {
	base := path
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	return strings.TrimSuffix(base, ".rb")
}

type parser struct {
	profile MachineProfile
	opts    ParserOptions

	activeStack  []bool
	knownClasses map[string]bool
	pkgName      string

	result *Formula
}

func (p *parser) active() bool {
	for _, v := range p.activeStack {
		if !v {
			return false
		}
	}
	return true
}

func (p *parser) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	p.result.Warnings = append(p.result.Warnings, msg)
	if p.opts.PrintParseErrors {
		fmt.Fprintln(os.Stderr, "formula: "+msg)
	}
}

func (p *parser) parseLine(line string) {
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	if m := classRe.FindStringSubmatch(line); m != nil {
		p.knownClasses[m[1]] = true
		return
	}

	if m := onBlockRe.FindStringSubmatch(line); m != nil {
		if !p.active() {
			// A nested block under an already-inactive scope still needs a
			// stack frame so its matching `end` balances correctly; treat
			// it as inactive regardless of its own predicate.
			p.activeStack = append(p.activeStack, false)
			return
		}
		matched, recognized := evaluateBlock(m[1], m[2], p.profile)
		if !recognized {
			p.warn("unrecognized on_%s block, assuming it matches", m[1])
		}
		p.activeStack = append(p.activeStack, matched)
		return
	}

	if endRe.MatchString(line) {
		if len(p.activeStack) > 1 {
			p.activeStack = p.activeStack[:len(p.activeStack)-1]
		}
		return
	}

	if !p.active() {
		return
	}

	switch {
	case dependsOnRe.MatchString(line):
		p.parseDependsOn(dependsOnRe.FindStringSubmatch(line)[1])
	case usesFromRe.MatchString(line):
		p.parseUsesFromMacos(usesFromRe.FindStringSubmatch(line)[1])
	case homepageRe.MatchString(line):
		p.result.Homepage = homepageRe.FindStringSubmatch(line)[1]
	case kegOnlyRe.MatchString(line):
		p.result.KegOnly = true
	default:
		p.handleUnknownLine(line)
	}
}

// handleUnknownLine tolerates recipe boilerplate outside the grammar: a
// line whose first token matches a class name declared earlier in the file
// is silently ignored (it is almost certainly a reference to that class,
// not a mistyped declaration this parser should warn about); anything else
// unrecognized produces a warning but does not abort the parse.
func (p *parser) handleUnknownLine(line string) {
	if p.firstTokenIsKnownClass(line) {
		return
	}
	p.warn("unrecognized line: %s", line)
}

// firstTokenIsKnownClass reports whether s's leading identifier (the part
// before the first '.', '(', ':', space, or end of string) names a class
// declared earlier via "class <Name> < Formula" in this file.
func (p *parser) firstTokenIsKnownClass(s string) bool {
	end := len(s)
	for i, c := range s {
		if c == '.' || c == '(' || c == ' ' || c == ':' {
			end = i
			break
		}
	}
	return p.knownClasses[s[:end]]
}

// parseDependsOn handles a depends_on declaration: bare
// symbol or action: token arguments are platform requirements; otherwise
// the argument is a package name, filtered by its target token and any
// trailing `if <clause>` guard.
func (p *parser) parseDependsOn(rest string) {
	rest, clause := splitIfClause(rest)
	rest = strings.TrimSpace(rest)

	if m := bareSymRe.FindStringSubmatch(rest); m != nil {
		p.addRequirement(m[1], "", rest)
		return
	}
	if m := actionTokenRe.FindStringSubmatch(rest); m != nil && !strings.HasPrefix(rest, `"`) {
		kind := m[1]
		value := stripSymOrQuote(m[2])
		p.addRequirement(kind, value, rest)
		return
	}

	m := quotedHeadRe.FindStringSubmatch(rest)
	if m == nil {
		if p.firstTokenIsKnownClass(rest) {
			return
		}
		p.warn("unparseable depends_on argument: %s", rest)
		return
	}
	name := m[1]
	remainder := m[2]

	if clause != "" && !p.evaluateClause(clause) {
		return
	}

	target := TargetRuntime
	if sym, ok := targetSymbol(remainder); ok && ignoredTargets[":"+sym] {
		target = TargetExcluded
	}

	if target == TargetExcluded {
		return
	}
	p.result.Dependencies[name] = DependencyTarget{Name: name, Target: target}
}

// addRequirement records a platform requirement (bare symbol or
// action: token) in InvalidArch when it is unmet for the current profile.
func (p *parser) addRequirement(kind, value, raw string) {
	unmet, reason := p.requirementUnmet(kind, value)
	if unmet {
		p.result.InvalidArch = append(p.result.InvalidArch, Requirement{Kind: kind, Value: value, Reason: reason})
	}
}

func (p *parser) requirementUnmet(kind, value string) (bool, string) {
	switch kind {
	case "macos":
		if value == "" {
			return !p.profile.IsMac, "requires macOS"
		}
		if !p.profile.IsMac {
			return true, "requires macOS " + value
		}
		return p.profile.CodenameBefore(value), "requires macOS >= " + value
	case "linux":
		return p.profile.IsMac, "requires Linux"
	case "xcode":
		if value == "" {
			return !p.profile.HasXcode(""), "requires Xcode"
		}
		return !p.profile.HasXcode(value), "requires Xcode >= " + value
	case "arch":
		switch value {
		case "arm64", "arm":
			return !p.profile.IsArm, "requires arm64"
		case "x86_64", "intel":
			return p.profile.IsArm, "requires x86_64"
		}
		return false, ""
	case "maximum_macos":
		if !p.profile.IsMac {
			return false, ""
		}
		return !p.profile.CodenameAtOrBefore(value), "requires macOS <= " + value
	default:
		return false, ""
	}
}

// parseUsesFromMacos handles a uses_from_macos declaration:
// skipped for build-like targets, always a dependency off-macOS, and a
// conditional dependency on-macOS when a since: clause names a codename
// newer than the current OS version.
func (p *parser) parseUsesFromMacos(rest string) {
	m := quotedHeadRe.FindStringSubmatch(rest)
	if m == nil {
		p.warn("unparseable uses_from_macos argument: %s", rest)
		return
	}
	name := m[1]
	remainder := m[2]

	if sym, ok := targetSymbol(remainder); ok && ignoredTargets[":"+sym] {
		return
	}

	if !p.profile.IsMac {
		p.result.Dependencies[name] = DependencyTarget{Name: name, Target: TargetRuntime}
		return
	}

	if since := sinceClauseRe.FindStringSubmatch(remainder); since != nil {
		if p.profile.CodenameBefore(since[1]) {
			p.result.Dependencies[name] = DependencyTarget{Name: name, Target: TargetRuntime}
		}
		return
	}
	// No since: clause and we're on macOS: the system already provides
	// this shim, so it is not added as a dependency.
}

// splitIfClause separates a trailing "if <clause>" guard from the rest of
// a depends_on/uses_from_macos argument line.
func splitIfClause(rest string) (string, string) {
	if m := ifClauseRe.FindStringSubmatch(rest); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	return rest, ""
}

// targetSymbol extracts the trailing target token (":build", ":test", ...)
// from a depends_on/uses_from_macos remainder, whether separated by the
// old hash-rocket syntax (=> :build) or the newer comma syntax (, :build).
func targetSymbol(remainder string) (string, bool) {
	s := strings.TrimSpace(remainder)
	s = strings.TrimPrefix(s, "=>")
	s = strings.TrimPrefix(s, ",")
	s = strings.TrimSpace(s)
	m := symValueRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func stripSymOrQuote(s string) string {
	s = strings.TrimSpace(s)
	if m := symValueRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if m := strValueRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

var (
	macosVersionClauseRe = regexp.MustCompile(`^MacOS\.version\s*(==|!=|<=|>=|<|>)\s*:(\w+)$`)
	anyVersionInstalled  = regexp.MustCompile(`^Formula\["([^"]+)"\]\.any_version_installed\?$`)
	buildWithRe          = regexp.MustCompile(`^build\.with\?\s*"([^"]+)"$`)
	buildWithoutRe       = regexp.MustCompile(`^build\.without\?\s*"([^"]+)"$`)
	devToolsClauseRe     = regexp.MustCompile(`^DevelopmentTools\.(clang_build_version|gcc_version\w*)\s*(==|!=|<=|>=|<|>)\s*([\d.]+)$`)
)

// evaluateClause evaluates a trailing `if <clause>` guard against the
// parser's current (partial, order-dependent) state. build.with? and
// build.without? see the in-progress dependency set rather than the
// final one, so their result depends on declaration order within the
// file.
func (p *parser) evaluateClause(clause string) bool {
	clause = strings.TrimSpace(clause)

	if m := macosVersionClauseRe.FindStringSubmatch(clause); m != nil {
		return p.evalMacOSVersionClause(m[1], m[2])
	}
	if m := anyVersionInstalled.FindStringSubmatch(clause); m != nil {
		if p.opts.Installed != nil {
			return p.opts.Installed(m[1])
		}
		return p.opts.FakeInstalled[m[1]]
	}
	if m := buildWithRe.FindStringSubmatch(clause); m != nil {
		_, ok := p.result.Dependencies[m[1]]
		return ok
	}
	if m := buildWithoutRe.FindStringSubmatch(clause); m != nil {
		_, ok := p.result.Dependencies[m[1]]
		return !ok
	}
	if m := devToolsClauseRe.FindStringSubmatch(clause); m != nil {
		return p.evalDevToolsClause(m[1], m[2], m[3])
	}

	p.warn("unrecognized if-clause, defaulting to include: %s", clause)
	return true
}

func (p *parser) evalMacOSVersionClause(op, codename string) bool {
	if !p.profile.IsMac {
		return false
	}
	switch op {
	case "==":
		return p.profile.CodenameEquals(codename)
	case "!=":
		return !p.profile.CodenameEquals(codename)
	case ">=":
		return p.profile.CodenameAtOrAfter(codename)
	case "<=":
		return p.profile.CodenameAtOrBefore(codename)
	case ">":
		return p.profile.CodenameAtOrAfter(codename) && !p.profile.CodenameEquals(codename)
	case "<":
		return p.profile.CodenameBefore(codename)
	}
	return true
}

func (p *parser) evalDevToolsClause(which, op, n string) bool {
	var current string
	if strings.HasPrefix(which, "clang") {
		current = firstVersionToken(p.profile.ClangVersion())
	} else {
		current = firstVersionToken(p.profile.GCCVersion())
	}
	if current == "" {
		return true // no compiler detected: bias toward over-install
	}
	cmp := compareVersionLex(current, n)
	switch op {
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	}
	return true
}

var versionTokenRe = regexp.MustCompile(`(\d+(?:\.\d+)+|\d+)`)

// firstVersionToken extracts the first dotted-numeric token from a raw
// `clang --version`/`gcc --version` banner, e.g. "Apple clang version
// 15.0.0 (...)" -> "15.0.0".
func firstVersionToken(banner string) string {
	return versionTokenRe.FindString(banner)
}
