package orchestrate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kegpm/kegpm/internal/bottle"
	"github.com/kegpm/kegpm/internal/formula"
	"github.com/kegpm/kegpm/internal/linker"
	"github.com/kegpm/kegpm/internal/log"
	"github.com/kegpm/kegpm/internal/store"
)

// InstallQueue drives an install run: resolve, fetch, extract, link, one
// package at a time in dependency order. A single queue instance is not
// reused across runs.
type InstallQueue struct {
	Store   *store.Store
	Linker  *linker.Linker
	Logger  log.Logger
	Profile formula.MachineProfile

	// LinkBinDependency/LinkBinPrimary select whether bin-links are
	// created for dependency-only installs vs. explicitly requested
	// ones, per config.Install.
	LinkBinDependency bool
	LinkBinPrimary    bool
}

// NewInstallQueue returns an InstallQueue over s, linking through l and
// logging via logger (nil becomes a no-op logger).
func NewInstallQueue(s *store.Store, l *linker.Linker, logger log.Logger, profile formula.MachineProfile) *InstallQueue {
	if logger == nil {
		logger = log.NewNoop()
	}
	return &InstallQueue{Store: s, Linker: l, Logger: logger, Profile: profile}
}

// Execute installs every package in plan.Order (dependencies first) by
// fetching its bottle via fetch, extracting it into the Cellar, parsing
// the extracted recipe for keg-only/homepage metadata, and linking it.
// Per-package failures accumulate into the returned Summary rather than
// aborting the remaining queue; a failure resolving the plan itself
// (handled by the caller before Execute is called) is always fatal.
func (q *InstallQueue) Execute(ctx context.Context, plan *Plan, fetch Fetcher) (Summary, error) {
	var summary Summary

	for _, pkg := range plan.Order {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		m, ok := plan.Manifests[pkg]
		if !ok {
			summary.AddError(pkg, "no resolved manifest")
			continue
		}

		if versions, _ := q.Store.Versions(store.Name(pkg)); len(versions) > 0 {
			q.Logger.Info("already installed", "package", pkg)
			if plan.Primary[pkg] {
				if err := q.Store.SetPrimary(store.Name(pkg), true); err != nil {
					summary.AddWarning(pkg, fmt.Sprintf("marking primary: %v", err))
				}
			}
			continue
		}

		if err := q.installOne(ctx, pkg, m.Versions.Stable, m.Dependencies, fetch, plan.Primary[pkg], &summary); err != nil {
			summary.AddError(pkg, err.Error())
			continue
		}
	}

	return summary, nil
}

func (q *InstallQueue) installOne(ctx context.Context, pkg, version string, declaredDeps []string, fetch Fetcher, primary bool, summary *Summary) error {
	archivePath, expectedSha256, err := fetch.Fetch(ctx, pkg, version)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", pkg, err)
	}

	// A GHCR-sourced bottle carries its own sh.brew.tab runtime-dependency
	// list, recorded at the exact build that was linked; compare it
	// against the formula's declared dependencies so a recipe that has
	// drifted from what was actually bottled surfaces as a warning
	// instead of silently under- or over-installing.
	if ghcr, ok := fetch.(*GHCRFetcher); ok {
		if tabDeps := ghcr.RuntimeDependencies(pkg); tabDeps != nil {
			if msg := diffDependencyTab(declaredDeps, tabDeps); msg != "" {
				summary.AddWarning(pkg, msg)
			}
		}
	}

	digest, err := store.Sha256File(archivePath)
	if err != nil {
		return fmt.Errorf("hashing %s archive: %w", pkg, err)
	}
	if expectedSha256 != "" && digest != expectedSha256 {
		return fmt.Errorf("digest mismatch for %s: expected %s, got %s (archive preserved at %s)",
			pkg, expectedSha256, digest, archivePath)
	}

	placeholders := bottle.Placeholders{
		Prefix:  q.Store.Root,
		Cellar:  q.Store.CellarDir(),
		Library: q.Store.LibraryDir(),
	}
	result, err := bottle.ExtractBottle(ctx, archivePath, q.Store.Root, placeholders)
	if err != nil {
		return fmt.Errorf("extracting %s: %w", pkg, err)
	}
	for _, w := range result.Warnings {
		summary.AddWarning(pkg, w)
	}

	// From here on the archive's own layout is authoritative: a bottle
	// whose internal version directory disagrees with the manifest's
	// stable version still has to be digested and linked where it actually
	// landed.
	name := store.Name(result.Package)
	ver := store.Version(result.Version)

	f, err := formula.Parse(q.Store.RecipePath(name, ver), q.Profile, formula.ParserOptions{
		Installed: q.storeInstalledProbe(),
	})
	if err != nil {
		q.Logger.Warn("parsing extracted recipe", "package", pkg, "error", err)
		f = &formula.Formula{}
	}

	if err := q.Store.SetDigest(name, ver, digest); err != nil {
		q.Logger.Warn("recording digest", "package", pkg, "error", err)
	}

	linkBin := q.LinkBinDependency
	if primary {
		linkBin = q.LinkBinPrimary
	}
	opts := linker.Options{LinkOpt: !f.KegOnly, LinkBin: linkBin}
	if err := q.Linker.Link(name, ver, opts); err != nil {
		return fmt.Errorf("linking %s: %w", pkg, err)
	}

	if primary {
		if err := q.Store.SetPrimary(store.Name(pkg), true); err != nil {
			q.Logger.Warn("marking primary", "package", pkg, "error", err)
		}
	}

	return nil
}

// storeInstalledProbe answers a recipe's any_version_installed? clauses
// against the live store.
func (q *InstallQueue) storeInstalledProbe() func(string) bool {
	return func(name string) bool {
		versions, err := q.Store.Versions(store.Name(name))
		return err == nil && len(versions) > 0
	}
}

// diffDependencyTab compares a formula's declared runtime dependencies
// against the sh.brew.tab list recorded at bottle build time, returning a
// one-line description of any drift, or "" when the two agree.
func diffDependencyTab(declared, tab []string) string {
	declaredSet := make(map[string]bool, len(declared))
	for _, d := range declared {
		declaredSet[d] = true
	}
	tabSet := make(map[string]bool, len(tab))
	for _, d := range tab {
		tabSet[d] = true
	}

	var onlyTab, onlyDeclared []string
	for _, d := range tab {
		if !declaredSet[d] {
			onlyTab = append(onlyTab, d)
		}
	}
	for _, d := range declared {
		if !tabSet[d] {
			onlyDeclared = append(onlyDeclared, d)
		}
	}
	if len(onlyTab) == 0 && len(onlyDeclared) == 0 {
		return ""
	}

	sort.Strings(onlyTab)
	sort.Strings(onlyDeclared)
	var parts []string
	if len(onlyTab) > 0 {
		parts = append(parts, "bottled against but not declared: "+strings.Join(onlyTab, ", "))
	}
	if len(onlyDeclared) > 0 {
		parts = append(parts, "declared but not bottled against: "+strings.Join(onlyDeclared, ", "))
	}
	return "runtime dependency drift (" + strings.Join(parts, "; ") + ")"
}
