package orchestrate

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/kegpm/kegpm/internal/registry"
	"github.com/kegpm/kegpm/internal/store"
)

// OutdatedEntry names one installed package that has a newer stable
// version available upstream.
type OutdatedEntry struct {
	Package   string
	Installed string
	Candidate string
}

// UpgradeQueue compares installed versions against resolved manifests and
// drives the install of any newer stable release. A pinned package is
// never upgraded.
type UpgradeQueue struct {
	Store   *store.Store
	Install *InstallQueue
}

// NewUpgradeQueue returns an UpgradeQueue wrapping install for the
// fetch/extract/link mechanics of an actual upgrade.
func NewUpgradeQueue(s *store.Store, install *InstallQueue) *UpgradeQueue {
	return &UpgradeQueue{Store: s, Install: install}
}

// Outdated reports every installed package in manifests with a stable
// version newer than what's installed.
func (q *UpgradeQueue) Outdated(manifests map[string]*registry.FormulaManifest) ([]OutdatedEntry, error) {
	installed, err := q.Store.InstalledPackages()
	if err != nil {
		return nil, err
	}

	var out []OutdatedEntry
	for _, pkg := range installed {
		m, ok := manifests[string(pkg)]
		if !ok {
			continue
		}
		versions, err := q.Store.Versions(pkg)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			continue
		}
		current := string(versions[len(versions)-1])
		if versionLess(current, m.Versions.Stable) {
			out = append(out, OutdatedEntry{
				Package:   string(pkg),
				Installed: current,
				Candidate: m.Versions.Stable,
			})
		}
	}
	return out, nil
}

// Execute upgrades every outdated entry by installing its candidate
// version as if freshly requested, skipping (with a warning) any package
// pinned via store.SetPinned.
func (q *UpgradeQueue) Execute(ctx context.Context, plan *Plan, fetch Fetcher) (Summary, error) {
	var summary Summary

	for _, pkg := range plan.Order {
		h, err := store.Open(q.Store, store.Name(pkg))
		if err != nil {
			summary.AddError(pkg, err.Error())
			continue
		}
		if h.Pinned {
			summary.AddWarning(pkg, fmt.Sprintf("keeping old version of %s, it is pinned", pkg))
			continue
		}

		m, ok := plan.Manifests[pkg]
		if !ok {
			summary.AddError(pkg, "no resolved manifest")
			continue
		}

		candidate := store.Version(m.Versions.Stable)
		if hasVersion(h.Versions, candidate) {
			continue
		}

		if err := q.Install.installOne(ctx, pkg, m.Versions.Stable, m.Dependencies, fetch, plan.Primary[pkg], &summary); err != nil {
			summary.AddError(pkg, err.Error())
			continue
		}

		// The old version is still the active one; move the opt-link (and
		// any bin-links) over to what was just installed.
		if h.ActiveVersion != nil && *h.ActiveVersion != candidate {
			if err := q.Install.Linker.Switch(store.Name(pkg), candidate); err != nil {
				summary.AddError(pkg, fmt.Sprintf("switching to %s: %v", candidate, err))
			}
		}
	}

	return summary, nil
}

func hasVersion(versions []store.Version, want store.Version) bool {
	for _, v := range versions {
		if v == want {
			return true
		}
	}
	return false
}

// versionLess compares two version strings using semver when both parse
// cleanly, falling back to a plain string inequality check otherwise -
// Homebrew versions like "3.0.0_1" or "20230801" aren't always strict
// semver, so a failed parse degrades to "different means newer" rather
// than erroring the whole upgrade check.
func versionLess(current, candidate string) bool {
	cv, err1 := semver.NewVersion(current)
	nv, err2 := semver.NewVersion(candidate)
	if err1 == nil && err2 == nil {
		return cv.LessThan(nv)
	}
	return current != candidate
}
