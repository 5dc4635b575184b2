package orchestrate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kegpm/kegpm/internal/depgraph"
	"github.com/kegpm/kegpm/internal/formula"
	"github.com/kegpm/kegpm/internal/linker"
	"github.com/kegpm/kegpm/internal/log"
	"github.com/kegpm/kegpm/internal/store"
)

// UninstallQueue builds the installed-package dependency graph and drives
// a cascading removal through it, unlinking every package before any
// version directory is deleted.
type UninstallQueue struct {
	Store   *store.Store
	Linker  *linker.Linker
	Logger  log.Logger
	Profile formula.MachineProfile
}

// NewUninstallQueue returns an UninstallQueue over s.
func NewUninstallQueue(s *store.Store, l *linker.Linker, logger log.Logger, profile formula.MachineProfile) *UninstallQueue {
	if logger == nil {
		logger = log.NewNoop()
	}
	return &UninstallQueue{Store: s, Linker: l, Logger: logger, Profile: profile}
}

// BuildTree reads every installed package's recipe and assembles the
// forward dependency edge set depgraph.New expects.
func (q *UninstallQueue) BuildTree() (*depgraph.DependencyTree, error) {
	installed, err := q.Store.InstalledPackages()
	if err != nil {
		return nil, err
	}

	forward := make(map[string]depgraph.NodeSet, len(installed))
	for _, pkg := range installed {
		versions, err := q.Store.Versions(pkg)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			continue
		}
		// The most recently installed version's recipe describes the
		// package's current dependency edges; older versions kept
		// side-by-side do not get their own edges.
		ver := versions[len(versions)-1]
		recipePath := q.Store.RecipePath(pkg, ver)

		f, err := formula.Parse(recipePath, q.Profile, formula.ParserOptions{
			Installed: func(name string) bool {
				versions, err := q.Store.Versions(store.Name(name))
				return err == nil && len(versions) > 0
			},
		})
		if err != nil {
			q.Logger.Warn("parsing installed recipe", "package", pkg, "error", err)
			forward[string(pkg)] = depgraph.NodeSet{}
			continue
		}

		deps := depgraph.NodeSet{}
		for name, dep := range f.Dependencies {
			if dep.Target == formula.TargetExcluded {
				continue
			}
			deps.Add(name)
		}
		forward[string(pkg)] = deps
	}

	return depgraph.New(forward), nil
}

// primarySet collects the names of every installed package explicitly
// marked primary (user-requested, not pulled in purely as a dependency).
func (q *UninstallQueue) primarySet(installed []store.Name) (depgraph.NodeSet, error) {
	primary := depgraph.NodeSet{}
	for _, pkg := range installed {
		h, err := store.Open(q.Store, pkg)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", pkg, err)
		}
		if h.Primary {
			primary.Add(string(pkg))
		}
	}
	return primary, nil
}

// Plan computes the uninstall plan for requesting the removal of
// targets, treating ignore as the additional packages whose exclusive
// dependencies should also be considered obsolete.
func (q *UninstallQueue) Plan(targets, ignore []string, noDependencies bool) (depgraph.UninstallPlan, error) {
	tree, err := q.BuildTree()
	if err != nil {
		return depgraph.UninstallPlan{}, err
	}

	installed, err := q.Store.InstalledPackages()
	if err != nil {
		return depgraph.UninstallPlan{}, err
	}
	primary, err := q.primarySet(installed)
	if err != nil {
		return depgraph.UninstallPlan{}, err
	}

	deleteSet := depgraph.NodeSet{}
	for _, t := range targets {
		deleteSet.Add(t)
	}
	if missing := tree.Forward.Missing(deleteSet); !missing.Empty() {
		names := missing.Slice()
		sort.Strings(names)
		return depgraph.UninstallPlan{}, fmt.Errorf("not installed: %s", strings.Join(names, ", "))
	}
	ignoreSet := depgraph.NodeSet{}
	for _, i := range ignore {
		ignoreSet.Add(i)
	}

	return tree.CollectUninstall(deleteSet, ignoreSet, primary, noDependencies), nil
}

// Execute unlinks and removes every package in plan.Removed, in no
// particular order (the graph has already guaranteed no removed package
// is depended on by a package outside the removal set). Unlink always
// precedes RemoveVersion for a given package.
func (q *UninstallQueue) Execute(plan depgraph.UninstallPlan) Summary {
	var summary Summary

	// Every package is unlinked before any version directory is deleted,
	// so no bin/<exe> symlink can resolve to a half-deleted target during
	// the removal window.
	unlinked := make([]string, 0, len(plan.Removed))
	for pkg := range plan.Removed {
		if err := q.Linker.Unlink(store.Name(pkg), linker.Options{LinkOpt: true, LinkBin: true}); err != nil {
			summary.AddError(pkg, fmt.Sprintf("unlinking: %v", err))
			continue
		}
		unlinked = append(unlinked, pkg)
	}

	for _, pkg := range unlinked {
		name := store.Name(pkg)
		versions, err := q.Store.Versions(name)
		if err != nil {
			summary.AddError(pkg, fmt.Sprintf("listing versions: %v", err))
			continue
		}
		for _, ver := range versions {
			if err := q.Store.RemoveVersion(name, ver); err != nil {
				summary.AddError(pkg, fmt.Sprintf("removing %s: %v", ver, err))
			}
		}
	}

	for _, w := range plan.Warnings {
		summary.AddWarning("", w)
	}

	return summary
}
