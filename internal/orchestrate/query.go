package orchestrate

import (
	"sort"

	"github.com/kegpm/kegpm/internal/depgraph"
	"github.com/kegpm/kegpm/internal/store"
)

// PackageInfo is the composed, read-only view `kegpm info`/`list` render:
// installed state joined with the dependency graph's view of a package.
type PackageInfo struct {
	Name          string
	Versions      []string
	ActiveVersion string
	Pinned        bool
	Primary       bool
	Dependencies  []string
	Dependents    []string
}

// QueryEngine answers read-only questions about the installed package
// set: dependency/dependent listings, leaves, and missing dependencies,
// composing UninstallQueue.BuildTree with per-package store.Handle state.
type QueryEngine struct {
	uninstall *UninstallQueue
}

// NewQueryEngine returns a QueryEngine sharing uninstall's recipe-backed
// dependency tree builder.
func NewQueryEngine(uninstall *UninstallQueue) *QueryEngine {
	return &QueryEngine{uninstall: uninstall}
}

// List returns PackageInfo for every installed package, sorted by name.
func (q *QueryEngine) List() ([]PackageInfo, error) {
	tree, err := q.uninstall.BuildTree()
	if err != nil {
		return nil, err
	}
	installed, err := q.uninstall.Store.InstalledPackages()
	if err != nil {
		return nil, err
	}

	var out []PackageInfo
	for _, pkg := range installed {
		info, err := q.describe(tree, pkg)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

func (q *QueryEngine) describe(tree *depgraph.DependencyTree, pkg store.Name) (PackageInfo, error) {
	h, err := store.Open(q.uninstall.Store, pkg)
	if err != nil {
		return PackageInfo{}, err
	}

	info := PackageInfo{
		Name:         string(pkg),
		Pinned:       h.Pinned,
		Primary:      h.Primary,
		Dependencies: tree.Forward.Direct(string(pkg)).Slice(),
		Dependents:   tree.Reverse.Direct(string(pkg)).Slice(),
	}
	for _, v := range h.Versions {
		info.Versions = append(info.Versions, string(v))
	}
	if h.ActiveVersion != nil {
		info.ActiveVersion = string(*h.ActiveVersion)
	}
	sort.Strings(info.Dependencies)
	sort.Strings(info.Dependents)
	return info, nil
}

// Deps returns the direct (or, if transitive is set, full transitive)
// dependencies of pkg.
func (q *QueryEngine) Deps(pkg string, transitive bool) ([]string, error) {
	tree, err := q.uninstall.BuildTree()
	if err != nil {
		return nil, err
	}
	var set depgraph.NodeSet
	if transitive {
		set = tree.Forward.All(pkg)
	} else {
		set = tree.Forward.Direct(pkg)
	}
	out := set.Slice()
	sort.Strings(out)
	return out, nil
}

// Uses returns every installed package that directly (or, if transitive
// is set, transitively) depends on pkg.
func (q *QueryEngine) Uses(pkg string, transitive bool) ([]string, error) {
	tree, err := q.uninstall.BuildTree()
	if err != nil {
		return nil, err
	}
	var set depgraph.NodeSet
	if transitive {
		set = tree.Reverse.All(pkg)
	} else {
		set = tree.Reverse.Direct(pkg)
	}
	out := set.Slice()
	sort.Strings(out)
	return out, nil
}

// Leaves returns every installed package nothing else depends on.
func (q *QueryEngine) Leaves() ([]string, error) {
	tree, err := q.uninstall.BuildTree()
	if err != nil {
		return nil, err
	}
	installed, err := q.uninstall.Store.InstalledPackages()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, pkg := range installed {
		if tree.Reverse.Direct(string(pkg)).Empty() {
			out = append(out, string(pkg))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Missing returns the set of dependency names referenced by the
// installed set's recipes that are not themselves installed.
func (q *QueryEngine) Missing() ([]string, error) {
	tree, err := q.uninstall.BuildTree()
	if err != nil {
		return nil, err
	}
	out := tree.Forward.GetMissing(nil).Slice()
	sort.Strings(out)
	return out, nil
}
