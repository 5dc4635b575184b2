// Package depgraph implements the dependency graph engine: forward and
// reverse traversal over installed packages, supporting install planning,
// cascading uninstall with ignore sets, orphan detection, and leaf
// enumeration. The uninstall-planning algorithm works in exact set
// arithmetic over the two adjacency maps; the quantifier sets it uses are
// load-bearing and not interchangeable with looser equivalents.
package depgraph

// DependencyTree pairs the forward (pkg -> deps) and reverse (pkg ->
// dependents) adjacency maps built from the same edge set.
type DependencyTree struct {
	Forward *AdjacencyMap
	Reverse *AdjacencyMap
}

// New builds a DependencyTree from a forward edge map (pkg -> its direct
// dependencies). The reverse map is derived automatically.
func New(forward map[string]NodeSet) *DependencyTree {
	reverse := make(map[string]NodeSet)
	for pkg, deps := range forward {
		if _, ok := reverse[pkg]; !ok {
			reverse[pkg] = NodeSet{}
		}
		for dep := range deps {
			if reverse[dep] == nil {
				reverse[dep] = NodeSet{}
			}
			reverse[dep].Add(pkg)
		}
	}
	return &DependencyTree{
		Forward: NewAdjacencyMap(forward),
		Reverse: NewAdjacencyMap(reverse),
	}
}

// Obsolete returns every node all of whose upward paths (in Reverse) stay
// inside S ∪ Forward.All(S) - i.e. nodes that are only reachable through
// other nodes already being ignored:
//
//	allIgnored   = Forward.UnionAll(S, inclInput=true)
//	children     = allIgnored \ S
//	multiParents = Reverse.FilterDifference(children, allIgnored)
//	result       = allIgnored \ multiParents
//
// The quantifier order here (difference against S before the
// FilterDifference call, not against allIgnored) is deliberate; callers
// depend on exactly this set arithmetic.
func (t *DependencyTree) Obsolete(s NodeSet) NodeSet {
	allIgnored := t.Forward.UnionAll(s, true)
	children := allIgnored.Difference(s)
	multiParents := t.Reverse.FilterDifference(children, allIgnored)
	return allIgnored.Difference(multiParents)
}

// UninstallPlan is the result of CollectUninstall: which packages to
// actually remove, which to skip (because something outside the removal
// set still needs them), and warnings for removal targets with live
// dependents.
type UninstallPlan struct {
	Removed  NodeSet
	Skipped  NodeSet
	Warnings []string
}

// CollectUninstall plans a cascading uninstall of delete, treating ignore
// as if it were already absent. If noDependencies is set, only the exact
// delete set is considered for removal; dependencies are left untouched
// even if they become orphaned. primary names packages marked
// user-installed: CollectUninstall never implicitly removes one of these
// unless it is itself in delete.
func (t *DependencyTree) CollectUninstall(delete, ignore, primary NodeSet, noDependencies bool) UninstallPlan {
	activelyIgnored := t.Obsolete(ignore)

	var removed, skipped NodeSet
	var warnings []string

	if noDependencies {
		removed = delete.Clone()
		hidden := activelyIgnored.Union(delete)
		skipped = NodeSet{}
		for pkg := range delete {
			for dependent := range t.Reverse.Direct(pkg) {
				if !hidden.Has(dependent) {
					warnings = append(warnings, dependent+" still depends on "+pkg)
				}
			}
		}
	} else {
		rawUninstall := t.Forward.UnionAll(delete, true)
		hidden := activelyIgnored.Union(rawUninstall)
		secondary := rawUninstall.Difference(delete)
		skipped = t.Reverse.FilterDifference(secondary, hidden)
		removed = rawUninstall.Difference(skipped)

		for pkg := range delete {
			for dependent := range t.Reverse.Direct(pkg) {
				if !hidden.Has(dependent) {
					warnings = append(warnings, dependent+" still depends on "+pkg)
				}
			}
		}
	}

	// Respect the "user-installed" marker: a primary package that slipped
	// into removed as someone else's dependency (not itself requested for
	// deletion) is moved to skipped instead.
	for pkg := range removed.Clone() {
		if primary.Has(pkg) && !delete.Has(pkg) {
			removed.Remove(pkg)
			skipped.Add(pkg)
		}
	}

	// Fixed point: a package that a skipped package depends on must also
	// be skipped, cascading until no more moves are needed.
	for {
		deps := t.Reverse.FilterIntersection(removed, skipped)
		if deps.Empty() {
			break
		}
		for pkg := range deps {
			removed.Remove(pkg)
			skipped.Add(pkg)
		}
	}

	// Drop anything not currently installed (the graph only knows about
	// installed packages - a name in removed that never made it into
	// Forward's key set was never real to begin with).
	removed = removed.Difference(t.Forward.Missing(removed))

	return UninstallPlan{Removed: removed, Skipped: skipped, Warnings: warnings}
}
