package depgraph

// DependenciesFunc returns the union of dependencies declared across every
// installed version of pkg - the graph only needs one edge set per
// package, so callers fold multi-version recipes before handing it here.
type DependenciesFunc func(pkg string) (NodeSet, error)

// Build constructs a DependencyTree over exactly the given installed
// package names, asking depsOf for each one's direct dependency edges.
// Every name in pkgs becomes a key in the forward map even if its
// dependency set is empty, so Missing/GetMissing can tell "installed with
// no deps" apart from "referenced but never installed".
func Build(pkgs []string, depsOf DependenciesFunc) (*DependencyTree, error) {
	forward := make(map[string]NodeSet, len(pkgs))
	for _, pkg := range pkgs {
		deps, err := depsOf(pkg)
		if err != nil {
			return nil, err
		}
		if deps == nil {
			deps = NodeSet{}
		}
		forward[pkg] = deps
	}
	return New(forward), nil
}
