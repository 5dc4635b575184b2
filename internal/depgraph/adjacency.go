package depgraph

// AdjacencyMap is one direction of the dependency graph (forward: pkg ->
// its direct deps; reverse: pkg -> its direct dependents). It memoizes the
// two derived closures (all, leaves) that recur throughout graph queries.
type AdjacencyMap struct {
	direct map[string]NodeSet

	allMemo map[string]NodeSet
}

// NewAdjacencyMap builds an AdjacencyMap from a direct-edge map. The input
// is not retained; callers may mutate it afterward.
func NewAdjacencyMap(direct map[string]NodeSet) *AdjacencyMap {
	m := &AdjacencyMap{
		direct:  make(map[string]NodeSet, len(direct)),
		allMemo: make(map[string]NodeSet),
	}
	for k, v := range direct {
		m.direct[k] = v.Clone()
	}
	return m
}

// Direct returns k's direct edge set, or an empty set if k is unknown.
func (m *AdjacencyMap) Direct(k string) NodeSet {
	if s, ok := m.direct[k]; ok {
		return s
	}
	return NodeSet{}
}

// All returns the transitive closure of k, excluding k itself. Memoized;
// guarded by a visitation set so a cycle (which well-formed recipes do not
// admit, but which a hostile or malformed recipe set still might produce)
// cannot recurse forever.
func (m *AdjacencyMap) All(k string) NodeSet {
	if cached, ok := m.allMemo[k]; ok {
		return cached
	}
	visited := NodeSet{}
	m.collectAll(k, visited)
	delete(visited, k)
	m.allMemo[k] = visited
	return visited
}

func (m *AdjacencyMap) collectAll(k string, visited NodeSet) {
	for dep := range m.Direct(k) {
		if visited.Has(dep) {
			continue
		}
		visited.Add(dep)
		m.collectAll(dep, visited)
	}
}

// Leaves returns the subset of All(k) whose own direct set is empty -
// the terminal nodes reachable from k.
func (m *AdjacencyMap) Leaves(k string) NodeSet {
	out := NodeSet{}
	for dep := range m.All(k) {
		if m.Direct(dep).Empty() {
			out.Add(dep)
		}
	}
	return out
}

// UnionAll returns the union, over every key in keys, of All(key); when
// inclInput is true each key itself is folded into the result too. Used by
// Obsolete and CollectUninstall to compute the full set reachable from a
// seed set.
func (m *AdjacencyMap) UnionAll(keys NodeSet, inclInput bool) NodeSet {
	out := NodeSet{}
	for k := range keys {
		if inclInput {
			out.Add(k)
		}
		for dep := range m.All(k) {
			out.Add(dep)
		}
	}
	return out
}

// Missing returns the subset of keys absent from this map's direct edges -
// names the graph has never heard of.
func (m *AdjacencyMap) Missing(keys NodeSet) NodeSet {
	out := NodeSet{}
	for k := range keys {
		if _, ok := m.direct[k]; !ok {
			out.Add(k)
		}
	}
	return out
}

// DirectEnd returns every key with an empty direct set. On the reverse
// map these are the user-leaves: nothing depends on them.
func (m *AdjacencyMap) DirectEnd() NodeSet {
	out := NodeSet{}
	for k, deps := range m.direct {
		if deps.Empty() {
			out.Add(k)
		}
	}
	return out
}

// GetMissing returns names that appear as a value somewhere in this map
// (something points at them) but have no direct-edge entry of their own -
// i.e. referenced dependencies that are not actually installed. filter, if
// non-nil, restricts the search to that candidate set.
func (m *AdjacencyMap) GetMissing(filter NodeSet) NodeSet {
	referenced := NodeSet{}
	for _, deps := range m.direct {
		for dep := range deps {
			referenced.Add(dep)
		}
	}
	out := NodeSet{}
	for name := range referenced {
		if filter != nil && !filter.Has(name) {
			continue
		}
		if _, ok := m.direct[name]; !ok {
			out.Add(name)
		}
	}
	return out
}

// FilterDifference keeps k from keys iff direct[k] \ other is non-empty -
// k has at least one edge that escapes other.
func (m *AdjacencyMap) FilterDifference(keys, other NodeSet) NodeSet {
	out := NodeSet{}
	for k := range keys {
		if !m.Direct(k).Difference(other).Empty() {
			out.Add(k)
		}
	}
	return out
}

// FilterIntersection keeps k from keys iff direct[k] ∩ other is non-empty -
// k has at least one edge landing inside other.
func (m *AdjacencyMap) FilterIntersection(keys, other NodeSet) NodeSet {
	out := NodeSet{}
	for k := range keys {
		if !m.Direct(k).Intersection(other).Empty() {
			out.Add(k)
		}
	}
	return out
}

// Keys returns every node with a direct-edge entry (installed packages, in
// the forward map's case).
func (m *AdjacencyMap) Keys() NodeSet {
	out := NodeSet{}
	for k := range m.direct {
		out.Add(k)
	}
	return out
}
