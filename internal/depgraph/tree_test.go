package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// wget -> {openssl, libidn2}; curl -> {openssl}; openssl -> {}; libidn2 -> {}
func sampleTree() *DependencyTree {
	return New(map[string]NodeSet{
		"wget":    NewSet("openssl", "libidn2"),
		"curl":    NewSet("openssl"),
		"openssl": {},
		"libidn2": {},
	})
}

func TestNoSelfLoop(t *testing.T) {
	tree := sampleTree()
	for _, pkg := range []string{"wget", "curl", "openssl", "libidn2"} {
		assert.False(t, tree.Forward.All(pkg).Has(pkg), pkg)
	}
}

func TestLeavesSubsetOfAll(t *testing.T) {
	tree := sampleTree()
	leaves := tree.Forward.Leaves("wget")
	all := tree.Forward.All("wget")
	for l := range leaves {
		assert.True(t, all.Has(l))
		assert.True(t, tree.Forward.Direct(l).Empty())
	}
}

func TestDirectEnd(t *testing.T) {
	tree := sampleTree()
	ends := tree.Forward.DirectEnd()
	assert.True(t, ends.Has("openssl"))
	assert.True(t, ends.Has("libidn2"))
	assert.False(t, ends.Has("wget"))
}

func TestObsoleteSupersetOfInput(t *testing.T) {
	tree := sampleTree()
	s := NewSet("openssl")
	result := tree.Obsolete(s)
	assert.True(t, result.Has("openssl"))
}

func TestUninstallRespectsSharedDependency(t *testing.T) {
	// wget and curl both installed, sharing openssl; libidn2 belongs only
	// to wget. uninstall wget removes wget and its exclusive dependency
	// libidn2, but skips openssl since curl still needs it.
	tree := sampleTree()
	plan := tree.CollectUninstall(NewSet("wget"), NodeSet{}, NodeSet{}, false)

	assert.True(t, plan.Removed.Has("wget"))
	assert.True(t, plan.Removed.Has("libidn2"))
	assert.False(t, plan.Removed.Has("openssl"))
	assert.True(t, plan.Skipped.Has("openssl"))
	assert.Empty(t, plan.Warnings)
}

func TestUninstallRemovesUnsharedDeps(t *testing.T) {
	// Without curl in the picture, deleting wget should also remove its
	// exclusively-owned dependency libidn2, but still share openssl only
	// if nothing else needs it.
	tree := New(map[string]NodeSet{
		"wget":    NewSet("openssl", "libidn2"),
		"openssl": {},
		"libidn2": {},
	})
	plan := tree.CollectUninstall(NewSet("wget"), NodeSet{}, NodeSet{}, false)

	assert.True(t, plan.Removed.Has("wget"))
	assert.True(t, plan.Removed.Has("openssl"))
	assert.True(t, plan.Removed.Has("libidn2"))
	assert.Empty(t, plan.Skipped)
}

func TestUninstallNoDependenciesOnlyRemovesExact(t *testing.T) {
	tree := sampleTree()
	plan := tree.CollectUninstall(NewSet("wget"), NodeSet{}, NodeSet{}, true)

	assert.Equal(t, NewSet("wget"), plan.Removed)
}

func TestUninstallRespectsPrimaryMarker(t *testing.T) {
	// openssl is both a dependency of wget and separately primary
	// (user-installed): it must never be implicitly removed.
	tree := New(map[string]NodeSet{
		"wget":    NewSet("openssl"),
		"openssl": {},
	})
	plan := tree.CollectUninstall(NewSet("wget"), NodeSet{}, NewSet("openssl"), false)

	assert.True(t, plan.Removed.Has("wget"))
	assert.False(t, plan.Removed.Has("openssl"))
	assert.True(t, plan.Skipped.Has("openssl"))
}

func TestUninstallPlanInvariants(t *testing.T) {
	tree := sampleTree()
	delete := NewSet("wget")
	plan := tree.CollectUninstall(delete, NodeSet{}, NodeSet{}, false)

	assert.True(t, plan.Removed.Intersection(plan.Skipped).Empty())
	for k := range delete.Difference(plan.Skipped) {
		assert.True(t, plan.Removed.Has(k))
	}
}

func TestUninstallCascadesFixedPoint(t *testing.T) {
	// a -> b -> c; deleting a would orphan b and c if nothing else needed
	// b. Here d also depends on b, so b is skipped, and the fixed point
	// then cascades c (which the skipped b still needs) into skipped too.
	tree := New(map[string]NodeSet{
		"a": NewSet("b"),
		"b": NewSet("c"),
		"c": {},
		"d": NewSet("b"), // d also depends on b, and isn't being deleted
	})
	plan := tree.CollectUninstall(NewSet("a"), NodeSet{}, NodeSet{}, false)

	assert.True(t, plan.Removed.Has("a"))
	// b is still needed by d, so it (and its exclusive dep c) must be
	// skipped, not removed.
	assert.True(t, plan.Skipped.Has("b"))
	assert.True(t, plan.Skipped.Has("c"))
}

func TestMissingDetectsUnknownNames(t *testing.T) {
	tree := sampleTree()
	missing := tree.Forward.Missing(NewSet("wget", "nonexistent"))
	assert.Equal(t, NewSet("nonexistent"), missing)
}

func TestGetMissingDetectsUninstalledReferencedDeps(t *testing.T) {
	// libfoo is depended on but never installed.
	tree := New(map[string]NodeSet{
		"wget": NewSet("libfoo"),
	})
	missing := tree.Forward.GetMissing(nil)
	assert.True(t, missing.Has("libfoo"))
	assert.False(t, missing.Has("wget"))
}
