package orchestrate

import (
	"context"
	"fmt"

	"github.com/kegpm/kegpm/internal/formula"
	"github.com/kegpm/kegpm/internal/registry"
)

// Resolver fetches formula manifests and expands them into a full
// transitive dependency set: the "resolve remote manifest, gather
// transitive deps" step of an install run.
type Resolver struct {
	Formula *registry.FormulaClient
}

// NewResolver returns a Resolver backed by client.
func NewResolver(client *registry.FormulaClient) *Resolver {
	return &Resolver{Formula: client}
}

// Plan is the result of resolving a set of requested package names: every
// manifest touched (requested or transitive), and an install order with
// dependencies before dependents (a single requested package comes last).
type Plan struct {
	Manifests map[string]*registry.FormulaManifest
	Order     []string
	Primary   map[string]bool
}

// Resolve fetches the manifest for every name in requested plus its full
// transitive dependency closure, and computes a reverse-topological
// install order.
func (r *Resolver) Resolve(ctx context.Context, requested []string) (*Plan, error) {
	plan := &Plan{
		Manifests: make(map[string]*registry.FormulaManifest),
		Primary:   make(map[string]bool),
	}
	for _, name := range requested {
		plan.Primary[name] = true
	}

	var visit func(name string) error
	visiting := make(map[string]bool)
	visited := make(map[string]bool)

	visit = func(name string) error {
		if visited[name] {
			return nil
		}
		if visiting[name] {
			// A cyclic formula dependency would be a malformed upstream
			// recipe; the graph engine guards the installed side, this
			// guards resolution so a bad manifest can't recurse forever.
			return nil
		}
		visiting[name] = true

		m, ok := plan.Manifests[name]
		if !ok {
			fetched, err := r.Formula.FetchFormulaJSON(ctx, name)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", name, err)
			}
			m = fetched
			plan.Manifests[name] = m
		}

		for _, dep := range m.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}

		visiting[name] = false
		visited[name] = true
		plan.Order = append(plan.Order, name)
		return nil
	}

	for _, name := range requested {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	return plan, nil
}

// PlatformKey builds the Formula-API platform key for the current machine
// profile (arm64_<codename> on Apple Silicon, <codename> on Intel),
// falling back to the architecture-independent "all" pseudo-key when the
// running macOS version has no entry in the codename table.
func PlatformKey(profile formula.MachineProfile) string {
	codename, ok := formula.CodenameForVersion(profile.OSVersion)
	if !ok {
		return "all"
	}
	arch := "intel"
	if profile.IsArm {
		arch = "arm64"
	}
	return registry.PlatformKey(arch, codename)
}
