package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kegpm/kegpm/internal/orchestrate"
	"github.com/kegpm/kegpm/internal/store"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <package>...",
	Short: "Download bottles into the cache without installing them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFetch,
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	resolver := orchestrate.NewResolver(env.formula)
	plan, err := resolver.Resolve(ctx, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}

	platformKey := orchestrate.PlatformKey(env.profile)
	fetch := orchestrate.NewFormulaFetcher(env.store, platformKey, plan.Manifests)

	for _, pkg := range plan.Order {
		m, ok := plan.Manifests[pkg]
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: %s: no resolved manifest\n", pkg)
			exitWithCode(ExitGeneral)
		}
		path, expectedSha256, err := fetch.Fetch(ctx, pkg, m.Versions.Stable)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", pkg, err)
			exitWithCode(ExitGeneral)
		}
		if expectedSha256 != "" {
			actual, err := store.Sha256File(path)
			if err != nil || actual != expectedSha256 {
				fmt.Fprintf(os.Stderr, "Error: %s: digest mismatch (archive preserved at %s)\n", pkg, path)
				exitWithCode(ExitGeneral)
			}
		}
		printInfof("Fetched %s %s -> %s\n", pkg, m.Versions.Stable, path)
	}
	return nil
}
