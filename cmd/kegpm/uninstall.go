package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kegpm/kegpm/internal/orchestrate"
)

var uninstallIgnoreDeps []string
var uninstallNoDeps bool

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <package>...",
	Short: "Uninstall one or more packages, cascading to now-unused dependencies",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runUninstall,
}

func init() {
	uninstallCmd.Flags().StringSliceVar(&uninstallIgnoreDeps, "ignore-dependencies", nil,
		"additional packages whose exclusive dependencies are also considered obsolete")
	uninstallCmd.Flags().BoolVar(&uninstallNoDeps, "no-dependencies", false,
		"only remove the named packages, never their dependencies")
}

func runUninstall(cmd *cobra.Command, args []string) error {
	queue := orchestrate.NewUninstallQueue(env.store, env.linker, env.logger, env.profile)

	plan, err := queue.Plan(args, uninstallIgnoreDeps, uninstallNoDeps)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}

	// A removal target with a live dependent is a hard error unless the
	// user forces it, in which case it degrades to a warning.
	if len(plan.Warnings) > 0 && !forceFlag {
		for _, w := range plan.Warnings {
			fmt.Fprintf(os.Stderr, "Error: %s\n", w)
		}
		exitWithCode(ExitGeneral)
	}
	for _, w := range plan.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
	for pkg := range plan.Skipped {
		printInfof("Skipping %s (still in use)\n", pkg)
	}

	summary := queue.Execute(plan)
	for pkg := range plan.Removed {
		printInfof("Uninstalled %s\n", pkg)
	}
	printSummary(summary)

	if summary.HasErrors() {
		exitWithCode(ExitGeneral)
	}
	return nil
}
