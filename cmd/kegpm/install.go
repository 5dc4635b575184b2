package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kegpm/kegpm/internal/orchestrate"
)

var installCmd = &cobra.Command{
	Use:   "install <package>...",
	Short: "Install one or more packages from their bottles",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInstall,
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	resolver := orchestrate.NewResolver(env.formula)
	plan, err := resolver.Resolve(ctx, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}

	platformKey := orchestrate.PlatformKey(env.profile)
	fetch := orchestrate.NewFormulaFetcher(env.store, platformKey, plan.Manifests)

	queue := orchestrate.NewInstallQueue(env.store, env.linker, env.logger, env.profile)
	queue.LinkBinPrimary = env.cfg.Install.LinkBinPrimary
	queue.LinkBinDependency = env.cfg.Install.LinkBinDependency

	summary, err := queue.Execute(ctx, plan, fetch)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}

	printSummary(summary)
	if summary.HasErrors() {
		exitWithCode(ExitGeneral)
	}
	return nil
}

func printSummary(summary orchestrate.Summary) {
	for _, w := range summary.Warnings {
		if w.Package != "" {
			fmt.Fprintf(os.Stderr, "Warning: %s: %s\n", w.Package, w.Message)
		} else {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", w.Message)
		}
	}
	for _, e := range summary.Errors {
		if e.Package != "" {
			fmt.Fprintf(os.Stderr, "Error: %s: %s\n", e.Package, e.Message)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", e.Message)
		}
	}
}
