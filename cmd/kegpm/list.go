package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kegpm/kegpm/internal/orchestrate"
)

var listVersionsFlag bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var outdatedCmd = &cobra.Command{
	Use:   "outdated",
	Short: "List installed packages with a newer upstream stable version",
	Args:  cobra.NoArgs,
	RunE:  runOutdated,
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [package]...",
	Short: "Upgrade outdated packages (or the named ones) to their latest stable version",
	Args:  cobra.ArbitraryArgs,
	RunE:  runUpgrade,
}

var depsCmd = &cobra.Command{
	Use:   "deps <package>",
	Short: "List a package's dependencies",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeps,
}

var usesCmd = &cobra.Command{
	Use:   "uses <package>",
	Short: "List installed packages that depend on a package",
	Args:  cobra.ExactArgs(1),
	RunE:  runUses,
}

var leavesCmd = &cobra.Command{
	Use:   "leaves",
	Short: "List installed packages nothing else depends on",
	Args:  cobra.NoArgs,
	RunE:  runLeaves,
}

var missingCmd = &cobra.Command{
	Use:   "missing",
	Short: "List dependencies referenced by installed recipes but not themselves installed",
	Args:  cobra.NoArgs,
	RunE:  runMissing,
}

var depsTransitive bool
var usesTransitive bool

func init() {
	listCmd.Flags().BoolVar(&listVersionsFlag, "versions", false, "show each installed version, not just the active one")
	depsCmd.Flags().BoolVar(&depsTransitive, "transitive", false, "include indirect dependencies")
	usesCmd.Flags().BoolVar(&usesTransitive, "transitive", false, "include indirect dependents")
}

func newQueryEngine() *orchestrate.QueryEngine {
	uq := orchestrate.NewUninstallQueue(env.store, env.linker, env.logger, env.profile)
	return orchestrate.NewQueryEngine(uq)
}

func runList(cmd *cobra.Command, args []string) error {
	q := newQueryEngine()
	infos, err := q.List()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}

	var names []string
	for _, info := range infos {
		if listVersionsFlag {
			names = append(names, fmt.Sprintf("%s %s", info.Name, strings.Join(info.Versions, ", ")))
			continue
		}
		label := info.Name
		if info.Pinned {
			label += " (pinned)"
		}
		names = append(names, label)
	}
	printColumns(names)
	return nil
}

func runOutdated(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	installed, err := env.store.InstalledPackages()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}
	names := make([]string, len(installed))
	for i, n := range installed {
		names[i] = string(n)
	}

	resolver := orchestrate.NewResolver(env.formula)
	plan, err := resolver.Resolve(ctx, names)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}

	upgrade := orchestrate.NewUpgradeQueue(env.store, nil)
	outdated, err := upgrade.Outdated(plan.Manifests)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}

	for _, o := range outdated {
		printInfof("%s (%s -> %s)\n", o.Package, o.Installed, o.Candidate)
	}
	return nil
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	targets := args
	if len(targets) == 0 {
		installed, err := env.store.InstalledPackages()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			exitWithCode(ExitGeneral)
		}
		for _, n := range installed {
			targets = append(targets, string(n))
		}
	}

	resolver := orchestrate.NewResolver(env.formula)
	plan, err := resolver.Resolve(ctx, targets)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}

	platformKey := orchestrate.PlatformKey(env.profile)
	fetch := orchestrate.NewFormulaFetcher(env.store, platformKey, plan.Manifests)

	install := orchestrate.NewInstallQueue(env.store, env.linker, env.logger, env.profile)
	install.LinkBinPrimary = env.cfg.Install.LinkBinPrimary
	install.LinkBinDependency = env.cfg.Install.LinkBinDependency

	upgrade := orchestrate.NewUpgradeQueue(env.store, install)
	summary, err := upgrade.Execute(ctx, plan, fetch)
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

func runDeps(cmd *cobra.Command, args []string) error {
	q := newQueryEngine()
	deps, err := q.Deps(args[0], depsTransitive)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}
	printColumns(deps)
	return nil
}

func runUses(cmd *cobra.Command, args []string) error {
	q := newQueryEngine()
	uses, err := q.Uses(args[0], usesTransitive)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}
	printColumns(uses)
	return nil
}

func runLeaves(cmd *cobra.Command, args []string) error {
	q := newQueryEngine()
	leaves, err := q.Leaves()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}
	printColumns(leaves)
	return nil
}

func runMissing(cmd *cobra.Command, args []string) error {
	q := newQueryEngine()
	missing, err := q.Missing()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}
	printColumns(missing)
	return nil
}

// printColumns renders names in as many columns as fit the terminal
// width, falling back to one per line when stdout isn't a tty (a pipe,
// a redirect) or its width can't be determined.
func printColumns(names []string) {
	if len(names) == 0 {
		return
	}

	width := 0
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}

	longest := 0
	for _, n := range names {
		if len(n) > longest {
			longest = len(n)
		}
	}
	colWidth := longest + 2
	cols := width / colWidth
	if cols < 1 {
		cols = 1
	}

	for i, n := range names {
		fmt.Print(n)
		if (i+1)%cols == 0 || i == len(names)-1 {
			fmt.Println()
		} else {
			fmt.Print(strings.Repeat(" ", colWidth-len(n)))
		}
	}
}
