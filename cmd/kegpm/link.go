package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kegpm/kegpm/internal/linker"
	"github.com/kegpm/kegpm/internal/store"
)

var linkBinOnly bool

var linkCmd = &cobra.Command{
	Use:   "link <package> [version]",
	Short: "Create the opt-link and bin-links for a package version",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runLink,
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <package>",
	Short: "Remove a package's opt-link and bin-links",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnlink,
}

var switchCmd = &cobra.Command{
	Use:   "switch <package> <version>",
	Short: "Move a package's active version to a different installed version",
	Args:  cobra.ExactArgs(2),
	RunE:  runSwitch,
}

var toggleCmd = &cobra.Command{
	Use:   "toggle <package> <alias>...",
	Short: "Move bin-links between versioned aliases of the same tool",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runToggle,
}

func init() {
	linkCmd.Flags().BoolVar(&linkBinOnly, "bin-only", false, "link only the bin-links, not the opt-link")
}

func resolveVersion(pkg store.Name, explicit string) (store.Version, error) {
	if explicit != "" {
		return store.Version(explicit), nil
	}
	versions, err := env.store.Versions(pkg)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", fmt.Errorf("%s is not installed", pkg)
	}
	return versions[len(versions)-1], nil
}

func runLink(cmd *cobra.Command, args []string) error {
	pkg := store.Name(args[0])
	explicit := ""
	if len(args) == 2 {
		explicit = args[1]
	}
	ver, err := resolveVersion(pkg, explicit)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}

	opts := linker.Options{LinkOpt: !linkBinOnly, LinkBin: true}
	if err := env.linker.Link(pkg, ver, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}
	printInfof("Linked %s %s\n", pkg, ver)
	return nil
}

func runUnlink(cmd *cobra.Command, args []string) error {
	pkg := store.Name(args[0])
	if err := env.linker.Unlink(pkg, linker.Options{LinkOpt: true, LinkBin: true}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}
	printInfof("Unlinked %s\n", pkg)
	return nil
}

func runSwitch(cmd *cobra.Command, args []string) error {
	pkg := store.Name(args[0])
	ver := store.Version(args[1])
	if err := env.linker.Switch(pkg, ver); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}
	printInfof("Switched %s to %s\n", pkg, ver)
	return nil
}

func runToggle(cmd *cobra.Command, args []string) error {
	pkg := store.Name(args[0])
	var aliases []store.Name
	for _, a := range args[1:] {
		aliases = append(aliases, store.Name(a))
	}
	if err := env.linker.Toggle(pkg, aliases); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}
	printInfof("Toggled bin-links to %s\n", pkg)
	return nil
}
