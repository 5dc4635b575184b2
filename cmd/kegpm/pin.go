package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kegpm/kegpm/internal/store"
)

var pinCmd = &cobra.Command{
	Use:   "pin <package>...",
	Short: "Pin packages to block upgrade and cleanup",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPin,
}

var unpinCmd = &cobra.Command{
	Use:   "unpin <package>...",
	Short: "Remove a pin",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runUnpin,
}

func runPin(cmd *cobra.Command, args []string) error {
	return setPinned(args, true)
}

func runUnpin(cmd *cobra.Command, args []string) error {
	return setPinned(args, false)
}

func setPinned(names []string, pinned bool) error {
	for _, n := range names {
		pkg := store.Name(n)
		if err := env.store.AssertInstalled([]store.Name{pkg}); err != nil {
			fmt.Fprintln(os.Stderr, err)
			exitWithCode(ExitGeneral)
		}
		if err := env.store.SetPinned(pkg, pinned); err != nil {
			fmt.Fprintln(os.Stderr, err)
			exitWithCode(ExitGeneral)
		}
		if pinned {
			printInfof("Pinned %s\n", pkg)
		} else {
			printInfof("Unpinned %s\n", pkg)
		}
	}
	return nil
}
