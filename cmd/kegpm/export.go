package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kegpm/kegpm/internal/orchestrate"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print a reproducible manifest of explicitly installed packages",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	entries, err := orchestrate.Export(env.store)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}
	fmt.Print(orchestrate.FormatExport(entries))
	return nil
}
