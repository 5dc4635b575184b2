package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kegpm/kegpm/internal/formula"
	"github.com/kegpm/kegpm/internal/store"
)

// formulaForInstalled parses the recipe bundled with an installed
// version, for metadata (homepage, keg-only) that isn't itself recorded
// in store flag files.
func formulaForInstalled(pkg store.Name, ver store.Version) (*formula.Formula, error) {
	return formula.Parse(env.store.RecipePath(pkg, ver), env.profile, formula.ParserOptions{})
}

var infoCmd = &cobra.Command{
	Use:   "info <package>",
	Short: "Show an installed package's versions, links, and installed size",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var homeCmd = &cobra.Command{
	Use:   "home <package>",
	Short: "Open (or print) a package's homepage",
	Args:  cobra.ExactArgs(1),
	RunE:  runHome,
}

func runInfo(cmd *cobra.Command, args []string) error {
	pkg := store.Name(args[0])
	h, err := store.Open(env.store, pkg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}
	if len(h.Versions) == 0 {
		fmt.Fprintf(os.Stderr, "%s is not installed\n", pkg)
		exitWithCode(ExitGeneral)
	}

	fmt.Printf("%s\n", pkg)
	if h.ActiveVersion != nil {
		fmt.Printf("  active version: %s\n", *h.ActiveVersion)
	} else {
		fmt.Println("  active version: (none linked)")
	}
	fmt.Printf("  installed versions: %v\n", h.Versions)
	fmt.Printf("  pinned: %v, primary: %v\n", h.Pinned, h.Primary)
	if len(h.BinLinks) > 0 {
		fmt.Printf("  bin: %v\n", h.BinLinks)
	}

	for _, ver := range h.Versions {
		size, err := dirSize(env.store.InstallPath(pkg, ver))
		if err != nil {
			continue
		}
		fmt.Printf("  %s: %s\n", ver, humanize.Bytes(uint64(size)))
	}

	ver := h.Versions[len(h.Versions)-1]
	f, err := formulaForInstalled(pkg, ver)
	if err == nil && f.Homepage != "" {
		fmt.Printf("  homepage: %s\n", f.Homepage)
	}

	return nil
}

func runHome(cmd *cobra.Command, args []string) error {
	pkg := store.Name(args[0])
	versions, err := env.store.Versions(pkg)
	if err != nil || len(versions) == 0 {
		fmt.Fprintf(os.Stderr, "%s is not installed\n", pkg)
		exitWithCode(ExitGeneral)
	}

	f, err := formulaForInstalled(pkg, versions[len(versions)-1])
	if err != nil || f.Homepage == "" {
		fmt.Fprintf(os.Stderr, "%s has no recorded homepage\n", pkg)
		exitWithCode(ExitGeneral)
	}

	printInfo(f.Homepage)
	if !quietFlag {
		openInBrowser(f.Homepage)
	}
	return nil
}

// openInBrowser best-effort launches the platform opener; failures are
// silent since printing the URL (already done by the caller) is the
// actually-required behavior.
func openInBrowser(url string) {
	var name string
	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "linux":
		name = "xdg-open"
	default:
		return
	}
	_ = exec.Command(name, url).Start()
}

// dirSize sums the apparent size of every regular file under root.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
