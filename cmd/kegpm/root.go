package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kegpm/kegpm/internal/buildinfo"
	"github.com/kegpm/kegpm/internal/cache"
	"github.com/kegpm/kegpm/internal/config"
	"github.com/kegpm/kegpm/internal/formula"
	"github.com/kegpm/kegpm/internal/linker"
	"github.com/kegpm/kegpm/internal/log"
	"github.com/kegpm/kegpm/internal/registry"
	"github.com/kegpm/kegpm/internal/store"
)

var (
	quietFlag   bool
	verboseFlag bool
	debugFlag   bool
	forceFlag   bool
)

// globalCtx is canceled on SIGINT/SIGTERM; commands use it for every
// cancellable operation (network fetches in particular).
var globalCtx context.Context
var globalCancel context.CancelFunc

// env is the shared, lazily-initialized set of collaborators every
// subcommand needs: store root, logger, and the registry/cache clients.
// It is built once in rootCmd's PersistentPreRunE, after flags parse, so
// -q/-v/--debug take effect before the first log line.
type environment struct {
	cfg     *config.Config
	store   *store.Store
	cache   *cache.Cache
	formula *registry.FormulaClient
	oci     *registry.OCIClient
	linker  *linker.Linker
	logger  log.Logger
	profile formula.MachineProfile
	lock    *store.Lock
}

var env *environment

var rootCmd = &cobra.Command{
	Use:   "kegpm",
	Short: "A Homebrew-bottle-compatible package manager",
	Long: `kegpm installs precompiled bottles from the Homebrew formula API and
its GHCR mirror into a self-contained Cellar, managing the opt/bin
symlink layers and the dependency graph across installs, upgrades, and
uninstalls.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  initEnvironment,
	PersistentPostRunE: releaseEnvironment,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Show errors only")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Show verbose output (INFO level)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Show debug output (includes source locations)")
	rootCmd.PersistentFlags().BoolVarP(&forceFlag, "force", "f", false, "Override keg-only and collision guards")

	rootCmd.Version = buildinfo.Version()

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(unlinkCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(unpinCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(outdatedCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(depsCmd)
	rootCmd.AddCommand(usesCmd)
	rootCmd.AddCommand(leavesCmd)
	rootCmd.AddCommand(missingCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(homeCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(exportCmd)
}

// initEnvironment builds the shared environment after flags have parsed.
// A missing/invalid store root is the one fatal, pre-command condition
// that maps to exit code 42 rather than the generic 1.
func initEnvironment(cmd *cobra.Command, args []string) error {
	level := determineLogLevel()
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})
	logger := log.New(handler)
	log.SetDefault(logger)

	root, err := config.StoreRoot()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitStoreNotConfigured)
	}
	cfg, err := config.LoadFrom(root)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s := store.New(root)
	c, err := cache.New(s.CacheDir())
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	// Stale cache entries are purged once per invocation, before any
	// command reads through the cache.
	if _, err := c.Purge(time.Now()); err != nil {
		logger.Warn("purging cache", "error", err)
	}

	formulaClient := registry.NewFormulaClient(c)
	formulaClient.TTL = cfg.Cleanup.Cache
	ociClient := registry.NewOCIClient(c)
	ociClient.TagsTTL = cfg.Cleanup.Cache
	ociClient.ManifestTTL = cfg.Cleanup.Cache
	ociClient.AuthTTL = cfg.Cleanup.Auth

	profile := formula.DetectMachineProfile()
	l := linker.New(s, logger, kegOnlyLookup(s, profile))
	l.Force = forceFlag

	// A command needs exclusive control of the store root for its
	// duration; the flock turns that into a fail-fast check instead of
	// leaving concurrent invocations to silently race each other.
	lock, err := s.Lock()
	if err != nil {
		if err == store.ErrLocked {
			fmt.Fprintln(os.Stderr, err)
			exitWithCode(ExitGeneral)
		}
		return fmt.Errorf("acquiring store lock: %w", err)
	}

	env = &environment{
		cfg:     cfg,
		store:   s,
		cache:   c,
		formula: formulaClient,
		oci:     ociClient,
		linker:  l,
		logger:  logger,
		profile: profile,
		lock:    lock,
	}
	return nil
}

// releaseEnvironment releases the store lock acquired in initEnvironment.
// It runs after every command's RunE, success or failure, so the lock
// never outlives a single invocation.
func releaseEnvironment(cmd *cobra.Command, args []string) error {
	if env == nil || env.lock == nil {
		return nil
	}
	return env.lock.Release()
}

// kegOnlyLookup reads the keg-only flag straight from each package's
// installed recipe, parsed on demand - cheap enough not to warrant
// caching across the lifetime of a single command invocation.
func kegOnlyLookup(s *store.Store, profile formula.MachineProfile) func(store.Name) (bool, error) {
	return func(pkg store.Name) (bool, error) {
		versions, err := s.Versions(pkg)
		if err != nil || len(versions) == 0 {
			return false, nil
		}
		ver := versions[len(versions)-1]
		f, err := formula.Parse(s.RecipePath(pkg, ver), profile, formula.ParserOptions{})
		if err != nil {
			return false, nil
		}
		return f.KegOnly, nil
	}
}

func determineLogLevel() slog.Level {
	if debugFlag {
		return slog.LevelDebug
	}
	if verboseFlag {
		return slog.LevelInfo
	}
	if quietFlag {
		return slog.LevelError
	}
	return slog.LevelWarn
}

func printInfo(a ...interface{}) {
	if !quietFlag {
		fmt.Println(a...)
	}
}

func printInfof(format string, a ...interface{}) {
	if !quietFlag {
		fmt.Printf(format, a...)
	}
}

func main() {
	globalCtx, globalCancel = context.WithCancel(context.Background())
	defer globalCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\nReceived %s, canceling...\n", sig)
		globalCancel()
		<-sigChan
		fmt.Fprintln(os.Stderr, "Forced exit")
		exitWithCode(ExitGeneral)
	}()

	rootCmd.SetContext(globalCtx)
	if err := rootCmd.Execute(); err != nil {
		if globalCtx.Err() == context.Canceled {
			exitWithCode(ExitGeneral)
		}
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}
}
