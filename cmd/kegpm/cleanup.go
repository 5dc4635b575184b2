package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kegpm/kegpm/internal/orchestrate"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge stale cache entries, downloads, and superseded package versions",
	Args:  cobra.NoArgs,
	RunE:  runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	queue := orchestrate.NewCleanupQueue(env.store, env.cache, env.cfg.Cleanup, env.logger)
	report, err := queue.Run(time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}

	printInfof("Removed %d stale cache entries\n", report.CacheEntriesRemoved)
	if report.CacheEntriesEvicted > 0 {
		printInfof("Evicted %d cache entries (%s) over the cache size limit\n",
			report.CacheEntriesEvicted, humanize.Bytes(uint64(report.CacheBytesFreed)))
	}
	printInfof("Removed %d stale downloads\n", report.DownloadsRemoved)
	for _, v := range report.VersionsRemoved {
		printInfof("Removed %s\n", v)
	}
	return nil
}
