package main

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/harvestoor/pkg/harvest"
	"github.com/ethpandaops/harvestoor/pkg/snapshot"
)

var localFlags struct {
	logDir       string
	tag          string
	includeEmpty bool
	workers      int
	snapshot     string
}

var harvestLocalCmd = &cobra.Command{
	Use:   "harvest-local",
	Short: "Harvest scalar series from a directory of event logs",
	Long: `Walk a directory tree, read every events.out.tfevents* file in parallel
and collect its scalar series keyed by the file's directory relative to the
root. Two logs in one directory fail the harvest.`,
	RunE: runHarvestLocal,
}

func init() {
	rootCmd.AddCommand(harvestLocalCmd)

	f := harvestLocalCmd.Flags()
	f.StringVar(&localFlags.logDir, "log-dir", "", "root directory of the event logs")
	f.StringVar(&localFlags.tag, "tag", "", "only collect this series")
	f.BoolVar(&localFlags.includeEmpty, "include-empty", false, "keep runs without scalar series")
	f.IntVar(&localFlags.workers, "workers", 0, "parallel extractions (0 = number of CPUs)")
	f.StringVar(&localFlags.snapshot, "snapshot", "", "save the result as a snapshot under this name")
}

func runHarvestLocal(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()

	if flags.Changed("log-dir") {
		cfg.Local.LogDir = localFlags.logDir
	}

	if flags.Changed("tag") {
		cfg.Local.FilterTag = localFlags.tag
	}

	if flags.Changed("include-empty") {
		cfg.Local.IncludeEmpty = localFlags.includeEmpty
	}

	if flags.Changed("workers") {
		cfg.Local.Workers = localFlags.workers
	}

	if flags.Changed("snapshot") {
		cfg.Snapshot.Path = localFlags.snapshot
	}

	if cfg.Local.LogDir == "" {
		return fmt.Errorf("log directory is required (use --log-dir or local.log_dir)")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	h := harvest.NewHarvester(log, harvest.Options{
		FilterTag:    cfg.Local.FilterTag,
		IncludeEmpty: cfg.Local.IncludeEmpty,
		Workers:      cfg.Local.Workers,
	})

	result, err := h.Harvest(ctx, cfg.Local.LogDir)
	if err != nil {
		return err
	}

	if cfg.Snapshot.Path == "" {
		logLocalSummary(log, result)

		return nil
	}

	return snapshot.New(log, &cfg.Snapshot).Save(ctx, cfg.Snapshot.Path, result)
}

func logLocalSummary(log logrus.FieldLogger, result harvest.LocalResult) {
	names := make([]string, 0, len(result))
	for name := range result {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		run := result[name]

		points := 0
		for _, s := range run.Series {
			points += s.Len()
		}

		log.WithFields(logrus.Fields{
			"run":    name,
			"series": len(run.Series),
			"points": points,
			"file":   run.FilePath,
		}).Info("Run")
	}
}
