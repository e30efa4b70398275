package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/harvestoor/pkg/harvest"
	"github.com/ethpandaops/harvestoor/pkg/snapshot"
	"github.com/ethpandaops/harvestoor/pkg/wandb"
)

var inspectSnapshotName string

var inspectSnapshotCmd = &cobra.Command{
	Use:   "inspect-snapshot",
	Short: "Load a snapshot and summarize its content",
	RunE: func(cmd *cobra.Command, _ []string) error {
		name := inspectSnapshotName
		if name == "" {
			name = cfg.Snapshot.Path
		}

		if name == "" {
			return fmt.Errorf("snapshot is required (use --snapshot or snapshot.path)")
		}

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("validating config: %w", err)
		}

		ctx, cancel := signalContext()
		defer cancel()

		v, err := snapshot.New(log, &cfg.Snapshot).Load(ctx, name)
		if err != nil {
			return err
		}

		switch result := v.(type) {
		case harvest.LocalResult:
			log.WithField("runs", len(result)).
				WithField("series", result.SeriesCount()).
				Info("Local harvest snapshot")
			logLocalSummary(log, result)
		case wandb.RemoteResult:
			log.WithField("seeds", len(result)).Info("Remote harvest snapshot")
			logRemoteSummary(log, result, cfg.Remote.Step)
		default:
			log.WithField("type", fmt.Sprintf("%T", v)).Info("Snapshot")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectSnapshotCmd)
	inspectSnapshotCmd.Flags().StringVar(&inspectSnapshotName, "snapshot", "", "snapshot path, or key when S3 is enabled")
}
