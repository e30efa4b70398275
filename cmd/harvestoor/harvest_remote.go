package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/harvestoor/pkg/snapshot"
	"github.com/ethpandaops/harvestoor/pkg/wandb"
)

var remoteFlags struct {
	tag      string
	project  string
	metric   string
	step     string
	timeout  time.Duration
	snapshot string
}

var harvestRemoteCmd = &cobra.Command{
	Use:   "harvest-remote",
	Short: "Harvest one metric from every tagged run of a W&B project",
	Long: `List the project's runs carrying a tag and collect the (step, metric)
history of each, keyed by the run's config seed. Runs must have distinct
seeds. The API key is read from remote.api_key or WANDB_API_KEY.`,
	RunE: runHarvestRemote,
}

func init() {
	rootCmd.AddCommand(harvestRemoteCmd)

	f := harvestRemoteCmd.Flags()
	f.StringVar(&remoteFlags.tag, "tag", "", "run tag to select")
	f.StringVar(&remoteFlags.project, "project", "", "entity/project or a project of the default entity")
	f.StringVar(&remoteFlags.metric, "metric", "", "history key to collect")
	f.StringVar(&remoteFlags.step, "step", "", "history key used as the step axis")
	f.DurationVar(&remoteFlags.timeout, "timeout", 0, "per-request timeout")
	f.StringVar(&remoteFlags.snapshot, "snapshot", "", "save the result as a snapshot under this name")
}

func runHarvestRemote(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	rc := &cfg.Remote

	if flags.Changed("tag") {
		rc.Tag = remoteFlags.tag
	}

	if flags.Changed("project") {
		rc.Project = remoteFlags.project
	}

	if flags.Changed("metric") {
		rc.Metric = remoteFlags.metric
	}

	if flags.Changed("step") {
		rc.Step = remoteFlags.step
	}

	if flags.Changed("timeout") {
		rc.Timeout = remoteFlags.timeout
	}

	if flags.Changed("snapshot") {
		cfg.Snapshot.Path = remoteFlags.snapshot
	}

	if rc.Project == "" {
		return fmt.Errorf("project is required (use --project or remote.project)")
	}

	if rc.Tag == "" {
		return fmt.Errorf("tag is required (use --tag or remote.tag)")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	client, err := wandb.NewClient(log, rc)
	if err != nil {
		return fmt.Errorf("creating api client: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	fetcher := wandb.NewFetcher(log, client, rc.PageSize, rc.RunsPerPage)

	result, err := fetcher.FetchScalars(ctx, wandb.Query{
		Tag:     rc.Tag,
		Project: rc.Project,
		Metric:  rc.Metric,
		Step:    rc.Step,
	})
	if err != nil {
		return err
	}

	if cfg.Snapshot.Path == "" {
		logRemoteSummary(log, result, rc.Step)

		return nil
	}

	return snapshot.New(log, &cfg.Snapshot).Save(ctx, cfg.Snapshot.Path, result)
}

// logRemoteSummary logs one line per seed. step names the step axis; the
// other key of each history is the metric.
func logRemoteSummary(log logrus.FieldLogger, result wandb.RemoteResult, step string) {
	seeds := make([]string, 0, len(result))
	for seed := range result {
		seeds = append(seeds, seed)
	}

	sort.Strings(seeds)

	for _, seed := range seeds {
		fields := logrus.Fields{"seed": seed}

		for key, values := range result[seed] {
			if key == step {
				continue
			}

			fields["metric"] = key
			fields["points"] = len(values)

			if len(values) > 0 {
				fields["last"] = values[len(values)-1]
			}
		}

		log.WithFields(fields).Info("Seed")
	}
}
