package harvest

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Options controls a local harvest.
type Options struct {
	// FilterTag restricts extraction to the series with this tag. Empty
	// extracts every scalar series.
	FilterTag string
	// IncludeEmpty keeps runs for which no series was extracted.
	IncludeEmpty bool
	// Workers bounds the number of files extracted in parallel. Zero or
	// less uses the host parallelism.
	Workers int
}

// Harvester collects scalar series from a tree of event logs.
type Harvester struct {
	log  logrus.FieldLogger
	opts Options
}

// NewHarvester creates a Harvester.
func NewHarvester(log logrus.FieldLogger, opts Options) *Harvester {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}

	return &Harvester{
		log:  log.WithField("component", "harvester"),
		opts: opts,
	}
}

// Harvest discovers every event log under root, extracts them in parallel
// and merges the results by run name. Every call reads everything afresh.
func (h *Harvester) Harvest(ctx context.Context, root string) (LocalResult, error) {
	start := time.Now()

	files, err := Discover(root)
	if err != nil {
		return nil, fmt.Errorf("discovering event files: %w", err)
	}

	h.log.WithFields(logrus.Fields{
		"root":       root,
		"files":      len(files),
		"workers":    h.opts.Workers,
		"filter_tag": h.opts.FilterTag,
	}).Info("Harvesting event files")

	results, err := h.extractAll(ctx, root, files)
	if err != nil {
		return nil, err
	}

	merged, err := Merge(results, h.opts.IncludeEmpty)
	if err != nil {
		return nil, err
	}

	h.log.WithFields(logrus.Fields{
		"runs":     len(merged),
		"skipped":  len(results) - len(merged),
		"series":   merged.SeriesCount(),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("Harvest completed")

	return merged, nil
}

// extractAll runs one extraction per file on a bounded worker pool. Results
// are stored by input index, so workers share no mutable state.
func (h *Harvester) extractAll(ctx context.Context, root string, files []string) ([]FileResult, error) {
	results := make([]FileResult, len(files))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(h.opts.Workers)

	for i, path := range files {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}

			results[i] = ExtractFile(h.log, path, root, h.opts.FilterTag)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("extracting event files: %w", err)
	}

	return results, nil
}

// Merge combines per-file results into one mapping keyed by run name.
// Runs without series are dropped unless includeEmpty is set. Two results
// with the same run name fail the merge with ErrDuplicateRun whatever their
// content; the order of results does not affect the outcome.
func Merge(results []FileResult, includeEmpty bool) (LocalResult, error) {
	seen := make(map[string]string, len(results))

	for _, res := range results {
		if prev, ok := seen[res.RunName]; ok {
			return nil, fmt.Errorf("%w %q: %s and %s",
				ErrDuplicateRun, res.RunName, prev, res.Run.FilePath)
		}

		seen[res.RunName] = res.Run.FilePath
	}

	merged := make(LocalResult, len(results))

	for _, res := range results {
		if res.Run.Empty() && !includeEmpty {
			continue
		}

		merged[res.RunName] = res.Run
	}

	return merged, nil
}
