package wandb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrDuplicateSeed is returned when two runs matching a query share a
	// config seed.
	ErrDuplicateSeed = errors.New("duplicate seed")

	// ErrMissingSeed is returned when a run's config has no seed.
	ErrMissingSeed = errors.New("config has no seed")
)

// SeedKey is the config key runs are filed under.
const SeedKey = "seed"

// SeedHistory holds one run's harvested series: exactly two arrays, stored
// under the step key and the metric key of the query.
type SeedHistory map[string][]float64

// RemoteResult maps a seed, as the JSON text of the run's config value
// (7 -> "7", "a" -> `"a"`), to that run's history.
type RemoteResult map[string]SeedHistory

// Query selects the runs and series to fetch.
type Query struct {
	// Tag filters the project's runs.
	Tag string
	// Project is "entity/project" or a bare project of the default entity.
	Project string
	// Metric is the history key whose values are collected.
	Metric string
	// Step is the history key used as the step axis.
	Step string
}

// HistoryClient is the subset of the API client the Fetcher needs.
type HistoryClient interface {
	DefaultEntity(ctx context.Context) (string, error)
	ListRuns(ctx context.Context, path ProjectPath, filters map[string]any, perPage int) ([]Run, error)
	ScanHistory(
		ctx context.Context,
		path ProjectPath,
		run string,
		keys []string,
		pageSize int,
		fn func(HistoryRow) error,
	) error
}

// Compile-time interface check.
var _ HistoryClient = (*Client)(nil)

// Fetcher collects one metric for every run carrying a tag.
type Fetcher struct {
	log         logrus.FieldLogger
	client      HistoryClient
	pageSize    int
	runsPerPage int
}

// NewFetcher creates a Fetcher. pageSize is the number of history steps
// requested per page and runsPerPage the size of run listing pages.
func NewFetcher(log logrus.FieldLogger, client HistoryClient, pageSize, runsPerPage int) *Fetcher {
	return &Fetcher{
		log:         log.WithField("component", "wandb-fetcher"),
		client:      client,
		pageSize:    pageSize,
		runsPerPage: runsPerPage,
	}
}

// FetchScalars lists the project's runs tagged q.Tag and, one run after the
// other, collects (step, metric) pairs from every history row that contains
// the metric, in the order the pages deliver them. Results are keyed by the
// run's config seed. Nothing is retried and nothing partial is returned.
func (f *Fetcher) FetchScalars(ctx context.Context, q Query) (RemoteResult, error) {
	if q.Metric == q.Step {
		return nil, fmt.Errorf("metric and step must differ, both are %q", q.Metric)
	}

	start := time.Now()

	path, err := ParseProjectPath(q.Project)
	if err != nil {
		return nil, err
	}

	if path.Entity == "" {
		entity, err := f.client.DefaultEntity(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving default entity: %w", err)
		}

		path.Entity = entity
	}

	log := f.log.WithFields(logrus.Fields{
		"project": path.String(),
		"tag":     q.Tag,
		"metric":  q.Metric,
	})

	runs, err := f.client.ListRuns(ctx, path, map[string]any{"tags": q.Tag}, f.runsPerPage)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	log.WithField("runs", len(runs)).Info("Fetching run histories")

	results := make(RemoteResult, len(runs))
	seeds := make(map[string]string, len(runs))

	for _, run := range runs {
		seed, ok := run.Config[SeedKey]
		if !ok {
			return nil, fmt.Errorf("run %s: %w", run.Name, ErrMissingSeed)
		}

		key, err := seedKey(seed)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", run.Name, err)
		}

		if prev, dup := seeds[key]; dup {
			return nil, fmt.Errorf("tag %s has %w %s (runs %s and %s)",
				q.Tag, ErrDuplicateSeed, key, prev, run.Name)
		}

		seeds[key] = run.Name

		history, err := f.fetchRun(ctx, path, run.Name, q)
		if err != nil {
			return nil, err
		}

		log.WithFields(logrus.Fields{
			"run":    run.Name,
			"seed":   key,
			"points": len(history[q.Metric]),
		}).Debug("Fetched run history")

		results[key] = history
	}

	log.WithFields(logrus.Fields{
		"runs":     len(results),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("Remote fetch completed")

	return results, nil
}

// fetchRun scans one run's history into a SeedHistory.
func (f *Fetcher) fetchRun(ctx context.Context, path ProjectPath, run string, q Query) (SeedHistory, error) {
	steps := make([]float64, 0, 64)
	values := make([]float64, 0, 64)

	err := f.client.ScanHistory(ctx, path, run, []string{q.Step, q.Metric}, f.pageSize, func(row HistoryRow) error {
		rawValue, ok := row[q.Metric]
		if !ok {
			return nil
		}

		rawStep, ok := row[q.Step]
		if !ok {
			return fmt.Errorf("history row with %q has no %q", q.Metric, q.Step)
		}

		step, err := toFloat(rawStep)
		if err != nil {
			return fmt.Errorf("step %q: %w", q.Step, err)
		}

		value, err := toFloat(rawValue)
		if err != nil {
			return fmt.Errorf("metric %q: %w", q.Metric, err)
		}

		steps = append(steps, step)
		values = append(values, value)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning history of run %s: %w", run, err)
	}

	return SeedHistory{
		q.Step:   steps,
		q.Metric: values,
	}, nil
}

// seedKey renders a seed as JSON text so 7 and "7" stay distinct keys.
func seedKey(seed any) (string, error) {
	if seed == nil {
		return "", ErrMissingSeed
	}

	b, err := json.Marshal(seed)
	if err != nil {
		return "", fmt.Errorf("encoding seed: %w", err)
	}

	return string(b), nil
}

// toFloat converts a history value. Non-finite values arrive as strings and
// null stands for a missing measurement.
func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return math.NaN(), nil
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case bool:
		if n {
			return 1, nil
		}

		return 0, nil
	case string:
		switch n {
		case "NaN", "nan":
			return math.NaN(), nil
		case "Infinity", "inf":
			return math.Inf(1), nil
		case "-Infinity", "-inf":
			return math.Inf(-1), nil
		}

		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", n)
		}

		return f, nil
	default:
		return 0, fmt.Errorf("non-numeric value of type %T", v)
	}
}
