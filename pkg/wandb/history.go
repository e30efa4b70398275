package wandb

import (
	"context"
	"encoding/json"
	"fmt"
)

const historyKeysQuery = `query RunHistoryKeys($project: String!, $entity: String!, $name: String!) {
  project(name: $project, entityName: $entity) {
    run(name: $name) {
      historyKeys
    }
  }
}`

const sampledHistoryQuery = `query SampledHistoryPage($entity: String!, $project: String!, $run: String!, $spec: JSONString!) {
  project(name: $project, entityName: $entity) {
    run(name: $run) {
      sampledHistory(specs: [$spec])
    }
  }
}`

// HistoryRow is one logged history record, keyed by metric name.
type HistoryRow map[string]any

// LastHistoryStep returns the last step logged by a run, or -1 when the
// run has no history.
func (c *Client) LastHistoryStep(ctx context.Context, path ProjectPath, run string) (int64, error) {
	var data struct {
		Project *struct {
			Run *struct {
				HistoryKeys json.RawMessage `json:"historyKeys"`
			} `json:"run"`
		} `json:"project"`
	}

	err := c.do(ctx, "RunHistoryKeys", historyKeysQuery, map[string]any{
		"entity":  path.Entity,
		"project": path.Project,
		"name":    run,
	}, &data)
	if err != nil {
		return 0, err
	}

	if data.Project == nil || data.Project.Run == nil {
		return -1, nil
	}

	var keys struct {
		LastStep *json.Number `json:"lastStep"`
	}

	if err := decodeJSONScalar(data.Project.Run.HistoryKeys, &keys); err != nil {
		return 0, fmt.Errorf("decoding history keys of run %s: %w", run, err)
	}

	if keys.LastStep == nil {
		return -1, nil
	}

	step, err := keys.LastStep.Int64()
	if err != nil {
		return 0, fmt.Errorf("run %s: invalid last step %q: %w", run, keys.LastStep.String(), err)
	}

	return step, nil
}

// ScanHistory walks a run's complete history restricted to keys, one page of
// pageSize steps at a time from step 0 through the last logged step, and
// calls fn for each row in the order the pages return them. Any error,
// including one returned by fn, stops the scan.
func (c *Client) ScanHistory(
	ctx context.Context,
	path ProjectPath,
	run string,
	keys []string,
	pageSize int,
	fn func(HistoryRow) error,
) error {
	if pageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	lastStep, err := c.LastHistoryStep(ctx, path, run)
	if err != nil {
		return err
	}

	maxStep := lastStep + 1

	for offset := int64(0); offset < maxStep; offset += int64(pageSize) {
		pageMax := min(offset+int64(pageSize), maxStep)

		rows, err := c.historyPage(ctx, path, run, keys, offset, pageMax, pageSize)
		if err != nil {
			return fmt.Errorf("run %s: history page [%d, %d): %w", run, offset, pageMax, err)
		}

		for _, row := range rows {
			if err := fn(row); err != nil {
				return err
			}
		}
	}

	return nil
}

// historySpec is the sampled-history request for one page.
type historySpec struct {
	Keys    []string `json:"keys"`
	MinStep int64    `json:"minStep"`
	MaxStep int64    `json:"maxStep"`
	Samples int      `json:"samples"`
}

func (c *Client) historyPage(
	ctx context.Context,
	path ProjectPath,
	run string,
	keys []string,
	minStep, maxStep int64,
	samples int,
) ([]HistoryRow, error) {
	spec, err := json.Marshal(historySpec{
		Keys:    keys,
		MinStep: minStep,
		MaxStep: maxStep,
		Samples: samples,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding history spec: %w", err)
	}

	var data struct {
		Project *struct {
			Run *struct {
				SampledHistory json.RawMessage `json:"sampledHistory"`
			} `json:"run"`
		} `json:"project"`
	}

	err = c.do(ctx, "SampledHistoryPage", sampledHistoryQuery, map[string]any{
		"entity":  path.Entity,
		"project": path.Project,
		"run":     run,
		"spec":    string(spec),
	}, &data)
	if err != nil {
		return nil, err
	}

	if data.Project == nil || data.Project.Run == nil {
		return nil, fmt.Errorf("run not found")
	}

	var pages [][]HistoryRow
	if err := decodeJSONScalar(data.Project.Run.SampledHistory, &pages); err != nil {
		return nil, fmt.Errorf("decoding sampled history: %w", err)
	}

	if len(pages) == 0 {
		return nil, nil
	}

	return pages[0], nil
}
