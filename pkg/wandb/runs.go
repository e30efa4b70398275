package wandb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

const viewerQuery = `query Viewer {
  viewer {
    id
    entity
  }
}`

const runsQuery = `query Runs($project: String!, $entity: String!, $cursor: String, $perPage: Int = 50, $order: String, $filters: JSONString) {
  project(name: $project, entityName: $entity) {
    runs(filters: $filters, after: $cursor, first: $perPage, order: $order) {
      edges {
        node {
          id
          name
          displayName
          config
        }
        cursor
      }
      pageInfo {
        endCursor
        hasNextPage
      }
    }
  }
}`

// defaultRunOrder lists runs oldest first.
const defaultRunOrder = "+created_at"

// ProjectPath identifies a project as entity/project.
type ProjectPath struct {
	Entity  string
	Project string
}

func (p ProjectPath) String() string {
	return p.Entity + "/" + p.Project
}

// ParseProjectPath splits "entity/project". A bare project name leaves
// Entity empty; the caller resolves it with DefaultEntity.
func ParseProjectPath(path string) (ProjectPath, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return ProjectPath{}, fmt.Errorf("project is required")
	}

	parts := strings.Split(path, "/")

	switch len(parts) {
	case 1:
		return ProjectPath{Project: parts[0]}, nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return ProjectPath{}, fmt.Errorf("invalid project path %q", path)
		}

		return ProjectPath{Entity: parts[0], Project: parts[1]}, nil
	default:
		return ProjectPath{}, fmt.Errorf("invalid project path %q, expected entity/project", path)
	}
}

// Run is a run returned by a listing.
type Run struct {
	ID          string
	Name        string
	DisplayName string
	// Config is the run configuration flattened to key -> value.
	Config map[string]any
}

// DefaultEntity returns the entity of the authenticated user.
func (c *Client) DefaultEntity(ctx context.Context) (string, error) {
	var data struct {
		Viewer *struct {
			Entity string `json:"entity"`
		} `json:"viewer"`
	}

	if err := c.do(ctx, "Viewer", viewerQuery, nil, &data); err != nil {
		return "", err
	}

	if data.Viewer == nil || data.Viewer.Entity == "" {
		return "", fmt.Errorf("no default entity for the configured api key")
	}

	return data.Viewer.Entity, nil
}

// ListRuns returns all runs of the project matching filters, following the
// listing cursor until the last page.
func (c *Client) ListRuns(
	ctx context.Context,
	path ProjectPath,
	filters map[string]any,
	perPage int,
) ([]Run, error) {
	filterJSON, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("encoding run filters: %w", err)
	}

	var (
		runs   []Run
		cursor *string
	)

	for {
		var data struct {
			Project *struct {
				Runs struct {
					Edges []struct {
						Node struct {
							ID          string          `json:"id"`
							Name        string          `json:"name"`
							DisplayName string          `json:"displayName"`
							Config      json.RawMessage `json:"config"`
						} `json:"node"`
					} `json:"edges"`
					PageInfo struct {
						EndCursor   *string `json:"endCursor"`
						HasNextPage bool    `json:"hasNextPage"`
					} `json:"pageInfo"`
				} `json:"runs"`
			} `json:"project"`
		}

		err := c.do(ctx, "Runs", runsQuery, map[string]any{
			"entity":  path.Entity,
			"project": path.Project,
			"cursor":  cursor,
			"perPage": perPage,
			"order":   defaultRunOrder,
			"filters": string(filterJSON),
		}, &data)
		if err != nil {
			return nil, err
		}

		if data.Project == nil {
			return nil, fmt.Errorf("project %s not found", path)
		}

		for _, edge := range data.Project.Runs.Edges {
			cfg, err := flattenConfig(edge.Node.Config)
			if err != nil {
				return nil, fmt.Errorf("run %s: decoding config: %w", edge.Node.Name, err)
			}

			runs = append(runs, Run{
				ID:          edge.Node.ID,
				Name:        edge.Node.Name,
				DisplayName: edge.Node.DisplayName,
				Config:      cfg,
			})
		}

		page := data.Project.Runs.PageInfo
		if !page.HasNextPage || page.EndCursor == nil {
			break
		}

		cursor = page.EndCursor
	}

	c.log.WithField("project", path.String()).
		WithField("runs", len(runs)).
		Debug("Listed runs")

	return runs, nil
}

// configEntry is how the service stores each config key.
type configEntry struct {
	Value any    `mapstructure:"value"`
	Desc  string `mapstructure:"desc"`
}

// flattenConfig turns {"seed": {"value": 7, "desc": null}} into
// {"seed": 7}. Entries that are not wrapped are kept as they are.
func flattenConfig(raw json.RawMessage) (map[string]any, error) {
	var stored map[string]any
	if err := decodeJSONScalar(raw, &stored); err != nil {
		return nil, err
	}

	flat := make(map[string]any, len(stored))

	for key, value := range stored {
		wrapped, ok := value.(map[string]any)
		if !ok {
			flat[key] = value

			continue
		}

		if _, has := wrapped["value"]; !has {
			flat[key] = value

			continue
		}

		var entry configEntry
		if err := mapstructure.Decode(wrapped, &entry); err != nil {
			return nil, fmt.Errorf("config key %q: %w", key, err)
		}

		flat[key] = entry.Value
	}

	return flat, nil
}
