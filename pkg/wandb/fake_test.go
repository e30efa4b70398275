package wandb_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/harvestoor/pkg/config"
	"github.com/ethpandaops/harvestoor/pkg/wandb"
)

// fakeRun is a run served by fakeServer. history rows are indexed by their
// position, which doubles as the step the sampled-history filter uses.
type fakeRun struct {
	name    string
	tags    []string
	config  map[string]any
	history []map[string]any
}

// fakeServer is a minimal GraphQL endpoint answering the operations the
// client sends.
type fakeServer struct {
	t      *testing.T
	entity string
	runs   []fakeRun
	// runsPerPage caps listing pages regardless of the requested size.
	runsPerPage int

	mu       sync.Mutex
	requests []string
	auth     []string
	specs    []map[string]any
}

type gqlRequest struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
}

func newFakeServer(t *testing.T, fs *fakeServer) *httptest.Server {
	t.Helper()

	fs.t = t
	if fs.entity == "" {
		fs.entity = "team"
	}

	srv := httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(srv.Close)

	return srv
}

func (f *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/graphql" || r.Method != http.MethodPost {
		http.NotFound(w, r)

		return
	}

	body, err := io.ReadAll(r.Body)
	require.NoError(f.t, err)

	var req gqlRequest
	require.NoError(f.t, json.Unmarshal(body, &req))

	_, pass, _ := r.BasicAuth()

	f.mu.Lock()
	f.requests = append(f.requests, req.OperationName)
	f.auth = append(f.auth, pass)
	f.mu.Unlock()

	var data any

	switch req.OperationName {
	case "Viewer":
		data = map[string]any{"viewer": map[string]any{"id": "u1", "entity": f.entity}}
	case "Runs":
		data = f.listRuns(req.Variables)
	case "RunHistoryKeys":
		data = f.historyKeys(req.Variables)
	case "SampledHistoryPage":
		data = f.sampledHistory(req.Variables)
	default:
		writeJSON(w, map[string]any{
			"errors": []map[string]any{{"message": "unknown operation " + req.OperationName}},
		})

		return
	}

	writeJSON(w, map[string]any{"data": data})
}

func (f *fakeServer) find(name any) *fakeRun {
	for i := range f.runs {
		if f.runs[i].name == name {
			return &f.runs[i]
		}
	}

	return nil
}

func (f *fakeServer) listRuns(vars map[string]any) any {
	var filters struct {
		Tags string `json:"tags"`
	}

	if s, ok := vars["filters"].(string); ok {
		require.NoError(f.t, json.Unmarshal([]byte(s), &filters))
	}

	matched := make([]fakeRun, 0, len(f.runs))

	for _, run := range f.runs {
		for _, tag := range run.tags {
			if tag == filters.Tags {
				matched = append(matched, run)

				break
			}
		}
	}

	start := 0
	if c, ok := vars["cursor"].(string); ok {
		start = int(c[0] - '0')
	}

	perPage := f.runsPerPage
	if perPage == 0 {
		perPage = len(matched) + 1
	}

	end := min(start+perPage, len(matched))

	edges := make([]map[string]any, 0, end-start)

	for _, run := range matched[start:end] {
		cfg := make(map[string]any, len(run.config))
		for k, v := range run.config {
			cfg[k] = map[string]any{"value": v, "desc": nil}
		}

		encoded, err := json.Marshal(cfg)
		require.NoError(f.t, err)

		edges = append(edges, map[string]any{
			"node": map[string]any{
				"id":          "id-" + run.name,
				"name":        run.name,
				"displayName": run.name,
				"config":      string(encoded),
			},
		})
	}

	return map[string]any{
		"project": map[string]any{
			"runs": map[string]any{
				"edges": edges,
				"pageInfo": map[string]any{
					"endCursor":   string(rune('0' + end)),
					"hasNextPage": end < len(matched),
				},
			},
		},
	}
}

func (f *fakeServer) historyKeys(vars map[string]any) any {
	run := f.find(vars["name"])
	if run == nil {
		return map[string]any{"project": map[string]any{"run": nil}}
	}

	keys := map[string]any{"keys": map[string]any{}}
	if len(run.history) > 0 {
		keys["lastStep"] = len(run.history) - 1
	}

	encoded, err := json.Marshal(keys)
	require.NoError(f.t, err)

	return map[string]any{"project": map[string]any{"run": map[string]any{"historyKeys": string(encoded)}}}
}

func (f *fakeServer) sampledHistory(vars map[string]any) any {
	run := f.find(vars["run"])
	if run == nil {
		return map[string]any{"project": map[string]any{"run": nil}}
	}

	var spec struct {
		Keys    []string `json:"keys"`
		MinStep int      `json:"minStep"`
		MaxStep int      `json:"maxStep"`
	}

	raw, ok := vars["spec"].(string)
	require.True(f.t, ok)
	require.NoError(f.t, json.Unmarshal([]byte(raw), &spec))

	var asMap map[string]any
	require.NoError(f.t, json.Unmarshal([]byte(raw), &asMap))

	f.mu.Lock()
	f.specs = append(f.specs, asMap)
	f.mu.Unlock()

	rows := make([]map[string]any, 0)

	for step := spec.MinStep; step < spec.MaxStep && step < len(run.history); step++ {
		row := make(map[string]any)

		for _, k := range spec.Keys {
			if v, ok := run.history[step][k]; ok {
				row[k] = v
			}
		}

		if len(row) > 0 {
			rows = append(rows, row)
		}
	}

	return map[string]any{
		"project": map[string]any{
			"run": map[string]any{"sampledHistory": []any{rows}},
		},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func remoteConfig(baseURL string) *config.RemoteConfig {
	return &config.RemoteConfig{
		BaseURL:         baseURL,
		APIKey:          "secret",
		Metric:          config.DefaultMetric,
		Step:            config.DefaultStep,
		Timeout:         5 * time.Second,
		PageSize:        config.DefaultPageSize,
		RunsPerPage:     config.DefaultRunsPerPage,
		MaxResponseSize: config.DefaultMaxResponseSize,
	}
}

func newClient(t *testing.T, cfg *config.RemoteConfig) *wandb.Client {
	t.Helper()

	client, err := wandb.NewClient(quietLogger(), cfg)
	require.NoError(t, err)

	return client
}

// trainingHistory builds n history rows logging the step every row and the
// metric every evalEvery rows.
func trainingHistory(n, evalEvery int, base float64) []map[string]any {
	rows := make([]map[string]any, n)

	for i := range rows {
		rows[i] = map[string]any{
			"global_step": i * 10,
			"train/loss":  1.0 / float64(i+1),
		}

		if i%evalEvery == 0 {
			rows[i]["eval/poleval"] = base + float64(i)
		}
	}

	return rows
}
