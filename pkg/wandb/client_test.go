package wandb_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/harvestoor/pkg/wandb"
)

func TestParseProjectPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    wandb.ProjectPath
		wantErr bool
	}{
		{name: "entity and project", input: "team/llm", want: wandb.ProjectPath{Entity: "team", Project: "llm"}},
		{name: "bare project", input: "llm", want: wandb.ProjectPath{Project: "llm"}},
		{name: "surrounding slashes", input: "/team/llm/", want: wandb.ProjectPath{Entity: "team", Project: "llm"}},
		{name: "empty", input: "", wantErr: true},
		{name: "too many parts", input: "a/b/c", wantErr: true},
		{name: "empty entity", input: "a//b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := wandb.ParseProjectPath(tt.input)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_ListRuns(t *testing.T) {
	fs := &fakeServer{
		runsPerPage: 2,
		runs: []fakeRun{
			{name: "a", tags: []string{"t"}, config: map[string]any{"seed": 1, "model": "small"}},
			{name: "b", tags: []string{"t"}, config: map[string]any{"seed": 2}},
			{name: "c", tags: []string{"t"}, config: map[string]any{"seed": 3}},
			{name: "d", tags: []string{"other"}, config: map[string]any{"seed": 4}},
		},
	}
	srv := newFakeServer(t, fs)

	client := newClient(t, remoteConfig(srv.URL))

	runs, err := client.ListRuns(context.Background(),
		wandb.ProjectPath{Entity: "team", Project: "llm"}, map[string]any{"tags": "t"}, 2)
	require.NoError(t, err)

	require.Len(t, runs, 3)
	assert.Equal(t, "a", runs[0].Name)
	assert.Equal(t, "c", runs[2].Name)
	assert.Equal(t, "small", runs[0].Config["model"])
	assert.Equal(t, json.Number("1"), runs[0].Config["seed"])

	fs.mu.Lock()
	defer fs.mu.Unlock()

	assert.Equal(t, []string{"Runs", "Runs"}, fs.requests)
}

func TestClient_Errors(t *testing.T) {
	ctx := context.Background()
	path := wandb.ProjectPath{Entity: "team", Project: "llm"}

	t.Run("http status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
		}))
		defer srv.Close()

		_, err := newClient(t, remoteConfig(srv.URL)).DefaultEntity(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
		assert.Contains(t, err.Error(), "invalid api key")
	})

	t.Run("graphql errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, map[string]any{
				"errors": []map[string]any{{"message": "project not found"}, {"message": "try again"}},
			})
		}))
		defer srv.Close()

		_, err := newClient(t, remoteConfig(srv.URL)).ListRuns(ctx, path, nil, 10)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "project not found; try again")
	})

	t.Run("missing project", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, map[string]any{"data": map[string]any{"project": nil}})
		}))
		defer srv.Close()

		_, err := newClient(t, remoteConfig(srv.URL)).ListRuns(ctx, path, nil, 10)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "team/llm not found")
	})

	t.Run("response too large", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"data":{"viewer":{"entity":"` + strings.Repeat("x", 4096) + `"}}}`))
		}))
		defer srv.Close()

		cfg := remoteConfig(srv.URL)
		cfg.MaxResponseSize = "1KB"

		_, err := newClient(t, cfg).DefaultEntity(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "response exceeds")
	})

	t.Run("cancelled context", func(t *testing.T) {
		srv := newFakeServer(t, &fakeServer{})

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := newClient(t, remoteConfig(srv.URL)).DefaultEntity(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("invalid max response size", func(t *testing.T) {
		cfg := remoteConfig("http://localhost")
		cfg.MaxResponseSize = "lots"

		_, err := wandb.NewClient(quietLogger(), cfg)
		require.Error(t, err)
	})
}

func TestClient_ScanHistory(t *testing.T) {
	fs := &fakeServer{
		runs: []fakeRun{
			{name: "r1", history: trainingHistory(5, 1, 0)},
		},
	}
	srv := newFakeServer(t, fs)

	client := newClient(t, remoteConfig(srv.URL))
	path := wandb.ProjectPath{Entity: "team", Project: "llm"}

	t.Run("callback error stops the scan", func(t *testing.T) {
		var calls int

		err := client.ScanHistory(context.Background(), path, "r1", []string{"global_step"}, 2,
			func(wandb.HistoryRow) error {
				calls++

				return assert.AnError
			})
		require.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, 1, calls)
	})

	t.Run("rows restricted to keys", func(t *testing.T) {
		var rows []wandb.HistoryRow

		err := client.ScanHistory(context.Background(), path, "r1", []string{"global_step"}, 2,
			func(row wandb.HistoryRow) error {
				rows = append(rows, row)

				return nil
			})
		require.NoError(t, err)

		require.Len(t, rows, 5)

		for _, row := range rows {
			assert.Len(t, row, 1)
			assert.Contains(t, row, "global_step")
		}
	})

	t.Run("invalid page size", func(t *testing.T) {
		err := client.ScanHistory(context.Background(), path, "r1", nil, 0,
			func(wandb.HistoryRow) error { return nil })
		require.Error(t, err)
	})

	t.Run("unknown run has no history", func(t *testing.T) {
		step, err := client.LastHistoryStep(context.Background(), path, "missing")
		require.NoError(t, err)
		assert.Equal(t, int64(-1), step)
	})
}
