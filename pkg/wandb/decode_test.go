package wandb

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenConfig(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{
			name: "wrapped values",
			raw:  `{"seed":{"value":7,"desc":null},"model":{"value":"small","desc":"size"}}`,
			want: map[string]any{"seed": json.Number("7"), "model": "small"},
		},
		{
			name: "string encoded",
			raw:  `"{\"seed\":{\"value\":3,\"desc\":null}}"`,
			want: map[string]any{"seed": json.Number("3")},
		},
		{
			name: "unwrapped entries kept",
			raw:  `{"_wandb":{"cli_version":"0.16"},"plain":1}`,
			want: map[string]any{
				"_wandb": map[string]any{"cli_version": "0.16"},
				"plain":  json.Number("1"),
			},
		},
		{
			name: "null",
			raw:  `null`,
			want: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := flattenConfig(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSeedKey(t *testing.T) {
	tests := []struct {
		seed any
		want string
	}{
		{seed: json.Number("7"), want: "7"},
		{seed: "7", want: `"7"`},
		{seed: true, want: "true"},
		{seed: []any{json.Number("1"), json.Number("2")}, want: "[1,2]"},
	}

	for _, tt := range tests {
		got, err := seedKey(tt.seed)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := seedKey(nil)
	assert.ErrorIs(t, err, ErrMissingSeed)
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    float64
		wantNaN bool
		wantErr bool
	}{
		{name: "number", in: json.Number("0.25"), want: 0.25},
		{name: "float", in: 3.5, want: 3.5},
		{name: "bool", in: true, want: 1},
		{name: "numeric string", in: "12", want: 12},
		{name: "nan", in: "NaN", wantNaN: true},
		{name: "null", in: nil, wantNaN: true},
		{name: "negative infinity", in: "-Infinity", want: math.Inf(-1)},
		{name: "text", in: "n/a", wantErr: true},
		{name: "object", in: map[string]any{"_type": "histogram"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toFloat(tt.in)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)

			if tt.wantNaN {
				assert.True(t, math.IsNaN(got))

				return
			}

			assert.Equal(t, tt.want, got)
		})
	}
}
