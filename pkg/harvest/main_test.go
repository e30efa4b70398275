package harvest_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ethpandaops/harvestoor/pkg/eventfile"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// point is one scalar written to a fixture log.
type point struct {
	step  int64
	tag   string
	value float32
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

// writeEventFile writes an event log holding points at dir/name.
func writeEventFile(t *testing.T, dir, name string, points ...point) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	require.NoError(t, err)

	defer func() { require.NoError(t, f.Close()) }()

	w, err := eventfile.NewWriter(f)
	require.NoError(t, err)

	for _, p := range points {
		require.NoError(t, w.WriteScalar(p.step, p.tag, p.value))
	}

	require.NoError(t, w.Flush())

	return path
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

const eventName = "events.out.tfevents.1700000000.host"
