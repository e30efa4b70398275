package eventfile

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFile(t *testing.T) {
	dir := t.TempDir()

	w, f, err := CreateFile(dir, ".v2")
	require.NoError(t, err)

	require.NoError(t, w.WriteScalar(1, "loss", 0.75))
	require.NoError(t, w.Flush())
	require.NoError(t, f.Close())

	assert.True(t, IsEventFile(f.Name()))
	assert.Contains(t, f.Name(), ".v2")

	in, err := os.Open(f.Name())
	require.NoError(t, err)

	defer func() { _ = in.Close() }()

	events := readAll(t, NewReader(in))
	require.Len(t, events, 2)
	assert.Equal(t, "loss", events[1].Values[0].Tag)
	assert.Equal(t, 0.75, events[1].Values[0].Scalar)
}

func TestCreateFile_MissingDir(t *testing.T) {
	_, _, err := CreateFile(t.TempDir()+"/missing", "")
	require.Error(t, err)
}

func TestWriter_WriteScalarsLengthMismatch(t *testing.T) {
	w, err := NewWriter(&bytes.Buffer{})
	require.NoError(t, err)

	err = w.WriteScalars(0, []string{"a", "b"}, []float32{1})
	require.Error(t, err)
}
