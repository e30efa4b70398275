// Package snapshot stores harvest results as opaque, Go-native serialized
// blobs. Nothing about the layout is promised beyond Load returning a value
// structurally equal to what was saved, in the same build.
package snapshot

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ethpandaops/harvestoor/pkg/harvest"
	"github.com/ethpandaops/harvestoor/pkg/wandb"
)

// ErrNotFound is returned when a snapshot does not exist.
var ErrNotFound = errors.New("snapshot not found")

// envelope lets any registered type travel through gob as an interface.
type envelope struct {
	Value any
}

var registerOnce sync.Once

func registerBuiltin() {
	registerOnce.Do(func() {
		gob.Register(harvest.LocalResult{})
		gob.Register(&harvest.Run{})
		gob.Register(wandb.RemoteResult{})
		gob.Register(wandb.SeedHistory{})
		gob.Register(map[string]any{})
		gob.Register([]any{})
	})
}

// Register makes a caller type storable. Harvest and remote results are
// registered already.
func Register(v any) {
	registerBuiltin()
	gob.Register(v)
}

// Encode writes v to w.
func Encode(w io.Writer, v any) error {
	registerBuiltin()

	if err := gob.NewEncoder(w).Encode(envelope{Value: v}); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	return nil
}

// Decode reads a value written by Encode.
func Decode(r io.Reader) (any, error) {
	registerBuiltin()

	var env envelope
	if err := gob.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}

	return env.Value, nil
}

// Marshal returns the serialized form of v.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Save serializes v to path, replacing any existing file.
func Save(path string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return err
	}

	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", path, err)
	}

	return nil
}

// Load reads the value stored at path.
func Load(path string) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}

		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Decode(f)
}

// LoadAs type-asserts a loaded snapshot.
func LoadAs[T any](v any, err error) (T, error) {
	var zero T

	if err != nil {
		return zero, err
	}

	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("snapshot holds %T, not %T", v, zero)
	}

	return typed, nil
}
