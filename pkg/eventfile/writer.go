package eventfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FileVersion is written into the header event of every log.
const FileVersion = "brain.Event:2"

// Writer appends events to an event log.
type Writer struct {
	w   *bufio.Writer
	now func() time.Time
}

// NewWriter returns a Writer on w and writes the file-version header event.
func NewWriter(w io.Writer) (*Writer, error) {
	ew := &Writer{
		w:   bufio.NewWriter(w),
		now: time.Now,
	}

	if err := writeRecord(ew.w, encodeFileVersionEvent(ew.wallTime(), FileVersion)); err != nil {
		return nil, fmt.Errorf("writing header event: %w", err)
	}

	return ew, nil
}

// WriteScalars writes one event carrying the given simple-value scalars at
// step. Tags are written in the order given.
func (ew *Writer) WriteScalars(step int64, tags []string, values []float32) error {
	if len(tags) != len(values) {
		return fmt.Errorf("got %d tags but %d values", len(tags), len(values))
	}

	byTag := make(map[string]float32, len(tags))
	for i, tag := range tags {
		byTag[tag] = values[i]
	}

	return writeRecord(ew.w, encodeScalarEvent(ew.wallTime(), step, byTag, tags))
}

// WriteScalar writes a single simple-value scalar at step.
func (ew *Writer) WriteScalar(step int64, tag string, value float32) error {
	return ew.WriteScalars(step, []string{tag}, []float32{value})
}

// WriteTensorScalar writes a scalar the way TF2 summary writers do: as a
// float tensor, with scalars plugin metadata only when firstForTag is set.
func (ew *Writer) WriteTensorScalar(step int64, tag string, value float32, firstForTag bool) error {
	return writeRecord(ew.w, encodeTensorScalarEvent(ew.wallTime(), step, tag, value, firstForTag))
}

// Flush writes buffered events to the underlying writer.
func (ew *Writer) Flush() error {
	return ew.w.Flush()
}

func (ew *Writer) wallTime() float64 {
	return float64(ew.now().UnixNano()) / float64(time.Second)
}

// CreateFile creates an event log named like the ones TensorBoard writers
// produce inside dir and returns a Writer on it. The caller must Close the
// returned file after flushing.
func CreateFile(dir, suffix string) (*Writer, *os.File, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	name := fmt.Sprintf("%s.%d.%s%s", Prefix, time.Now().Unix(), host, suffix)

	f, err := os.Create(filepath.Join(dir, name)) //nolint:gosec // caller supplied dir
	if err != nil {
		return nil, nil, fmt.Errorf("creating event file: %w", err)
	}

	w, err := NewWriter(f)
	if err != nil {
		_ = f.Close()

		return nil, nil, err
	}

	return w, f, nil
}
