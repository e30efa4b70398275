// Package eventfile reads and writes TensorBoard structured-event logs: a
// sequence of TFRecord-framed Event protobufs.
package eventfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Prefix starts the base name of every event log.
const Prefix = "events.out.tfevents"

// IsEventFile reports whether the base name of path marks an event log.
func IsEventFile(path string) bool {
	return strings.HasPrefix(filepath.Base(path), Prefix)
}

// metadata remembered for a tag after its first value.
type tagMetadata struct {
	pluginName string
	dataClass  int
}

// Reader decodes events from an event log stream.
type Reader struct {
	records   *recordReader
	tags      map[string]tagMetadata
	truncated bool
}

// NewReader returns a Reader consuming r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		records: newRecordReader(bufio.NewReaderSize(r, 64*1024)),
		tags:    make(map[string]tagMetadata, 16),
	}
}

// Next returns the next event. It returns io.EOF once the stream is
// exhausted. A record cut short at the end of the stream, as left by a
// writer that is still running, also ends the stream; Truncated reports it.
func (r *Reader) Next() (*Event, error) {
	payload, err := r.records.next()
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			r.truncated = true

			return nil, io.EOF
		}

		return nil, err
	}

	ev, err := decodeEvent(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}

	for i := range ev.Values {
		r.resolveMetadata(&ev.Values[i])
	}

	return ev, nil
}

// Truncated reports whether the stream ended inside a record.
func (r *Reader) Truncated() bool {
	return r.truncated
}

// resolveMetadata fills plugin information for values whose writer only
// attached it to the first value of the tag.
func (r *Reader) resolveMetadata(v *Value) {
	if v.PluginName != "" || v.DataClass != 0 {
		r.tags[v.Tag] = tagMetadata{pluginName: v.PluginName, dataClass: v.DataClass}

		return
	}

	if md, ok := r.tags[v.Tag]; ok {
		v.PluginName = md.pluginName
		v.DataClass = md.dataClass
	}
}

// IsScalar reports whether the value belongs to a scalar series: a legacy
// simple value, or a single-number tensor tagged for the scalars plugin.
func (v *Value) IsScalar() bool {
	switch v.Kind {
	case KindSimpleValue:
		return true
	case KindTensor:
		return v.HasScalar && (v.PluginName == ScalarsPlugin || v.DataClass == dataClassScalar)
	default:
		return false
	}
}
