// Package harvest collects scalar series from a tree of TensorBoard event
// logs into a single mapping keyed by run name.
package harvest

import "errors"

// ErrDuplicateRun is returned when two event logs resolve to the same run
// name. There is no strategy for combining two extractions of one run, so
// the directory layout has to be fixed instead.
var ErrDuplicateRun = errors.New("duplicate run name")

// Series is one scalar series. Steps[i] pairs with Values[i]; the order is
// the order in which the event log recorded them.
type Series struct {
	Steps  []int64
	Values []float64
}

// Len returns the number of points in the series.
func (s *Series) Len() int {
	return len(s.Steps)
}

func (s *Series) append(step int64, value float64) {
	s.Steps = append(s.Steps, step)
	s.Values = append(s.Values, value)
}

// Run is the record harvested from one event log.
type Run struct {
	// FilePath is the event log the run was read from.
	FilePath string
	// Series maps tag names to their scalar series.
	Series map[string]*Series
}

// Empty reports whether the run carries nothing besides its file path.
func (r *Run) Empty() bool {
	return len(r.Series) == 0
}

// FileResult is the outcome of extracting a single event log.
type FileResult struct {
	// RunName is the log's directory relative to the harvest root.
	RunName string
	Run     *Run
}

// LocalResult maps run names to their harvested records.
type LocalResult map[string]*Run

// SeriesCount returns the number of series across all runs.
func (r LocalResult) SeriesCount() int {
	n := 0
	for _, run := range r {
		n += len(run.Series)
	}

	return n
}
