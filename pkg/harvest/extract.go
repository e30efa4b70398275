package harvest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ethpandaops/harvestoor/pkg/eventfile"
	"github.com/sirupsen/logrus"
)

// RunName derives the run name of an event log: its directory relative to
// root ("." for logs directly inside root).
func RunName(root, path string) string {
	dir := filepath.Dir(path)

	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return dir
	}

	return rel
}

// ExtractFile reads every scalar series from the event log at path, or only
// the series named filterTag when it is non-empty.
//
// Extraction never fails: a log that cannot be opened or parsed is reported
// through log and yields a run holding only its file path, so one bad file
// does not abort a harvest.
func ExtractFile(log logrus.FieldLogger, path, root, filterTag string) (res FileResult) {
	res = FileResult{
		RunName: RunName(root, path),
		Run: &Run{
			FilePath: path,
			Series:   make(map[string]*Series),
		},
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithField("file", path).
				WithField("panic", r).
				Error("Error loading event file")

			res.Run.Series = make(map[string]*Series)
		}
	}()

	series, err := readScalars(log, path, filterTag)
	if err != nil {
		log.WithError(err).
			WithField("file", path).
			Warn("Error loading event file")

		return res
	}

	res.Run.Series = series

	return res
}

// readScalars collects the scalar series of one event log.
func readScalars(log logrus.FieldLogger, path, filterTag string) (map[string]*Series, error) {
	f, err := os.Open(path) //nolint:gosec // discovered under the harvest root
	if err != nil {
		return nil, fmt.Errorf("opening event file: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := eventfile.NewReader(f)
	series := make(map[string]*Series)

	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("reading event: %w", err)
		}

		for i := range ev.Values {
			v := &ev.Values[i]
			if !v.IsScalar() {
				continue
			}

			if filterTag != "" && v.Tag != filterTag {
				continue
			}

			s, ok := series[v.Tag]
			if !ok {
				s = &Series{}
				series[v.Tag] = s
			}

			s.append(ev.Step, v.Scalar)
		}
	}

	if r.Truncated() {
		log.WithField("file", path).
			Debug("Event file ends in a partial record, ignoring it")
	}

	return series, nil
}
