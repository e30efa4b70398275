package snapshot

import (
	"context"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/harvestoor/pkg/config"
)

// Store saves and loads snapshots by name.
type Store interface {
	// Save serializes v under name, replacing any previous snapshot.
	Save(ctx context.Context, name string, v any) error

	// Load returns the value stored under name, or an error wrapping
	// ErrNotFound when there is none.
	Load(ctx context.Context, name string) (any, error)
}

// New returns the S3 store when it is enabled in cfg, the file store
// otherwise.
func New(log logrus.FieldLogger, cfg *config.SnapshotConfig) Store {
	if cfg.S3Enabled() {
		return NewS3Store(log, cfg.S3)
	}

	return NewFileStore(log)
}

// FileStore keeps snapshots on the local filesystem. Names are file paths.
type FileStore struct {
	log logrus.FieldLogger
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore.
func NewFileStore(log logrus.FieldLogger) *FileStore {
	return &FileStore{log: log.WithField("component", "snapshot-file")}
}

func (s *FileStore) Save(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := Marshal(v)
	if err != nil {
		return err
	}

	if err := writeFile(name, data); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"path": name,
		"size": units.HumanSize(float64(len(data))),
	}).Info("Snapshot saved")

	return nil
}

func (s *FileStore) Load(ctx context.Context, name string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err := Load(name)
	if err != nil {
		return nil, err
	}

	s.log.WithField("path", name).Debug("Snapshot loaded")

	return v, nil
}
