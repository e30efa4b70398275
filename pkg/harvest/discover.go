package harvest

import (
	"io/fs"
	"path/filepath"

	"github.com/ethpandaops/harvestoor/pkg/eventfile"
)

// Discover walks root recursively and returns the paths of all event logs
// in walk order (lexical within each directory). Files are matched by base
// name only. A missing or unreadable root is returned as-is; unreadable
// subdirectories are skipped.
func Discover(root string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}

			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			return nil
		}

		if eventfile.IsEventFile(d.Name()) {
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}
