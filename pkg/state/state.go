package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds the canonical runtime folder layout under the data path.
type Paths struct {
	Store string // pebble database
	Feeds string // generated feed files
	State string // runtime state (telemetry, crash dumps)
}

// PathsVar is populated once during startup and read by other packages.
var PathsVar Paths

// EnsureStateDirs ensures the canonical runtime folder layout exists under
// the provided data path and records it in PathsVar. Symlinked or
// group/other-writable paths are rejected.
func EnsureStateDirs(dataPath string) error {
	p := Paths{
		Store: filepath.Join(dataPath, "store"),
		Feeds: filepath.Join(dataPath, "feeds"),
		State: filepath.Join(dataPath, "state"),
	}

	for _, dir := range []string{p.Store, p.Feeds, p.State} {
		if err := os.MkdirAll(filepath.Dir(dir), 0o700); err != nil {
			return fmt.Errorf("cannot create parent for %s: %w", dir, err)
		}
		if fi, err := os.Lstat(dir); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink: %s", dir)
			}
			if !fi.IsDir() {
				return fmt.Errorf("path exists and is not a directory: %s", dir)
			}
			if fi.Mode().Perm()&0o022 != 0 {
				return fmt.Errorf("path has permissive mode (group/other write): %s", dir)
			}
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("cannot create path %s: %w", dir, err)
		}
		// writability check: create and remove a temp file
		tmp, err := os.CreateTemp(dir, ".validate-*")
		if err != nil {
			return fmt.Errorf("path not writable: %s: %w", dir, err)
		}
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	PathsVar = p
	return nil
}

// FeedFilePath returns the on-disk path of a feed output file.
func FeedFilePath(fileName string) string {
	if PathsVar.Feeds == "" {
		return filepath.Join(".", "feeds", fileName)
	}
	return filepath.Join(PathsVar.Feeds, fileName)
}
