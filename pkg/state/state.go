package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths is the canonical runtime folder layout under the DB path.
type Paths struct {
	Store     string
	State     string
	Telemetry string
	Retention string
	Tmp       string
}

// PathsVar holds the resolved runtime paths after Init.
var PathsVar Paths

// Init resolves and creates the runtime layout under dbPath.
func Init(dbPath string) error {
	statePath := filepath.Join(dbPath, "state")
	PathsVar = Paths{
		Store:     filepath.Join(dbPath, "store"),
		State:     statePath,
		Telemetry: filepath.Join(statePath, "telemetry"),
		Retention: filepath.Join(statePath, "retention"),
		Tmp:       filepath.Join(statePath, "tmp"),
	}
	return ensureDirs(PathsVar.Store, PathsVar.Telemetry, PathsVar.Retention, PathsVar.Tmp)
}

// ensureDirs creates the given directories, rejecting symlinks and
// group/other-writable modes, and verifies each is writable.
func ensureDirs(paths ...string) error {
	for _, p := range paths {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return fmt.Errorf("cannot create parent for %s: %w", p, err)
		}

		if fi, err := os.Lstat(p); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink: %s", p)
			}
			if !fi.IsDir() {
				return fmt.Errorf("path exists and is not a directory: %s", p)
			}
			if fi.Mode().Perm()&0o022 != 0 {
				return fmt.Errorf("path has permissive mode (group/other write): %s", p)
			}
		}

		if err := os.MkdirAll(p, 0o700); err != nil {
			return fmt.Errorf("cannot create path %s: %w", p, err)
		}

		// writability check: create and remove a temp file
		tmp, err := os.CreateTemp(p, ".validate-*")
		if err != nil {
			return fmt.Errorf("path not writable: %s: %w", p, err)
		}
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}
	return nil
}
