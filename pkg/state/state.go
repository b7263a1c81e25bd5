// Package state owns the on-disk runtime layout under the DB path.
package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths is the canonical runtime folder layout under the DB path.
type Paths struct {
	Store string
	Crash string
	Tmp   string
}

// PathsVar holds the resolved layout after EnsureStateDirs.
var PathsVar Paths

// EnsureStateDirs creates the runtime folder layout under dbPath and
// verifies each directory is a real, private, writable directory. Symlinks
// and group/other-writable modes are rejected.
func EnsureStateDirs(dbPath string) error {
	p := Paths{
		Store: filepath.Join(dbPath, "store"),
		Crash: filepath.Join(dbPath, "state", "crash"),
		Tmp:   filepath.Join(dbPath, "state", "tmp"),
	}

	for _, dir := range []string{p.Store, p.Crash, p.Tmp} {
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

		// writability check
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
