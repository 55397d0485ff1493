// Package lockguard manages the restore-safety marker inside a profile's
// data directory.
//
// The marker is a zero-byte file created after a successful restore. Its
// absence means the directory holds live data that no restore has produced,
// so overwriting it requires an explicit override. The marker is never
// removed automatically; deleting it by hand is the operator's way of
// re-arming a directory for restore after an intentional go-live.
package lockguard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// MarkerName is the marker file kept at the root of a profile's directory.
const MarkerName = ".datadb.lock"

// BlockedError reports a restore refused because the marker is absent.
type BlockedError struct {
	Dir string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("restore blocked: %s has no %s marker; inspect the directory or pass --force to overwrite it", e.Dir, MarkerName)
}

// Path returns the marker location for dir.
func Path(dir string) string {
	return filepath.Join(dir, MarkerName)
}

// Present reports whether the marker exists in dir.
func Present(dir string) (bool, error) {
	if _, err := os.Stat(Path(dir)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", Path(dir), err)
	}
	return true, nil
}

// Check decides whether a restore may overwrite dir. It returns a
// *BlockedError when the marker is absent and force is false. The check runs
// strictly before any remote or destructive local action.
func Check(dir string, force bool) error {
	if force {
		return nil
	}
	present, err := Present(dir)
	if err != nil {
		return err
	}
	if !present {
		return &BlockedError{Dir: dir}
	}
	return nil
}

// Acquire creates the marker in dir. It is called only after a pull fully
// succeeds, and is a no-op when the marker already exists.
func Acquire(dir string) error {
	f, err := os.OpenFile(Path(dir), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", Path(dir), err)
	}
	return f.Close()
}
