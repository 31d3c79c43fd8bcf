// Package statefile reads and writes small JSON state files shared
// between processes. Writes go to a temp file that is renamed into place,
// and Update serializes read-modify-write cycles with a file lock.
package statefile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgnsrekt/voiceq/internal/flock"
)

// DefaultLockTimeout bounds how long Update waits for the lock.
const DefaultLockTimeout = 2 * time.Second

// ErrCorrupt is returned by ReadJSON for files that are not valid JSON.
var ErrCorrupt = errors.New("statefile: corrupt file")

// WriteAtomic writes data to path through a temp file in the same
// directory and renames it into place.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("statefile: create dir: %w", err)
	}

	file, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("statefile: create temp: %w", err)
	}
	tempPath := file.Name()

	_, err = file.Write(data)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tempPath, perm)
	}
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("statefile: write %s: %w", path, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("statefile: rename %s: %w", path, err)
	}
	return nil
}

// ReadJSON decodes path into v. A missing file returns an error matching
// os.ErrNotExist; invalid JSON returns ErrCorrupt.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return nil
}

// WriteJSON atomically writes v to path as indented JSON.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("statefile: encode %s: %w", path, err)
	}
	return WriteAtomic(path, append(data, '\n'), 0o644)
}

// LockPath returns the lock file guarding path.
func LockPath(path string) string { return path + ".lock" }

// Update locks path, decodes it into v (leaving v untouched when the file
// is missing or corrupt), runs fn and writes v back if fn returns nil.
// fn may return ErrSkipWrite to leave the file unchanged.
func Update(ctx context.Context, path string, v any, fn func() error) error {
	lock := flock.New(LockPath(path))

	lctx, cancel := context.WithTimeout(ctx, DefaultLockTimeout)
	defer cancel()
	if err := lock.Lock(lctx); err != nil {
		return err
	}
	defer lock.Unlock()

	if err := ReadJSON(path, v); err != nil && !errors.Is(err, os.ErrNotExist) && !errors.Is(err, ErrCorrupt) {
		return err
	}

	if err := fn(); err != nil {
		if errors.Is(err, ErrSkipWrite) {
			return nil
		}
		return err
	}
	return WriteJSON(path, v)
}

// ErrSkipWrite tells Update not to persist v.
var ErrSkipWrite = errors.New("statefile: skip write")
