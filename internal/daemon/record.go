package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/voiceq/internal/statefile"
)

// ReadPID returns the pid stored at path. A missing file yields 0 and
// no error.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s: invalid content %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// WritePID atomically records pid at path.
func WritePID(path string, pid int) error {
	return statefile.WriteAtomic(path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// RemovePID deletes the pid record. With owner > 0 it only does so when
// the record still names owner.
func RemovePID(path string, owner int) error {
	if owner > 0 {
		if pid, err := ReadPID(path); err != nil || pid != owner {
			return nil
		}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// Status is the worker's self-reported state, overlaid with a liveness
// check by Manager.Status.
type Status struct {
	Running           bool      `json:"running"`
	PID               int       `json:"pid"`
	UptimeSeconds     float64   `json:"uptime_seconds"`
	MessagesProcessed int64     `json:"messages_processed"`
	MessagesFailed    int64     `json:"messages_failed"`
	MessagesDropped   int64     `json:"messages_dropped"`
	Pending           int       `json:"pending"`
	StartedAt         time.Time `json:"started_at,omitzero"`
	UpdatedAt         time.Time `json:"updated_at,omitzero"`
}

// Uptime returns UptimeSeconds as a duration.
func (s Status) Uptime() time.Duration {
	return time.Duration(s.UptimeSeconds * float64(time.Second))
}

// ReadStatus loads the status file. A missing or corrupt file yields a
// zero Status.
func ReadStatus(path string) Status {
	var st Status
	if err := statefile.ReadJSON(path, &st); err != nil {
		return Status{}
	}
	return st
}

// WriteStatus atomically replaces the status file.
func WriteStatus(path string, st Status) error {
	return statefile.WriteJSON(path, st)
}
