// Package statefile persists the small amount of operator-controlled system
// state that must survive restarts without a database round trip: the
// maintenance flag and the force-subscription epoch. It also appends the
// admin action audit log.
package statefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State is the content of the system state file.
type State struct {
	Maintenance        bool   `json:"maintenance"`
	MaintenanceMessage string `json:"maintenance_message,omitempty"`
	ForceSubEpoch      int64  `json:"force_sub_epoch"`
}

// File owns the state file and the admin action log. All mutations rewrite
// the state file atomically via a rename.
type File struct {
	mu        sync.Mutex
	path      string
	actionLog string
	state     State
	now       func() time.Time
}

// Open loads the state file, creating an empty one if absent.
func Open(path, actionLog string) (*File, error) {
	f := &File{path: path, actionLog: actionLog, now: time.Now}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := f.flush(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read state file: %w", err)
	default:
		if err := json.Unmarshal(data, &f.state); err != nil {
			return nil, fmt.Errorf("parse state file %s: %w", path, err)
		}
	}
	return f, nil
}

// Snapshot returns a copy of the current state.
func (f *File) Snapshot() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Maintenance reports the maintenance flag and its user-facing message.
func (f *File) Maintenance() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Maintenance, f.state.MaintenanceMessage
}

// SetMaintenance flips the maintenance flag.
func (f *File) SetMaintenance(on bool, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Maintenance = on
	f.state.MaintenanceMessage = message
	return f.flush()
}

// ForceSubEpoch returns the current subscription-check epoch.
func (f *File) ForceSubEpoch() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.ForceSubEpoch
}

// BumpForceSubEpoch invalidates every cached membership verdict by advancing
// the epoch.
func (f *File) BumpForceSubEpoch() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.ForceSubEpoch++
	if err := f.flush(); err != nil {
		return 0, err
	}
	return f.state.ForceSubEpoch, nil
}

// flush rewrites the state file atomically. Caller holds the lock.
func (f *File) flush() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(f.state, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// AdminAction is one line of the append-only audit log.
type AdminAction struct {
	TS      time.Time `json:"ts"`
	AdminID int64     `json:"admin_id"`
	Action  string    `json:"action"`
	Reason  string    `json:"reason,omitempty"`
}

// LogAction appends one JSONL record to the admin action log.
func (f *File) LogAction(adminID int64, action, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.actionLog), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	line, err := json.Marshal(AdminAction{TS: f.now().UTC(), AdminID: adminID, Action: action, Reason: reason})
	if err != nil {
		return err
	}
	fh, err := os.OpenFile(f.actionLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open action log: %w", err)
	}
	defer fh.Close()
	if _, err := fh.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append action log: %w", err)
	}
	return nil
}
