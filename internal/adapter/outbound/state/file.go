// Package state persists access policies in a JSON state file.
//
// Writes are atomic (temp file, fsync, rename), keep a .bak copy of the
// previous file and hold an flock on path+".lock" so several aigate
// processes can share one file.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/kessel-b2b/aigate/internal/domain/datasource"
)

// CurrentVersion is the state file schema version.
const CurrentVersion = "1"

// State is the document stored on disk.
type State struct {
	Version     string                    `json:"version"`
	Datasources []datasource.AccessPolicy `json:"datasources"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

func emptyState() *State {
	now := time.Now().UTC()
	return &State{
		Version:     CurrentVersion,
		Datasources: []datasource.AccessPolicy{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// file reads and writes the state document. It is not safe for concurrent
// use on its own; PolicyStore serializes access.
type file struct {
	path   string
	logger *slog.Logger
}

// load returns the stored state and its modification time. A missing file
// yields an empty state.
func (f *file) load() (*State, time.Time, error) {
	info, err := os.Stat(f.path)
	if os.IsNotExist(err) {
		f.logger.Info("state file not found, starting with no datasources", "path", f.path)
		return emptyState(), time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("stat state file: %w", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o077 != 0 {
		f.logger.Warn("state file has too-open permissions, should be 0600",
			"path", f.path, "current_mode", fmt.Sprintf("%04o", info.Mode().Perm()))
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read state file: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse state file: %w", err)
	}
	if st.Datasources == nil {
		st.Datasources = []datasource.AccessPolicy{}
	}
	return &st, info.ModTime(), nil
}

// modTime returns the file's modification time, or zero when it is missing.
func (f *file) modTime() time.Time {
	info, err := os.Stat(f.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// save writes st under the cross-process lock.
func (f *file) save(st *State) error {
	st.UpdatedAt = time.Now().UTC()

	lock, err := os.OpenFile(f.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lock.Close() }()
	if err := flockLock(lock.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lock.Fd()) //nolint:errcheck

	if current, err := os.ReadFile(f.path); err == nil {
		if err := os.WriteFile(f.path+".bak", current, 0o600); err != nil {
			f.logger.Warn("failed to create state backup", "error", err)
		}
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')
	if err := f.writeAtomic(data); err != nil {
		return err
	}
	if err := os.Chmod(f.path, 0o600); err != nil {
		f.logger.Warn("failed to set permissions on state file", "error", err)
	}
	f.logger.Debug("state saved", "path", f.path, "datasources", len(st.Datasources))
	return nil
}

func (f *file) writeAtomic(data []byte) error {
	tmpPath := f.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to state: %w", err)
	}
	return nil
}
