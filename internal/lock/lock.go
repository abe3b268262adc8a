// Package lock keeps a single watcher process per watched root by means of
// an exclusive lock file in the state directory.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Ning0612/drivewatch/internal/daemon"
)

const (
	// LockFilePrefix starts the name of every lock file
	LockFilePrefix = ".drivewatch-"

	// DefaultStaleTimeout bounds how long a lock taken on another host is
	// honored; same-host locks are checked against the live process table
	DefaultStaleTimeout = 30 * time.Minute
)

// LockInfo is the content of a lock file
type LockInfo struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartTime time.Time `json:"start_time"`
	RootID    string    `json:"root_id"`
}

// FileLock is the lock of one watched root
type FileLock struct {
	lockPath     string
	rootID       string
	staleTimeout time.Duration

	// info is what this instance wrote, nil while not holding the lock
	info *LockInfo
}

// NewFileLock creates the lock of rootID inside lockDir, creating lockDir
// when missing. An empty lockDir selects the user config directory.
func NewFileLock(lockDir, rootID string) (*FileLock, error) {
	if rootID == "" {
		return nil, fmt.Errorf("root id cannot be empty")
	}
	if lockDir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config dir: %w", err)
		}
		lockDir = filepath.Join(configDir, "drivewatch")
	}
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	return &FileLock{
		lockPath:     filepath.Join(lockDir, LockFileName(rootID)),
		rootID:       rootID,
		staleTimeout: DefaultStaleTimeout,
	}, nil
}

// LockFileName maps rootID to a file name; characters outside the Drive id
// alphabet become underscores
func LockFileName(rootID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, rootID)
	return LockFilePrefix + safe + ".lock"
}

// Path returns the lock file path
func (l *FileLock) Path() string {
	return l.lockPath
}

// SetStaleTimeout changes how long a lock from another host is honored
func (l *FileLock) SetStaleTimeout(d time.Duration) {
	l.staleTimeout = d
}

// Acquire takes the lock. Acquiring again through the holding instance is a
// no-op; a stale lock is taken over. A live holder yields a *LockError.
func (l *FileLock) Acquire() error {
	if l.info != nil {
		if current, err := l.readLockInfo(); err == nil && l.ownedBy(current) {
			return nil
		}
		l.info = nil
	}

	hostname, _ := os.Hostname()
	info := &LockInfo{
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartTime: time.Now(),
		RootID:    l.rootID,
	}

	// Second attempt runs only after a stale lock was removed
	for attempt := 0; attempt < 2; attempt++ {
		err := l.create(info)
		if err == nil {
			l.info = info
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return err
		}

		holder, readErr := l.readLockInfo()
		if errors.Is(readErr, fs.ErrNotExist) {
			// Released between create and read
			continue
		}
		if readErr != nil {
			return fmt.Errorf("unreadable lock file %s: %w", l.lockPath, readErr)
		}
		if !l.isStale(holder) {
			return &LockError{Holder: holder, Reason: "root is watched by another process"}
		}
		if err := os.Remove(l.lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}

	return &LockError{Reason: "lock changed hands during acquisition"}
}

// create publishes info as the lock file, failing with fs.ErrExist when one
// is present. The content is written to a temporary file first and linked
// into place, so readers never see a partial lock file.
func (l *FileLock) create(info *LockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode lock info: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.lockPath), LockFilePrefix+"*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write lock info: %w", err)
	}

	if err := os.Link(tmp.Name(), l.lockPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fs.ErrExist
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	return nil
}

// Release removes the lock if this instance holds it
func (l *FileLock) Release() error {
	if l.info == nil {
		return nil
	}
	held := l.info
	l.info = nil

	current, err := l.readLockInfo()
	if err != nil {
		// Already gone
		return nil
	}
	if !sameHolder(held, current) {
		return fmt.Errorf("lock was taken over by PID %d on %s", current.PID, current.Hostname)
	}

	if err := os.Remove(l.lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// IsLocked reports whether a live holder owns the lock
func (l *FileLock) IsLocked() bool {
	_, err := l.GetHolder()
	return err == nil
}

// GetHolder returns the live holder of the lock. A missing lock file
// yields an error matching fs.ErrNotExist.
func (l *FileLock) GetHolder() (*LockInfo, error) {
	info, err := l.readLockInfo()
	if err != nil {
		return nil, err
	}
	if l.isStale(info) {
		return nil, fmt.Errorf("lock of %s is stale (PID %d)", info.RootID, info.PID)
	}
	return info, nil
}

// ForceRelease removes the lock file whoever holds it
func (l *FileLock) ForceRelease() error {
	l.info = nil
	if err := os.Remove(l.lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to force remove lock: %w", err)
	}
	return nil
}

func (l *FileLock) readLockInfo() (*LockInfo, error) {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("invalid lock file format: %w", err)
	}
	return &info, nil
}

// writeLockInfo overwrites the lock file with info
func (l *FileLock) writeLockInfo(info *LockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.lockPath, data, 0644)
}

// isStale reports whether the holder is gone. Same-host holders are stale
// only when their process has exited; other hosts after staleTimeout.
func (l *FileLock) isStale(info *LockInfo) bool {
	hostname, _ := os.Hostname()
	if info.Hostname == hostname {
		return !daemon.IsProcessRunning(info.PID)
	}
	return time.Since(info.StartTime) > l.staleTimeout
}

func (l *FileLock) ownedBy(info *LockInfo) bool {
	return l.info != nil && sameHolder(l.info, info)
}

func sameHolder(a, b *LockInfo) bool {
	return a.PID == b.PID &&
		a.Hostname == b.Hostname &&
		a.RootID == b.RootID &&
		a.StartTime.Equal(b.StartTime)
}

// LockError is returned when another live watcher holds the lock
type LockError struct {
	Holder *LockInfo
	Reason string
}

func (e *LockError) Error() string {
	if e.Holder == nil {
		return "cannot acquire lock: " + e.Reason
	}
	return fmt.Sprintf("cannot acquire lock: %s (PID %d on %s since %s, root %s)",
		e.Reason,
		e.Holder.PID,
		e.Holder.Hostname,
		e.Holder.StartTime.Format(time.RFC3339),
		e.Holder.RootID,
	)
}

// IsLockError checks if an error is or wraps a LockError
func IsLockError(err error) bool {
	var lockErr *LockError
	return errors.As(err, &lockErr)
}
