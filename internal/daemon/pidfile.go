// Package daemon manages the process of a long-running watcher: an
// optional PID file for service managers and termination by PID.
package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDFile records the process ID of a running watcher at a fixed path
type PIDFile struct {
	path string
}

func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

func (p *PIDFile) Path() string {
	return p.path
}

// Write records the current process. It fails while the recorded process
// is still alive and replaces a file left behind by a dead one.
func (p *PIDFile) Write() error {
	if pid, err := p.Read(); err == nil && IsProcessRunning(pid) {
		return fmt.Errorf("watcher is already running as PID %d (%s)", pid, p.path)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	data := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(p.path, []byte(data), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// Read returns the recorded process ID. A missing file yields an error
// matching fs.ErrNotExist.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	text := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(text)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", p.path, text)
	}
	return pid, nil
}

// Remove deletes the file; a missing file is not an error
func (p *PIDFile) Remove() error {
	err := os.Remove(p.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// IsRunning reports whether the recorded process is alive
func (p *PIDFile) IsRunning() (bool, error) {
	pid, err := p.Read()
	if err != nil {
		return false, err
	}
	return IsProcessRunning(pid), nil
}

// Kill terminates the recorded process and returns its PID
func (p *PIDFile) Kill() (int, error) {
	pid, err := p.Read()
	if err != nil {
		return 0, err
	}
	return pid, Terminate(pid)
}

// IsProcessRunning reports whether pid is a live process
func IsProcessRunning(pid int) bool {
	return pid > 0 && isProcessRunning(pid)
}

// Terminate asks pid to shut down. On Unix this is SIGTERM, which the
// watcher handles by stopping after the running cycle.
func Terminate(pid int) error {
	switch {
	case pid <= 0:
		return fmt.Errorf("invalid PID %d", pid)
	case pid == os.Getpid():
		return fmt.Errorf("refusing to terminate the current process")
	}
	return killProcess(pid)
}
