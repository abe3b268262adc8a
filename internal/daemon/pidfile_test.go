package daemon_test

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/Ning0612/drivewatch/internal/daemon"
)

// deadPID is far above any default pid_max
const deadPID = 999999

func newPIDFile(t *testing.T, content string) *daemon.PIDFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watch.pid")
	if content != "" {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("seed PID file: %v", err)
		}
	}
	return daemon.NewPIDFile(path)
}

func TestPIDFile_Write(t *testing.T) {
	tests := []struct {
		name    string
		seed    string
		wantErr bool
	}{
		{"fresh", "", false},
		{"stale process", strconv.Itoa(deadPID) + "\n", false},
		{"garbage", "not-a-pid", false},
		{"live process", strconv.Itoa(os.Getpid()), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pf := newPIDFile(t, tt.seed)

			err := pf.Write()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected Write to refuse a live PID")
				}
				return
			}
			if err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			pid, err := pf.Read()
			if err != nil || pid != os.Getpid() {
				t.Errorf("Read() = %d, %v; want %d", pid, err, os.Getpid())
			}
			running, err := pf.IsRunning()
			if err != nil || !running {
				t.Errorf("IsRunning() = %v, %v", running, err)
			}
		})
	}
}

func TestPIDFile_WriteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dw.pid")
	pf := daemon.NewPIDFile(path)

	if err := pf.Write(); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("PID file missing: %v", err)
	}
	if pf.Path() != path {
		t.Errorf("Path() = %s, want %s", pf.Path(), path)
	}
}

func TestPIDFile_Read(t *testing.T) {
	tests := []struct {
		name    string
		seed    string
		want    int
		wantErr bool
	}{
		{"trailing newline", "42\n", 42, false},
		{"surrounding space", "  7 ", 7, false},
		{"not a number", "abc", 0, true},
		{"zero", "0", 0, true},
		{"negative", "-3", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, err := newPIDFile(t, tt.seed).Read()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Read() error = %v, wantErr %v", err, tt.wantErr)
			}
			if pid != tt.want {
				t.Errorf("Read() = %d, want %d", pid, tt.want)
			}
		})
	}
}

func TestPIDFile_Missing(t *testing.T) {
	pf := newPIDFile(t, "")

	if _, err := pf.Read(); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Read() error = %v, want fs.ErrNotExist", err)
	}
	if _, err := pf.Kill(); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Kill() error = %v, want fs.ErrNotExist", err)
	}
	if err := pf.Remove(); err != nil {
		t.Errorf("Remove() of a missing file = %v", err)
	}
}

func TestPIDFile_Remove(t *testing.T) {
	pf := newPIDFile(t, "")
	if err := pf.Write(); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if err := pf.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(pf.Path()); !errors.Is(err, fs.ErrNotExist) {
		t.Error("PID file still present after Remove")
	}
}

func TestPIDFile_KillSelf(t *testing.T) {
	pf := newPIDFile(t, strconv.Itoa(os.Getpid()))

	pid, err := pf.Kill()
	if err == nil {
		t.Fatal("Kill() must refuse the current process")
	}
	if pid != os.Getpid() {
		t.Errorf("Kill() pid = %d, want %d", pid, os.Getpid())
	}
}

func TestTerminate_Guards(t *testing.T) {
	for _, pid := range []int{0, -1, os.Getpid()} {
		if err := daemon.Terminate(pid); err == nil {
			t.Errorf("Terminate(%d) should fail", pid)
		}
	}
}

func TestIsProcessRunning(t *testing.T) {
	tests := []struct {
		pid  int
		want bool
	}{
		{os.Getpid(), true},
		{0, false},
		{-1, false},
		{deadPID, false},
	}
	for _, tt := range tests {
		if got := daemon.IsProcessRunning(tt.pid); got != tt.want {
			t.Errorf("IsProcessRunning(%d) = %v, want %v", tt.pid, got, tt.want)
		}
	}
}
