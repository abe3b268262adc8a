package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/Ning0612/drivewatch/internal/domain"
	"github.com/Ning0612/drivewatch/internal/testutil"
)

func TestNew_CreatesRoot(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	root := filepath.Join(dir, "mirror", "nested")
	a, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if info, err := os.Stat(a.Root()); err != nil || !info.IsDir() {
		t.Fatalf("root not created: %v", err)
	}
}

func TestNew_RootIsFile(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.CreateTestFile(t, dir, "plain", []byte("x"))
	if _, err := New(path); err == nil {
		t.Fatal("expected error for file root")
	}
}

func TestWrite_CreatesAncestorsAndOverwrites(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	a, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	relPath := []string{"reports", "2024", "q1.csv"}

	id, err := a.Write(ctx, relPath, strings.NewReader("first"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if id != filepath.Join(a.Root(), "reports", "2024", "q1.csv") {
		t.Errorf("id = %q", id)
	}

	if _, err := a.Write(ctx, relPath, strings.NewReader("second")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	rc, err := a.Read(ctx, "reports/2024/q1.csv")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "second" {
		t.Errorf("content = %q, want second", data)
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(id), "*"+tempSuffix))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestResolvePath_Security(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	a, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name    string
		relPath []string
		want    string
		wantErr bool
	}{
		{"simple", []string{"a.txt"}, "a.txt", false},
		{"nested", []string{"x", "y", "a.txt"}, "x/y/a.txt", false},
		{"slash in name is flattened", []string{"a/../../etc", "passwd"}, "a_.._.._etc/passwd", false},
		{"parent name stays below root", []string{"..", "escape.txt"}, "__/escape.txt", false},
		{"file named dot dot", []string{".."}, "__", false},
		{"dot name", []string{"."}, "_", false},
		{"empty name", []string{"x", ""}, "x/_", false},
		{"empty path", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.resolvePath(tt.relPath)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidPath) {
					t.Fatalf("err = %v, want ErrInvalidPath", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if want := filepath.Join(a.Root(), filepath.FromSlash(tt.want)); got != want {
				t.Errorf("resolvePath(%q) = %q, want %q", tt.relPath, got, want)
			}
		})
	}
}

func TestWrite_DotNames(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	a, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	target, err := a.Write(context.Background(), []string{".."}, strings.NewReader("dots"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Dir(target) != a.Root() {
		t.Errorf("target %q is not directly below %q", target, a.Root())
	}
	data, err := os.ReadFile(filepath.Join(dir, "__"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "dots" {
		t.Errorf("content = %q, want dots", data)
	}
}

func TestRead_Errors(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	a, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if _, err := a.Read(ctx, "missing.txt"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing: err = %v, want ErrNotFound", err)
	}

	if err := os.Mkdir(filepath.Join(a.Root(), "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Read(ctx, "sub"); !errors.Is(err, domain.ErrNotFile) {
		t.Errorf("dir: err = %v, want ErrNotFile", err)
	}
}

func TestWrite_FailedCopyKeepsOldContent(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	a, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	id, err := a.Write(ctx, []string{"a.txt"}, strings.NewReader("old"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	boom := errors.New("stream reset")
	if _, err := a.Write(ctx, []string{"a.txt"}, io.MultiReader(strings.NewReader("par"), iotest.ErrReader(boom))); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want stream error", err)
	}

	data, err := os.ReadFile(id)
	if err != nil || string(data) != "old" {
		t.Errorf("content = %q, %v; want old", data, err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "*"+tempSuffix))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestWrite_CancelledContext(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	a, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.Write(ctx, []string{"a.txt"}, strings.NewReader("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
