package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Ning0612/drivewatch/internal/adapter/local"
	"github.com/Ning0612/drivewatch/internal/adapter/memory"
	"github.com/Ning0612/drivewatch/internal/domain"
	"github.com/Ning0612/drivewatch/internal/testutil"
	"github.com/Ning0612/drivewatch/internal/watcher"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// recordingSink records handled events and optionally fails
type recordingSink struct {
	name   string
	err    error
	events []domain.ChangeEvent
	closed bool
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Handle(ctx context.Context, event domain.ChangeEvent) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) Close() error {
	r.closed = true
	return r.err
}

func fileEvent(store *memory.Store, id string, path ...string) domain.ChangeEvent {
	e, _ := store.GetEntry(context.Background(), id)
	return domain.ChangeEvent{
		FolderID:       "root",
		FileID:         e.ID,
		FileName:       e.Name,
		RelativePath:   path,
		Type:           domain.EventCreated,
		DetectedAt:     day0.Add(time.Hour),
		FileCreatedAt:  e.CreatedTime,
		FileModifiedAt: e.ModifiedTime,
		Size:           e.Size,
		MimeType:       e.MimeType,
		MD5Checksum:    e.MD5Checksum,
	}
}

func TestMulti_DeliversInOrder(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	m := NewMulti(a, b)

	event := domain.ChangeEvent{FileID: "f1", RelativePath: []string{"x"}}
	if err := m.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("expected one event per sink, got %d and %d", len(a.events), len(b.events))
	}
	if m.Len() != 2 {
		t.Errorf("expected 2 sinks, got %d", m.Len())
	}
}

func TestMulti_StopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingSink{name: "a", err: boom}
	b := &recordingSink{name: "b"}
	m := NewMulti(a, b)

	err := m.Handle(context.Background(), domain.ChangeEvent{FileID: "f1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if len(b.events) != 0 {
		t.Error("later sink should not see the event after a failure")
	}
}

func TestMulti_CloseJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingSink{name: "a", err: boom}
	b := &recordingSink{name: "b"}

	err := NewMulti(a, b).Close()
	if !errors.Is(err, boom) {
		t.Errorf("expected boom in joined error, got %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("every sink must be closed")
	}
}

func TestLog_Handle(t *testing.T) {
	size := int64(3)
	s := NewLog(nil)
	err := s.Handle(context.Background(), domain.ChangeEvent{FileID: "f1", Size: &size, MimeType: "text/plain"})
	if err != nil {
		t.Errorf("log sink should never fail: %v", err)
	}
}

func TestMirror_CopiesContent(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	store := memory.New(0)
	store.PutFolder("sub", "Subfolder", "root", day0)
	store.PutFile("f1", "notes.txt", "sub", day0, day0, []byte("hello"))

	target, err := local.New(dir)
	if err != nil {
		t.Fatalf("local.New failed: %v", err)
	}

	m, err := NewMirror(store, target, MirrorOptions{VerifyChecksum: true})
	if err != nil {
		t.Fatalf("NewMirror failed: %v", err)
	}

	if err := m.Handle(context.Background(), fileEvent(store, "f1", "Subfolder", "notes.txt")); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "Subfolder", "notes.txt"))
	if err != nil {
		t.Fatalf("mirrored file missing: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected hello, got %q", data)
	}

	// Redelivery overwrites in place
	if err := m.Handle(context.Background(), fileEvent(store, "f1", "Subfolder", "notes.txt")); err != nil {
		t.Fatalf("second Handle failed: %v", err)
	}
}

func TestMirror_ChecksumMismatch(t *testing.T) {
	store := memory.New(0)
	store.PutFile("f1", "a.bin", "root", day0, day0, []byte("payload"))

	m, _ := NewMirror(store, store.Writer("out"), MirrorOptions{VerifyChecksum: true})

	event := fileEvent(store, "f1", "a.bin")
	event.MD5Checksum = "00000000000000000000000000000000"

	err := m.Handle(context.Background(), event)
	if !errors.Is(err, domain.ErrChecksumMismatch) {
		t.Errorf("expected ErrChecksumMismatch, got %v", err)
	}

	// Without verification the same event is accepted
	m, _ = NewMirror(store, store.Writer("out"), MirrorOptions{})
	if err := m.Handle(context.Background(), event); err != nil {
		t.Errorf("unverified mirror failed: %v", err)
	}
}

func TestMirror_InvalidPathIsSkipped(t *testing.T) {
	store := memory.New(0)
	store.PutFile("f1", "a.txt", "root", day0, day0, []byte("x"))

	m, _ := NewMirror(store, failingWriter{err: fmt.Errorf("%w: blank path segment", domain.ErrInvalidPath)}, MirrorOptions{})
	if err := m.Handle(context.Background(), fileEvent(store, "f1", "a.txt")); err != nil {
		t.Errorf("expected skip, got %v", err)
	}

	boom := errors.New("disk full")
	m, _ = NewMirror(store, failingWriter{err: boom}, MirrorOptions{})
	if err := m.Handle(context.Background(), fileEvent(store, "f1", "a.txt")); !errors.Is(err, boom) {
		t.Errorf("expected write error, got %v", err)
	}
}

// A file named ".." must be mirrored without stalling the cursor
func TestMirror_DotNamedFileKeepsCursorMoving(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	store := memory.New(0)
	store.PutFolder("root", "watched", "", day0.Add(-time.Hour))
	store.PutFile("bad", "..", "root", day0.Add(2*time.Minute), day0.Add(2*time.Minute), []byte("dots"))
	store.PutFile("good", "ok.txt", "root", day0.Add(time.Minute), day0.Add(time.Minute), []byte("ok"))

	target, err := local.New(dir)
	if err != nil {
		t.Fatalf("local.New failed: %v", err)
	}
	m, err := NewMirror(store, target, MirrorOptions{VerifyChecksum: true})
	if err != nil {
		t.Fatalf("NewMirror failed: %v", err)
	}

	w, err := watcher.New(store, watcher.Options{RootID: "root", Since: day0})
	if err != nil {
		t.Fatalf("watcher.New failed: %v", err)
	}

	result, err := w.Poll(context.Background(), m)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if result.Events != 2 {
		t.Errorf("Events = %d, want 2", result.Events)
	}
	if want := day0.Add(2 * time.Minute); !w.Cursor().Equal(want) {
		t.Errorf("Cursor = %v, want %v", w.Cursor(), want)
	}

	for name, want := range map[string]string{"__": "dots", "ok.txt": "ok"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("%s not mirrored: %v", name, err)
			continue
		}
		if string(data) != want {
			t.Errorf("%s = %q, want %q", name, data, want)
		}
	}
}

func TestMirror_Skips(t *testing.T) {
	store := memory.New(0)
	store.PutFolder("sub", "sub", "root", day0)
	store.Put(domain.RemoteEntry{
		ID: "doc", Name: "Doc", ParentIDs: []string{"root"},
		ModifiedTime: day0, CreatedTime: day0,
		MimeType: "application/vnd.google-apps.document",
	})

	rec := &recordingWriter{}
	m, _ := NewMirror(store, rec, MirrorOptions{})

	tests := []struct {
		name  string
		event domain.ChangeEvent
	}{
		{"folder", domain.ChangeEvent{FileID: "sub", RelativePath: []string{"sub"}, IsFolder: true, MimeType: domain.MimeTypeFolder}},
		{"native document", domain.ChangeEvent{FileID: "doc", RelativePath: []string{"Doc"}, MimeType: "application/vnd.google-apps.document"}},
		{"deleted before copy", domain.ChangeEvent{FileID: "gone", RelativePath: []string{"gone.txt"}, MimeType: "text/plain"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.Handle(context.Background(), tt.event); err != nil {
				t.Errorf("expected skip, got %v", err)
			}
		})
	}

	if rec.writes != 0 {
		t.Errorf("expected no writes, got %d", rec.writes)
	}
}

func TestMirror_ReadError(t *testing.T) {
	store := memory.New(0)
	store.PutFile("f1", "a.txt", "root", day0, day0, []byte("x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, _ := NewMirror(store, &recordingWriter{}, MirrorOptions{})
	err := m.Handle(ctx, fileEvent(store, "f1", "a.txt"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNewMirror_RequiresCollaborators(t *testing.T) {
	if _, err := NewMirror(nil, &recordingWriter{}, MirrorOptions{}); err == nil {
		t.Error("expected error without reader")
	}
}

type failingWriter struct {
	err error
}

func (w failingWriter) Write(ctx context.Context, relPath []string, r io.Reader) (string, error) {
	return "", w.err
}

type recordingWriter struct {
	writes int
}

func (w *recordingWriter) Write(ctx context.Context, relPath []string, r io.Reader) (string, error) {
	w.writes++
	return "", nil
}

func TestNATS_Handle(t *testing.T) {
	var got []*nats.Msg
	n := newNATS(func(ctx context.Context, msg *nats.Msg) error {
		got = append(got, msg)
		return nil
	}, "drive.changes", nil)

	size := int64(5)
	event := domain.ChangeEvent{
		FolderID:       "root.folder",
		FileID:         "f1",
		FileName:       "a.txt",
		RelativePath:   []string{"a.txt"},
		Type:           domain.EventUpdated,
		FileModifiedAt: day0,
		Size:           &size,
	}

	if err := n.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}

	msg := got[0]
	if msg.Subject != "drive.changes.root_folder" {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	if id := msg.Header.Get(nats.MsgIdHdr); id != "f1@2024-01-01T00:00:00Z" {
		t.Errorf("unexpected message id %q", id)
	}

	var decoded domain.ChangeEvent
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.FileID != "f1" || decoded.Type != domain.EventUpdated || decoded.Path() != "a.txt" {
		t.Errorf("unexpected payload: %+v", decoded)
	}
}

func TestNATS_PublishError(t *testing.T) {
	boom := errors.New("no responders")
	n := newNATS(func(ctx context.Context, msg *nats.Msg) error { return boom }, "s", nil)

	if err := n.Handle(context.Background(), domain.ChangeEvent{FileID: "f1"}); !errors.Is(err, boom) {
		t.Errorf("expected publish error, got %v", err)
	}
	if err := n.Close(); err != nil {
		t.Errorf("Close without connection failed: %v", err)
	}
}
