package watcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Ning0612/drivewatch/internal/adapter/memory"
	"github.com/Ning0612/drivewatch/internal/domain"
)

const rootID = "root"

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// at returns day0 shifted by n minutes
func at(n int) time.Time {
	return day0.Add(time.Duration(n) * time.Minute)
}

func newStore(pageSize int) *memory.Store {
	s := memory.New(pageSize)
	s.PutFolder(rootID, "watched", "", at(-1000))
	return s
}

func ids(entries []domain.RemoteEntry) string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return strings.Join(out, ",")
}

func sortedIDs(entries []domain.RemoteEntry) string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// pageLister serves fixed pages for one parent
type pageLister struct {
	pages []domain.Page
	calls int
	err   error
}

func (l *pageLister) ListChildren(ctx context.Context, parentID, pageToken string) (domain.Page, error) {
	l.calls++
	if l.err != nil {
		return domain.Page{}, l.err
	}
	idx := 0
	if pageToken != "" {
		if _, err := fmt.Sscanf(pageToken, "p%d", &idx); err != nil {
			return domain.Page{}, err
		}
	}
	if idx >= len(l.pages) {
		return domain.Page{}, nil
	}
	return l.pages[idx], nil
}

// recorder collects handled events
type recorder struct {
	events []domain.ChangeEvent
	err    error
}

func (r *recorder) Handle(ctx context.Context, event domain.ChangeEvent) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) fileIDs() string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.FileID
	}
	return strings.Join(out, ",")
}
