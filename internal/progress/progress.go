// Package progress reports byte progress of content transfers such as
// downloading a Drive file or uploading into an output folder.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Reporter receives progress of one transfer at a time
type Reporter interface {
	// Start begins tracking a transfer; totalBytes is -1 when unknown
	Start(name string, totalBytes int64)
	// Update reports the bytes transferred so far
	Update(bytesTransferred int64)
	// Complete marks the current transfer as complete
	Complete()
	// Error reports a failed transfer
	Error(err error)
}

// Callback is a function that receives progress updates
type Callback func(update Update)

// Update represents a progress update
type Update struct {
	Type           UpdateType
	Name           string
	Bytes          int64
	Total          int64
	Completed      int
	BytesPerSecond float64
	Error          error
}

// UpdateType indicates the type of progress update
type UpdateType int

const (
	UpdateStart UpdateType = iota
	UpdateProgress
	UpdateComplete
	UpdateError
)

// CallbackReporter implements Reporter with a callback function
type CallbackReporter struct {
	callback  Callback
	now       func() time.Time
	mu        sync.Mutex
	name      string
	total     int64
	bytes     int64
	completed int
	startTime time.Time
}

// NewCallbackReporter creates a new CallbackReporter
func NewCallbackReporter(callback Callback) *CallbackReporter {
	return &CallbackReporter{
		callback: callback,
		now:      time.Now,
	}
}

// Start begins tracking a new transfer
func (r *CallbackReporter) Start(name string, totalBytes int64) {
	r.mu.Lock()
	r.name = name
	r.total = totalBytes
	r.bytes = 0
	r.startTime = r.now()

	update := Update{
		Type:      UpdateStart,
		Name:      name,
		Total:     totalBytes,
		Completed: r.completed,
	}
	r.mu.Unlock()

	// Call callback outside lock to prevent deadlock
	r.emit(update)
}

// Update reports progress on the current transfer
func (r *CallbackReporter) Update(bytesTransferred int64) {
	r.mu.Lock()
	r.bytes = bytesTransferred

	var bytesPerSecond float64
	if elapsed := r.now().Sub(r.startTime).Seconds(); elapsed > 0 {
		bytesPerSecond = float64(bytesTransferred) / elapsed
	}

	update := Update{
		Type:           UpdateProgress,
		Name:           r.name,
		Bytes:          bytesTransferred,
		Total:          r.total,
		Completed:      r.completed,
		BytesPerSecond: bytesPerSecond,
	}
	r.mu.Unlock()

	r.emit(update)
}

// Complete marks the current transfer as complete
func (r *CallbackReporter) Complete() {
	r.mu.Lock()
	r.completed++
	if r.total < 0 {
		r.total = r.bytes
	}

	update := Update{
		Type:      UpdateComplete,
		Name:      r.name,
		Bytes:     r.bytes,
		Total:     r.total,
		Completed: r.completed,
	}
	r.mu.Unlock()

	r.emit(update)
}

// Error reports an error on the current transfer
func (r *CallbackReporter) Error(err error) {
	r.mu.Lock()
	update := Update{
		Type:      UpdateError,
		Name:      r.name,
		Bytes:     r.bytes,
		Total:     r.total,
		Completed: r.completed,
		Error:     err,
	}
	r.mu.Unlock()

	r.emit(update)
}

func (r *CallbackReporter) emit(update Update) {
	if r.callback != nil {
		r.callback(update)
	}
}

// NewLineReporter returns a reporter that redraws a single progress line
// on w, which is normally a terminal's stderr
func NewLineReporter(w io.Writer) *CallbackReporter {
	return NewCallbackReporter(func(u Update) {
		switch u.Type {
		case UpdateProgress:
			if u.Total > 0 {
				fmt.Fprintf(w, "\r%s %s %s", u.Name, FormatProgress(u.Bytes, u.Total, 30), FormatSpeed(u.BytesPerSecond))
			} else {
				fmt.Fprintf(w, "\r%s %s %s", u.Name, FormatBytes(u.Bytes), FormatSpeed(u.BytesPerSecond))
			}
		case UpdateComplete:
			fmt.Fprintf(w, "\r%s %s done\n", u.Name, FormatBytes(u.Bytes))
		case UpdateError:
			fmt.Fprintf(w, "\r%s failed: %v\n", u.Name, u.Error)
		}
	})
}

// Reader wraps an io.Reader to track read progress
type Reader struct {
	reader      io.Reader
	reporter    Reporter
	transferred int64
}

// NewReader creates a new progress-tracking reader
func NewReader(r io.Reader, reporter Reporter) *Reader {
	return &Reader{
		reader:   r,
		reporter: reporter,
	}
}

// Read implements io.Reader
func (pr *Reader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.transferred += int64(n)
		if pr.reporter != nil {
			pr.reporter.Update(pr.transferred)
		}
	}
	return n, err
}

// Writer wraps an io.Writer to track write progress
type Writer struct {
	writer      io.Writer
	reporter    Reporter
	transferred int64
}

// NewWriter creates a new progress-tracking writer
func NewWriter(w io.Writer, reporter Reporter) *Writer {
	return &Writer{
		writer:   w,
		reporter: reporter,
	}
}

// Write implements io.Writer
func (pw *Writer) Write(p []byte) (n int, err error) {
	n, err = pw.writer.Write(p)
	if n > 0 {
		pw.transferred += int64(n)
		if pw.reporter != nil {
			pw.reporter.Update(pw.transferred)
		}
	}
	return n, err
}

// NullReporter is a no-op reporter
type NullReporter struct{}

func (NullReporter) Start(name string, totalBytes int64) {}
func (NullReporter) Update(bytesTransferred int64)       {}
func (NullReporter) Complete()                           {}
func (NullReporter) Error(err error)                     {}

// FormatBytes formats bytes into human-readable string
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatSpeed formats bytes per second into human-readable string
func FormatSpeed(bytesPerSecond float64) string {
	return FormatBytes(int64(bytesPerSecond)) + "/s"
}

// FormatProgress returns a progress bar string
func FormatProgress(current, total int64, width int) string {
	if total <= 0 {
		return ""
	}

	percent := float64(current) / float64(total)
	if percent > 1 {
		percent = 1
	}
	filled := int(percent * float64(width))

	var bar strings.Builder
	for i := 0; i < width; i++ {
		switch {
		case i < filled:
			bar.WriteByte('=')
		case i == filled:
			bar.WriteByte('>')
		default:
			bar.WriteByte(' ')
		}
	}

	return fmt.Sprintf("[%s] %5.1f%%", bar.String(), percent*100)
}
