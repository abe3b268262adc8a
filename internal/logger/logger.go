package logger

import (
	"errors"
	"sync"
)

// ErrAlreadyInitialized is returned by Init when a process logger exists
var ErrAlreadyInitialized = errors.New("logger already initialized")

var global struct {
	sync.RWMutex
	current Logger
}

var discard Logger = &NullLogger{}

// Init builds the process logger from config. Shutdown must run before a
// second Init.
func Init(config Config) error {
	global.Lock()
	defer global.Unlock()

	if global.current != nil {
		return ErrAlreadyInitialized
	}

	l, err := NewSlogLogger(config)
	if err != nil {
		return err
	}
	global.current = l
	return nil
}

// Get returns the process logger, or a discarding logger before Init
func Get() Logger {
	global.RLock()
	defer global.RUnlock()
	return OrNull(global.current)
}

// With returns a child of the process logger
func With(args ...any) Logger {
	return Get().With(args...)
}

// Sync flushes the process logger
func Sync() error {
	return Get().Sync()
}

// Shutdown closes the process logger and resets it. Calling it again, or
// before Init, does nothing.
func Shutdown() error {
	global.Lock()
	l := global.current
	global.current = nil
	global.Unlock()

	if l == nil {
		return nil
	}
	return l.Shutdown()
}

// OrNull returns l, or a discarding logger when l is nil
func OrNull(l Logger) Logger {
	if l == nil {
		return discard
	}
	return l
}

// NullLogger drops every record
type NullLogger struct{}

func (*NullLogger) Debug(string, ...any) {}
func (*NullLogger) Info(string, ...any)  {}
func (*NullLogger) Warn(string, ...any)  {}
func (*NullLogger) Error(string, ...any) {}
func (n *NullLogger) With(...any) Logger { return n }
func (*NullLogger) Sync() error          { return nil }
func (*NullLogger) Shutdown() error      { return nil }
