package logger

import (
	"io"
	"strings"
)

// Logger is the structured logging interface used by every component.
// Args are alternating key/value pairs as in log/slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger

	// Sync flushes buffered output
	Sync() error
	// Shutdown closes the writers this logger opened
	Shutdown() error
}

// Level is the minimum severity that gets written
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

// ParseLevel maps a level name to a Level. Unknown names mean info.
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return LevelWarn
	}
	for l, name := range levelNames {
		if name == s {
			return l
		}
	}
	return LevelInfo
}

// Format selects the slog handler
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "text"
}

// ParseFormat returns FormatJSON for "json" and FormatText otherwise
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// Output is a log destination
type Output int

const (
	OutputStdout Output = iota
	OutputStderr
	OutputFile
)

var outputsByName = map[string]Output{
	"stdout": OutputStdout,
	"stderr": OutputStderr,
	"file":   OutputFile,
}

// ParseOutput resolves "stdout", "stderr" or "file"
func ParseOutput(s string) (Output, bool) {
	out, ok := outputsByName[strings.ToLower(strings.TrimSpace(s))]
	return out, ok
}

// Config describes how NewSlogLogger builds a logger
type Config struct {
	Level   Level
	Format  Format
	Outputs []OutputConfig

	// File is used by an OutputFile entry
	File FileConfig
}

// OutputConfig is one destination. Writer replaces the stream of a stdout
// or stderr output when set.
type OutputConfig struct {
	Type   Output
	Writer io.Writer
}

// FileConfig configures the rotating log file
type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}
