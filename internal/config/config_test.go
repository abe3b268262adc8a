package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ning0612/drivewatch/internal/domain"
	"github.com/Ning0612/drivewatch/internal/logger"
	"github.com/Ning0612/drivewatch/internal/testutil"
)

const validYAML = `
watch:
  folder_id: "1AbCdEf"
  interval: 30s
  since: "2024-01-01T00:00:00Z"
  files_only: true
  concurrency: 4
drive:
  auth: oauth
  client_id: id
  client_secret: secret
  page_size: 50
  retry:
    max_attempts: 2
    initial_wait: 100ms
resolver:
  cache_size: 256
logging:
  level: debug
  format: json
  outputs: [stderr]
sinks:
  log: false
  mirror:
    local_dir: /tmp/mirror
  nats:
    url: nats://localhost:4222
    subject: drive.changes
`

func TestLoadFromString(t *testing.T) {
	cfg, err := LoadFromString(validYAML)
	if err != nil {
		t.Fatalf("LoadFromString failed: %v", err)
	}

	if cfg.Watch.FolderID != "1AbCdEf" {
		t.Errorf("expected folder id 1AbCdEf, got %q", cfg.Watch.FolderID)
	}
	if cfg.Watch.Interval != 30*time.Second {
		t.Errorf("expected interval 30s, got %v", cfg.Watch.Interval)
	}
	if !cfg.Watch.FilesOnly || cfg.Watch.Concurrency != 4 {
		t.Errorf("unexpected watch section: %+v", cfg.Watch)
	}
	if cfg.Drive.PageSize != 50 {
		t.Errorf("expected page size 50, got %d", cfg.Drive.PageSize)
	}
	if cfg.Drive.Retry.MaxAttempts != 2 || cfg.Drive.Retry.InitialWait != 100*time.Millisecond {
		t.Errorf("unexpected retry config: %+v", cfg.Drive.Retry)
	}
	// unset retry keys keep their defaults
	if cfg.Drive.Retry.MaxWait != 15*time.Second {
		t.Errorf("expected default max wait, got %v", cfg.Drive.Retry.MaxWait)
	}
	if cfg.Resolver.CacheSize != 256 {
		t.Errorf("expected cache size 256, got %d", cfg.Resolver.CacheSize)
	}
	if cfg.Sinks.Log {
		t.Error("expected log sink disabled")
	}
	if !cfg.Sinks.Mirror.Enabled() || !cfg.Sinks.Mirror.VerifyChecksum {
		t.Errorf("unexpected mirror config: %+v", cfg.Sinks.Mirror)
	}
	if !cfg.Sinks.NATS.Enabled() || cfg.Sinks.NATS.Subject != "drive.changes" {
		t.Errorf("unexpected nats config: %+v", cfg.Sinks.NATS)
	}
}

func TestLoadFromString_Defaults(t *testing.T) {
	cfg, err := LoadFromString("watch:\n  folder_id: abc\n")
	if err != nil {
		t.Fatalf("LoadFromString failed: %v", err)
	}

	if cfg.Watch.Interval != 10*time.Second {
		t.Errorf("expected default interval 10s, got %v", cfg.Watch.Interval)
	}
	if cfg.Watch.Lookback != DefaultLookback {
		t.Errorf("expected default lookback, got %v", cfg.Watch.Lookback)
	}
	if cfg.Watch.Concurrency != 1 {
		t.Errorf("expected concurrency 1, got %d", cfg.Watch.Concurrency)
	}
	if !cfg.Watch.Resume {
		t.Error("expected resume enabled by default")
	}
	if cfg.Drive.Auth != "adc" {
		t.Errorf("expected adc auth, got %q", cfg.Drive.Auth)
	}
	if cfg.Drive.PageSize != 100 {
		t.Errorf("expected page size 100, got %d", cfg.Drive.PageSize)
	}
	if !cfg.Sinks.Log || cfg.Sinks.Mirror.Enabled() || cfg.Sinks.NATS.Enabled() {
		t.Errorf("unexpected default sinks: %+v", cfg.Sinks)
	}
}

func TestLoadFromString_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"negative interval", "watch:\n  interval: -1s\n"},
		{"bad since", "watch:\n  since: yesterday\n"},
		{"zero concurrency", "watch:\n  concurrency: 0\n"},
		{"unknown auth", "drive:\n  auth: basic\n"},
		{"oauth without client", "drive:\n  auth: oauth\n"},
		{"page size too large", "drive:\n  page_size: 5000\n"},
		{"no attempts", "drive:\n  retry:\n    max_attempts: 0\n"},
		{"negative cache", "resolver:\n  cache_size: -1\n"},
		{"unknown output", "logging:\n  outputs: [syslog]\n"},
		{"file output without path", "logging:\n  outputs: [file]\n"},
		{"two mirror targets", "sinks:\n  mirror:\n    local_dir: /tmp/x\n    drive_folder_id: abc\n"},
		{"nats without subject", "sinks:\n  nats:\n    url: nats://x\n    subject: \"\"\n"},
		{"malformed yaml", "watch: [unclosed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromString(tt.yaml)
			if !errors.Is(err, domain.ErrConfigInvalid) {
				t.Errorf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestValidateWatch(t *testing.T) {
	cfg, err := LoadFromString("logging:\n  level: info\n")
	if err != nil {
		t.Fatalf("LoadFromString failed: %v", err)
	}

	if err := cfg.ValidateWatch(); !errors.Is(err, domain.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid without folder id, got %v", err)
	}

	cfg.Watch.FolderID = "abc"
	if err := cfg.ValidateWatch(); err != nil {
		t.Errorf("ValidateWatch failed: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.CreateTestFile(t, dir, "config.yaml", []byte(validYAML))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Watch.FolderID != "1AbCdEf" {
		t.Errorf("expected folder id from file, got %q", cfg.Watch.FolderID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DRIVEWATCH_WATCH_FOLDER_ID", "from-env")
	t.Setenv("DRIVEWATCH_WATCH_INTERVAL", "1m")

	cfg, err := LoadFromString("watch:\n  folder_id: from-file\n")
	if err != nil {
		t.Fatalf("LoadFromString failed: %v", err)
	}

	if cfg.Watch.FolderID != "from-env" {
		t.Errorf("expected env to override file, got %q", cfg.Watch.FolderID)
	}
	if cfg.Watch.Interval != time.Minute {
		t.Errorf("expected interval 1m from env, got %v", cfg.Watch.Interval)
	}
}

func TestStartTime(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	cfg := &Config{Watch: WatchConfig{Since: "2024-01-01T00:00:00Z"}}
	got, err := cfg.StartTime(now)
	if err != nil {
		t.Fatalf("StartTime failed: %v", err)
	}
	if !got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected since, got %v", got)
	}

	cfg = &Config{Watch: WatchConfig{Lookback: 48 * time.Hour}}
	got, err = cfg.StartTime(now)
	if err != nil {
		t.Fatalf("StartTime failed: %v", err)
	}
	if !got.Equal(now.Add(-48 * time.Hour)) {
		t.Errorf("expected now minus lookback, got %v", got)
	}
}

func TestLoggerConfig(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{
		Level:   "warn",
		Format:  "json",
		Outputs: []string{"stderr", "file"},
		File:    LoggingFileConfig{Path: "/var/log/drivewatch.log", MaxSizeMB: 5},
	}}

	lc := cfg.LoggerConfig()
	if lc.Level != logger.LevelWarn || lc.Format != logger.FormatJSON {
		t.Errorf("unexpected level/format: %v %v", lc.Level, lc.Format)
	}
	if len(lc.Outputs) != 2 || lc.Outputs[0].Type != logger.OutputStderr || lc.Outputs[1].Type != logger.OutputFile {
		t.Errorf("unexpected outputs: %+v", lc.Outputs)
	}
	if !lc.File.Enabled || lc.File.MaxSizeMB != 5 {
		t.Errorf("unexpected file config: %+v", lc.File)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	if got := ExpandPath("~/state"); got != filepath.Join(home, "state") {
		t.Errorf("ExpandPath(~/state) = %q", got)
	}

	t.Setenv("DRIVEWATCH_TEST_DIR", "/opt/dw")
	if got := ExpandPath("$DRIVEWATCH_TEST_DIR/db"); got != filepath.Clean("/opt/dw/db") {
		t.Errorf("ExpandPath with env = %q", got)
	}
}
