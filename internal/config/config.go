package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Ning0612/drivewatch/internal/adapter/gdrive"
	"github.com/Ning0612/drivewatch/internal/domain"
	"github.com/Ning0612/drivewatch/internal/logger"
	"github.com/Ning0612/drivewatch/internal/retry"
)

// Config represents the complete configuration for drivewatch
type Config struct {
	Watch    WatchConfig    `mapstructure:"watch"`
	Drive    DriveConfig    `mapstructure:"drive"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	State    StateConfig    `mapstructure:"state"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Sinks    SinksConfig    `mapstructure:"sinks"`
}

// WatchConfig controls the poll loop
type WatchConfig struct {
	// FolderID is the watched root
	FolderID string        `mapstructure:"folder_id"`
	Interval time.Duration `mapstructure:"interval"`

	// Since is an RFC3339 start time; when empty the cursor starts at
	// now minus Lookback
	Since    string        `mapstructure:"since"`
	Lookback time.Duration `mapstructure:"lookback"`

	FilesOnly   bool `mapstructure:"files_only"`
	Concurrency int  `mapstructure:"concurrency"`
	SortByTime  bool `mapstructure:"sort_by_time"`
	StopOnError bool `mapstructure:"stop_on_error"`

	// Resume starts from the last committed cursor when one is stored
	Resume bool `mapstructure:"resume"`
}

// DriveConfig configures the Drive session
type DriveConfig struct {
	Auth         string       `mapstructure:"auth"`
	ClientID     string       `mapstructure:"client_id"`
	ClientSecret string       `mapstructure:"client_secret"`
	TokenPath    string       `mapstructure:"token_path"`
	PageSize     int64        `mapstructure:"page_size"`
	Retry        retry.Config `mapstructure:"retry"`
}

// ResolverConfig configures ancestor name lookups
type ResolverConfig struct {
	// CacheSize of 0 disables the name cache
	CacheSize int `mapstructure:"cache_size"`
}

// StateConfig locates the checkpoint database and lock files
type StateConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig mirrors logger.Config in config-file form
type LoggingConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Outputs []string          `mapstructure:"outputs"`
	File    LoggingFileConfig `mapstructure:"file"`
}

// LoggingFileConfig configures the rotating log file
type LoggingFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Addr of "" disables the endpoint
	Addr string `mapstructure:"addr"`
}

// SinksConfig selects where change events go
type SinksConfig struct {
	Log    bool         `mapstructure:"log"`
	Mirror MirrorConfig `mapstructure:"mirror"`
	NATS   NATSConfig   `mapstructure:"nats"`
}

// MirrorConfig copies changed file content to a local directory or a
// Drive output folder. At most one target may be set.
type MirrorConfig struct {
	LocalDir       string `mapstructure:"local_dir"`
	DriveFolderID  string `mapstructure:"drive_folder_id"`
	VerifyChecksum bool   `mapstructure:"verify_checksum"`
}

// Enabled reports whether a mirror target is configured
func (m MirrorConfig) Enabled() bool {
	return m.LocalDir != "" || m.DriveFolderID != ""
}

// NATSConfig publishes events to a NATS subject
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`

	// Stream enables JetStream publishing with acks
	Stream string `mapstructure:"stream"`
}

// Enabled reports whether the NATS publisher is configured
func (n NATSConfig) Enabled() bool {
	return n.URL != ""
}

// Validate checks if the configuration is complete and consistent.
// The watched folder is checked separately by ValidateWatch because
// commands other than watch do not need it.
func (c *Config) Validate() error {
	if c.Watch.Interval <= 0 {
		return fmt.Errorf("%w: watch.interval must be positive", domain.ErrConfigInvalid)
	}
	if c.Watch.Since != "" {
		if _, err := time.Parse(time.RFC3339, c.Watch.Since); err != nil {
			return fmt.Errorf("%w: watch.since: %v", domain.ErrConfigInvalid, err)
		}
	}
	if c.Watch.Lookback < 0 {
		return fmt.Errorf("%w: watch.lookback cannot be negative", domain.ErrConfigInvalid)
	}
	if c.Watch.Concurrency < 1 {
		return fmt.Errorf("%w: watch.concurrency must be at least 1", domain.ErrConfigInvalid)
	}

	if !gdrive.AuthMode(c.Drive.Auth).IsValid() {
		return fmt.Errorf("%w: invalid drive.auth: %s", domain.ErrConfigInvalid, c.Drive.Auth)
	}
	if gdrive.AuthMode(c.Drive.Auth) == gdrive.AuthOAuth && (c.Drive.ClientID == "" || c.Drive.ClientSecret == "") {
		return fmt.Errorf("%w: drive.auth oauth requires client_id and client_secret", domain.ErrConfigInvalid)
	}
	if c.Drive.PageSize < 1 || c.Drive.PageSize > gdrive.MaxPageSize {
		return fmt.Errorf("%w: drive.page_size must be between 1 and %d", domain.ErrConfigInvalid, gdrive.MaxPageSize)
	}
	if c.Drive.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: drive.retry.max_attempts must be at least 1", domain.ErrConfigInvalid)
	}

	if c.Resolver.CacheSize < 0 {
		return fmt.Errorf("%w: resolver.cache_size cannot be negative", domain.ErrConfigInvalid)
	}

	for _, o := range c.Logging.Outputs {
		out, ok := logger.ParseOutput(o)
		if !ok {
			return fmt.Errorf("%w: unknown logging output: %s", domain.ErrConfigInvalid, o)
		}
		if out == logger.OutputFile && c.Logging.File.Path == "" {
			return fmt.Errorf("%w: logging output file requires logging.file.path", domain.ErrConfigInvalid)
		}
	}

	if c.Sinks.Mirror.LocalDir != "" && c.Sinks.Mirror.DriveFolderID != "" {
		return fmt.Errorf("%w: sinks.mirror accepts local_dir or drive_folder_id, not both", domain.ErrConfigInvalid)
	}
	if c.Sinks.NATS.Enabled() && c.Sinks.NATS.Subject == "" {
		return fmt.Errorf("%w: sinks.nats.subject cannot be empty", domain.ErrConfigInvalid)
	}

	return nil
}

// ValidateWatch runs Validate and additionally requires a watched folder
func (c *Config) ValidateWatch() error {
	if c.Watch.FolderID == "" {
		return fmt.Errorf("%w: watch.folder_id is required", domain.ErrConfigInvalid)
	}
	return c.Validate()
}

// StartTime returns the initial cursor: watch.since when set, otherwise
// now minus watch.lookback
func (c *Config) StartTime(now time.Time) (time.Time, error) {
	if c.Watch.Since != "" {
		t, err := time.Parse(time.RFC3339, c.Watch.Since)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: watch.since: %v", domain.ErrConfigInvalid, err)
		}
		return t, nil
	}
	return now.Add(-c.Watch.Lookback), nil
}

// StateDir returns the expanded state directory, defaulting to the user
// config directory
func (c *Config) StateDir() (string, error) {
	if c.State.Dir != "" {
		return ExpandPath(c.State.Dir), nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config dir: %w", err)
	}
	return filepath.Join(configDir, "drivewatch"), nil
}

// LoggerConfig converts the logging section into a logger.Config
func (c *Config) LoggerConfig() logger.Config {
	cfg := logger.Config{
		Level:  logger.ParseLevel(c.Logging.Level),
		Format: logger.ParseFormat(c.Logging.Format),
	}
	for _, o := range c.Logging.Outputs {
		out, ok := logger.ParseOutput(o)
		if !ok {
			continue
		}
		if out == logger.OutputFile {
			cfg.File = logger.FileConfig{
				Enabled:    true,
				Path:       ExpandPath(c.Logging.File.Path),
				MaxSizeMB:  c.Logging.File.MaxSizeMB,
				MaxAgeDays: c.Logging.File.MaxAgeDays,
				MaxBackups: c.Logging.File.MaxBackups,
				Compress:   c.Logging.File.Compress,
			}
		}
		cfg.Outputs = append(cfg.Outputs, logger.OutputConfig{Type: out})
	}
	return cfg
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	// Expand ~ to home directory
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
				path = filepath.Join(home, path[2:])
			} else if len(path) == 1 {
				path = home
			}
		}
	}
	// Expand environment variables
	path = os.ExpandEnv(path)
	return filepath.Clean(path)
}
