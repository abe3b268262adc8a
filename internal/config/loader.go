package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Ning0612/drivewatch/internal/adapter/gdrive"
	"github.com/Ning0612/drivewatch/internal/domain"
	"github.com/Ning0612/drivewatch/internal/retry"
)

// EnvPrefix prefixes every environment override, e.g. DRIVEWATCH_WATCH_FOLDER_ID
const EnvPrefix = "DRIVEWATCH"

// DefaultLookback is how far back the cursor starts when no since is given
const DefaultLookback = 5 * 24 * time.Hour

// DefaultConfigPaths returns the default paths to search for config files
func DefaultConfigPaths() []string {
	paths := []string{
		".",
		"./configs",
	}

	// Add user config directory
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "drivewatch"))
	}

	// Add home directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".drivewatch"))
	}

	return paths
}

// setDefaults registers every key so that environment overrides are seen
// by Unmarshal even when the file omits the key
func setDefaults(v *viper.Viper) {
	rc := retry.DefaultConfig()

	v.SetDefault("watch.folder_id", "")
	v.SetDefault("watch.interval", "10s")
	v.SetDefault("watch.since", "")
	v.SetDefault("watch.lookback", DefaultLookback.String())
	v.SetDefault("watch.files_only", false)
	v.SetDefault("watch.concurrency", 1)
	v.SetDefault("watch.sort_by_time", false)
	v.SetDefault("watch.stop_on_error", false)
	v.SetDefault("watch.resume", true)

	v.SetDefault("drive.auth", string(gdrive.AuthADC))
	v.SetDefault("drive.client_id", "")
	v.SetDefault("drive.client_secret", "")
	v.SetDefault("drive.token_path", "")
	v.SetDefault("drive.page_size", gdrive.DefaultPageSize)
	v.SetDefault("drive.retry.max_attempts", rc.MaxAttempts)
	v.SetDefault("drive.retry.initial_wait", rc.InitialWait.String())
	v.SetDefault("drive.retry.max_wait", rc.MaxWait.String())
	v.SetDefault("drive.retry.multiplier", rc.Multiplier)
	v.SetDefault("drive.retry.jitter", rc.Jitter)

	v.SetDefault("resolver.cache_size", 0)
	v.SetDefault("state.dir", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputs", []string{"stdout"})
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 10)
	v.SetDefault("logging.file.max_age_days", 30)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.compress", false)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("sinks.log", true)
	v.SetDefault("sinks.mirror.local_dir", "")
	v.SetDefault("sinks.mirror.drive_folder_id", "")
	v.SetDefault("sinks.mirror.verify_checksum", true)
	v.SetDefault("sinks.nats.url", "")
	v.SetDefault("sinks.nats.subject", "drivewatch.events")
	v.SetDefault("sinks.nats.stream", "")
}

// newViper returns a viper instance with defaults and environment overrides
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads and parses a configuration file.
// If path is empty, searches default locations for config.yaml; a missing
// file is not an error in that case and defaults plus environment are used.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrConfigNotFound
		}
		// Use specific file
		v.SetConfigFile(path)
	} else {
		// Search default paths
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
		}
		// defaults and environment only
	}

	return decode(v)
}

// LoadFromString parses configuration from a YAML string
func LoadFromString(yamlContent string) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(strings.NewReader(yamlContent)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	if cfg.Drive.Auth == "" {
		cfg.Drive.Auth = string(gdrive.AuthADC)
	}
	cfg.Drive.Auth = strings.ToLower(cfg.Drive.Auth)

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
