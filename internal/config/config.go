package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied to fields left empty in the config file.
const (
	DefaultDBName               = "lessons"
	DefaultMaxBackups           = 50
	DefaultLogLevel             = "info"
	DefaultWatchDebounceSeconds = 5
)

// Config represents the main configuration for lessonlog.
type Config struct {
	AppDataDir string           `toml:"app_data_dir"`
	DBName     string           `toml:"db_name"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // "debug", "info", "warn" or "error"
	Billing    BillingConfig    `toml:"billing"`
	Backup     BackupConfig     `toml:"backup"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// BillingConfig holds the rate used to value new lessons.
type BillingConfig struct {
	HourlyRateCents int64 `toml:"hourly_rate_cents"`
}

// BackupConfig controls snapshots of the live database.
type BackupConfig struct {
	MaxBackups             int          `toml:"max_backups"` // at least 1; 0 means DefaultMaxBackups
	DisableStartupSnapshot bool         `toml:"disable_startup_snapshot"`
	WatchDebounceSeconds   int          `toml:"watch_debounce_seconds"`
	Mirror                 MirrorConfig `toml:"mirror"`
}

// MirrorConfig describes the optional external copy target for snapshots.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type MirrorConfig struct {
	Type    string `toml:"type"` // "", "directory", "s3", "gcs" or "memory"
	Encrypt bool   `toml:"encrypt,omitempty"`

	// Directory-specific fields (only used when Type == "directory")
	Path string `toml:"path,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// GCS-specific fields (only used when Type == "gcs")
	GCSBucket          string `toml:"gcs_bucket,omitempty"`
	GCSPrefix          string `toml:"gcs_prefix,omitempty"`
	GCSCredentialsFile string `toml:"gcs_credentials_file,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for encrypted mirrors.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// NewConfig creates a new Config rooted at appDataDir with default values.
func NewConfig(appDataDir string) *Config {
	cfg := &Config{
		AppDataDir: appDataDir,
		LogDir:     filepath.Join(appDataDir, "log"),
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(appDataDir, "keys", "lessonlog.pub"),
			PrivateKeyPath: filepath.Join(appDataDir, "keys", "lessonlog.key"),
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.DBName == "" {
		c.DBName = DefaultDBName
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogDir == "" && c.AppDataDir != "" {
		c.LogDir = filepath.Join(c.AppDataDir, "log")
	}
	if c.Backup.MaxBackups == 0 {
		c.Backup.MaxBackups = DefaultMaxBackups
	}
	if c.Backup.WatchDebounceSeconds == 0 {
		c.Backup.WatchDebounceSeconds = DefaultWatchDebounceSeconds
	}
}

// DatabasePath returns the path of the live database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.AppDataDir, c.DBName+".db")
}

// BackupDir returns the snapshot directory.
func (c *Config) BackupDir() string {
	return filepath.Join(c.AppDataDir, "backups")
}

// WatchDebounce returns how long the database must be quiet before a watch
// snapshot is taken.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.Backup.WatchDebounceSeconds) * time.Second
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.AppDataDir == "" {
		return fmt.Errorf("app_data_dir is required")
	}
	if c.Backup.MaxBackups < 1 {
		return fmt.Errorf("backup.max_backups must be at least 1, got %d", c.Backup.MaxBackups)
	}
	if c.Backup.WatchDebounceSeconds < 0 {
		return fmt.Errorf("backup.watch_debounce_seconds must not be negative")
	}
	if c.Billing.HourlyRateCents < 0 {
		return fmt.Errorf("billing.hourly_rate_cents must not be negative")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level: %s", c.LogLevel)
	}
	if err := c.Backup.Mirror.Validate(); err != nil {
		return fmt.Errorf("backup.mirror: %w", err)
	}
	return nil
}

// Validate checks that the fields required by the mirror type are set.
func (m *MirrorConfig) Validate() error {
	switch m.Type {
	case "", "memory":
		return nil
	case "directory":
		if m.Path == "" {
			return fmt.Errorf("path required for directory mirror")
		}
	case "s3":
		if m.S3Bucket == "" {
			return fmt.Errorf("s3_bucket required for s3 mirror")
		}
		if (m.S3AccessKeyID == "") != (m.S3SecretAccessKey == "") {
			return fmt.Errorf("s3_access_key_id and s3_secret_access_key must be set together")
		}
	case "gcs":
		if m.GCSBucket == "" {
			return fmt.Errorf("gcs_bucket required for gcs mirror")
		}
	default:
		return fmt.Errorf("unknown mirror type: %s", m.Type)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader and fills in defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile replaces the config file at path. The new content is written
// to a temporary file first so a failed write leaves the old file intact.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".lessonlog-config-*")
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	tmpPath := tmp.Name()

	m := &Manager{}
	if err := m.Write(tmp, cfg); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing config file: %w", err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// Save validates cfg and overwrites the config file at path.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}
