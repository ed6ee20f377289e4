package config

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	defaultListen       = "127.0.0.1:3000"
	defaultTimezone     = "Local"
	defaultDatabasePath = "./data/contentcal.db"
	defaultUploadDir    = "./uploads"
	defaultMaxUploadMB  = 10
	defaultAPIURL       = "http://localhost:3000"
	defaultStorePath    = "./data/calendar_app_data.json"
	defaultRefreshCron  = "*/15 * * * *"
	// Browsers typically grant around 5MB per origin for local storage.
	defaultStorageQuota = 5 * 1024 * 1024
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
//
// Either Password (plain text) or PasswordHash (argon2id, as produced by
// `contentcal hash-password`) must be set together with Username.
type BasicAuthConfig struct {
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password,omitempty" json:"password,omitempty"`
	PasswordHash string `yaml:"password_hash,omitempty" json:"password_hash,omitempty"`
}

// ClientConfig configures the local-first calendar client.
type ClientConfig struct {
	// APIURL is the backend base URL (scheme + host), e.g. "http://localhost:3000".
	APIURL string `yaml:"api_url" json:"api_url"`

	// StorePath is the file that plays the role of the browser's local
	// storage slot.
	StorePath string `yaml:"store_path" json:"store_path"`

	// StorageQuotaBytes bounds the size of a single slot write. Zero or
	// negative disables the quota.
	StorageQuotaBytes int `yaml:"storage_quota_bytes" json:"storage_quota_bytes"`

	// RefreshCron is a cron-style schedule used by `contentcal watch` to
	// re-fetch the current month.
	RefreshCron string `yaml:"refresh" json:"refresh"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used to decide which calendar day an
	// event timestamp falls on. "Local" uses the host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DatabasePath is the SQLite database file for events and images.
	DatabasePath string `yaml:"database_path" json:"database_path"`

	// UploadDir is where uploaded images are written and served from.
	UploadDir string `yaml:"upload_dir" json:"upload_dir"`

	// MaxUploadMB caps a single image upload.
	MaxUploadMB int `yaml:"max_upload_mb" json:"max_upload_mb"`

	// PublicBaseURL, if set, is used as the absolute prefix for links in
	// the ICS export. Upload responses always carry relative URLs.
	PublicBaseURL string `yaml:"public_base_url,omitempty" json:"public_base_url,omitempty"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Client ClientConfig `yaml:"client" json:"client"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       defaultListen,
		Timezone:     defaultTimezone,
		DatabasePath: defaultDatabasePath,
		UploadDir:    defaultUploadDir,
		MaxUploadMB:  defaultMaxUploadMB,
		BasicAuth:    nil,
		Client: ClientConfig{
			APIURL:            defaultAPIURL,
			StorePath:         defaultStorePath,
			StorageQuotaBytes: defaultStorageQuota,
			RefreshCron:       defaultRefreshCron,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.DatabasePath == "" {
		c.DatabasePath = defaultDatabasePath
	}
	if c.UploadDir == "" {
		c.UploadDir = defaultUploadDir
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = defaultMaxUploadMB
	}
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")

	if c.Client.APIURL == "" {
		c.Client.APIURL = defaultAPIURL
	}
	c.Client.APIURL = strings.TrimRight(c.Client.APIURL, "/")
	if c.Client.StorePath == "" {
		c.Client.StorePath = defaultStorePath
	}
	if c.Client.RefreshCron == "" {
		c.Client.RefreshCron = defaultRefreshCron
	}
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return err
	}

	// atomic.WriteFile keeps the mode of an existing file but creates new
	// files with the default temp file mode.
	return os.Chmod(path, 0o600)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
