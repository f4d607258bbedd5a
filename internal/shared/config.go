package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Sync        SyncConfig        `toml:"sync"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// Map returns the credentials in the form accepted by services.NewSpotifyService.
func (c SpotifyConfig) Map() map[string]string {
	return map[string]string{
		"client_id":     c.ClientID,
		"client_secret": c.ClientSecret,
		"redirect_uri":  c.RedirectURI,
	}
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// SyncConfig tunes pagination, batching, retries and scheduling of library reconciliation.
type SyncConfig struct {
	PageSize              int `toml:"page_size"`
	PageDelayMS           int `toml:"page_delay_ms"`
	BatchLimit            int `toml:"batch_limit"`
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
	MaxAttempts           int `toml:"max_attempts"`
	InitialBackoffMS      int `toml:"initial_backoff_ms"`
	MaxBackoffMS          int `toml:"max_backoff_ms"`
	RefreshMarginSeconds  int `toml:"refresh_margin_seconds"`
	IntervalMinutes       int `toml:"interval_minutes"`
	Workers               int `toml:"workers"`
	StaleAfterMinutes     int `toml:"stale_after_minutes"`
}

// RetryPolicy converts the retry settings into a [RetryPolicy], falling back to [DefaultRetryPolicy] per field.
func (s SyncConfig) RetryPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	if s.MaxAttempts > 0 {
		p.MaxAttempts = s.MaxAttempts
	}
	if s.InitialBackoffMS > 0 {
		p.InitialInterval = time.Duration(s.InitialBackoffMS) * time.Millisecond
	}
	if s.MaxBackoffMS > 0 {
		p.MaxInterval = time.Duration(s.MaxBackoffMS) * time.Millisecond
	}
	if s.RequestTimeoutSeconds > 0 {
		p.Timeout = time.Duration(s.RequestTimeoutSeconds) * time.Second
	}
	return p
}

// PageDelay is the minimum spacing between liked-track page requests.
func (s SyncConfig) PageDelay() time.Duration {
	return time.Duration(s.PageDelayMS) * time.Millisecond
}

// RefreshMargin is how close to expiry a token may be before it is refreshed ahead of use.
func (s SyncConfig) RefreshMargin() time.Duration {
	return time.Duration(s.RefreshMarginSeconds) * time.Second
}

// Interval is the period between scheduled reconciliations.
func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// StaleAfter is the age after which an in-progress claim is considered abandoned.
func (s SyncConfig) StaleAfter() time.Duration {
	return time.Duration(s.StaleAfterMinutes) * time.Minute
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig encodes config as TOML and writes it to path, replacing any existing file.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
