package syncconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AutoFlushConfig holds auto-flush settings.
type AutoFlushConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`  // nil = default true
	Debounce string `json:"debounce,omitempty"` // duration string, default "2s"
}

// SyncConfig holds sync-related settings.
type SyncConfig struct {
	URL          string          `json:"url"`
	Enabled      bool            `json:"enabled"`
	PollInterval string          `json:"poll_interval,omitempty"` // connectivity probe cadence, default "5s"
	MaxAttempts  *int            `json:"max_attempts,omitempty"`  // transient retry budget per entry
	Auto         AutoFlushConfig `json:"auto"`
}

// Config is the global tally config stored at ~/.config/tally/config.json.
type Config struct {
	Sync SyncConfig `json:"sync"`
}

// AuthCredentials stores authentication state at ~/.config/tally/auth.json.
type AuthCredentials struct {
	APIKey    string `json:"api_key"`
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	ServerURL string `json:"server_url"`
	ClientID  string `json:"client_id"`
	ExpiresAt string `json:"expires_at"`
}

const defaultServerURL = "http://localhost:8080"

// ConfigDir returns ~/.config/tally, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "tally")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the global config from ~/.config/tally/config.json.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes the global config to ~/.config/tally/config.json.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads auth credentials from ~/.config/tally/auth.json.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes auth credentials to ~/.config/tally/auth.json (0600 perms).
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes the auth.json file.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetServerURL returns the sync server URL.
// Priority: TALLY_SYNC_URL env > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("TALLY_SYNC_URL"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.URL != "" {
		return cfg.Sync.URL
	}
	return defaultServerURL
}

// GetAPIKey returns the API key.
// Priority: TALLY_AUTH_KEY env > auth.json.
func GetAPIKey() string {
	if v := os.Getenv("TALLY_AUTH_KEY"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.APIKey
	}
	return ""
}

// IsAuthenticated returns true if an API key is available.
func IsAuthenticated() bool {
	return GetAPIKey() != ""
}

// GetClientID returns this installation's client ID, generating and
// persisting one on first use. The server uses it to attribute mutations
// and scope idempotency.
func GetClientID() (string, error) {
	creds, err := LoadAuth()
	if err != nil {
		return "", err
	}
	if creds != nil && creds.ClientID != "" {
		return creds.ClientID, nil
	}
	id := uuid.NewString()
	if creds == nil {
		creds = &AuthCredentials{}
	}
	creds.ClientID = id
	if err := SaveAuth(creds); err != nil {
		return "", fmt.Errorf("persist client id: %w", err)
	}
	return id, nil
}

// GetMaxAttempts returns the per-entry transient retry budget.
// Priority: TALLY_SYNC_MAX_ATTEMPTS env > config.json sync.max_attempts > 8.
func GetMaxAttempts() int {
	if v := os.Getenv("TALLY_SYNC_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.MaxAttempts != nil && *cfg.Sync.MaxAttempts > 0 {
		return *cfg.Sync.MaxAttempts
	}
	return 8
}

// GetPollInterval returns the connectivity probe cadence.
// Priority: TALLY_SYNC_POLL env > config.json sync.poll_interval > 5s.
func GetPollInterval() time.Duration {
	if v := os.Getenv("TALLY_SYNC_POLL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.PollInterval != "" {
		if d, err := time.ParseDuration(cfg.Sync.PollInterval); err == nil {
			return d
		}
	}
	return 5 * time.Second
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := os.Getenv(envKey)
	if v == "" {
		return nil
	}
	v = strings.ToLower(v)
	if v == "1" || v == "true" {
		b := true
		return &b
	}
	if v == "0" || v == "false" {
		b := false
		return &b
	}
	return nil
}

// GetAutoFlushEnabled returns whether mutations trigger a flush attempt.
// Priority: TALLY_SYNC_AUTO env > config.json sync.auto.enabled > true
func GetAutoFlushEnabled() bool {
	if v := parseBoolEnv("TALLY_SYNC_AUTO"); v != nil {
		return *v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Auto.Enabled != nil {
		return *cfg.Sync.Auto.Enabled
	}
	return true
}

// GetAutoFlushDebounce returns the settle window after a mutation before the
// flush fires, so rapid edits coalesce into one request.
// Priority: TALLY_SYNC_AUTO_DEBOUNCE env > config.json sync.auto.debounce > 2s
func GetAutoFlushDebounce() time.Duration {
	if v := os.Getenv("TALLY_SYNC_AUTO_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Auto.Debounce != "" {
		if d, err := time.ParseDuration(cfg.Sync.Auto.Debounce); err == nil {
			return d
		}
	}
	return 2 * time.Second
}
