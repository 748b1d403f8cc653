package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the client configuration.
type Config struct {
	// APIBaseURL is the base URL of the OrderDesk backend.
	APIBaseURL string `json:"api_base_url" mapstructure:"api_base_url"`
	// HubURL is the websocket URL of the notification hub.
	HubURL string `json:"hub_url" mapstructure:"hub_url"`
	// StateDir is where the session record is persisted.
	StateDir string `json:"state_dir" mapstructure:"state_dir"`
	// RequestTimeout bounds every HTTP request.
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
	// RefreshThreshold is how long before expiry the proactive refresh runs.
	RefreshThreshold time.Duration `json:"refresh_threshold" mapstructure:"refresh_threshold"`
	// Verbose enables debug logging.
	Verbose bool `json:"verbose" mapstructure:"verbose"`
}

// Default returns the default configuration.
func Default() *Config {
	stateDir := ".orderdesk"
	if home, err := os.UserHomeDir(); err == nil {
		stateDir = filepath.Join(home, ".orderdesk")
	}
	return &Config{
		APIBaseURL:       "http://localhost:8080",
		HubURL:           "ws://localhost:8080/hub/notifications",
		StateDir:         stateDir,
		RequestTimeout:   10 * time.Second,
		RefreshThreshold: 5 * time.Minute,
	}
}

// Load reads configuration from the given file (optional) and ORDERDESK_*
// environment variables, layered over the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults := Default()
	v.SetDefault("api_base_url", defaults.APIBaseURL)
	v.SetDefault("hub_url", defaults.HubURL)
	v.SetDefault("state_dir", defaults.StateDir)
	v.SetDefault("request_timeout", defaults.RequestTimeout)
	v.SetDefault("refresh_threshold", defaults.RefreshThreshold)
	v.SetDefault("verbose", false)

	v.SetEnvPrefix("ORDERDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
