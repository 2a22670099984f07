package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Duration is a time.Duration written as "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	LogLevel       string `toml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Server         Server `toml:"server"`
	Sync           Sync   `toml:"sync"`
}

// Server locates the chat server.
type Server struct {
	SocketURL string `toml:"socket_url" validate:"required,url"`
	APIURL    string `toml:"api_url" validate:"required,url"`
	Token     string `toml:"token" validate:"required"`
	// UserID is derived from the token when empty.
	UserID string `toml:"user_id"`
}

// Sync holds the engine tunables.
type Sync struct {
	HeartbeatInterval    Duration `toml:"heartbeat_interval"`
	ReconnectDelay       Duration `toml:"reconnect_delay"`
	ReconnectMaxDelay    Duration `toml:"reconnect_max_delay"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts" validate:"gte=0"`
	TypingTimeout        Duration `toml:"typing_timeout"`
	AckTimeout           Duration `toml:"ack_timeout"`
	RecallWindow         Duration `toml:"recall_window"`
	MaxContentLength     int      `toml:"max_content_length" validate:"gte=1"`
	PageSize             int      `toml:"page_size" validate:"gte=1,lte=100"`
}

// Default returns a config with every tunable at its default.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		LogLevel:       "info",
		Sync: Sync{
			HeartbeatInterval: Duration{30 * time.Second},
			ReconnectDelay:    Duration{time.Second},
			ReconnectMaxDelay: Duration{30 * time.Second},
			TypingTimeout:     Duration{3 * time.Second},
			AckTimeout:        Duration{20 * time.Second},
			RecallWindow:      Duration{5 * time.Minute},
			MaxContentLength:  2000,
			PageSize:          20,
		},
	}
}

// Load reads config from the given path over the defaults. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the fields a daemon needs to run.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		first := vErrs[0]
		return fmt.Errorf("invalid config: %s failed %s", first.Namespace(), first.Tag())
	}
	return fmt.Errorf("invalid config: %w", err)
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
