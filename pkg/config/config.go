package config

import (
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

//go:embed config.toml.sample
var configTemplate string

const (
	templateStorageDir = "/home/user/.local/share/pulse"
	templateSecret     = "change-me"
)

type Config struct {
	ListenAddr    string         `toml:"listen_addr"`
	StorageDir    string         `toml:"storage_dir"`
	Database      string         `toml:"database"`
	DebugServices []string       `toml:"debug_services"`
	Auth          AuthConfig     `toml:"auth"`
	Realtime      RealtimeConfig `toml:"realtime"`
	Server        ServerConfig   `toml:"server"`
}

type AuthConfig struct {
	JWTSecret  string   `toml:"jwt_secret"`
	CookieName string   `toml:"cookie_name"`
	TokenTTL   Duration `toml:"token_ttl"`
}

type RealtimeConfig struct {
	// SendBuffer is the number of events queued per connection before new
	// events are dropped for it.
	SendBuffer     int      `toml:"send_buffer"`
	WriteWait      Duration `toml:"write_wait"`
	PongWait       Duration `toml:"pong_wait"`
	MaxMessageSize int64    `toml:"max_message_size"`
	EchoToSender   bool     `toml:"echo_to_sender"`
	// DeliverUnenriched pushes notifications whose sender profile could not
	// be loaded instead of skipping them.
	DeliverUnenriched bool `toml:"deliver_unenriched"`
}

type ServerConfig struct {
	CORSOrigin      string   `toml:"cors_origin"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// envOverrides are read from PULSE_* variables and win over the file.
type envOverrides struct {
	ListenAddr string `envconfig:"LISTEN_ADDR"`
	JWTSecret  string `envconfig:"JWT_SECRET"`
	CORSOrigin string `envconfig:"CORS_ORIGIN"`
	StorageDir string `envconfig:"STORAGE_DIR"`
}

func defaults() *Config {
	return &Config{
		ListenAddr: "localhost:5000",
		Database:   "pulse.db",
		Auth: AuthConfig{
			CookieName: "token",
			TokenTTL:   Duration{7 * 24 * time.Hour},
		},
		Realtime: RealtimeConfig{
			SendBuffer:        256,
			WriteWait:         Duration{10 * time.Second},
			PongWait:          Duration{60 * time.Second},
			MaxMessageSize:    64 * 1024,
			EchoToSender:      true,
			DeliverUnenriched: true,
		},
		Server: ServerConfig{
			CORSOrigin:      "http://localhost:5173",
			ShutdownTimeout: Duration{30 * time.Second},
		},
	}
}

func GetDefaultConfig() (*Config, error) {
	cfg := defaults()
	storageDir, err := GetDefaultStorageDir()
	if err != nil {
		return nil, fmt.Errorf("getting default storage directory: %w", err)
	}
	cfg.StorageDir = storageDir
	return cfg, nil
}

// LoadConfig reads configPath on top of the defaults and applies PULSE_*
// environment overrides. A missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.StorageDir == "" {
		storageDir, err := GetDefaultStorageDir()
		if err != nil {
			return nil, fmt.Errorf("getting default storage directory: %w", err)
		}
		cfg.StorageDir = storageDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("pulse", &env); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	if env.ListenAddr != "" {
		c.ListenAddr = env.ListenAddr
	}
	if env.JWTSecret != "" {
		c.Auth.JWTSecret = env.JWTSecret
	}
	if env.CORSOrigin != "" {
		c.Server.CORSOrigin = env.CORSOrigin
	}
	if env.StorageDir != "" {
		c.StorageDir = env.StorageDir
	}
	return nil
}

// Validate rejects settings the server cannot run with. A missing JWT
// secret is checked when the server starts, so that commands which never
// issue or verify tokens keep working without one.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive, got %d", c.Realtime.SendBuffer)
	}
	if c.Realtime.MaxMessageSize <= 0 {
		return fmt.Errorf("realtime.max_message_size must be positive, got %d", c.Realtime.MaxMessageSize)
	}
	if c.Realtime.WriteWait.Duration <= 0 || c.Realtime.PongWait.Duration <= 0 {
		return fmt.Errorf("realtime.write_wait and realtime.pong_wait must be positive")
	}
	if c.Auth.TokenTTL.Duration <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	return nil
}

// DBPath returns the database file. A relative database setting is resolved
// inside StorageDir.
func (c *Config) DBPath() string {
	if filepath.IsAbs(c.Database) {
		return c.Database
	}
	return filepath.Join(c.StorageDir, c.Database)
}

func (c *Config) SaveConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0600)
}

// SaveTemplateConfig writes the commented sample configuration with this
// config's storage directory and a freshly generated JWT secret.
func (c *Config) SaveTemplateConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	template, err := c.generateConfigTemplate()
	if err != nil {
		return fmt.Errorf("generating config template: %w", err)
	}
	return os.WriteFile(configPath, []byte(template), 0600)
}

func (c *Config) generateConfigTemplate() (string, error) {
	storageDir := c.StorageDir
	if storageDir == "" {
		var err error
		storageDir, err = GetDefaultStorageDir()
		if err != nil {
			return "", fmt.Errorf("getting default storage directory: %w", err)
		}
	}

	secret := c.Auth.JWTSecret
	if secret == "" {
		var err error
		if secret, err = randomSecret(); err != nil {
			return "", err
		}
	}

	template := strings.Replace(configTemplate, templateStorageDir, storageDir, 1)
	template = strings.Replace(template, templateSecret, secret, 1)
	return template, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating jwt secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GetDefaultStorageDir returns the default storage directory for the database
func GetDefaultStorageDir() (string, error) {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	pulseDir := filepath.Join(dataDir, "pulse")
	if err := os.MkdirAll(pulseDir, 0755); err != nil {
		return "", fmt.Errorf("creating storage directory %s: %w", pulseDir, err)
	}

	return pulseDir, nil
}

// GetConfigDir returns the configuration directory for pulse
func GetConfigDir() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	pulseConfigDir := filepath.Join(configDir, "pulse")
	if err := os.MkdirAll(pulseConfigDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory %s: %w", pulseConfigDir, err)
	}

	return pulseConfigDir, nil
}

// GetDefaultConfigPath returns the default configuration file path
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}
