// Package config reads the server settings from the environment.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// EnvPrefix prefixes every variable the server reads.
const EnvPrefix = "TIMETRIAL_"

// Config holds the server settings.
type Config struct {
	Port         int           `env:"PORT" envDefault:"9999"`
	DataDir      string        `env:"DATA_DIR" envDefault:"data"`
	ExportDir    string        `env:"EXPORT_DIR" envDefault:"exports"`
	Encrypt      bool          `env:"ENCRYPT"`
	SaveDebounce time.Duration `env:"SAVE_DEBOUNCE" envDefault:"400ms"`

	SerialBaud     int           `env:"SERIAL_BAUD" envDefault:"9600"`
	SerialRetry    time.Duration `env:"SERIAL_RETRY" envDefault:"10s"`
	SerialRescan   time.Duration `env:"SERIAL_RESCAN" envDefault:"30s"`
	SerialDisabled bool          `env:"SERIAL_DISABLED"`

	NATSURL    string `env:"NATS_URL"`
	NATSPrefix string `env:"NATS_PREFIX" envDefault:"timetrial"`

	DefaultsFile string `env:"DEFAULTS_FILE" envDefault:"timetrial.yaml"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: EnvPrefix})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: EnvPrefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("%w: port %d", ErrInvalid, cfg.Port)
	}
	if cfg.SaveDebounce <= 0 {
		return Config{}, fmt.Errorf("%w: save debounce %s", ErrInvalid, cfg.SaveDebounce)
	}
	return cfg, nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// StatePath is where the GameState document lives.
func (c Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.json")
}

// SessionsPath is where the submitted sessions live.
func (c Config) SessionsPath() string {
	return filepath.Join(c.DataDir, "sessions.json")
}

// Level is the configured log level; unknown values fall back to info.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
