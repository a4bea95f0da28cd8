// Package config loads settings from defaults, an optional YAML file and
// INTERVIEW_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jwulff/interview/internal/archive"
	"github.com/jwulff/interview/internal/logging"
	"github.com/jwulff/interview/internal/session"
	"github.com/jwulff/interview/internal/transport"
)

// Config is the top-level configuration structure.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Session SessionConfig `mapstructure:"session"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Logging LoggingConfig `mapstructure:"logging"`
	Mock    MockConfig    `mapstructure:"mock"`
}

// APIConfig locates the interview backend.
type APIConfig struct {
	URL     string        `mapstructure:"url"`
	WSURL   string        `mapstructure:"ws_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AuthConfig carries the candidate credential.
type AuthConfig struct {
	Token string `mapstructure:"token"`
}

// SessionConfig tunes the live session.
type SessionConfig struct {
	MaxReplyLength  int             `mapstructure:"max_reply_length"`
	ResponseTimeout time.Duration   `mapstructure:"response_timeout"`
	Reconnect       ReconnectConfig `mapstructure:"reconnect"`
}

// ReconnectConfig is the automatic reconnect policy.
type ReconnectConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Initial     time.Duration `mapstructure:"initial"`
	Max         time.Duration `mapstructure:"max"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// ArchiveConfig controls the local transcript archive.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds settings for the logger.
type LoggingConfig struct {
	Directory  string `mapstructure:"directory"`
	Level      string `mapstructure:"level"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// MockConfig configures the scripted backend.
type MockConfig struct {
	Listen string `mapstructure:"listen"`
	Script string `mapstructure:"script"`
	Token  string `mapstructure:"token"`
}

// ReconnectPolicy converts the settings for the session.
func (c SessionConfig) ReconnectPolicy() session.ReconnectPolicy {
	return session.ReconnectPolicy{
		Enabled: c.Reconnect.Enabled,
		Backoff: transport.Backoff{
			Initial:    c.Reconnect.Initial,
			Max:        c.Reconnect.Max,
			Multiplier: c.Reconnect.Multiplier,
		},
		MaxAttempts: c.Reconnect.MaxAttempts,
	}
}

// Options converts the settings for logging.Init.
func (c LoggingConfig) Options(name string) logging.Options {
	return logging.Options{
		Name:       name,
		Directory:  c.Directory,
		Level:      c.Level,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
		Console:    c.Console,
	}
}

// WebsocketURL returns api.ws_url, or api.url when it is unset.
func (c APIConfig) WebsocketURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	return c.URL
}

// setDefaults sets the default values for the configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("api.url", "http://localhost:8000")
	v.SetDefault("api.ws_url", "")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("auth.token", "")

	v.SetDefault("session.max_reply_length", session.DefaultMaxReplyLength)
	v.SetDefault("session.response_timeout", 0)
	v.SetDefault("session.reconnect.enabled", true)
	v.SetDefault("session.reconnect.initial", time.Second)
	v.SetDefault("session.reconnect.max", 30*time.Second)
	v.SetDefault("session.reconnect.multiplier", 2.0)
	v.SetDefault("session.reconnect.max_attempts", 0)

	v.SetDefault("archive.enabled", true)
	v.SetDefault("archive.path", archive.DefaultPath())

	v.SetDefault("logging.directory", defaultLogDir())
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size", 10)   // 10 MB
	v.SetDefault("logging.max_backups", 3) // Keep 3 backups
	v.SetDefault("logging.max_age", 7)     // 7 days
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.console", false)

	v.SetDefault("mock.listen", ":8000")
	v.SetDefault("mock.script", "")
	v.SetDefault("mock.token", "")
}

func defaultLogDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "logs"
	}
	return filepath.Join(dir, "interview", "logs")
}

// Source is a loaded configuration that can be watched for changes.
type Source struct {
	v *viper.Viper

	mu  sync.RWMutex
	cfg *Config
}

// Load reads the configuration. file may be empty, in which case config.yaml
// is looked up in ./config and the user config directory; a missing file is
// not an error.
func Load(file string) (*Source, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath("config")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "interview"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("INTERVIEW") // e.g., INTERVIEW_AUTH_TOKEN
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return &Source{v: v, cfg: cfg}, nil
}

// Config returns the current configuration.
func (s *Source) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// File returns the config file in use, or "" when running on defaults.
func (s *Source) File() string {
	return s.v.ConfigFileUsed()
}

// Watch reloads the configuration when its file changes and passes the new
// value to onChange. It does nothing without a config file.
func (s *Source) Watch(log *zap.Logger, onChange func(*Config)) {
	if s.File() == "" {
		return
	}
	s.v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("Configuration file changed, reloading", zap.String("file", e.Name))
		cfg := &Config{}
		if err := s.v.Unmarshal(cfg); err != nil {
			log.Error("Error reloading configuration", zap.Error(err))
			return
		}
		s.mu.Lock()
		s.cfg = cfg
		s.mu.Unlock()
		if onChange != nil {
			onChange(cfg)
		}
	})
	s.v.WatchConfig()
}
