// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config holds the bridge configuration.
type Config struct {
	// DataDir holds the credential record and other local state.
	DataDir string `yaml:"data_dir"`
	// DeviceName is how the bridge appears in the phone's linked devices.
	DeviceName string `yaml:"device_name"`

	API       APIConfig         `yaml:"api"`
	Media     MediaConfig       `yaml:"media"`
	Reconnect ReconnectConfig   `yaml:"reconnect"`
	Logging   zeroconfig.Config `yaml:"logging"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MediaConfig limits fetching of media sources.
type MediaConfig struct {
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// MaxSize is the largest media source accepted, in bytes.
	MaxSize int64 `yaml:"max_size"`
	// AllowLocalFiles lets API callers name local files as media sources.
	AllowLocalFiles bool `yaml:"allow_local_files"`
}

// ReconnectConfig tunes the control loop.
type ReconnectConfig struct {
	// RetryDelay applies only when a session could not be set up at all.
	RetryDelay time.Duration `yaml:"retry_delay"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess fills defaults and expands the home directory in paths.
func (c *Config) PostProcess() error {
	if c.DataDir == "" {
		c.DataDir = "~/.wabridge"
	}
	dir, err := expandHome(c.DataDir)
	if err != nil {
		return err
	}
	c.DataDir = dir
	if c.DeviceName == "" {
		c.DeviceName = "WABridge"
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":3000"
	}
	if c.API.ReadTimeout <= 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout <= 0 {
		c.API.WriteTimeout = 2 * time.Minute
	}
	if c.Media.FetchTimeout <= 0 {
		c.Media.FetchTimeout = time.Minute
	}
	if c.Media.MaxSize <= 0 {
		c.Media.MaxSize = 64 << 20
	}
	if c.Reconnect.RetryDelay <= 0 {
		c.Reconnect.RetryDelay = DefaultRetryDelay
	}
	return nil
}

// AuthDir is the well-known location of the credential record.
func (c *Config) AuthDir() string {
	return filepath.Join(c.DataDir, "auth_store")
}

// SetPort replaces the port of the API listen address.
func (c *Config) SetPort(port string) {
	host := c.API.ListenAddr
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	c.API.ListenAddr = host + ":" + port
}

// NewLogger builds the root logger. Without configured writers it logs in
// a human-readable format to a terminal and as JSON otherwise.
func (c *Config) NewLogger() (*zerolog.Logger, error) {
	if len(c.Logging.Writers) > 0 {
		log, err := c.Logging.Compile()
		if err != nil {
			return nil, fmt.Errorf("failed to compile logging config: %w", err)
		}
		return log, nil
	}
	var log zerolog.Logger
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log = zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stderr
			w.TimeFormat = time.TimeOnly
		}))
	} else {
		log = zerolog.New(os.Stderr)
	}
	level := zerolog.InfoLevel
	if c.Logging.MinLevel != nil {
		level = *c.Logging.MinLevel
	}
	log = log.Level(level).With().Timestamp().Logger()
	return &log, nil
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "data_dir")
	helper.Copy(up.Str, "device_name")
	helper.Copy(up.Str, "api", "listen_addr")
	helper.Copy(up.Str, "api", "read_timeout")
	helper.Copy(up.Str, "api", "write_timeout")
	helper.Copy(up.Str, "media", "fetch_timeout")
	helper.Copy(up.Int, "media", "max_size")
	helper.Copy(up.Bool, "media", "allow_local_files")
	helper.Copy(up.Str, "reconnect", "retry_delay")
	helper.Copy(up.Map, "logging")
}

// DefaultConfigPath returns ~/.wabridge/config.yaml.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wabridge", "config.yaml")
}

// LoadConfig reads the config at path, writing the example config first if
// the file does not exist. Keys missing from an existing file are filled in
// from the example and saved back.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err = os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		if err = os.WriteFile(path, []byte(ExampleConfig), 0600); err != nil {
			return nil, fmt.Errorf("failed to write example config: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}

	data, _, err := up.Do(path, true, &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Base:           ExampleConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err = cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("failed to post-process config: %w", err)
	}
	return &cfg, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
