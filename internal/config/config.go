package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/antonkrylov/termhost/internal/terminal"
)

const (
	// EnvPrefix prefixes every environment override, e.g. TERMHOST_SERVER_LISTEN.
	EnvPrefix = "TERMHOST"
	// HomeEnv relocates the directory holding the config file and the daemon lock.
	HomeEnv = "TERMHOST_HOME"

	configFileName = "config.yaml"
	lockFileName   = "termhostd.lock"
)

// Config models the shared termhost file: daemon settings under server and
// kubeconfig-style client contexts.
type Config struct {
	Server         Server              `yaml:"server" envconfig:"SERVER"`
	CurrentContext string              `yaml:"currentContext" split_words:"true"`
	Contexts       map[string]*Context `yaml:"contexts" ignored:"true"`
}

// Server configures termhostd.
type Server struct {
	Listen        string          `yaml:"listen"`
	MetricsListen string          `yaml:"metricsListen" split_words:"true"`
	LockFile      string          `yaml:"lockFile" split_words:"true"`
	LogLevel      string          `yaml:"logLevel" split_words:"true"`
	RunAs         string          `yaml:"runAs" split_words:"true"`
	Helper        Helper          `yaml:"helper" envconfig:"HELPER"`
	Events        Events          `yaml:"events" envconfig:"EVENTS"`
	Limits        terminal.Limits `yaml:"limits" envconfig:"LIMITS"`
}

// Helper switches user-scoped spawns to the privilege-dropping helper when
// Command is set.
type Helper struct {
	Command   string   `yaml:"command"`
	Wrapper   []string `yaml:"wrapper"`
	SocketDir string   `yaml:"socketDir" split_words:"true"`
}

// Events configures NATS lifecycle publishing. An empty URL disables it.
type Events struct {
	URL           string `yaml:"url"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	SubjectPrefix string `yaml:"subjectPrefix" split_words:"true"`
	Stream        string `yaml:"stream"`
}

// Context encodes connection details for a termhostd endpoint.
type Context struct {
	Server         string `yaml:"server"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	TLS            bool   `yaml:"tls"`
	ServiceID      string `yaml:"serviceId"`
}

// ErrContextNotFound indicates the requested context is missing.
var ErrContextNotFound = errors.New("context not found")

// Default returns the built-in server settings.
func Default() *Config {
	return &Config{
		Server: Server{
			Listen:        "127.0.0.1:7447",
			MetricsListen: "127.0.0.1:9447",
			LockFile:      filepath.Join(DefaultConfigDir(), lockFileName),
			LogLevel:      "info",
			Limits:        terminal.DefaultLimits(),
		},
	}
}

// DefaultConfigDir is $TERMHOST_HOME, or ~/.termhost. Without a home directory
// it falls back to the system temp dir so the daemon lock still has a place.
func DefaultConfigDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "termhost")
	}
	return filepath.Join(home, ".termhost")
}

// DefaultConfigPath is the config file shared by termhostd and termctl.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), configFileName)
}

// Load decodes the config file. Missing files return (nil, nil).
func Load(path string) (*Config, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	expanded, err := expandPath(trimmed)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Resolve layers defaults, the file at path and TERMHOST_* environment
// variables, in that order.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = Default()
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if cfg.Server.LockFile != "" {
		if cfg.Server.LockFile, err = expandPath(cfg.Server.LockFile); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Save writes the config to disk, creating parent directories if needed.
func (c *Config) Save(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path is required")
	}
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	return os.WriteFile(expanded, data, 0o600)
}

// Context picks a context either by explicit name or the currentContext value.
func (c *Config) Context(name string) (*Context, string, error) {
	if c == nil {
		return nil, "", nil
	}
	ctxName := strings.TrimSpace(name)
	if ctxName == "" {
		ctxName = c.CurrentContext
	}
	if ctxName == "" {
		return nil, "", nil
	}
	ctx, ok := c.Contexts[ctxName]
	if !ok {
		return nil, ctxName, fmt.Errorf("%w: %s", ErrContextNotFound, ctxName)
	}
	return ctx, ctxName, nil
}

func expandPath(path string) (string, error) {
	switch {
	case strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	case path == "~":
		return os.UserHomeDir()
	case filepath.IsAbs(path):
		return path, nil
	default:
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(cwd, path), nil
	}
}
