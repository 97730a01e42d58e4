// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrOutsideDataDir is returned for export targets that leave the data directory
var ErrOutsideDataDir = errors.New("path is outside the data directory")

// Config holds resolved paths and runtime settings
type Config struct {
	HomeDir    string `yaml:"-"`
	DataDir    string `yaml:"-"`
	LogDir     string `yaml:"-"`
	SandboxDir string `yaml:"-"`

	Model      ModelConfig      `yaml:"model"`
	Preview    PreviewConfig    `yaml:"preview"`
	Errors     ErrorsConfig     `yaml:"errors"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// ModelConfig selects the model service
type ModelConfig struct {
	Host        string  `yaml:"host"`
	Name        string  `yaml:"name"`
	Temperature float64 `yaml:"temperature"`
}

// PreviewConfig drives the sandbox controller
type PreviewConfig struct {
	ManifestPath   string        `yaml:"manifest_path"`
	InstallCommand []string      `yaml:"install_command"`
	DevCommand     []string      `yaml:"dev_command"`
	MountTimeout   time.Duration `yaml:"mount_timeout"`
	InstallTimeout time.Duration `yaml:"install_timeout"`
	StartTimeout   time.Duration `yaml:"start_timeout"`
	UsePTY         bool          `yaml:"use_pty"`
	SyncDeletions  bool          `yaml:"sync_deletions"`
	WatchDebounce  time.Duration `yaml:"watch_debounce"`
}

// ErrorsConfig bounds error extraction and batching
type ErrorsConfig struct {
	QuietWindow  time.Duration `yaml:"quiet_window"`
	SummaryLimit int           `yaml:"summary_limit"`
	DetailLimit  int           `yaml:"detail_limit"`
	KeyLimit     int           `yaml:"key_limit"`
}

// CheckpointConfig controls snapshot storage
type CheckpointConfig struct {
	Intern           bool `yaml:"intern"`
	CompressionLevel int  `yaml:"compression_level"`
}

// ServerConfig configures the websocket server
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	AuthKey string `yaml:"auth_key"`
	// AllowedOrigins are browser origins, besides the server itself, that
	// may open the websocket
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Host:        "http://127.0.0.1:11434",
			Name:        "qwen2.5-coder:7b",
			Temperature: 0.2,
		},
		Preview: PreviewConfig{
			ManifestPath:   "/package.json",
			InstallCommand: []string{"npm", "install"},
			DevCommand:     []string{"npm", "run", "dev"},
			MountTimeout:   30 * time.Second,
			InstallTimeout: 5 * time.Minute,
			StartTimeout:   2 * time.Minute,
			SyncDeletions:  true,
			WatchDebounce:  300 * time.Millisecond,
		},
		Errors: ErrorsConfig{
			QuietWindow:  2 * time.Second,
			SummaryLimit: 200,
			DetailLimit:  500,
			KeyLimit:     120,
		},
		Checkpoint: CheckpointConfig{
			Intern:           true,
			CompressionLevel: 3,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:5180",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load creates a Config with resolved paths, merged with the optional
// config file and ASKH_* environment overrides
func Load() (*Config, error) {
	home := os.Getenv("ASKH_HOME")
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		home = filepath.Join(userHome, ".askh")
	}

	cfg := Default()
	cfg.HomeDir = home
	cfg.DataDir = filepath.Join(home, "data")
	cfg.LogDir = filepath.Join(home, "logs")
	cfg.SandboxDir = filepath.Join(home, "sandboxes")

	// Ensure directories exist
	for _, dir := range []string{cfg.HomeDir, cfg.DataDir, cfg.LogDir, cfg.SandboxDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadFile(Path(home)); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	cfg.loadEnv()

	return cfg, nil
}

// Path returns the config file location: $XDG_CONFIG_HOME/askh/config.yaml
// when XDG_CONFIG_HOME is set, otherwise config.yaml in the askh home.
func Path(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "askh", "config.yaml")
	}
	return filepath.Join(home, "config.yaml")
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Expand environment variables in the config file
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	if v := os.Getenv("ASKH_MODEL"); v != "" {
		c.Model.Name = v
	}
	if v := os.Getenv("ASKH_MODEL_HOST"); v != "" {
		c.Model.Host = v
	} else if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.Model.Host = v
	}
	if v := os.Getenv("ASKH_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("ASKH_AUTH_KEY"); v != "" {
		c.Server.AuthKey = v
	}
	if v := os.Getenv("ASKH_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("ASKH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("ASKH_USE_PTY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Preview.UsePTY = b
		}
	}
	if v := os.Getenv("ASKH_SYNC_DELETIONS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Preview.SyncDeletions = b
		}
	}
}

// GetSandboxPath returns the working directory of a workspace's sandbox
func (c *Config) GetSandboxPath(workspaceID string) string {
	return filepath.Join(c.SandboxDir, workspaceID)
}

// GetTimelinePath returns where a workspace's checkpoint timeline is saved
func (c *Config) GetTimelinePath(workspaceID string) string {
	return filepath.Join(c.DataDir, workspaceID+".json")
}

// ExportPath resolves name inside the data directory's exports folder.
// Absolute names and names that climb out of it are refused.
func (c *Config) ExportPath(name string) (string, error) {
	root := filepath.Join(c.DataDir, "exports")
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrOutsideDataDir, name)
	}
	target := filepath.Join(root, filepath.Clean(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideDataDir, name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", err
	}
	return target, nil
}

// EnsureAuthKey returns the websocket auth key. Without a configured key
// one is generated once and kept in the askh home with owner-only access.
func (c *Config) EnsureAuthKey() (string, error) {
	if c.Server.AuthKey != "" {
		return c.Server.AuthKey, nil
	}

	path := c.AuthKeyPath()
	if data, err := os.ReadFile(path); err == nil {
		if key := strings.TrimSpace(string(data)); key != "" {
			c.Server.AuthKey = key
			return key, nil
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	key := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := os.WriteFile(path, []byte(key+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to write auth key: %w", err)
	}
	c.Server.AuthKey = key
	return key, nil
}

// AuthKeyPath returns where a generated auth key is kept
func (c *Config) AuthKeyPath() string {
	return filepath.Join(c.HomeDir, "auth_key")
}
