package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	operrors "op/internal/errors"
	"op/shared/utils"
)

const (
	CompressionDeflate = "deflate"
	CompressionZstd    = "zstd"
	CompressionStore   = "store"
)

// DefaultTemplate is the template name that maps to the top-level default
// section.
const DefaultTemplate = "default"

var templateNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Config is the user's ~/.op/op.yaml.
type Config struct {
	LogLevel      string              `yaml:"log_level"`
	Author        string              `yaml:"author"`
	DeployableDir string              `yaml:"deployable_dir"`
	Server        ServerConfig        `yaml:"server"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Default       Template            `yaml:"default"`
	Templates     map[string]Template `yaml:"templates,omitempty"`
}

type ServerConfig struct {
	Host           string `yaml:"host"`
	SSHKey         string `yaml:"ssh_key"`
	User           string `yaml:"user,omitempty"`
	ConnectTimeout int    `yaml:"connect_timeout"`
}

type ArchiveConfig struct {
	Compression string `yaml:"compression"`
}

// Template lists what `op init` scaffolds. Deployables are names under
// DeployableDir copied into the repo's deployable/ folder.
type Template struct {
	Folders     []string `yaml:"folders"`
	Files       []string `yaml:"files"`
	Deployables []string `yaml:"deployables"`
}

func (t Template) Empty() bool {
	return len(t.Folders) == 0 && len(t.Files) == 0 && len(t.Deployables) == 0
}

// DefaultPath honors OP_CONFIG, falling back to ~/.op/op.yaml.
func DefaultPath() string {
	if p := os.Getenv("OP_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".op", "op.yaml")
	}
	return filepath.Join(home, ".op", "op.yaml")
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{Host: "127.0.0.1"},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()
	if err := cfg.normalizeTemplates(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// EnsureDefault writes a default config to path if none exists. It reports
// whether a file was created.
func EnsureDefault(path string) (bool, error) {
	path = os.ExpandEnv(path)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("checking config file: %w", err)
	}

	cfg := Default()
	cfg.DeployableDir = filepath.Join(filepath.Dir(path), "opsdb")
	if err := os.MkdirAll(cfg.DeployableDir, 0755); err != nil {
		return false, fmt.Errorf("creating deployable dir: %w", err)
	}
	if err := cfg.Save(path); err != nil {
		return false, err
	}
	return true, nil
}

// Save writes the config as YAML, atomically.
func (c *Config) Save(path string) error {
	path = os.ExpandEnv(path)
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := utils.WriteFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) expandEnv() {
	c.DeployableDir = os.ExpandEnv(c.DeployableDir)
	c.Server.Host = os.ExpandEnv(c.Server.Host)
	c.Server.SSHKey = os.ExpandEnv(c.Server.SSHKey)
	c.Server.User = os.ExpandEnv(c.Server.User)
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.Author == "" {
		c.Author = "op-user"
	}
	if c.Archive.Compression == "" {
		c.Archive.Compression = CompressionDeflate
	}
	if c.Server.ConnectTimeout == 0 {
		c.Server.ConnectTimeout = 10
	}
	if c.DeployableDir == "" {
		c.DeployableDir = filepath.Join(filepath.Dir(DefaultPath()), "opsdb")
	}
	if strings.HasPrefix(c.DeployableDir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			c.DeployableDir = filepath.Join(home, c.DeployableDir[2:])
		}
	}
}

// normalizeTemplates rekeys templates by lower-cased name. Two names that
// differ only by case are rejected.
func (c *Config) normalizeTemplates() error {
	if len(c.Templates) == 0 {
		return nil
	}
	seen := make(map[string]string, len(c.Templates))
	templates := make(map[string]Template, len(c.Templates))
	for _, name := range utils.SortedKeys(c.Templates) {
		lower := strings.ToLower(name)
		if prev, ok := seen[lower]; ok {
			return operrors.ValidationError(
				fmt.Sprintf("templates %q and %q differ only by case", prev, name), []string{prev, name})
		}
		seen[lower] = name
		templates[lower] = c.Templates[name]
	}
	c.Templates = templates
	return nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}

	switch c.Archive.Compression {
	case CompressionDeflate, CompressionZstd, CompressionStore:
	default:
		return fmt.Errorf("invalid archive.compression: %s (must be deflate, zstd, or store)", c.Archive.Compression)
	}

	if c.Server.ConnectTimeout < 0 {
		return fmt.Errorf("server.connect_timeout must not be negative")
	}

	for name := range c.Templates {
		if err := ValidateTemplateName(name); err != nil {
			return err
		}
	}
	return nil
}

// ServerUser returns the configured user, or the ssh key's file name up to
// the first underscore (alice_ed25519 -> alice).
func (c *Config) ServerUser() string {
	if c.Server.User != "" {
		return c.Server.User
	}
	if c.Server.SSHKey == "" {
		return ""
	}
	stem := strings.TrimSuffix(filepath.Base(c.Server.SSHKey), filepath.Ext(c.Server.SSHKey))
	user, _, _ := strings.Cut(stem, "_")
	return user
}
