package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr  = ":8080"
	defaultLogLevel    = "info"
	defaultContainerID = "reportContainer"
	defaultLogHistory  = 20
)

// ServerConfig represents the server runtime configuration.
type ServerConfig struct {
	Listener ListenerConfig `yaml:"listener"`
	Cron     []CronTrigger  `yaml:"cron"`
	LogLevel string         `yaml:"log_level"`
	// The path to the embed config file. Relative paths are resolved against
	// the directory of the server config file.
	EmbedConfig string `yaml:"embed_config"`
	// The id of the container the report is embedded into
	ContainerID string `yaml:"container_id"`
	// How many token cycles keep their captured logs
	LogHistory int `yaml:"log_history"`
}

// ListenerConfig holds HTTP server listener settings.
type ListenerConfig struct {
	// The listen address, defaults to :8080
	Addr string `yaml:"addr"`
	// Serve TLS when both are set. The files are re-read when they change.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TLS reports whether the listener serves TLS.
func (l ListenerConfig) TLS() bool {
	return l.CertFile != "" && l.KeyFile != ""
}

// CronTrigger runs a set of actions on a schedule.
type CronTrigger struct {
	// The actions to run, e.g. remount
	Actions []string `yaml:"actions"`
	// The cron spec to execute the actions at
	Schedule string `yaml:"schedule"`
}

// LoadConfig reads the YAML config file at the given path and returns a ServerConfig struct.
func LoadConfig(path string) (*ServerConfig, error) {
	var cfg ServerConfig
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open server config file %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode YAML server config: %w", err)
	}

	if cfg.EmbedConfig != "" && !filepath.IsAbs(cfg.EmbedConfig) {
		cfg.EmbedConfig = filepath.Join(filepath.Dir(path), cfg.EmbedConfig)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults sets reasonable default values for optional fields.
func (c *ServerConfig) SetDefaults() {
	if c.Listener.Addr == "" {
		c.Listener.Addr = defaultListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.ContainerID == "" {
		c.ContainerID = defaultContainerID
	}
	if c.LogHistory <= 0 {
		c.LogHistory = defaultLogHistory
	}
}

// Validate checks the fields that have no usable default.
func (c *ServerConfig) Validate() error {
	if c.EmbedConfig == "" {
		return errors.New("embed_config is required")
	}
	if (c.Listener.CertFile == "") != (c.Listener.KeyFile == "") {
		return errors.New("listener cert_file and key_file must be set together")
	}
	for i, t := range c.Cron {
		if len(t.Actions) == 0 {
			return fmt.Errorf("cron trigger %d has no actions", i)
		}
		if t.Schedule == "" {
			return fmt.Errorf("cron trigger %d has no schedule", i)
		}
	}
	return nil
}
