package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default endpoints
	defaultTokenURL   = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	defaultAPIBaseURL = "https://api.powerbi.com/v1.0/myorg"
	defaultScope      = "https://analysis.windows.net/powerbi/api/.default"

	// Default timeouts
	defaultRequestTimeout = 30 * time.Second
	defaultCycleTimeout   = 2 * time.Minute

	// Default filter settings
	defaultFilterSchema = "http://powerbi.com/product/schema#basic"
	defaultFilterTable  = "Country"
	defaultFilterColumn = "country_name"
	defaultFilterValue  = "INDIA"

	// Default monitoring settings
	defaultMetricsPrefix = "embedflow"
	defaultJobName       = "embedflow"

	// Default logging settings
	defaultLogLevel  = "info"
	defaultLogFormat = "json"
	defaultLogOutput = "stdout"

	// Environment overrides for credentials
	envClientID     = "EMBEDFLOW_CLIENT_ID"
	envClientSecret = "EMBEDFLOW_CLIENT_SECRET"
)

// Config represents the complete application configuration
type Config struct {
	Report      ReportConfig      `yaml:"report"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Endpoints   EndpointsConfig   `yaml:"endpoints"`
	Timeouts    TimeoutsConfig    `yaml:"timeouts"`
	Filter      FilterConfig      `yaml:"filter"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ReportConfig identifies the report to embed.
// WorkspaceID and ReportID may be empty; that is reported at mount time
// rather than rejected at load time.
type ReportConfig struct {
	WorkspaceID string `yaml:"workspace_id"`
	ReportID    string `yaml:"report_id"`
	DatasetID   string `yaml:"dataset_id"`
}

// CredentialsConfig holds the OAuth client credentials
type CredentialsConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Scope        string `yaml:"scope"`
}

// EndpointsConfig holds the remote service locations
type EndpointsConfig struct {
	// TokenURL is the OAuth token endpoint
	TokenURL string `yaml:"token_url"`

	// APIBaseURL is the reporting service base, e.g. https://api.powerbi.com/v1.0/myorg
	APIBaseURL string `yaml:"api_base_url"`
}

// TimeoutsConfig defines various timeout durations
type TimeoutsConfig struct {
	// Request bounds a single HTTP call
	Request time.Duration `yaml:"request"`

	// Cycle bounds how long a caller waits for a token cycle to settle
	Cycle time.Duration `yaml:"cycle"`
}

// FilterConfig describes the filter appended to the report once it has loaded
type FilterConfig struct {
	Schema string   `yaml:"schema"`
	Table  string   `yaml:"table"`
	Column string   `yaml:"column"`
	Values []string `yaml:"values"`
}

// MonitoringConfig defines metrics settings
type MonitoringConfig struct {
	VictoriaMetricsURL string `yaml:"victoria_metrics_url"`
	MetricsPrefix      string `yaml:"metrics_prefix"`
	JobName            string `yaml:"job_name"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

// Validate performs basic validation on the configuration
func (c *Config) Validate() error {
	if c.Endpoints.TokenURL == "" {
		return fmt.Errorf("token URL is required")
	}
	if c.Endpoints.APIBaseURL == "" {
		return fmt.Errorf("API base URL is required")
	}
	if c.Credentials.Scope == "" {
		return fmt.Errorf("credentials scope is required")
	}
	if c.Timeouts.Request <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.Timeouts.Cycle <= 0 {
		return fmt.Errorf("cycle timeout must be positive")
	}
	if c.Filter.Table == "" || c.Filter.Column == "" {
		return fmt.Errorf("filter table and column are required")
	}
	if len(c.Filter.Values) == 0 {
		return fmt.Errorf("filter requires at least one value")
	}
	return nil
}

// SetDefaults sets reasonable default values for optional fields
func (c *Config) SetDefaults() {
	if c.Endpoints.TokenURL == "" {
		c.Endpoints.TokenURL = defaultTokenURL
	}
	if c.Endpoints.APIBaseURL == "" {
		c.Endpoints.APIBaseURL = defaultAPIBaseURL
	}
	c.Endpoints.APIBaseURL = strings.TrimRight(c.Endpoints.APIBaseURL, "/")
	if c.Credentials.Scope == "" {
		c.Credentials.Scope = defaultScope
	}
	if c.Timeouts.Request == 0 {
		c.Timeouts.Request = defaultRequestTimeout
	}
	if c.Timeouts.Cycle == 0 {
		c.Timeouts.Cycle = defaultCycleTimeout
	}
	if c.Filter.Schema == "" {
		c.Filter.Schema = defaultFilterSchema
	}
	if c.Filter.Table == "" {
		c.Filter.Table = defaultFilterTable
	}
	if c.Filter.Column == "" {
		c.Filter.Column = defaultFilterColumn
	}
	if len(c.Filter.Values) == 0 {
		c.Filter.Values = []string{defaultFilterValue}
	}
	if c.Monitoring.MetricsPrefix == "" {
		c.Monitoring.MetricsPrefix = defaultMetricsPrefix
	}
	if c.Monitoring.JobName == "" {
		c.Monitoring.JobName = defaultJobName
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = defaultLogOutput
	}
}

// ApplyEnv overrides the client credentials from the environment when set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(envClientID); ok && v != "" {
		c.Credentials.ClientID = v
	}
	if v, ok := lookup(envClientSecret); ok && v != "" {
		c.Credentials.ClientSecret = v
	}
}

// Redacted returns a copy that is safe to display.
func (c Config) Redacted() Config {
	if c.Credentials.ClientSecret != "" {
		c.Credentials.ClientSecret = "REDACTED"
	}
	c.Filter.Values = append([]string(nil), c.Filter.Values...)
	return c
}

// LoadConfig reads the YAML config file at the given path and returns a Config struct
func LoadConfig(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode YAML config: %w", err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
