package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "HARVESTOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultBaseURL is the default experiment-tracking API endpoint.
	DefaultBaseURL = "https://api.wandb.ai"

	// DefaultMetric is the default history key harvested from remote runs.
	DefaultMetric = "eval/poleval"

	// DefaultStep is the default history key used as the step axis.
	DefaultStep = "global_step"

	// DefaultTimeout bounds every remote API request.
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize is the number of history steps requested per page.
	DefaultPageSize = 100000

	// DefaultRunsPerPage is the number of runs requested per listing page.
	DefaultRunsPerPage = 50

	// DefaultMaxResponseSize caps a single remote response body.
	DefaultMaxResponseSize = "1GB"

	// DefaultS3Region is used when no S3 region is configured.
	DefaultS3Region = "us-east-1"

	// DefaultS3Prefix is the key prefix for snapshots stored in S3.
	DefaultS3Prefix = "snapshots"
)

// Config is the root configuration for harvestoor.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Local    LocalConfig    `yaml:"local" mapstructure:"local"`
	Remote   RemoteConfig   `yaml:"remote" mapstructure:"remote"`
	Snapshot SnapshotConfig `yaml:"snapshot" mapstructure:"snapshot"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// LocalConfig controls harvesting of a local event-log directory tree.
type LocalConfig struct {
	LogDir       string `yaml:"log_dir" mapstructure:"log_dir"`
	FilterTag    string `yaml:"filter_tag,omitempty" mapstructure:"filter_tag"`
	IncludeEmpty bool   `yaml:"include_empty" mapstructure:"include_empty"`
	// Workers bounds parallel file extraction. Zero uses the host parallelism.
	Workers int `yaml:"workers,omitempty" mapstructure:"workers"`
}

// RemoteConfig controls harvesting from the remote tracking service.
type RemoteConfig struct {
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Project           string        `yaml:"project" mapstructure:"project"`
	Tag               string        `yaml:"tag" mapstructure:"tag"`
	Metric            string        `yaml:"metric" mapstructure:"metric"`
	Step              string        `yaml:"step" mapstructure:"step"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	PageSize          int           `yaml:"page_size" mapstructure:"page_size"`
	RunsPerPage       int           `yaml:"runs_per_page" mapstructure:"runs_per_page"`
	RequestsPerSecond float64       `yaml:"requests_per_second,omitempty" mapstructure:"requests_per_second"`
	MaxResponseSize   string        `yaml:"max_response_size" mapstructure:"max_response_size"`
}

// SnapshotConfig selects where harvest snapshots are written.
type SnapshotConfig struct {
	Path string    `yaml:"path,omitempty" mapstructure:"path"`
	S3   *S3Config `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3Config contains settings for storing snapshots in S3-compatible storage.
type S3Config struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

// defaults maps every known key to its default value. Registering all keys
// with viper is what makes environment overrides work for keys that are
// absent from the config file.
var defaults = map[string]any{
	"global.log_level":              DefaultLogLevel,
	"local.log_dir":                 "",
	"local.filter_tag":              "",
	"local.include_empty":           false,
	"local.workers":                 0,
	"remote.base_url":               DefaultBaseURL,
	"remote.api_key":                "",
	"remote.project":                "",
	"remote.tag":                    "",
	"remote.metric":                 DefaultMetric,
	"remote.step":                   DefaultStep,
	"remote.timeout":                DefaultTimeout,
	"remote.page_size":              DefaultPageSize,
	"remote.runs_per_page":          DefaultRunsPerPage,
	"remote.requests_per_second":    0.0,
	"remote.max_response_size":      DefaultMaxResponseSize,
	"snapshot.path":                 "",
	"snapshot.s3.enabled":           false,
	"snapshot.s3.endpoint_url":      "",
	"snapshot.s3.region":            "",
	"snapshot.s3.bucket":            "",
	"snapshot.s3.access_key_id":     "",
	"snapshot.s3.secret_access_key": "",
	"snapshot.s3.force_path_style":  false,
	"snapshot.s3.prefix":            "",
}

// Load reads and merges the given configuration files in order (later files
// win), applies HARVESTOOR_* environment overrides and fills in defaults.
// With no paths, the configuration is built from defaults and environment.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Credentials and endpoint follow the tracking client's own variables too.
	if err := v.BindEnv("remote.api_key", EnvPrefix+"_REMOTE_API_KEY", "WANDB_API_KEY"); err != nil {
		return nil, fmt.Errorf("binding env: %w", err)
	}

	if err := v.BindEnv("remote.base_url", EnvPrefix+"_REMOTE_BASE_URL", "WANDB_BASE_URL"); err != nil {
		return nil, fmt.Errorf("binding env: %w", err)
	}

	for _, path := range paths {
		data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}

		if err := v.MergeConfigMap(raw); err != nil {
			return nil, fmt.Errorf("merging config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for options left empty by the sources.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Remote.BaseURL == "" {
		c.Remote.BaseURL = DefaultBaseURL
	}

	c.Remote.BaseURL = strings.TrimRight(c.Remote.BaseURL, "/")

	if c.Remote.Metric == "" {
		c.Remote.Metric = DefaultMetric
	}

	if c.Remote.Step == "" {
		c.Remote.Step = DefaultStep
	}

	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = DefaultTimeout
	}

	if c.Remote.PageSize == 0 {
		c.Remote.PageSize = DefaultPageSize
	}

	if c.Remote.RunsPerPage == 0 {
		c.Remote.RunsPerPage = DefaultRunsPerPage
	}

	if c.Remote.MaxResponseSize == "" {
		c.Remote.MaxResponseSize = DefaultMaxResponseSize
	}

	if s3 := c.Snapshot.S3; s3 != nil {
		if s3.Region == "" {
			s3.Region = DefaultS3Region
		}

		if s3.Prefix == "" {
			s3.Prefix = DefaultS3Prefix
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("remote: %w", err)
	}

	if c.Local.Workers < 0 {
		return fmt.Errorf("local: workers must not be negative, got %d", c.Local.Workers)
	}

	if s3 := c.Snapshot.S3; s3 != nil && s3.Enabled && s3.Bucket == "" {
		return fmt.Errorf("snapshot: s3 bucket is required when s3 is enabled")
	}

	return nil
}

// Validate checks the remote harvesting settings.
func (r *RemoteConfig) Validate() error {
	if r.Metric == r.Step {
		return fmt.Errorf("metric and step must differ, both are %q", r.Metric)
	}

	if r.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", r.PageSize)
	}

	if r.RunsPerPage <= 0 {
		return fmt.Errorf("runs_per_page must be positive, got %d", r.RunsPerPage)
	}

	if r.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", r.Timeout)
	}

	if r.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}

	if _, err := r.MaxResponseBytes(); err != nil {
		return err
	}

	return nil
}

// MaxResponseBytes parses MaxResponseSize ("512MB", "1GiB", ...) into bytes.
func (r *RemoteConfig) MaxResponseBytes() (int64, error) {
	n, err := units.RAMInBytes(r.MaxResponseSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max_response_size %q: %w", r.MaxResponseSize, err)
	}

	if n <= 0 {
		return 0, fmt.Errorf("max_response_size must be positive, got %q", r.MaxResponseSize)
	}

	return n, nil
}

// S3Enabled reports whether snapshots go to S3 instead of the local filesystem.
func (s *SnapshotConfig) S3Enabled() bool {
	return s.S3 != nil && s.S3.Enabled
}
