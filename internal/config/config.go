// Package config handles conductor.yaml and YAML scenario file parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"conductor/internal/collector"

	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config is the root configuration structure.
type Config struct {
	Name        string                `yaml:"name"`
	Tests       []string              `yaml:"tests"`
	Timeout     time.Duration         `yaml:"timeout"`
	StepTimeout time.Duration         `yaml:"stepTimeout"`
	Retry       RetryConfig           `yaml:"retry"`
	Helpers     HelpersConfig         `yaml:"helpers"`
	Plugins     map[string]PluginArgs `yaml:"plugins,omitempty"`
	Vocabulary  map[string]string     `yaml:"vocabulary,omitempty"`
	Workers     int                   `yaml:"workers"`
	DryRun      bool                  `yaml:"dryRun"`
	Grep        string                `yaml:"grep"`
	Invert      bool                  `yaml:"invert"`
	Thresholds  *collector.Thresholds `yaml:"thresholds,omitempty"`
	Output      OutputConfig          `yaml:"output"`
	Telemetry   TelemetryConfig       `yaml:"telemetry"`
}

// RetryConfig sets how often each kind of hook and every scenario is retried.
type RetryConfig struct {
	Before      int `yaml:"before"`
	After       int `yaml:"after"`
	BeforeSuite int `yaml:"beforeSuite"`
	AfterSuite  int `yaml:"afterSuite"`
	Scenario    int `yaml:"scenario"`
}

// HelpersConfig enables built-in helpers. A nil entry disables the helper.
type HelpersConfig struct {
	REST *RESTConfig `yaml:"rest,omitempty"`
	Web  *WebConfig  `yaml:"web,omitempty"`
}

// RESTConfig configures the REST helper.
type RESTConfig struct {
	Endpoint string            `yaml:"endpoint"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
	Debug    bool              `yaml:"debug"`
}

// WebConfig configures the HTML helper.
type WebConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PluginArgs is the free-form configuration block of one plugin.
// `enabled: false` turns a listed plugin off.
type PluginArgs map[string]any

// Enabled reports whether the plugin should be loaded.
func (p PluginArgs) Enabled() bool {
	v, ok := p["enabled"].(bool)
	return !ok || v
}

// Decode re-reads the block into a typed struct using its yaml tags.
func (p PluginArgs) Decode(out any) error {
	raw, err := yaml.Marshal(map[string]any(p))
	if err != nil {
		return fmt.Errorf("encoding plugin config: %w", err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding plugin config: %w", err)
	}
	return nil
}

// OutputConfig controls the final report.
type OutputConfig struct {
	Format string `yaml:"format"`
	File   string `yaml:"file"`
	Store  string `yaml:"store"` // sqlite database path, empty disables
}

// TelemetryConfig enables metrics and tracing.
type TelemetryConfig struct {
	MetricsAddr string `yaml:"metricsAddr"`
	Tracing     bool   `yaml:"tracing"`
	// TraceFile receives spans as JSON lines; empty writes them to stderr.
	TraceFile string `yaml:"traceFile"`
}

// ThrottleConfig is the throttle plugin's block.
type ThrottleConfig struct {
	Rate   float64         `yaml:"rate"`
	Phases []ThrottlePhase `yaml:"phases"`
}

// ThrottlePhase is one segment of the step rate schedule. Rate holds the rate
// steady; StartRate and EndRate ramp linearly across Duration.
type ThrottlePhase struct {
	Name      string        `yaml:"name"`
	Duration  time.Duration `yaml:"duration"`
	Rate      float64       `yaml:"rate"`
	StartRate float64       `yaml:"startRate"`
	EndRate   float64       `yaml:"endRate"`
}

// TotalDuration returns the sum of all phase durations.
func (tc *ThrottleConfig) TotalDuration() time.Duration {
	var total time.Duration
	for _, p := range tc.Phases {
		total += p.Duration
	}
	return total
}

// Default returns a configuration with defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "conductor"
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Output.Format == "" {
		c.Output.Format = FormatText
	}
	if c.Helpers.REST != nil && c.Helpers.REST.Timeout == 0 {
		c.Helpers.REST.Timeout = 10 * time.Second
	}
	if c.Helpers.Web != nil && c.Helpers.Web.Timeout == 0 {
		c.Helpers.Web.Timeout = 10 * time.Second
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative"))
	}
	if c.StepTimeout < 0 {
		errs = append(errs, fmt.Errorf("stepTimeout must not be negative"))
	}
	for name, n := range map[string]int{
		"retry.before":      c.Retry.Before,
		"retry.after":       c.Retry.After,
		"retry.beforeSuite": c.Retry.BeforeSuite,
		"retry.afterSuite":  c.Retry.AfterSuite,
		"retry.scenario":    c.Retry.Scenario,
	} {
		if n < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	switch c.Output.Format {
	case FormatText, FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("output.format must be %q or %q, got %q", FormatText, FormatJSON, c.Output.Format))
	}
	if c.Helpers.REST != nil && c.Helpers.REST.Endpoint == "" {
		errs = append(errs, errors.New("helpers.rest.endpoint is required"))
	}
	for alias, method := range c.Vocabulary {
		if method == "" {
			errs = append(errs, fmt.Errorf("vocabulary %q maps to an empty method", alias))
		}
	}
	if t := c.Thresholds; t != nil && t.StepRetries != nil && *t.StepRetries < 0 {
		errs = append(errs, errors.New("thresholds.step_retries must not be negative"))
	}
	if p, ok := c.Plugins["throttle"]; ok && p.Enabled() {
		var tc ThrottleConfig
		if err := p.Decode(&tc); err != nil {
			errs = append(errs, fmt.Errorf("plugins.throttle: %w", err))
		} else if err := tc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("plugins.throttle: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks rates and phase durations.
func (tc *ThrottleConfig) Validate() error {
	var errs []error
	if tc.Rate < 0 {
		errs = append(errs, errors.New("rate must not be negative"))
	}
	for i, p := range tc.Phases {
		if p.Duration <= 0 {
			errs = append(errs, fmt.Errorf("phase %d (%s): duration must be positive", i, p.Name))
		}
		if p.Rate < 0 || p.StartRate < 0 || p.EndRate < 0 {
			errs = append(errs, fmt.Errorf("phase %d (%s): rates must not be negative", i, p.Name))
		}
	}
	return errors.Join(errs...)
}

// LoadConfig reads and parses a YAML configuration file and applies defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.ApplyDefaults()

	return &cfg, nil
}
