// Package telemetry wires OpenTelemetry tracing and metrics for the catalog
// feed server. Metrics can be pushed over OTLP, scraped through a Prometheus
// endpoint, or both.
package telemetry

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultServiceName is reported when no service name is configured
	DefaultServiceName = "thv-catalog-feed"

	// DefaultEndpoint is the default OTLP HTTP endpoint
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the trace sampling ratio used when none is configured
	DefaultSampling = 0.05

	// DefaultMetricsInterval is the OTLP metric push interval
	DefaultMetricsInterval = 60 * time.Second
)

// Config is the telemetry section of the server configuration
type Config struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	ServiceName    string        `yaml:"serviceName,omitempty" mapstructure:"serviceName"`
	ServiceVersion string        `yaml:"serviceVersion,omitempty" mapstructure:"serviceVersion"`
	Endpoint       string        `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	Insecure       bool          `yaml:"insecure,omitempty" mapstructure:"insecure"`
	Tracing        TracingConfig `yaml:"tracing,omitempty" mapstructure:"tracing"`
	Metrics        MetricsConfig `yaml:"metrics,omitempty" mapstructure:"metrics"`
}

// TracingConfig controls span export
type TracingConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Sampling is the ratio of traces kept, 0 means DefaultSampling
	Sampling float64 `yaml:"sampling,omitempty" mapstructure:"sampling"`
}

// MetricsConfig controls metric export
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// OTLP pushes metrics to the collector endpoint
	OTLP bool `yaml:"otlp,omitempty" mapstructure:"otlp"`

	// Prometheus exposes metrics for scraping on /metrics
	Prometheus bool `yaml:"prometheus,omitempty" mapstructure:"prometheus"`

	Interval time.Duration `yaml:"interval,omitempty" mapstructure:"interval"`
}

func (c *Config) serviceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

func (c *Config) serviceVersion(fallback string) string {
	switch {
	case c.ServiceVersion != "":
		return c.ServiceVersion
	case fallback != "":
		return fallback
	default:
		return "unknown"
	}
}

func (c *Config) endpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

func (c *TracingConfig) sampling() float64 {
	// 0 cannot be told apart from unset in YAML
	if c.Sampling == 0 {
		return DefaultSampling
	}
	return c.Sampling
}

func (c *MetricsConfig) interval() time.Duration {
	if c.Interval <= 0 {
		return DefaultMetricsInterval
	}
	return c.Interval
}

// Validate checks the telemetry configuration. A nil or disabled config is valid.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error
	if c.Tracing.Enabled && (c.Tracing.Sampling < 0 || c.Tracing.Sampling > 1) {
		errs = append(errs, fmt.Errorf("tracing: sampling must be between 0.0 and 1.0, got %f", c.Tracing.Sampling))
	}
	if c.Metrics.Enabled {
		if !c.Metrics.OTLP && !c.Metrics.Prometheus {
			errs = append(errs, errors.New("metrics: at least one of otlp or prometheus must be enabled"))
		}
		if c.Metrics.Interval < 0 {
			errs = append(errs, fmt.Errorf("metrics: interval must not be negative, got %s", c.Metrics.Interval))
		}
	}
	return errors.Join(errs...)
}
