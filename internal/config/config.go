// Package config provides configuration loading and management for the catalog feed server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/catalog-feed-server/internal/destination"
	"github.com/stacklok/catalog-feed-server/internal/telemetry"
)

// EnvPrefix is the prefix of every environment variable read by the server
const EnvPrefix = "THV_CATALOG_FEED"

const (
	// CatalogTypeFile reads products from a JSON export on disk
	CatalogTypeFile = "file"

	// CatalogTypeDatabase reads products from the catalog_products table
	CatalogTypeDatabase = "database"
)

const (
	// StorageTypeFile keeps state in a JSON document guarded by a file lock
	StorageTypeFile = "file"

	// StorageTypeDatabase keeps state in the kv_store table
	StorageTypeDatabase = "database"
)

const (
	defaultOutputDir          = "./data/feeds"
	defaultStoragePath        = "./data/state"
	defaultRegenerateInterval = 24 * time.Hour
	defaultRegisterInterval   = 10 * time.Minute
	defaultFeedName           = "Catalog feed"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks; this also cleans the path
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}
		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Feed         FeedConfig          `yaml:"feed"`
	Catalog      CatalogConfig       `yaml:"catalog"`
	Remote       *RemoteConfig       `yaml:"remote,omitempty"`
	Registration *RegistrationConfig `yaml:"registration,omitempty"`
	Storage      *StorageConfig      `yaml:"storage,omitempty"`
	Database     *DatabaseConfig     `yaml:"database,omitempty"`
	Telemetry    *telemetry.Config   `yaml:"telemetry,omitempty"`
}

// FeedConfig defines the markets and output of the generated feed
type FeedConfig struct {
	Markets []MarketConfig `yaml:"markets"`

	// OutputDir holds the temp and final feed files
	OutputDir string `yaml:"outputDir,omitempty"`

	// PublicBaseURL is the URL under which OutputDir is served
	PublicBaseURL string `yaml:"publicBaseURL"`

	FilePrefix         string `yaml:"filePrefix,omitempty"`
	BatchSize          int    `yaml:"batchSize,omitempty"`
	MaxRetriesPerBatch *int   `yaml:"maxRetriesPerBatch,omitempty"`

	// Durations, e.g. "1h" or "30m"
	WaitOnErrorBeforeRetry string `yaml:"waitOnErrorBeforeRetry,omitempty"`
	StallTimeout           string `yaml:"stallTimeout,omitempty"`
	RegenerateInterval     string `yaml:"regenerateInterval,omitempty"`
}

// MarketConfig defines one target market
type MarketConfig struct {
	Key      string `yaml:"key"`
	Country  string `yaml:"country"`
	Locale   string `yaml:"locale"`
	Currency string `yaml:"currency"`
}

// CatalogConfig selects where products are read from
type CatalogConfig struct {
	Type string `yaml:"type"`

	File *CatalogFileConfig `yaml:"file,omitempty"`

	// CacheSize bounds the number of products kept in memory during a cycle
	CacheSize int `yaml:"cacheSize,omitempty"`
}

// CatalogFileConfig defines a JSON product export
type CatalogFileConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig defines the remote catalog service connection
type RemoteConfig struct {
	Endpoint string `yaml:"endpoint"`

	// TokenFile contains the bearer token; THV_CATALOG_FEED_REMOTE_TOKEN is used otherwise
	TokenFile string `yaml:"tokenFile,omitempty"`

	Timeout           string  `yaml:"timeout,omitempty"`
	MaxTries          uint    `yaml:"maxTries,omitempty"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty"`
}

// RegistrationConfig controls feed registration with the remote service
type RegistrationConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Interval string         `yaml:"interval,omitempty"`
	FeedName string         `yaml:"feedName,omitempty"`
	Merchant MerchantConfig `yaml:"merchant"`
}

// MerchantConfig describes the merchant account created on first registration
type MerchantConfig struct {
	Name       string `yaml:"name"`
	WebsiteURL string `yaml:"websiteURL"`
	Country    string `yaml:"country,omitempty"`
	Locale     string `yaml:"locale,omitempty"`
}

// StorageConfig selects the persistence layer for destinations, state and scheduled steps
type StorageConfig struct {
	Type string             `yaml:"type"`
	File *FileStorageConfig `yaml:"file,omitempty"`
}

// FileStorageConfig defines file-based storage settings
type FileStorageConfig struct {
	BaseDir string `yaml:"baseDir"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`

	// MigrationUser owns the schema; User is used when empty
	MigrationUser string `yaml:"migrationUser,omitempty"`

	// PasswordFile is the path to a file containing the database password.
	// Trailing whitespace is trimmed.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// DynamicAuth replaces the static password with short-lived tokens
	DynamicAuth *DynamicAuthConfig `yaml:"dynamicAuth,omitempty"`

	Database string `yaml:"database"`

	// SSLMode is one of disable, require, verify-ca, verify-full
	SSLMode string `yaml:"sslMode,omitempty"`

	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// DynamicAuthConfig selects a token-based authentication method
type DynamicAuthConfig struct {
	AWSRDSIAM *DynamicAuthAWSRDSIAM `yaml:"awsRdsIam,omitempty"`
}

// DynamicAuthAWSRDSIAM authenticates with AWS RDS IAM tokens
type DynamicAuthAWSRDSIAM struct {
	// Region of the database, or "detect" to read it from instance metadata
	Region string `yaml:"region"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetMarkets converts the configured markets. Keys are upper-cased.
func (c *Config) GetMarkets() []destination.Market {
	markets := make([]destination.Market, 0, len(c.Feed.Markets))
	for _, m := range c.Feed.Markets {
		markets = append(markets, destination.Market{
			Key:      destination.MarketKey(strings.ToUpper(m.Key)),
			Country:  m.Country,
			Locale:   m.Locale,
			Currency: m.Currency,
		})
	}
	return markets
}

// GetOutputDir returns the feed file directory
func (c *Config) GetOutputDir() string {
	if c.Feed.OutputDir == "" {
		return defaultOutputDir
	}
	return c.Feed.OutputDir
}

// GetMaxRetriesPerBatch returns the configured retry budget, or -1 to use the generator default
func (c *Config) GetMaxRetriesPerBatch() int {
	if c.Feed.MaxRetriesPerBatch == nil {
		return -1
	}
	return *c.Feed.MaxRetriesPerBatch
}

// GetWaitOnErrorBeforeRetry returns the cooldown after a failed cycle, zero meaning the default
func (c *Config) GetWaitOnErrorBeforeRetry() time.Duration {
	return parseDurationOr(c.Feed.WaitOnErrorBeforeRetry, 0)
}

// GetStallTimeout returns how long an in-progress cycle may be idle, zero meaning the default
func (c *Config) GetStallTimeout() time.Duration {
	return parseDurationOr(c.Feed.StallTimeout, 0)
}

// GetRegenerateInterval returns the interval of the recurring generation trigger
func (c *Config) GetRegenerateInterval() time.Duration {
	return parseDurationOr(c.Feed.RegenerateInterval, defaultRegenerateInterval)
}

// GetCatalogType returns the catalog source type, defaulting to file
func (c *Config) GetCatalogType() string {
	if c.Catalog.Type == "" {
		return CatalogTypeFile
	}
	return c.Catalog.Type
}

// GetStorageType returns the storage type, defaulting to file
func (c *Config) GetStorageType() string {
	if c.Storage == nil || c.Storage.Type == "" {
		return StorageTypeFile
	}
	return c.Storage.Type
}

// GetFileStorageBaseDir returns the base directory of file storage
func (c *Config) GetFileStorageBaseDir() string {
	if c.Storage == nil || c.Storage.File == nil || c.Storage.File.BaseDir == "" {
		return defaultStoragePath
	}
	return c.Storage.File.BaseDir
}

// RegistrationEnabled reports whether feeds are registered with the remote service
func (c *Config) RegistrationEnabled() bool {
	return c.Registration != nil && c.Registration.Enabled
}

// GetRegisterInterval returns the interval of the recurring registration trigger
func (c *Config) GetRegisterInterval() time.Duration {
	if c.Registration == nil {
		return defaultRegisterInterval
	}
	return parseDurationOr(c.Registration.Interval, defaultRegisterInterval)
}

// GetFeedName returns the prefix of remote feed profile names
func (c *Config) GetFeedName() string {
	if c.Registration == nil || c.Registration.FeedName == "" {
		return defaultFeedName
	}
	return c.Registration.FeedName
}

// GetTelemetry returns the telemetry configuration, disabled when not set
func (c *Config) GetTelemetry() telemetry.Config {
	if c.Telemetry == nil {
		return telemetry.Config{}
	}
	return *c.Telemetry
}

// GetTimeout returns the per-request timeout, zero meaning the client default
func (r *RemoteConfig) GetTimeout() time.Duration {
	return parseDurationOr(r.Timeout, 0)
}

// GetToken returns the bearer token using the following priority:
// 1. Read from TokenFile if specified
// 2. Read from the THV_CATALOG_FEED_REMOTE_TOKEN environment variable
//
// An empty token sends unauthenticated requests.
func (r *RemoteConfig) GetToken() (string, error) {
	if r.TokenFile != "" {
		data, err := os.ReadFile(filepath.Clean(r.TokenFile))
		if err != nil {
			return "", fmt.Errorf("failed to read token from file %s: %w", r.TokenFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return os.Getenv(EnvPrefix + "_REMOTE_TOKEN"), nil
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from the THV_CATALOG_FEED_DATABASE_PASSWORD environment variable
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		data, err := os.ReadFile(filepath.Clean(d.PasswordFile))
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(EnvPrefix + "_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s_DATABASE_PASSWORD environment variable", EnvPrefix,
	)
}

// GetConnectionString builds a PostgreSQL connection string for User.
// With dynamic auth the password is left out; it is supplied per connection.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	if d.DynamicAuth != nil {
		return d.BuildConnectionStringWithAuth(d.User, ""), nil
	}

	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}
	return d.BuildConnectionStringWithAuth(d.User, password), nil
}

// GetMigrationUser returns the user that applies migrations
func (d *DatabaseConfig) GetMigrationUser() string {
	if d.MigrationUser != "" {
		return d.MigrationUser
	}
	return d.User
}

// BuildConnectionStringWithAuth builds a connection string for user.
// An empty password is omitted. The password is URL-escaped.
func (d *DatabaseConfig) BuildConnectionStringWithAuth(user, password string) string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	userInfo := url.User(user)
	if password != "" {
		userInfo = url.UserPassword(user, password)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     userInfo,
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Database,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	return u.String()
}

// GetConnMaxLifetime returns the connection lifetime, zero meaning no limit
func (d *DatabaseConfig) GetConnMaxLifetime() time.Duration {
	return parseDurationOr(d.ConnMaxLifetime, 0)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
