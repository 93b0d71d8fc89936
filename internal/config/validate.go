package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	marketKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	currencyPattern  = regexp.MustCompile(`^[A-Z]{3}$`)
)

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := c.Feed.validate(); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	if err := c.validateCatalog(); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if err := c.validateStorage(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.validateRegistration(); err != nil {
		return err
	}
	if err := c.Database.validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// validate checks the feed section. An empty market list is accepted: the
// server then stays in pending_config until markets are configured.
func (f *FeedConfig) validate() error {
	seen := make(map[string]bool, len(f.Markets))
	for i, m := range f.Markets {
		if !marketKeyPattern.MatchString(m.Key) {
			return fmt.Errorf("markets[%d]: key must be non-empty and contain only letters, digits and underscores", i)
		}
		key := strings.ToUpper(m.Key)
		if seen[key] {
			return fmt.Errorf("markets[%d]: duplicate market '%s'", i, key)
		}
		seen[key] = true

		if m.Currency != "" && !currencyPattern.MatchString(m.Currency) {
			return fmt.Errorf("markets[%d] (%s): currency must be an ISO 4217 code, got '%s'", i, key, m.Currency)
		}
	}

	if f.PublicBaseURL == "" {
		return fmt.Errorf("publicBaseURL is required")
	}
	if err := validateHTTPURL(f.PublicBaseURL); err != nil {
		return fmt.Errorf("publicBaseURL: %w", err)
	}

	if f.BatchSize < 0 {
		return fmt.Errorf("batchSize must not be negative, got %d", f.BatchSize)
	}
	if f.MaxRetriesPerBatch != nil && *f.MaxRetriesPerBatch < 0 {
		return fmt.Errorf("maxRetriesPerBatch must not be negative, got %d", *f.MaxRetriesPerBatch)
	}

	for name, raw := range map[string]string{
		"waitOnErrorBeforeRetry": f.WaitOnErrorBeforeRetry,
		"stallTimeout":           f.StallTimeout,
		"regenerateInterval":     f.RegenerateInterval,
	} {
		if err := validateDuration(name, raw); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateCatalog() error {
	switch c.GetCatalogType() {
	case CatalogTypeFile:
		if c.Catalog.File == nil || c.Catalog.File.Path == "" {
			return fmt.Errorf("file.path is required for catalog type %s", CatalogTypeFile)
		}
	case CatalogTypeDatabase:
		if c.Database == nil {
			return fmt.Errorf("database configuration is required for catalog type %s", CatalogTypeDatabase)
		}
	default:
		return fmt.Errorf("type must be %s or %s, got '%s'", CatalogTypeFile, CatalogTypeDatabase, c.Catalog.Type)
	}

	if c.Catalog.CacheSize < 0 {
		return fmt.Errorf("cacheSize must not be negative, got %d", c.Catalog.CacheSize)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.GetStorageType() {
	case StorageTypeFile:
		return nil
	case StorageTypeDatabase:
		if c.Database == nil {
			return fmt.Errorf("database configuration is required for storage type %s", StorageTypeDatabase)
		}
		return nil
	default:
		return fmt.Errorf("type must be %s or %s, got '%s'", StorageTypeFile, StorageTypeDatabase, c.Storage.Type)
	}
}

func (c *Config) validateRegistration() error {
	if c.Remote != nil {
		if c.Remote.Endpoint == "" {
			return fmt.Errorf("remote: endpoint is required")
		}
		if err := validateHTTPURL(c.Remote.Endpoint); err != nil {
			return fmt.Errorf("remote: endpoint: %w", err)
		}
		if err := validateDuration("remote.timeout", c.Remote.Timeout); err != nil {
			return err
		}
		if c.Remote.RequestsPerSecond < 0 {
			return fmt.Errorf("remote: requestsPerSecond must not be negative")
		}
	}

	if !c.RegistrationEnabled() {
		return nil
	}
	if c.Remote == nil {
		return fmt.Errorf("registration: remote configuration is required when registration is enabled")
	}
	if c.Registration.Merchant.Name == "" {
		return fmt.Errorf("registration: merchant.name is required")
	}
	if c.Registration.Merchant.WebsiteURL != "" {
		if err := validateHTTPURL(c.Registration.Merchant.WebsiteURL); err != nil {
			return fmt.Errorf("registration: merchant.websiteURL: %w", err)
		}
	}
	return validateDuration("registration.interval", c.Registration.Interval)
}

func (d *DatabaseConfig) validate() error {
	if d == nil {
		return nil
	}
	if d.Host == "" || d.Database == "" || d.User == "" {
		return fmt.Errorf("host, user and database are required")
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", d.Port)
	}
	if d.DynamicAuth != nil && d.DynamicAuth.AWSRDSIAM != nil && d.DynamicAuth.AWSRDSIAM.Region == "" {
		return fmt.Errorf("dynamicAuth.awsRdsIam.region is required")
	}
	return validateDuration("connMaxLifetime", d.ConnMaxLifetime)
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got '%s'", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

func validateDuration(name, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30m', '1h'): %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, raw)
	}
	return nil
}
