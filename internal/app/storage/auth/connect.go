package auth

import (
	"context"
	"fmt"

	"github.com/stacklok/catalog-feed-server/internal/config"
)

// MigrationConnectionString builds the connection string used by golang-migrate,
// which opens its own connection and so cannot use a BeforeConnect hook.
// A dynamic token is embedded as the password. Without dynamic auth the
// static password is used.
func MigrationConnectionString(ctx context.Context, cfg *config.DatabaseConfig) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("database configuration is required")
	}

	user := cfg.GetMigrationUser()
	if cfg.DynamicAuth == nil {
		password, err := cfg.GetPassword()
		if err != nil {
			return "", err
		}
		return cfg.BuildConnectionStringWithAuth(user, password), nil
	}

	token, err := ResolveAuthToken(ctx, cfg, user)
	if err != nil {
		return "", fmt.Errorf("failed to resolve auth token for migration user: %w", err)
	}
	return cfg.BuildConnectionStringWithAuth(user, token), nil
}
