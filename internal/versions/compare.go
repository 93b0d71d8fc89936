package versions

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/stacklok/catalog-feed-server/internal/kvstore"
)

// StartupKey holds the version of the last binary that started against the store
const StartupKey = "server/version"

// IsNewerVersion reports whether newVersion is strictly greater than oldVersion.
// Strings that are not semver are compared lexically.
func IsNewerVersion(newVersion, oldVersion string) bool {
	newSemver, errNew := semver.NewVersion(newVersion)
	oldSemver, errOld := semver.NewVersion(oldVersion)
	if errNew != nil || errOld != nil {
		return newVersion > oldVersion
	}
	return newSemver.GreaterThan(oldSemver)
}

// RecordStartup stores current as the running version and returns the version
// recorded by the previous start, which is empty on first start
func RecordStartup(ctx context.Context, store kvstore.Store, current string) (string, error) {
	previous, err := store.Get(ctx, StartupKey)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return "", fmt.Errorf("failed to read recorded version: %w", err)
	}
	if string(previous) == current {
		return current, nil
	}
	if err := store.Set(ctx, StartupKey, []byte(current)); err != nil {
		return "", fmt.Errorf("failed to record version: %w", err)
	}
	return string(previous), nil
}
