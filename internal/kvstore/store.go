// Package kvstore provides the key-value persistence layer used for destination
// records, generation state and scheduler jobs.
//
// Every Set and Delete is an independent atomic write. No multi-key transaction
// is offered, and callers must not depend on one.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when the key does not exist
var ErrNotFound = errors.New("key not found")

// Store is a flat key-value store with prefix deletion
type Store interface {
	// Get returns the value stored under key, or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix
	DeletePrefix(ctx context.Context, prefix string) error
}

// GetJSON loads key into v. It reports false when the key does not exist.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode value for key '%s': %w", key, err)
	}
	return true, nil
}

// SetJSON stores v under key as JSON
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode value for key '%s': %w", key, err)
	}
	return s.Set(ctx, key, data)
}

// Key joins key segments with '/'
func Key(parts ...string) string {
	return strings.Join(parts, "/")
}
