package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// storeFactories lists every Store implementation the shared contract runs against
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()

	factories := map[string]func(t *testing.T) Store{
		"memory": func(_ *testing.T) Store {
			return NewMemoryStore()
		},
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
	}

	if connString := os.Getenv("THV_CATALOG_FEED_TEST_DATABASE_URL"); connString != "" {
		factories["postgres"] = func(t *testing.T) Store {
			pool, err := pgxpool.New(context.Background(), connString)
			require.NoError(t, err)
			t.Cleanup(pool.Close)
			_, err = pool.Exec(context.Background(), `DELETE FROM kv_store WHERE starts_with(key, 'test/')`)
			require.NoError(t, err)
			return NewPostgresStore(pool)
		}
	}
	return factories
}

func TestStoreContract(t *testing.T) {
	t.Parallel()

	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			_, err := s.Get(ctx, "test/missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "test/a", []byte("one")))
			require.NoError(t, s.Set(ctx, "test/a", []byte("two")))
			value, err := s.Get(ctx, "test/a")
			require.NoError(t, err)
			assert.Equal(t, []byte("two"), value)

			require.NoError(t, s.Delete(ctx, "test/a"))
			_, err = s.Get(ctx, "test/a")
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting a missing key is fine
			require.NoError(t, s.Delete(ctx, "test/a"))

			require.NoError(t, s.Set(ctx, "test/feed/1", []byte("x")))
			require.NoError(t, s.Set(ctx, "test/feed/2", []byte("y")))
			require.NoError(t, s.Set(ctx, "test/other", []byte("z")))
			require.NoError(t, s.DeletePrefix(ctx, "test/feed/"))

			_, err = s.Get(ctx, "test/feed/1")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.Get(ctx, "test/feed/2")
			assert.ErrorIs(t, err, ErrNotFound)
			value, err = s.Get(ctx, "test/other")
			require.NoError(t, err)
			assert.Equal(t, []byte("z"), value)
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	var out sample
	found, err := GetJSON(ctx, s, "sample", &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, SetJSON(ctx, s, "sample", sample{Name: "eu", Count: 3}))
	found, err = GetJSON(ctx, s, "sample", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, sample{Name: "eu", Count: 3}, out)

	require.NoError(t, s.Set(ctx, "broken", []byte("{not json")))
	_, err = GetJSON(ctx, s, "broken", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "feed/abc/state/status", Key("feed", "abc", "state", "status"))
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "feed/id", []byte(`"abc"`)))

	second, err := NewFileStore(dir)
	require.NoError(t, err)
	value, err := second.Get(ctx, "feed/id")
	require.NoError(t, err)
	assert.Equal(t, []byte(`"abc"`), value)

	// No temporary file is left behind after a write
	_, err = os.Stat(filepath.Join(dir, StoreFileName+".tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreRejectsCorruptDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, StoreFileName), []byte("not json"), 0600))

	s, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal store file")
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	value := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", value))
	value[0] = 'z'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}
