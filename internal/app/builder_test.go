package app

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/catalog-feed-server/internal/catalog"
	"github.com/stacklok/catalog-feed-server/internal/config"
	"github.com/stacklok/catalog-feed-server/internal/kvstore"
	"github.com/stacklok/catalog-feed-server/internal/remote"
	"github.com/stacklok/catalog-feed-server/internal/telemetry"
)

// memoryFactory is a storage factory backed by in-memory stores
type memoryFactory struct {
	store    kvstore.Store
	repo     catalog.Repository
	cleanups int
}

func newMemoryFactory(products ...catalog.Product) *memoryFactory {
	return &memoryFactory{
		store: kvstore.NewMemoryStore(),
		repo:  catalog.NewMemoryRepository(products...),
	}
}

func (f *memoryFactory) CreateStore(context.Context) (kvstore.Store, error) { return f.store, nil }

func (f *memoryFactory) CreateCatalogRepository(context.Context) (catalog.Repository, error) {
	return f.repo, nil
}

func (f *memoryFactory) Cleanup() { f.cleanups++ }

func testProducts(n int) []catalog.Product {
	products := make([]catalog.Product, 0, n)
	for i := 1; i <= n; i++ {
		products = append(products, catalog.Product{
			ID:     catalog.ItemID(i),
			Title:  fmt.Sprintf("Product %d", i),
			Link:   fmt.Sprintf("https://shop.example.com/p/%d", i),
			Prices: map[string]catalog.Price{catalog.DefaultPriceKey: {Amount: 9.5}},
		})
	}
	return products
}

func createTestAppConfig() *config.Config {
	return &config.Config{
		Feed: config.FeedConfig{
			Markets: []config.MarketConfig{
				{Key: "eu", Country: "DE", Locale: "de_DE", Currency: "EUR"},
				{Key: "us", Country: "US", Locale: "en_US", Currency: "USD"},
			},
			OutputDir:     "/feeds",
			PublicBaseURL: "https://cdn.example.com/feeds",
		},
		Catalog: config.CatalogConfig{Type: config.CatalogTypeFile},
	}
}

func TestBaseConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := createTestAppConfig()
	built, err := baseConfig(WithConfig(cfg))
	require.NoError(t, err)

	assert.Same(t, cfg, built.config)
	assert.Equal(t, defaultHTTPAddress, built.address)
	assert.Equal(t, defaultRequestTimeout, built.requestTimeout)
	assert.NotNil(t, built.fs)
}

func TestBaseConfig_RequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := baseConfig(WithAddress(":9090"))
	require.ErrorContains(t, err, "config cannot be nil")
}

func TestBaseConfig_OptionError(t *testing.T) {
	t.Parallel()

	_, err := baseConfig(WithConfig(createTestAppConfig()), WithAddress(""))
	require.Error(t, err)
}

func TestWithAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
		want    string
		wantErr bool
	}{
		{name: "valid address", address: ":9999", want: ":9999"},
		{name: "valid address with host", address: "127.0.0.1:9999", want: "127.0.0.1:9999"},
		{name: "valid address with localhost", address: "localhost:9999", want: "localhost:9999"},
		{name: "invalid empty address", address: "", wantErr: true},
		{name: "invalid empty port", address: ":", wantErr: true},
		{name: "invalid missing port", address: "localhost", wantErr: true},
		{name: "invalid port out of range", address: "localhost:999999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &feedAppConfig{}
			err := WithAddress(tt.address)(cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.address)
		})
	}
}

func TestWithMiddlewares(t *testing.T) {
	t.Parallel()

	mw := func(next http.Handler) http.Handler { return next }
	cfg := &feedAppConfig{}
	require.NoError(t, WithMiddlewares(mw, mw)(cfg))
	assert.Len(t, cfg.middlewares, 2)
}

func TestBuildComponents(t *testing.T) {
	t.Parallel()

	b, err := baseConfig(
		WithConfig(createTestAppConfig()),
		WithStorageFactory(newMemoryFactory()),
		WithTelemetry(telemetry.Noop()),
		WithFilesystem(afero.NewMemMapFs()),
	)
	require.NoError(t, err)

	components, err := buildComponents(context.Background(), b)
	require.NoError(t, err)

	assert.NotNil(t, components.Store)
	assert.NotNil(t, components.Registry)
	assert.NotNil(t, components.State)
	assert.NotNil(t, components.Scheduler)
	assert.NotNil(t, components.Generator)
	assert.NotNil(t, components.FeedService)
	assert.Nil(t, components.Registrar, "registration is disabled")
}

func TestBuildComponents_Registration(t *testing.T) {
	t.Parallel()

	cfg := createTestAppConfig()
	cfg.Remote = &config.RemoteConfig{Endpoint: "https://catalog.example.com/api"}
	cfg.Registration = &config.RegistrationConfig{
		Enabled:  true,
		Merchant: config.MerchantConfig{Name: "Example Shop", WebsiteURL: "https://shop.example.com"},
	}

	b, err := baseConfig(
		WithConfig(cfg),
		WithStorageFactory(newMemoryFactory()),
		WithTelemetry(telemetry.Noop()),
		WithFilesystem(afero.NewMemMapFs()),
	)
	require.NoError(t, err)

	components, err := buildComponents(context.Background(), b)
	require.NoError(t, err)
	assert.NotNil(t, components.Registrar)
}

func TestBuildRegistrar_RequiresRemote(t *testing.T) {
	t.Parallel()

	cfg := createTestAppConfig()
	cfg.Registration = &config.RegistrationConfig{Enabled: true}

	b, err := baseConfig(WithConfig(cfg), WithTelemetry(telemetry.Noop()))
	require.NoError(t, err)

	_, err = buildRegistrar(b, nil, nil)
	require.ErrorContains(t, err, "remote section is required")
}

func TestBuildRegistrar_InjectedClient(t *testing.T) {
	t.Parallel()

	cfg := createTestAppConfig()
	cfg.Registration = &config.RegistrationConfig{Enabled: true}

	var client remote.Client = &remote.HTTPClient{}
	b, err := baseConfig(WithConfig(cfg), WithTelemetry(telemetry.Noop()), WithRemoteClient(client))
	require.NoError(t, err)

	reg, err := buildRegistrar(b, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, reg)
}

func TestBuildHTTPServer(t *testing.T) {
	t.Parallel()

	b, err := baseConfig(
		WithConfig(createTestAppConfig()),
		WithAddress("127.0.0.1:3000"),
		WithStorageFactory(newMemoryFactory()),
		WithTelemetry(telemetry.Noop()),
		WithFilesystem(afero.NewMemMapFs()),
	)
	require.NoError(t, err)

	components, err := buildComponents(context.Background(), b)
	require.NoError(t, err)

	server, err := buildHTTPServer(context.Background(), b, components)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:3000", server.Addr)
	assert.Equal(t, defaultReadTimeout, server.ReadTimeout)
	assert.Equal(t, defaultWriteTimeout, server.WriteTimeout)
	assert.Equal(t, defaultIdleTimeout, server.IdleTimeout)
	assert.NotNil(t, server.Handler)
}

func TestNewFeedApp_CleansUpOnError(t *testing.T) {
	t.Parallel()

	cfg := createTestAppConfig()
	cfg.Registration = &config.RegistrationConfig{Enabled: true}
	factory := newMemoryFactory()

	_, err := NewFeedApp(context.Background(),
		WithConfig(cfg),
		WithStorageFactory(factory),
		WithTelemetry(telemetry.Noop()),
		WithFilesystem(afero.NewMemMapFs()),
	)
	require.Error(t, err)
	assert.Equal(t, 1, factory.cleanups)
}
