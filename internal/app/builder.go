package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/afero"

	"github.com/stacklok/catalog-feed-server/internal/api"
	"github.com/stacklok/catalog-feed-server/internal/app/storage"
	"github.com/stacklok/catalog-feed-server/internal/catalog"
	"github.com/stacklok/catalog-feed-server/internal/config"
	"github.com/stacklok/catalog-feed-server/internal/destination"
	"github.com/stacklok/catalog-feed-server/internal/feederr"
	"github.com/stacklok/catalog-feed-server/internal/feedfile"
	"github.com/stacklok/catalog-feed-server/internal/generator"
	"github.com/stacklok/catalog-feed-server/internal/generator/state"
	"github.com/stacklok/catalog-feed-server/internal/registrar"
	"github.com/stacklok/catalog-feed-server/internal/remote"
	"github.com/stacklok/catalog-feed-server/internal/scheduler"
	"github.com/stacklok/catalog-feed-server/internal/service"
	"github.com/stacklok/catalog-feed-server/internal/status"
	"github.com/stacklok/catalog-feed-server/internal/telemetry"
	"github.com/stacklok/catalog-feed-server/internal/versions"
)

const (
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second

	tracerName = "github.com/stacklok/catalog-feed-server"
)

// FeedAppOptions is a function that configures the feed app builder
type FeedAppOptions func(*feedAppConfig) error

// feedAppConfig holds the builder state. Component overrides are primarily for testing.
type feedAppConfig struct {
	config *config.Config

	storageFactory storage.Factory
	storageOpts    []storage.DatabaseFactoryOption
	telemetry      *telemetry.Telemetry
	fs             afero.Fs
	remoteClient   remote.Client
	schedulerOpts  []scheduler.Option

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

func baseConfig(opts ...FeedAppOptions) (*feedAppConfig, error) {
	cfg := &feedAppConfig{
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.fs == nil {
		cfg.fs = afero.NewOsFs()
	}
	return cfg, nil
}

// NewFeedApp builds every component of the server from the configuration
func NewFeedApp(ctx context.Context, opts ...FeedAppOptions) (*FeedApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	if cfg.telemetry == nil {
		cfg.telemetry, err = telemetry.New(ctx, cfg.config.Telemetry, versions.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	// Single decision point for database vs file storage
	if cfg.storageFactory == nil {
		cfg.storageFactory, err = storage.NewStorageFactory(ctx, cfg.config, cfg.storageOpts...)
		if err != nil {
			_ = cfg.telemetry.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}

	cleanup := func() {
		cfg.storageFactory.Cleanup()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cfg.telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Failed to flush telemetry", "error", err)
		}
	}

	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			cleanup()
		}
	}()

	components, err := buildComponents(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed components: %w", err)
	}

	httpServer, err := buildHTTPServer(ctx, cfg, components)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	cleanupNeeded = false

	return &FeedApp{
		config:     cfg.config,
		components: components,
		httpServer: httpServer,
		cleanup:    cleanup,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) FeedAppOptions {
	return func(cfg *feedAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) FeedAppOptions {
	return func(cfg *feedAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) FeedAppOptions {
	return func(cfg *feedAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) FeedAppOptions {
	return func(cfg *feedAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithAutoMigrate applies pending database migrations when the storage factory is created
func WithAutoMigrate(enabled bool) FeedAppOptions {
	return func(cfg *feedAppConfig) error {
		cfg.storageOpts = append(cfg.storageOpts, storage.WithMigrations(enabled))
		return nil
	}
}

// WithTelemetry sets the telemetry providers instead of building them from the configuration
func WithTelemetry(t *telemetry.Telemetry) FeedAppOptions {
	return func(cfg *feedAppConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// WithFilesystem sets the filesystem feed files are written to
func WithFilesystem(fs afero.Fs) FeedAppOptions {
	return func(cfg *feedAppConfig) error {
		cfg.fs = fs
		return nil
	}
}

// WithRemoteClient allows injecting the remote catalog client (for testing)
func WithRemoteClient(c remote.Client) FeedAppOptions {
	return func(cfg *feedAppConfig) error {
		cfg.remoteClient = c
		return nil
	}
}

// WithSchedulerOptions passes options to the local scheduler
func WithSchedulerOptions(opts ...scheduler.Option) FeedAppOptions {
	return func(cfg *feedAppConfig) error {
		cfg.schedulerOpts = append(cfg.schedulerOpts, opts...)
		return nil
	}
}

// buildComponents builds the feed pipeline on top of the storage factory
func buildComponents(ctx context.Context, b *feedAppConfig) (*AppComponents, error) {
	slog.Info("Initializing feed components")

	cfg := b.config
	tel := b.telemetry
	markets := cfg.GetMarkets()

	store, err := b.storageFactory.CreateStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	registry := destination.NewRegistry(store, destination.Options{
		OutputDir:     cfg.GetOutputDir(),
		PublicBaseURL: cfg.Feed.PublicBaseURL,
		FilePrefix:    cfg.Feed.FilePrefix,
	})
	stateSvc := state.NewService(store, registry)
	files := feedfile.NewWriter(b.fs)

	schedulerMetrics, err := telemetry.NewSchedulerMetrics(tel.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler metrics: %w", err)
	}
	schedOpts := append([]scheduler.Option{
		scheduler.WithRunObserver(func(step scheduler.Step, duration time.Duration, err error) {
			schedulerMetrics.RecordStep(context.Background(), string(step), duration, err == nil)
		}),
	}, b.schedulerOpts...)
	sched := scheduler.NewLocal(store, schedOpts...)

	repo, err := b.storageFactory.CreateCatalogRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog repository: %w", err)
	}
	source, err := catalog.NewSource(repo, catalog.NewRenderer(markets), cfg.Catalog.CacheSize)
	if err != nil {
		return nil, err
	}

	generationMetrics, err := telemetry.NewGenerationMetrics(tel.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create generation metrics: %w", err)
	}
	gen := generator.New(
		generator.Config{
			Markets:                markets,
			BatchSize:              cfg.Feed.BatchSize,
			MaxRetriesPerBatch:     cfg.GetMaxRetriesPerBatch(),
			WaitOnErrorBeforeRetry: cfg.GetWaitOnErrorBeforeRetry(),
			StallTimeout:           cfg.GetStallTimeout(),
		},
		registry, files, source, stateSvc, sched,
		generator.WithMetrics(generationMetrics),
		generator.WithTracer(tel.Tracer(tracerName)),
	)
	gen.Register(sched)

	stateSvc.Subscribe(func(change status.StatusChange) {
		slog.Info("Feed generation status changed",
			"previous", change.Previous,
			"current", change.Current,
			"product_count", change.State.ProductCount)
		generationMetrics.RecordStatusChange(context.Background(), string(change.Previous), string(change.Current))
	})

	var reg *registrar.Registrar
	if cfg.RegistrationEnabled() {
		reg, err = buildRegistrar(b, registry, files)
		if err != nil {
			return nil, fmt.Errorf("failed to build registrar: %w", err)
		}
		reg.Register(sched)
		slog.Info("Feed registration enabled", "endpoint", cfg.Remote.Endpoint)
	}

	svc := service.New(destination.Keys(markets), registry, files, stateSvc, gen, sched)

	slog.Info("Feed components initialized successfully",
		"markets", len(markets),
		"storage", cfg.GetStorageType(),
		"catalog", cfg.GetCatalogType())

	return &AppComponents{
		Store:       store,
		Registry:    registry,
		State:       stateSvc,
		Files:       files,
		Scheduler:   sched,
		Generator:   gen,
		Registrar:   reg,
		FeedService: svc,
		Telemetry:   tel,
	}, nil
}

func buildRegistrar(b *feedAppConfig, registry destination.Registry, files *feedfile.Writer) (*registrar.Registrar, error) {
	cfg := b.config

	client := b.remoteClient
	if client == nil {
		if cfg.Remote == nil {
			return nil, feederr.Configurationf("build registrar", "remote section is required when registration is enabled")
		}
		token, err := cfg.Remote.GetToken()
		if err != nil {
			return nil, err
		}

		opts := remote.Options{
			BaseURL:           cfg.Remote.Endpoint,
			Timeout:           cfg.Remote.GetTimeout(),
			MaxTries:          cfg.Remote.MaxTries,
			RequestsPerSecond: cfg.Remote.RequestsPerSecond,
		}
		if token != "" {
			opts.TokenSource = remote.StaticToken(token)
		} else {
			slog.Warn("No remote token configured, sending unauthenticated requests")
		}

		httpClient, err := remote.NewHTTPClient(opts)
		if err != nil {
			return nil, err
		}
		client = httpClient
	}

	registrationMetrics, err := telemetry.NewRegistrationMetrics(b.telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create registration metrics: %w", err)
	}

	merchant := cfg.Registration.Merchant
	return registrar.New(
		registrar.Config{
			Markets: cfg.GetMarkets(),
			Merchant: remote.MerchantRequest{
				Name:       merchant.Name,
				WebsiteURL: merchant.WebsiteURL,
				Country:    merchant.Country,
				Locale:     merchant.Locale,
			},
			FeedName: cfg.GetFeedName(),
		},
		registry, files, client,
		registrar.WithMetrics(registrationMetrics),
		registrar.WithTracer(b.telemetry.Tracer(tracerName)),
	), nil
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(_ context.Context, b *feedAppConfig, components *AppComponents) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	middlewares := b.middlewares
	if middlewares == nil {
		middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	httpMetrics, err := telemetry.NewHTTPMetrics(b.telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}
	// Metrics and tracing come first to capture every request
	middlewares = append([]func(http.Handler) http.Handler{
		httpMetrics.Middleware,
		telemetry.TracingMiddleware(b.telemetry.TracerProvider()),
	}, middlewares...)

	router := api.NewServer(components.FeedService,
		api.WithMiddlewares(middlewares...),
		api.WithMetricsHandler(b.telemetry.MetricsHandler()),
	)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
