package app

import (
	"github.com/stacklok/catalog-feed-server/internal/destination"
	"github.com/stacklok/catalog-feed-server/internal/feedfile"
	"github.com/stacklok/catalog-feed-server/internal/generator"
	"github.com/stacklok/catalog-feed-server/internal/generator/state"
	"github.com/stacklok/catalog-feed-server/internal/kvstore"
	"github.com/stacklok/catalog-feed-server/internal/registrar"
	"github.com/stacklok/catalog-feed-server/internal/scheduler"
	"github.com/stacklok/catalog-feed-server/internal/service"
	"github.com/stacklok/catalog-feed-server/internal/telemetry"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Store persists destinations, generation state and scheduled steps
	Store kvstore.Store

	Registry  destination.Registry
	State     state.Service
	Files     *feedfile.Writer
	Scheduler *scheduler.Local
	Generator *generator.Generator

	// Registrar is nil when registration is disabled
	Registrar *registrar.Registrar

	// FeedService backs the HTTP API
	FeedService service.FeedService

	Telemetry *telemetry.Telemetry
}
