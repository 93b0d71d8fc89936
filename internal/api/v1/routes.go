// Package v1 provides the feed status and trigger handlers.
package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/catalog-feed-server/internal/api/common"
	"github.com/stacklok/catalog-feed-server/internal/service"
)

// AcceptedResponse acknowledges a queued request
type AcceptedResponse struct {
	Status string `json:"status" example:"accepted"`
}

// DestinationsResponse lists the feed destinations
type DestinationsResponse struct {
	Destinations []service.DestinationStatus `json:"destinations"`
}

// Routes holds the handlers with their service dependency
type Routes struct {
	service service.FeedService
}

// NewRoutes creates a new Routes instance with the provided service
func NewRoutes(svc service.FeedService) *Routes {
	return &Routes{service: svc}
}

// Router creates the router for the feed API
func Router(svc service.FeedService) http.Handler {
	routes := NewRoutes(svc)

	r := chi.NewRouter()
	r.Get("/status", routes.getStatus)
	r.Get("/destinations", routes.listDestinations)
	r.Get("/destinations/{market}", routes.getDestination)
	r.Post("/dirty", routes.markDirty)
	r.Post("/generate", routes.generate)

	return r
}

func (rr *Routes) getStatus(w http.ResponseWriter, r *http.Request) {
	st, err := rr.service.GetStatus(r.Context())
	if err != nil {
		slog.Error("Failed to get feed status", "error", err)
		common.WriteErrorResponse(w, "Failed to get feed status", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, st, http.StatusOK)
}

// listDestinations handles GET /v1/feed/destinations. ?inspect=true parses the published files.
func (rr *Routes) listDestinations(w http.ResponseWriter, r *http.Request) {
	inspect := false
	if raw := r.URL.Query().Get("inspect"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			common.WriteErrorResponse(w, "inspect must be a boolean", http.StatusBadRequest)
			return
		}
		inspect = v
	}

	dests, err := rr.service.ListDestinations(r.Context(), service.WithInspect(inspect))
	if err != nil {
		slog.Error("Failed to list destinations", "error", err)
		common.WriteErrorResponse(w, "Failed to list destinations", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, DestinationsResponse{Destinations: dests}, http.StatusOK)
}

func (rr *Routes) getDestination(w http.ResponseWriter, r *http.Request) {
	market, err := common.GetMarketParam(r, "market")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	dests, err := rr.service.ListDestinations(r.Context(), service.WithMarket(market), service.WithInspect(true))
	switch {
	case errors.Is(err, service.ErrUnknownMarket):
		common.WriteErrorResponse(w, "Market not configured: "+string(market), http.StatusNotFound)
		return
	case err != nil:
		slog.Error("Failed to get destination", "destination", market, "error", err)
		common.WriteErrorResponse(w, "Failed to get destination", http.StatusInternalServerError)
		return
	case len(dests) == 0:
		common.WriteErrorResponse(w, "No destination assigned for market "+string(market), http.StatusNotFound)
		return
	}
	common.WriteJSONResponse(w, dests[0], http.StatusOK)
}

// markDirty handles POST /v1/feed/dirty, called when the catalog changes
func (rr *Routes) markDirty(w http.ResponseWriter, r *http.Request) {
	if err := rr.service.MarkDirty(r.Context()); err != nil {
		slog.Error("Failed to mark feed dirty", "error", err)
		common.WriteErrorResponse(w, "Failed to mark feed dirty", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, AcceptedResponse{Status: "accepted"}, http.StatusAccepted)
}

func (rr *Routes) generate(w http.ResponseWriter, r *http.Request) {
	if err := rr.service.TriggerGeneration(r.Context()); err != nil {
		slog.Error("Failed to queue feed generation", "error", err)
		common.WriteErrorResponse(w, "Failed to queue feed generation", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, AcceptedResponse{Status: "accepted"}, http.StatusAccepted)
}
