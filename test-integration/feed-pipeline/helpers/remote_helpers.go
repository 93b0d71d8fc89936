package helpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/catalog-feed-server/internal/remote"
)

// FakeCatalogService is an in-memory remote catalog service
type FakeCatalogService struct {
	server *httptest.Server

	mu        sync.Mutex
	merchants map[string]*remote.Merchant
	nextID    int
	requests  []string
}

// NewFakeCatalogService starts a fake remote catalog service serving under /api
func NewFakeCatalogService() *FakeCatalogService {
	f := &FakeCatalogService{merchants: map[string]*remote.Merchant{}}

	r := chi.NewRouter()
	r.Use(f.record)
	r.Route("/api/merchants", func(r chi.Router) {
		r.Post("/", f.createMerchant)
		r.Get("/{merchant}", f.getMerchant)
		r.Post("/{merchant}/feeds", f.addFeed)
		r.Get("/{merchant}/feeds/{feed}", f.getFeed)
		r.Patch("/{merchant}/feeds/{feed}", f.updateFeed)
	})

	f.server = httptest.NewServer(r)
	return f
}

// Endpoint returns the base URL of the service API
func (f *FakeCatalogService) Endpoint() string {
	return f.server.URL + "/api"
}

// Close stops the service
func (f *FakeCatalogService) Close() {
	f.server.Close()
}

// Merchants returns a snapshot of the registered merchants
func (f *FakeCatalogService) Merchants() []remote.Merchant {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]remote.Merchant, 0, len(f.merchants))
	for _, m := range f.merchants {
		cp := *m
		cp.Feeds = append([]remote.Feed(nil), m.Feeds...)
		out = append(out, cp)
	}
	return out
}

// Feeds returns every registered feed of every merchant
func (f *FakeCatalogService) Feeds() []remote.Feed {
	var feeds []remote.Feed
	for _, m := range f.Merchants() {
		feeds = append(feeds, m.Feeds...)
	}
	return feeds
}

// Requests returns "METHOD path" for every request received
func (f *FakeCatalogService) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *FakeCatalogService) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (f *FakeCatalogService) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *FakeCatalogService) createMerchant(w http.ResponseWriter, r *http.Request) {
	var req remote.MerchantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	f.mu.Lock()
	m := &remote.Merchant{ID: f.id("merchant"), Name: req.Name, ApprovalStatus: remote.ApprovalApproved}
	f.merchants[m.ID] = m
	f.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{"id": m.ID})
}

func (f *FakeCatalogService) getMerchant(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.merchants[chi.URLParam(r, "merchant")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "merchant not found"})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (f *FakeCatalogService) addFeed(w http.ResponseWriter, r *http.Request) {
	var req remote.FeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.merchants[chi.URLParam(r, "merchant")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "merchant not found"})
		return
	}
	feed := remote.Feed{
		ID:       f.id("feed"),
		Name:     req.Name,
		Location: req.Location,
		Country:  req.Country,
		Locale:   req.Locale,
		Format:   req.Format,
	}
	m.Feeds = append(m.Feeds, feed)
	writeJSON(w, http.StatusCreated, map[string]string{"id": feed.ID})
}

func (f *FakeCatalogService) getFeed(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	feed := f.findFeed(chi.URLParam(r, "merchant"), chi.URLParam(r, "feed"))
	if feed == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "feed not found"})
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (f *FakeCatalogService) updateFeed(w http.ResponseWriter, r *http.Request) {
	var req remote.FeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	feed := f.findFeed(chi.URLParam(r, "merchant"), chi.URLParam(r, "feed"))
	if feed == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "feed not found"})
		return
	}
	feed.Name = req.Name
	feed.Location = req.Location
	writeJSON(w, http.StatusOK, map[string]string{"id": feed.ID})
}

// findFeed must be called with f.mu held
func (f *FakeCatalogService) findFeed(merchantID, feedID string) *remote.Feed {
	m, ok := f.merchants[merchantID]
	if !ok {
		return nil
	}
	for i := range m.Feeds {
		if m.Feeds[i].ID == feedID {
			return &m.Feeds[i]
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
