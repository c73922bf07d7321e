package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/plexstream/server/internal/metrics"
	"github.com/plexstream/server/internal/plex"
	"github.com/plexstream/server/internal/stream"
)

// MetadataSource is the slice of the library client the HTTP surface
// needs for health-independent metadata and artwork.
type MetadataSource interface {
	GetMetadata(ctx context.Context, assetID string) (*plex.Metadata, error)
	Artwork(ctx context.Context, path string) (*http.Response, error)
}

type ApiManagerCtx struct {
	logger   zerolog.Logger
	provider stream.Provider
	library  MetadataSource
	metrics  *metrics.Metrics

	unhealthy int32
}

func New(provider stream.Provider, library MetadataSource, metrics *metrics.Metrics) *ApiManagerCtx {
	return &ApiManagerCtx{
		logger:   log.With().Str("module", "api").Logger(),
		provider: provider,
		library:  library,
		metrics:  metrics,
	}
}

func (a *ApiManagerCtx) Mount(r *chi.Mux) {
	r.Get("/health", a.Health)
	r.Handle("/metrics", a.metrics.Handler())

	r.Route("/stream/movies", a.Stream)
	r.Route("/imgs/movies", a.Images)
}

// SetUnhealthy flips the health probe to failing; called once shutdown
// begins so load balancers drain this instance.
func (a *ApiManagerCtx) SetUnhealthy() {
	atomic.StoreInt32(&a.unhealthy, 1)
}

func (a *ApiManagerCtx) Health(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&a.unhealthy) == 1 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"healthy": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"healthy": true})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
