package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/plexstream/server/internal/plex"
	"github.com/plexstream/server/internal/stream"
)

func (a *ApiManagerCtx) Stream(r chi.Router) {
	r.Get("/{assetID}/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		assetID := chi.URLParam(r, "assetID")

		playlist, err := a.provider.GetPlaylist(r.Context(), assetID)
		if err != nil {
			a.streamError(w, r, assetID, err)
			return
		}

		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte(playlist))
	})

	r.Get("/{assetID}/{segmentName}", func(w http.ResponseWriter, r *http.Request) {
		assetID := chi.URLParam(r, "assetID")
		segmentName := chi.URLParam(r, "segmentName")

		if err := a.provider.StreamSegment(w, r, assetID, segmentName); err != nil {
			a.streamError(w, r, assetID, err)
		}
	})
}

// streamError maps provider failures to the wire responses. Providers
// guarantee nothing has been written when they return an error, so the
// response is still ours to shape.
func (a *ApiManagerCtx) streamError(w http.ResponseWriter, r *http.Request, assetID string, err error) {
	switch {
	case errors.Is(err, stream.ErrInvalidSegment):
		writeJSONError(w, http.StatusBadRequest, "Invalid segment name")
	case errors.Is(err, stream.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "Segment not found")
	case errors.Is(err, stream.ErrNotReady):
		writeJSONError(w, http.StatusServiceUnavailable, "Stream not ready")
	case errors.Is(err, plex.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "Asset not found")
	case errors.Is(err, context.Canceled):
		// client went away, nothing to answer
	default:
		a.logger.Error().Err(err).Str("asset", assetID).Str("path", r.URL.Path).Msg("stream request failed")
		writeJSONError(w, http.StatusInternalServerError, "Internal server error")
	}
}
