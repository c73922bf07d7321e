package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/plexstream/server/internal/plex"
)

// Images proxies library artwork. The image name selects the metadata
// field: anything containing "poster" maps to the thumb, anything
// containing "background" to the art.
func (a *ApiManagerCtx) Images(r chi.Router) {
	r.Get("/{assetID}/{image}", func(w http.ResponseWriter, r *http.Request) {
		assetID := chi.URLParam(r, "assetID")
		image := chi.URLParam(r, "image")

		metadata, err := a.library.GetMetadata(r.Context(), assetID)
		if err != nil {
			if errors.Is(err, plex.ErrNotFound) {
				writeJSONError(w, http.StatusNotFound, "Asset not found")
				return
			}

			a.logger.Error().Err(err).Str("asset", assetID).Msg("artwork metadata lookup failed")
			writeJSONError(w, http.StatusInternalServerError, "Error serving image")
			return
		}

		var path string
		switch {
		case strings.Contains(image, "poster"):
			path = metadata.Thumb
		case strings.Contains(image, "background"):
			path = metadata.Art
		}

		if path == "" {
			writeJSONError(w, http.StatusNotFound, "Image type not found")
			return
		}

		resp, err := a.library.Artwork(r.Context(), path)
		if err != nil {
			a.logger.Error().Err(err).Str("asset", assetID).Str("image", image).Msg("artwork proxy failed")
			writeJSONError(w, http.StatusInternalServerError, "Error serving image")
			return
		}
		defer resp.Body.Close()

		if contentType := resp.Header.Get("Content-Type"); contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}

		if _, err := io.Copy(w, resp.Body); err != nil {
			a.logger.Debug().Err(err).Str("asset", assetID).Msg("artwork copy interrupted")
		}
	})
}
