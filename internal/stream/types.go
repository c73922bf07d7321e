package stream

import (
	"context"
	"net/http"
)

// Provider turns a library asset ID into a playable HLS stream. Exactly
// one provider is active per service instance, selected by configuration.
type Provider interface {
	// GetPlaylist returns the HLS manifest for the asset, building or
	// waiting for the underlying stream as the strategy requires.
	GetPlaylist(ctx context.Context, assetID string) (string, error)

	// StreamSegment writes the requested segment to w. A non-nil error
	// means nothing has been written and the caller maps it to a status.
	StreamSegment(w http.ResponseWriter, r *http.Request, assetID string, segmentName string) error

	// Shutdown stops accepting new work and settles in-flight builds.
	Shutdown(ctx context.Context) error
}

// Library is the remote media-library surface providers depend on.
type Library interface {
	// SourceURL resolves the playable source stream URL for an asset.
	SourceURL(ctx context.Context, assetID string) (string, error)

	// DurationSeconds returns the asset duration in seconds, substituting
	// the configured fallback when metadata carries none.
	DurationSeconds(ctx context.Context, assetID string) (float64, error)
}
