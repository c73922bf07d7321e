package plex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/plexstream/server/internal/config"
)

// ErrNotFound is returned when the library has no metadata for an asset.
var ErrNotFound = errors.New("media not found")

// ClientCtx talks to the remote Plex media library. Resolved source URLs
// are cached for the process lifetime and never expire; a library that
// reissues part URLs needs a restart to pick them up.
type ClientCtx struct {
	logger zerolog.Logger
	config config.Plex
	client *http.Client

	fallbackSeconds float64

	urlsMu sync.Mutex
	urls   map[string]string
	group  singleflight.Group
}

func New(conf *config.Stream) *ClientCtx {
	return &ClientCtx{
		logger: log.With().Str("module", "plex").Logger(),
		config: conf.Plex,
		client: &http.Client{
			Timeout: conf.Plex.Timeout,
		},
		fallbackSeconds: conf.FallbackDuration,
		urls:            map[string]string{},
	}
}

// GetMetadata fetches the library entry for an asset.
func (c *ClientCtx) GetMetadata(ctx context.Context, assetID string) (*Metadata, error) {
	endpoint := fmt.Sprintf("%s/library/metadata/%s", c.config.BaseURL, url.PathEscape(assetID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", c.config.Token)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("asset", assetID).Msg("metadata request failed")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("metadata request returned %d", resp.StatusCode)
	}

	var container mediaContainer
	if err := json.NewDecoder(resp.Body).Decode(&container); err != nil {
		return nil, err
	}

	if len(container.MediaContainer.Metadata) == 0 {
		return nil, ErrNotFound
	}

	return &container.MediaContainer.Metadata[0], nil
}

// DurationSeconds resolves the asset duration, substituting the
// configured fallback when the metadata carries none.
func (c *ClientCtx) DurationSeconds(ctx context.Context, assetID string) (float64, error) {
	metadata, err := c.GetMetadata(ctx, assetID)
	if err != nil {
		return 0, err
	}

	ms := metadata.durationMs()
	seconds := ms / 1000
	if ms <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return c.fallbackSeconds, nil
	}

	return seconds, nil
}

// SourceURL resolves the playable stream URL of the asset's primary
// media part. Concurrent resolutions for the same asset collapse into
// one library lookup; the result is kept for the process lifetime.
func (c *ClientCtx) SourceURL(ctx context.Context, assetID string) (string, error) {
	c.urlsMu.Lock()
	cached, ok := c.urls[assetID]
	c.urlsMu.Unlock()
	if ok {
		return cached, nil
	}

	resolved, err, _ := c.group.Do(assetID, func() (interface{}, error) {
		metadata, err := c.GetMetadata(ctx, assetID)
		if err != nil {
			return "", err
		}

		if len(metadata.Media) == 0 || len(metadata.Media[0].Part) == 0 {
			return "", fmt.Errorf("asset %s has no playable media part", assetID)
		}

		part := metadata.Media[0].Part[0]
		ref := part.Key
		if ref == "" {
			ref = part.File
		}
		if ref == "" {
			return "", fmt.Errorf("asset %s media part has no playback reference", assetID)
		}

		sourceURL, err := c.normalizeURL(ref)
		if err != nil {
			return "", err
		}

		c.urlsMu.Lock()
		c.urls[assetID] = sourceURL
		c.urlsMu.Unlock()

		return sourceURL, nil
	})
	if err != nil {
		return "", err
	}

	return resolved.(string), nil
}

// normalizeURL turns a part reference (absolute URL or library-relative
// key) into an absolute URL carrying the access token.
func (c *ClientCtx) normalizeURL(ref string) (string, error) {
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", err
	}

	target, err := base.Parse(ref)
	if err != nil {
		return "", err
	}

	query := target.Query()
	if query.Get("X-Plex-Token") == "" {
		query.Set("X-Plex-Token", c.config.Token)
		target.RawQuery = query.Encode()
	}

	return target.String(), nil
}

// Artwork streams a library image asset (poster or background). The
// caller owns the response body.
func (c *ClientCtx) Artwork(ctx context.Context, path string) (*http.Response, error) {
	target, err := c.normalizeURL(path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("artwork request returned %d", resp.StatusCode)
	}

	return resp, nil
}
