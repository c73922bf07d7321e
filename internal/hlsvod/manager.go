package hlsvod

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/plexstream/server/internal/config"
	"github.com/plexstream/server/internal/hls"
	"github.com/plexstream/server/internal/metrics"
	"github.com/plexstream/server/internal/registry"
	"github.com/plexstream/server/internal/stream"
	"github.com/plexstream/server/internal/transcoder"
)

const playlistName = "index.m3u8"

// ManagerCtx serves assets from a permanent on-disk VOD cache. The whole
// asset is encoded eagerly as one job; segment reads are plain cache
// reads and never trigger a build.
type ManagerCtx struct {
	logger     zerolog.Logger
	config     *config.Stream
	library    stream.Library
	transcoder transcoder.Transcoder
	registry   *registry.RegistryCtx
	metrics    *metrics.Metrics
}

func New(config *config.Stream, library stream.Library, transcoder transcoder.Transcoder, metrics *metrics.Metrics) *ManagerCtx {
	return &ManagerCtx{
		logger:     log.With().Str("module", "hlsvod").Logger(),
		config:     config,
		library:    library,
		transcoder: transcoder,
		registry:   registry.New(),
		metrics:    metrics,
	}
}

// CacheDir returns the asset's cache directory. Exported because the
// hybrid provider reads the same cache while the build is in flight.
func (m *ManagerCtx) CacheDir(assetID string) string {
	return filepath.Join(m.config.CacheDir, "vod", assetID)
}

func (m *ManagerCtx) playlistPath(assetID string) string {
	return filepath.Join(m.CacheDir(assetID), playlistName)
}

// Ensure guarantees the asset's VOD cache exists, running at most one
// full-asset encode per asset. Once the playlist file is on disk the
// call is an idempotent no-op.
func (m *ManagerCtx) Ensure(ctx context.Context, assetID string) error {
	if _, err := os.Stat(m.playlistPath(assetID)); err == nil {
		return nil
	}

	return m.registry.RunExclusive(ctx, "vod:"+assetID, func() error {
		// a build finishing between the fast path and winning the key
		// must not wipe the cache it just produced
		if _, err := os.Stat(m.playlistPath(assetID)); err == nil {
			return nil
		}

		// the encode runs detached from the winning request: a caller
		// disconnecting must not abort the whole-asset build that other
		// requests joined
		return m.build(context.Background(), assetID)
	})
}

func (m *ManagerCtx) build(ctx context.Context, assetID string) error {
	dir := m.CacheDir(assetID)

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("wiping vod cache: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating vod cache: %w", err)
	}

	sourceURL, err := m.library.SourceURL(ctx, assetID)
	if err != nil {
		return err
	}

	m.logger.Info().Str("asset", assetID).Msg("starting full vod build")
	m.metrics.BuildStarted("vod")

	proc, err := m.transcoder.StartVod(ctx, sourceURL, dir)
	if err != nil {
		m.metrics.BuildCompleted("vod", err)
		return err
	}

	select {
	case <-proc.Done():
	case <-ctx.Done():
		proc.Stop(m.config.StopGrace)
		m.metrics.BuildCompleted("vod", ctx.Err())
		return ctx.Err()
	}

	err = proc.Err()
	if err == nil {
		if _, statErr := os.Stat(m.playlistPath(assetID)); statErr != nil {
			err = fmt.Errorf("encoder finished without a playlist: %w", statErr)
		}
	}

	m.metrics.BuildCompleted("vod", err)

	if err != nil {
		m.logger.Error().Err(err).Str("asset", assetID).Msg("vod build failed")
		return err
	}

	m.logger.Info().Str("asset", assetID).Msg("vod build finished")
	return nil
}

func (m *ManagerCtx) GetPlaylist(ctx context.Context, assetID string) (string, error) {
	if err := m.Ensure(ctx, assetID); err != nil {
		return "", err
	}

	raw, err := os.ReadFile(m.playlistPath(assetID))
	if err != nil {
		return "", err
	}

	m.metrics.PlaylistServed("vod")
	return hls.Rewrite(assetID, string(raw)), nil
}

func (m *ManagerCtx) StreamSegment(w http.ResponseWriter, r *http.Request, assetID string, segmentName string) error {
	path, ok := hls.ResolveSegmentPath(m.CacheDir(assetID), segmentName)
	if !ok {
		return stream.ErrInvalidSegment
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return stream.ErrNotFound
		}
		return err
	}
	defer file.Close()

	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "no-store")

	if _, err := io.Copy(w, file); err != nil {
		m.logger.Debug().Err(err).Str("asset", assetID).Str("segment", segmentName).Msg("segment copy interrupted")
	}

	m.metrics.SegmentServed("vod")
	return nil
}

// Shutdown has no provider-owned state to release: in-flight builds
// settle with their requests and the transcoder manager sweeps the
// encoder processes.
func (m *ManagerCtx) Shutdown(ctx context.Context) error {
	return nil
}
