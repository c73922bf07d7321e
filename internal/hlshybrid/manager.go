package hlshybrid

import (
	"context"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/plexstream/server/internal/config"
	"github.com/plexstream/server/internal/hls"
	"github.com/plexstream/server/internal/hlsvod"
	"github.com/plexstream/server/internal/metrics"
	"github.com/plexstream/server/internal/stream"
)

// ManagerCtx composes the full VOD cache as the eventual source of
// truth while giving JIT-like early availability: the first touch of an
// asset fires the VOD build in the background, and requests serve out
// of the progressively-populated cache as soon as enough segments
// exist.
type ManagerCtx struct {
	logger  zerolog.Logger
	config  *config.Stream
	library stream.Library
	vod     *hlsvod.ManagerCtx
	metrics *metrics.Metrics

	mu        sync.Mutex
	inflight  map[string]struct{}
	completed map[string]struct{}

	builds sync.WaitGroup
}

func New(config *config.Stream, library stream.Library, vod *hlsvod.ManagerCtx, metrics *metrics.Metrics) *ManagerCtx {
	return &ManagerCtx{
		logger:    log.With().Str("module", "hlshybrid").Logger(),
		config:    config,
		library:   library,
		vod:       vod,
		metrics:   metrics,
		inflight:  map[string]struct{}{},
		completed: map[string]struct{}{},
	}
}

// trigger fires the asset's VOD build in the background, once. The
// caller never waits on it; readiness is observed through the cache
// directory filling up.
func (m *ManagerCtx) trigger(assetID string) {
	m.mu.Lock()
	if _, done := m.completed[assetID]; done {
		m.mu.Unlock()
		return
	}
	if _, running := m.inflight[assetID]; running {
		m.mu.Unlock()
		return
	}
	m.inflight[assetID] = struct{}{}
	m.builds.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.builds.Done()

		err := m.vod.Ensure(context.Background(), assetID)

		m.mu.Lock()
		delete(m.inflight, assetID)
		if err == nil {
			m.completed[assetID] = struct{}{}
		}
		m.mu.Unlock()

		if err != nil {
			m.logger.Error().Err(err).Str("asset", assetID).Msg("background vod build failed")
		}
	}()
}

func (m *ManagerCtx) countSegments(assetID string) int {
	entries, err := os.ReadDir(m.vod.CacheDir(assetID))
	if err != nil {
		return 0
	}

	count := 0
	for _, entry := range entries {
		if hls.ValidSegmentName(entry.Name()) {
			count++
		}
	}
	return count
}

// waitForReady polls the cache until the minimum-ready segment count is
// reached or the wait deadline expires. Once any segment exists a few
// poll intervals in, a partial cache is let through rather than
// blocking short assets on a minimum they can never reach.
func (m *ManagerCtx) waitForReady(ctx context.Context, assetID string) error {
	start := time.Now()

	for time.Since(start) < m.config.Hybrid.WaitTimeout {
		count := m.countSegments(assetID)
		if count >= m.config.Hybrid.MinReadySegments {
			return nil
		}

		if count > 0 && time.Since(start) > 3*m.config.Hybrid.PollInterval {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.config.Hybrid.PollInterval):
		}
	}

	if m.countSegments(assetID) > 0 {
		return nil
	}

	return stream.ErrNotReady
}

// GetPlaylist triggers the background build, waits for enough of the
// cache to exist, then returns a synthesized full-duration manifest
// referencing every eventual segment: the build is expected to outrun
// playback.
func (m *ManagerCtx) GetPlaylist(ctx context.Context, assetID string) (string, error) {
	m.trigger(assetID)

	if err := m.waitForReady(ctx, assetID); err != nil {
		return "", err
	}

	duration, err := m.library.DurationSeconds(ctx, assetID)
	if err != nil {
		return "", err
	}

	m.metrics.PlaylistServed("hybrid")
	return hls.Synthesize(assetID, duration, m.config.SegmentDuration), nil
}

// StreamSegment triggers the build, then polls for the requested file
// within the read deadline before streaming it.
func (m *ManagerCtx) StreamSegment(w http.ResponseWriter, r *http.Request, assetID string, segmentName string) error {
	path, ok := hls.ResolveSegmentPath(m.vod.CacheDir(assetID), segmentName)
	if !ok {
		return stream.ErrInvalidSegment
	}

	m.trigger(assetID)

	if err := stream.WaitForFile(r.Context(), path, m.config.Hybrid.ReadTimeout, m.config.Hybrid.ReadPoll); err != nil {
		return err
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
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")

	if _, err := io.Copy(w, file); err != nil {
		m.logger.Debug().Err(err).Str("asset", assetID).Str("segment", segmentName).Msg("segment copy interrupted")
	}

	m.metrics.SegmentServed("hybrid")
	return nil
}

// Shutdown lets in-flight background builds settle without starting
// new ones.
func (m *ManagerCtx) Shutdown(ctx context.Context) error {
	settled := make(chan struct{})
	go func() {
		m.builds.Wait()
		close(settled)
	}()

	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
