package hlslive

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
	"github.com/plexstream/server/internal/metrics"
	"github.com/plexstream/server/internal/stream"
	"github.com/plexstream/server/internal/transcoder"
)

// ManagerCtx keeps at most one live session per asset. Requests for an
// asset attach to the running session; a request after the session has
// ended tears the old one down and starts a replacement.
type ManagerCtx struct {
	logger     zerolog.Logger
	config     *config.Stream
	library    stream.Library
	transcoder transcoder.Transcoder
	metrics    *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*SessionCtx

	shutdown chan struct{}
}

func New(config *config.Stream, library stream.Library, transcoder transcoder.Transcoder, metrics *metrics.Metrics) *ManagerCtx {
	m := &ManagerCtx{
		logger:     log.With().Str("module", "hlslive").Logger(),
		config:     config,
		library:    library,
		transcoder: transcoder,
		metrics:    metrics,
		sessions:   map[string]*SessionCtx{},
		shutdown:   make(chan struct{}),
	}

	go m.evictLoop()
	return m
}

// ensureSession returns the asset's live session, starting a new one
// when none exists or the previous encoder has ended. All concurrent
// callers attach to the same starting session.
func (m *ManagerCtx) ensureSession(ctx context.Context, assetID string) (*SessionCtx, error) {
	m.mu.Lock()

	session := m.sessions[assetID]
	var replaced *SessionCtx
	if session == nil || session.hasEnded() {
		replaced = session
		session = newSession(m.logger, m.config.CacheDir, assetID)
		m.sessions[assetID] = session

		go m.startSession(session)
	}
	m.mu.Unlock()

	if replaced != nil {
		// the replaced session already left the map, so the eviction
		// sweep will never account for it
		go func() {
			replaced.stop(m.config.StopGrace)
			m.metrics.SessionStopped()
		}()
	}

	select {
	case <-session.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if session.readyErr != nil {
		return nil, session.readyErr
	}

	session.touch()
	return session, nil
}

// startSession runs the session's startup sequence: cache directory,
// source resolution, encoder spawn, then waiting for the manifest to
// appear on disk. Runs detached from any request context because the
// session outlives the request that triggered it.
func (m *ManagerCtx) startSession(session *SessionCtx) {
	defer close(session.ready)

	err := m.doStart(session)
	if err == nil {
		m.metrics.SessionStarted()
		session.logger.Info().Str("dir", session.dir).Msg("session ready")
		return
	}

	session.readyErr = err
	session.logger.Error().Err(err).Msg("session failed to start")

	m.mu.Lock()
	if m.sessions[session.assetID] == session {
		delete(m.sessions, session.assetID)
	}
	m.mu.Unlock()

	session.stop(m.config.StopGrace)
}

func (m *ManagerCtx) doStart(session *SessionCtx) error {
	if err := os.MkdirAll(session.dir, 0755); err != nil {
		return err
	}

	ctx := context.Background()

	sourceURL, err := m.library.SourceURL(ctx, session.assetID)
	if err != nil {
		return err
	}

	m.metrics.BuildStarted("live")

	proc, err := m.transcoder.StartLive(ctx, sourceURL, session.dir)
	if err != nil {
		m.metrics.BuildCompleted("live", err)
		return err
	}
	session.setProc(proc)

	err = stream.WaitForFile(ctx, session.playlistPath, m.config.StartTimeout, m.config.PollInterval)
	m.metrics.BuildCompleted("live", err)
	return err
}

// GetPlaylist serves the encoder-written manifest with segment
// references rewritten to the public route. A manifest not yet on disk
// reports not-ready rather than failing.
func (m *ManagerCtx) GetPlaylist(ctx context.Context, assetID string) (string, error) {
	session, err := m.ensureSession(ctx, assetID)
	if err != nil {
		return "", err
	}

	raw, err := os.ReadFile(session.playlistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", stream.ErrNotReady
		}
		return "", err
	}

	m.metrics.PlaylistServed("live")
	return hls.Rewrite(assetID, string(raw)), nil
}

// StreamSegment serves a segment from the asset's running session. A
// segment request never starts a session; without one the segment is
// simply not found.
func (m *ManagerCtx) StreamSegment(w http.ResponseWriter, r *http.Request, assetID string, segmentName string) error {
	m.mu.Lock()
	session := m.sessions[assetID]
	m.mu.Unlock()

	if session == nil {
		return stream.ErrNotFound
	}

	session.touch()

	path, ok := hls.ResolveSegmentPath(session.dir, segmentName)
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
	// the sliding window rewrites segment names, never cache them
	w.Header().Set("Cache-Control", "no-store")

	if _, err := io.Copy(w, file); err != nil {
		session.logger.Debug().Err(err).Str("segment", segmentName).Msg("segment copy interrupted")
	}

	m.metrics.SegmentServed("live")
	return nil
}

func (m *ManagerCtx) evictLoop() {
	ticker := time.NewTicker(m.config.SessionTTL)
	defer ticker.Stop()

	for {
		select {
		case <-m.shutdown:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

// evictExpired stops and removes every session idle beyond the TTL or
// whose encoder has ended.
func (m *ManagerCtx) evictExpired() {
	m.mu.Lock()
	var evicted []*SessionCtx
	for assetID, session := range m.sessions {
		if session.expired(m.config.SessionTTL) || session.hasEnded() {
			m.logger.Info().Str("asset", assetID).Msg("evicting expired session")
			delete(m.sessions, assetID)
			evicted = append(evicted, session)
		}
	}
	m.mu.Unlock()

	for _, session := range evicted {
		session.stop(m.config.StopGrace)
		m.metrics.SessionStopped()
	}
}

// Shutdown stops the eviction sweep and every live session.
func (m *ManagerCtx) Shutdown(ctx context.Context) error {
	close(m.shutdown)

	m.mu.Lock()
	sessions := make([]*SessionCtx, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.sessions = map[string]*SessionCtx{}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func(session *SessionCtx) {
			defer wg.Done()
			session.stop(m.config.StopGrace)
			m.metrics.SessionStopped()
		}(session)
	}
	wg.Wait()

	return nil
}
