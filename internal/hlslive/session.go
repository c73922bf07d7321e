package hlslive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/plexstream/server/internal/transcoder"
)

// SessionCtx is one continuously-running live transcode bound to an
// asset. Every playlist or segment read refreshes the last-access time;
// a session idle beyond the TTL is evicted by the manager's sweep.
type SessionCtx struct {
	logger  zerolog.Logger
	assetID string

	dir          string
	playlistPath string

	// closed once startup settled, successfully or not
	ready    chan struct{}
	readyErr error

	mu         sync.Mutex
	proc       transcoder.Process
	lastAccess time.Time
	ended      bool

	stopOnce sync.Once
}

func newSession(logger zerolog.Logger, cacheDir, assetID string) *SessionCtx {
	// a fresh directory per session, so a replacement never collides
	// with the directory a dying encoder is still writing to
	dir := filepath.Join(cacheDir, fmt.Sprintf("%s-%d", assetID, time.Now().UnixMilli()))

	return &SessionCtx{
		logger:       logger.With().Str("asset", assetID).Logger(),
		assetID:      assetID,
		dir:          dir,
		playlistPath: filepath.Join(dir, "index.m3u8"),
		ready:        make(chan struct{}),
		lastAccess:   time.Now(),
	}
}

func (s *SessionCtx) touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

func (s *SessionCtx) expired(ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return time.Since(s.lastAccess) > ttl
}

func (s *SessionCtx) setProc(proc transcoder.Process) {
	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()

	go func() {
		<-proc.Done()

		s.mu.Lock()
		s.ended = true
		s.mu.Unlock()
	}()
}

// hasEnded reports whether the encoder exited; an ended session is
// replaced on the next request and collected by the eviction sweep.
func (s *SessionCtx) hasEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ended
}

// stop terminates the encoder (graceful then forced) and removes the
// session directory. Safe to call more than once.
func (s *SessionCtx) stop(grace time.Duration) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		proc := s.proc
		s.mu.Unlock()

		if proc != nil {
			proc.Stop(grace)
		}

		if err := os.RemoveAll(s.dir); err != nil {
			s.logger.Warn().Err(err).Msg("failed to remove session directory")
		}

		s.logger.Debug().Msg("session stopped")
	})
}
