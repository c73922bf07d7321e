package hlslive

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plexstream/server/internal/config"
	"github.com/plexstream/server/internal/metrics"
	"github.com/plexstream/server/internal/stream"
	"github.com/plexstream/server/internal/streamtest"
	"github.com/plexstream/server/internal/transcoder"
)

const livePlaylist = "#EXTM3U\n" +
	"#EXT-X-VERSION:3\n" +
	"#EXT-X-TARGETDURATION:4\n" +
	"#EXT-X-MEDIA-SEQUENCE:2\n" +
	"#EXTINF:4.000,\n" +
	"segment_00002.ts\n" +
	"#EXTINF:4.000,\n" +
	"segment_00003.ts"

func testConfig(t *testing.T) *config.Stream {
	t.Helper()

	return &config.Stream{
		CacheDir:        t.TempDir(),
		SegmentDuration: 4,
		SessionTTL:      time.Minute,
		StartTimeout:    2 * time.Second,
		PollInterval:    10 * time.Millisecond,
		StopGrace:       100 * time.Millisecond,
	}
}

// liveEncoder fakes a session encoder: it writes the manifest and one
// segment into the session directory, then keeps running until stopped.
func liveEncoder(t *testing.T) (*streamtest.Transcoder, func() *streamtest.Proc) {
	t.Helper()

	var mu sync.Mutex
	var last *streamtest.Proc

	enc := &streamtest.Transcoder{}
	enc.LiveFn = func(ctx context.Context, sourceURL, dir string) (transcoder.Process, error) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "index.m3u8"), []byte(livePlaylist), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "segment_00002.ts"), []byte("live-ts"), 0644))

		p := streamtest.NewProc()
		mu.Lock()
		last = p
		mu.Unlock()
		return p, nil
	}

	return enc, func() *streamtest.Proc {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func TestGetPlaylist_StartsSessionAndRewrites(t *testing.T) {
	enc, _ := liveEncoder(t)
	manager := New(testConfig(t), &streamtest.Library{URL: "http://plex/parts/1"}, enc, metrics.New())
	defer manager.Shutdown(context.Background())

	playlist, err := manager.GetPlaylist(context.Background(), "42")
	require.NoError(t, err)
	require.Contains(t, playlist, "/stream/movies/42/segment_00002.ts")
	require.Contains(t, playlist, "#EXT-X-MEDIA-SEQUENCE:2")

	// the session is live now, a second read attaches to it
	_, err = manager.GetPlaylist(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, 1, enc.LiveCalls())
}

func TestGetPlaylist_ConcurrentRequestsShareOneSession(t *testing.T) {
	enc, _ := liveEncoder(t)
	manager := New(testConfig(t), &streamtest.Library{URL: "http://plex/parts/1"}, enc, metrics.New())
	defer manager.Shutdown(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.GetPlaylist(context.Background(), "42")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, enc.LiveCalls())
}

func TestStreamSegment(t *testing.T) {
	enc, _ := liveEncoder(t)
	manager := New(testConfig(t), &streamtest.Library{URL: "http://plex/parts/1"}, enc, metrics.New())
	defer manager.Shutdown(context.Background())

	_, err := manager.GetPlaylist(context.Background(), "42")
	require.NoError(t, err)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("GET", "/stream/movies/42/segment_00002.ts", nil)
	require.NoError(t, manager.StreamSegment(recorder, request, "42", "segment_00002.ts"))
	require.Equal(t, "live-ts", recorder.Body.String())
	require.Equal(t, "video/mp2t", recorder.Header().Get("Content-Type"))
	require.Equal(t, "no-store", recorder.Header().Get("Cache-Control"))

	// dropped from the sliding window
	recorder = httptest.NewRecorder()
	require.ErrorIs(t, manager.StreamSegment(recorder, request, "42", "segment_00000.ts"), stream.ErrNotFound)

	recorder = httptest.NewRecorder()
	require.ErrorIs(t, manager.StreamSegment(recorder, request, "42", "../../../etc/passwd"), stream.ErrInvalidSegment)
}

func TestStreamSegment_NoSessionIsNotFound(t *testing.T) {
	enc, _ := liveEncoder(t)
	manager := New(testConfig(t), &streamtest.Library{URL: "http://plex/parts/1"}, enc, metrics.New())
	defer manager.Shutdown(context.Background())

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("GET", "/stream/movies/42/segment_00000.ts", nil)
	require.ErrorIs(t, manager.StreamSegment(recorder, request, "42", "segment_00000.ts"), stream.ErrNotFound)
	require.Zero(t, enc.LiveCalls())
}

func TestEviction_IdleSessionIsStoppedAndRemoved(t *testing.T) {
	conf := testConfig(t)
	conf.SessionTTL = 50 * time.Millisecond

	enc, lastProc := liveEncoder(t)
	manager := New(conf, &streamtest.Library{URL: "http://plex/parts/1"}, enc, metrics.New())
	defer manager.Shutdown(context.Background())

	_, err := manager.GetPlaylist(context.Background(), "42")
	require.NoError(t, err)

	manager.mu.Lock()
	dir := manager.sessions["42"].dir
	manager.mu.Unlock()

	require.Eventually(t, func() bool {
		return lastProc().WasStopped()
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := os.Stat(dir)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("GET", "/stream/movies/42/segment_00002.ts", nil)
	require.ErrorIs(t, manager.StreamSegment(recorder, request, "42", "segment_00002.ts"), stream.ErrNotFound)
}

func TestEndedSessionIsReplaced(t *testing.T) {
	enc, lastProc := liveEncoder(t)
	met := metrics.New()
	manager := New(testConfig(t), &streamtest.Library{URL: "http://plex/parts/1"}, enc, met)
	defer manager.Shutdown(context.Background())

	_, err := manager.GetPlaylist(context.Background(), "42")
	require.NoError(t, err)

	// the encoder dies on its own
	lastProc().Finish(nil)
	require.Eventually(t, func() bool {
		manager.mu.Lock()
		defer manager.mu.Unlock()
		return manager.sessions["42"].hasEnded()
	}, 2*time.Second, 10*time.Millisecond)

	_, err = manager.GetPlaylist(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, 2, enc.LiveCalls())

	// the replaced session is accounted for, only the running one counts
	require.Eventually(t, func() bool {
		return sessionsGauge(t, met) == "1"
	}, 2*time.Second, 10*time.Millisecond)
}

// sessionsGauge reads stream_live_sessions off the scrape endpoint.
func sessionsGauge(t *testing.T, met *metrics.Metrics) string {
	t.Helper()

	recorder := httptest.NewRecorder()
	met.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	for _, line := range strings.Split(recorder.Body.String(), "\n") {
		if strings.HasPrefix(line, "stream_live_sessions ") {
			return strings.TrimPrefix(line, "stream_live_sessions ")
		}
	}
	return ""
}

func TestStartFailure_RemovesSessionAndPermitsRetry(t *testing.T) {
	conf := testConfig(t)
	conf.StartTimeout = 100 * time.Millisecond

	var failFirst = true
	enc := &streamtest.Transcoder{}
	enc.LiveFn = func(ctx context.Context, sourceURL, dir string) (transcoder.Process, error) {
		if failFirst {
			failFirst = false
			// never writes a manifest
			return streamtest.NewProc(), nil
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, "index.m3u8"), []byte(livePlaylist), 0644))
		return streamtest.NewProc(), nil
	}

	manager := New(conf, &streamtest.Library{URL: "http://plex/parts/1"}, enc, metrics.New())
	defer manager.Shutdown(context.Background())

	_, err := manager.GetPlaylist(context.Background(), "42")
	require.ErrorIs(t, err, stream.ErrNotReady)

	_, err = manager.GetPlaylist(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, 2, enc.LiveCalls())
}

func TestShutdown_StopsEverySession(t *testing.T) {
	enc, lastProc := liveEncoder(t)
	manager := New(testConfig(t), &streamtest.Library{URL: "http://plex/parts/1"}, enc, metrics.New())

	_, err := manager.GetPlaylist(context.Background(), "42")
	require.NoError(t, err)

	require.NoError(t, manager.Shutdown(context.Background()))
	require.True(t, lastProc().WasStopped())
}
