package hlsjit

import (
	"context"
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
	"github.com/plexstream/server/internal/utils"
)

// ManagerCtx encodes exactly the requested segment on demand by seeking
// the source, caching each segment independently. Arbitrary-order and
// arbitrary-seek access works because the manifest is synthesized from
// the asset duration and never depends on what is already cached.
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
		logger:     log.With().Str("module", "hlsjit").Logger(),
		config:     config,
		library:    library,
		transcoder: transcoder,
		registry:   registry.New(),
		metrics:    metrics,
	}
}

func (m *ManagerCtx) cacheDir(assetID string) string {
	return filepath.Join(m.config.CacheDir, "jit", assetID)
}

// GetPlaylist synthesizes the full manifest from the asset duration; no
// segment has to exist on disk yet.
func (m *ManagerCtx) GetPlaylist(ctx context.Context, assetID string) (string, error) {
	duration, err := m.library.DurationSeconds(ctx, assetID)
	if err != nil {
		return "", err
	}

	m.metrics.PlaylistServed("jit")
	return hls.Synthesize(assetID, duration, m.config.SegmentDuration), nil
}

// StreamSegment serves a cached segment, or builds it first. Concurrent
// requests for the same segment collapse into one encode: the first
// requester owns the build and receives the encoder output live, later
// requesters wait for the settled outcome and read the completed file.
func (m *ManagerCtx) StreamSegment(w http.ResponseWriter, r *http.Request, assetID string, segmentName string) error {
	dir := m.cacheDir(assetID)

	path, ok := hls.ResolveSegmentPath(dir, segmentName)
	if !ok {
		return stream.ErrInvalidSegment
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		return m.serveFile(w, assetID, segmentName, path)
	}

	job, owner := m.registry.Join(assetID + ":" + segmentName)
	if !owner {
		if err := job.Wait(r.Context()); err != nil {
			return err
		}
		return m.serveFile(w, assetID, segmentName, path)
	}

	// the encode runs detached from the request context: the owner
	// disconnecting must not abort a build other requesters joined, and
	// the segment still caches for the next request either way
	streaming, err := m.buildSegment(context.Background(), w, assetID, segmentName, path)
	job.Finish(err)

	if err != nil && !streaming {
		return err
	}

	// once the live stream started the response is already committed;
	// a mid-stream failure can only cut the body short
	return nil
}

// buildSegment runs one seek-based encode, tee'ing the encoder output to
// a temporary cache file and to the owner's response at the same time.
// The streaming return value reports whether response headers went out.
func (m *ManagerCtx) buildSegment(ctx context.Context, w http.ResponseWriter, assetID, segmentName, path string) (streaming bool, err error) {
	index, ok := hls.SegmentIndex(segmentName)
	if !ok {
		return false, stream.ErrInvalidSegment
	}

	sourceURL, err := m.library.SourceURL(ctx, assetID)
	if err != nil {
		return false, err
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return false, err
	}

	startSeconds := float64(index) * m.config.SegmentDuration

	m.logger.Info().
		Str("asset", assetID).
		Str("segment", segmentName).
		Float64("start", startSeconds).
		Msg("starting jit encode")
	m.metrics.BuildStarted("jit")

	buffer := utils.NewBroadcastBuffer()

	proc, err := m.transcoder.StartSegment(ctx, sourceURL, startSeconds, m.config.SegmentDuration, buffer)
	if err != nil {
		file.Close()
		os.Remove(tmpPath)
		m.metrics.BuildCompleted("jit", err)
		return false, err
	}

	go func() {
		<-proc.Done()
		buffer.Close()
	}()

	fileDone := make(chan error, 1)
	go func() {
		// CopyTo closes the file at the end of the stream
		fileDone <- buffer.CopyTo(file)
	}()

	m.writeSegmentHeaders(w)

	// the requester's copy may fail when the client disconnects; the
	// build keeps going so the cache file still completes
	_ = buffer.CopyTo(w)

	<-proc.Done()
	err = proc.Err()
	if fileErr := <-fileDone; err == nil {
		err = fileErr
	}

	if err == nil {
		err = os.Rename(tmpPath, path)
	}

	m.metrics.BuildCompleted("jit", err)

	if err != nil {
		os.Remove(tmpPath)
		m.logger.Error().Err(err).
			Str("asset", assetID).
			Str("segment", segmentName).
			Msg("jit encode failed")
		return true, err
	}

	m.logger.Debug().Str("asset", assetID).Str("segment", segmentName).Msg("segment cached")
	m.metrics.SegmentServed("jit")
	return true, nil
}

func (m *ManagerCtx) serveFile(w http.ResponseWriter, assetID, segmentName, path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return stream.ErrNotFound
		}
		return err
	}
	defer file.Close()

	m.writeSegmentHeaders(w)

	if _, err := io.Copy(w, file); err != nil {
		m.logger.Debug().Err(err).Str("asset", assetID).Str("segment", segmentName).Msg("segment copy interrupted")
	}

	m.metrics.SegmentServed("jit")
	return nil
}

func (m *ManagerCtx) writeSegmentHeaders(w http.ResponseWriter) {
	// cached segments never change once written
	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
}

// Shutdown has nothing of its own to release: in-flight builds settle
// with their owning requests and the transcoder manager sweeps the
// encoder processes.
func (m *ManagerCtx) Shutdown(ctx context.Context) error {
	return nil
}
