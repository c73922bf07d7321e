package transcoder

import (
	"context"
	"io"
	"time"
)

// Transcoder supervises external encoder processes. It owns the argument
// policy: providers say what kind of output they need, not how ffmpeg is
// invoked.
type Transcoder interface {
	// StartLive runs a continuous realtime encode with a sliding segment
	// window, writing index.m3u8 and segments into dir.
	StartLive(ctx context.Context, sourceURL, dir string) (Process, error)

	// StartVod runs one complete VOD encode of the whole source into dir.
	StartVod(ctx context.Context, sourceURL, dir string) (Process, error)

	// StartSegment encodes exactly one segment range, seeking the source
	// to startSeconds, streaming raw MPEG-TS to stdout.
	StartSegment(ctx context.Context, sourceURL string, startSeconds, durationSeconds float64, stdout io.Writer) (Process, error)

	// Shutdown terminates every live process, graceful then forced.
	Shutdown(grace time.Duration)
}

// Process is one supervised encoder invocation.
type Process interface {
	// Done is closed once the process has exited.
	Done() <-chan struct{}

	// Err reports the exit outcome; nil means exit code 0. Valid only
	// after Done is closed.
	Err() error

	// Stop sends the graceful stop signal, waits up to grace, then
	// force-kills. It returns once the process is confirmed gone.
	Stop(grace time.Duration)
}
