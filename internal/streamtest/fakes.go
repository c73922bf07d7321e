// Package streamtest provides in-memory stand-ins for the encoder
// supervisor and the media library, used by provider tests.
package streamtest

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plexstream/server/internal/transcoder"
)

// Proc is a controllable transcoder.Process. Tests settle it explicitly
// with Finish, or implicitly through Stop.
type Proc struct {
	done chan struct{}
	err  error

	once    sync.Once
	stopped int32
}

func NewProc() *Proc {
	return &Proc{done: make(chan struct{})}
}

// Finish settles the process with the given exit outcome.
func (p *Proc) Finish(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *Proc) Done() <-chan struct{} {
	return p.done
}

func (p *Proc) Err() error {
	return p.err
}

func (p *Proc) Stop(grace time.Duration) {
	atomic.StoreInt32(&p.stopped, 1)
	p.Finish(nil)
}

// WasStopped reports whether Stop has been called.
func (p *Proc) WasStopped() bool {
	return atomic.LoadInt32(&p.stopped) == 1
}

// Transcoder dispatches to test-provided hooks and counts spawns per
// mode. A nil hook settles immediately with success.
type Transcoder struct {
	LiveFn    func(ctx context.Context, sourceURL, dir string) (transcoder.Process, error)
	VodFn     func(ctx context.Context, sourceURL, dir string) (transcoder.Process, error)
	SegmentFn func(ctx context.Context, sourceURL string, startSeconds, durationSeconds float64, stdout io.Writer) (transcoder.Process, error)

	liveCalls    int32
	vodCalls     int32
	segmentCalls int32
}

func (t *Transcoder) StartLive(ctx context.Context, sourceURL, dir string) (transcoder.Process, error) {
	atomic.AddInt32(&t.liveCalls, 1)
	if t.LiveFn == nil {
		return finishedProc(), nil
	}
	return t.LiveFn(ctx, sourceURL, dir)
}

func (t *Transcoder) StartVod(ctx context.Context, sourceURL, dir string) (transcoder.Process, error) {
	atomic.AddInt32(&t.vodCalls, 1)
	if t.VodFn == nil {
		return finishedProc(), nil
	}
	return t.VodFn(ctx, sourceURL, dir)
}

func (t *Transcoder) StartSegment(ctx context.Context, sourceURL string, startSeconds, durationSeconds float64, stdout io.Writer) (transcoder.Process, error) {
	atomic.AddInt32(&t.segmentCalls, 1)
	if t.SegmentFn == nil {
		return finishedProc(), nil
	}
	return t.SegmentFn(ctx, sourceURL, startSeconds, durationSeconds, stdout)
}

func (t *Transcoder) Shutdown(grace time.Duration) {}

func (t *Transcoder) LiveCalls() int    { return int(atomic.LoadInt32(&t.liveCalls)) }
func (t *Transcoder) VodCalls() int     { return int(atomic.LoadInt32(&t.vodCalls)) }
func (t *Transcoder) SegmentCalls() int { return int(atomic.LoadInt32(&t.segmentCalls)) }

func finishedProc() *Proc {
	p := NewProc()
	p.Finish(nil)
	return p
}

// Library is a canned media-library lookup.
type Library struct {
	URL         string
	Duration    float64
	URLErr      error
	DurationErr error

	sourceCalls int32
}

func (l *Library) SourceURL(ctx context.Context, assetID string) (string, error) {
	atomic.AddInt32(&l.sourceCalls, 1)
	if l.URLErr != nil {
		return "", l.URLErr
	}
	return l.URL, nil
}

func (l *Library) DurationSeconds(ctx context.Context, assetID string) (float64, error) {
	if l.DurationErr != nil {
		return 0, l.DurationErr
	}
	return l.Duration, nil
}

func (l *Library) SourceCalls() int { return int(atomic.LoadInt32(&l.sourceCalls)) }
