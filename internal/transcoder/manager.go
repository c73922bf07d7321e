package transcoder

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/plexstream/server/internal/config"
	"github.com/plexstream/server/internal/utils"
)

type ManagerCtx struct {
	logger zerolog.Logger
	config *config.Stream

	mu    sync.Mutex
	procs map[*ProcessCtx]struct{}
}

func New(config *config.Stream) *ManagerCtx {
	return &ManagerCtx{
		logger: log.With().Str("module", "transcoder").Logger(),
		config: config,
		procs:  map[*ProcessCtx]struct{}{},
	}
}

func (m *ManagerCtx) StartLive(ctx context.Context, sourceURL, dir string) (Process, error) {
	return m.spawn(ctx, m.liveArgs(sourceURL, dir), nil,
		m.logger.With().Str("mode", "live").Str("dir", dir).Logger())
}

func (m *ManagerCtx) StartVod(ctx context.Context, sourceURL, dir string) (Process, error) {
	return m.spawn(ctx, m.vodArgs(sourceURL, dir), nil,
		m.logger.With().Str("mode", "vod").Str("dir", dir).Logger())
}

func (m *ManagerCtx) StartSegment(ctx context.Context, sourceURL string, startSeconds, durationSeconds float64, stdout io.Writer) (Process, error) {
	return m.spawn(ctx, m.segmentArgs(sourceURL, startSeconds, durationSeconds), stdout,
		m.logger.With().Str("mode", "segment").Float64("start", startSeconds).Logger())
}

// spawn starts the encoder, registers the handle and watches for exit.
// Every process stays registered until it is confirmed gone, so Shutdown
// can enumerate and terminate all of them.
func (m *ManagerCtx) spawn(ctx context.Context, args []string, stdout io.Writer, logger zerolog.Logger) (*ProcessCtx, error) {
	cmd := exec.Command(m.config.FFmpeg.Binary, args...)
	cmd.Stderr = utils.LogWriter(logger)
	cmd.SysProcAttr = processGroupAttr()

	if stdout != nil {
		cmd.Stdout = stdout
	}

	p := &ProcessCtx{
		logger: logger,
		cmd:    cmd,
		done:   make(chan struct{}),
	}

	logger.Debug().Strs("args", args).Msg("starting encoder")

	if err := cmd.Start(); err != nil {
		logger.Error().Err(err).Msg("encoder failed to spawn")
		return nil, err
	}

	m.mu.Lock()
	m.procs[p] = struct{}{}
	m.mu.Unlock()

	go func() {
		err := cmd.Wait()

		m.mu.Lock()
		delete(m.procs, p)
		m.mu.Unlock()

		p.err = err
		close(p.done)

		if err != nil {
			logger.Warn().Err(err).Msg("encoder exited with an error")
		} else {
			logger.Debug().Msg("encoder finished")
		}
	}()

	// cancelling the caller's context stops the encoder gracefully
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				p.Stop(m.config.StopGrace)
			case <-p.done:
			}
		}()
	}

	return p, nil
}

// Shutdown terminates every tracked process and waits for all of them
// to be confirmed gone.
func (m *ManagerCtx) Shutdown(grace time.Duration) {
	m.mu.Lock()
	procs := make([]*ProcessCtx, 0, len(m.procs))
	for p := range m.procs {
		procs = append(procs, p)
	}
	m.mu.Unlock()

	m.logger.Info().Int("processes", len(procs)).Msg("terminating live encoders")

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *ProcessCtx) {
			defer wg.Done()
			p.Stop(grace)
		}(p)
	}
	wg.Wait()
}

type ProcessCtx struct {
	logger zerolog.Logger
	cmd    *exec.Cmd

	done chan struct{}
	err  error

	stopOnce sync.Once
}

func (p *ProcessCtx) Done() <-chan struct{} {
	return p.done
}

func (p *ProcessCtx) Err() error {
	return p.err
}

// Stop sends the graceful stop signal to the process group, waits up to
// grace, then force-kills. It returns once the process has exited.
func (p *ProcessCtx) Stop(grace time.Duration) {
	select {
	case <-p.done:
		return
	default:
	}

	p.stopOnce.Do(func() {
		p.logger.Debug().Msg("stopping encoder")
		p.signalStop()
	})

	select {
	case <-p.done:
		return
	case <-time.After(grace):
	}

	p.logger.Warn().Msg("encoder did not stop in time, killing")
	p.forceKill()
	<-p.done
}
