package plexstream

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/plexstream/server/internal/api"
	"github.com/plexstream/server/internal/config"
	"github.com/plexstream/server/internal/hlshybrid"
	"github.com/plexstream/server/internal/hlsjit"
	"github.com/plexstream/server/internal/hlslive"
	"github.com/plexstream/server/internal/hlsvod"
	"github.com/plexstream/server/internal/http"
	"github.com/plexstream/server/internal/metrics"
	"github.com/plexstream/server/internal/plex"
	"github.com/plexstream/server/internal/stream"
	"github.com/plexstream/server/internal/transcoder"
)

var Service *Main

func init() {
	Service = &Main{
		ServerConfig: &config.Server{},
		StreamConfig: &config.Stream{},
	}
}

type Main struct {
	ServerConfig *config.Server
	StreamConfig *config.Stream

	logger     zerolog.Logger
	metrics    *metrics.Metrics
	library    *plex.ClientCtx
	transcoder *transcoder.ManagerCtx
	provider   stream.Provider
	apiManager *api.ApiManagerCtx
	server     *http.HttpManagerCtx
}

func (main *Main) Preflight() {
	main.logger = log.With().Str("service", "main").Logger()
}

func (main *Main) Start() {
	main.metrics = metrics.New()
	main.library = plex.New(main.StreamConfig)
	main.transcoder = transcoder.New(main.StreamConfig)

	// exactly one provider is active per instance
	switch main.StreamConfig.Provider {
	case "live":
		main.provider = hlslive.New(main.StreamConfig, main.library, main.transcoder, main.metrics)
	case "vod":
		main.provider = hlsvod.New(main.StreamConfig, main.library, main.transcoder, main.metrics)
	case "jit":
		main.provider = hlsjit.New(main.StreamConfig, main.library, main.transcoder, main.metrics)
	case "hybrid":
		vod := hlsvod.New(main.StreamConfig, main.library, main.transcoder, main.metrics)
		main.provider = hlshybrid.New(main.StreamConfig, main.library, vod, main.metrics)
	default:
		main.logger.Panic().Str("provider", main.StreamConfig.Provider).Msg("unknown stream provider")
	}

	main.logger.Info().Str("provider", main.StreamConfig.Provider).Msg("stream provider selected")

	main.apiManager = api.New(main.provider, main.library, main.metrics)

	main.server = http.New(main.ServerConfig)
	main.server.Mount(main.apiManager.Mount)

	if main.ServerConfig.PProf {
		main.server.WithDebugPProf("/debug/pprof")
	}

	main.server.Start()
}

func (main *Main) Shutdown() {
	// drain load balancers before the listener goes away
	main.apiManager.SetUnhealthy()

	if err := main.server.Shutdown(); err != nil {
		main.logger.Err(err).Msg("server shutdown with an error")
	} else {
		main.logger.Debug().Msg("server shutdown")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := main.provider.Shutdown(ctx); err != nil {
		main.logger.Err(err).Msg("provider shutdown with an error")
	} else {
		main.logger.Debug().Msg("provider shutdown")
	}

	main.transcoder.Shutdown(main.StreamConfig.StopGrace)
}

func (main *Main) ServeCommand(cmd *cobra.Command, args []string) {
	main.logger.Info().Msg("starting stream server")
	main.Start()
	main.logger.Info().Msg("stream server ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	sig := <-quit

	main.logger.Warn().Msgf("received %s, attempting graceful shutdown", sig)
	main.Shutdown()
	main.logger.Info().Msg("shutdown complete")
}
