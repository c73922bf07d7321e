package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	plexstream "github.com/plexstream/server"
	"github.com/plexstream/server/internal/config"
)

func init() {
	command := &cobra.Command{
		Use:   "serve",
		Short: "serve stream server",
		Long:  `serve stream server`,
		Run:   plexstream.Service.ServeCommand,
	}

	configs := []config.Config{
		plexstream.Service.ServerConfig,
		plexstream.Service.StreamConfig,
	}

	cobra.OnInitialize(func() {
		for _, cfg := range configs {
			cfg.Set()
		}
		plexstream.Service.Preflight()
	})

	for _, cfg := range configs {
		if err := cfg.Init(command); err != nil {
			log.Panic().Err(err).Msg("unable to run serve command")
		}
	}

	rootCmd.AddCommand(command)
}
