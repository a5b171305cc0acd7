package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	initLogging()

	root := &cobra.Command{
		Use:   "toolgate",
		Short: "Approval and tool-execution gateway for agent workflows",
	}

	root.AddCommand(serveCmd(), migrateCmd(), sweepCmd(), archiveCmd(), keygenCmd())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// initLogging configures the global zerolog logger from environment.
func initLogging() {
	level, parseErr := zerolog.ParseLevel(os.Getenv("TOOLGATE_LOG_LEVEL"))
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if os.Getenv("TOOLGATE_LOG_FORMAT") == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
