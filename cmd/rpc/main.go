package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	. "github.com/alexdcox/cardano-go"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
)

var log = Log()

func main() {
	ConfigFlags(flag.CommandLine)
	flag.Parse()

	config, err := LoadConfig(flag.CommandLine)
	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	log.Info().Msgf("setting log level to: '%s'", config.Level())
	zerolog.SetGlobalLevel(config.Level())
	log.Debug().Msgf("config loaded:\n%s", config)

	var journal Journal
	if config.DatabasePath != "" {
		if journal, err = NewSqliteJournal(config.DatabasePath); err != nil {
			log.Fatal().Msgf("%+v", err)
		}
	} else {
		log.Warn().Msg("no database path configured, submissions are journaled in memory")
		journal = NewInMemoryJournal()
	}

	client, err := NewClient(&ClientOptions{
		Config:  config,
		Journal: journal,
	})
	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	client.Events().On(func(event SubmissionEvent) {
		log.Debug().Msgf(
			"submission event: %s %s via %s",
			event.Result.TxId,
			event.Result.Status,
			event.Endpoint)
	})

	httpServer, err := NewHttpRpcServer(config, client)
	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	if err = client.Start(context.Background()); err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatal().Msgf("%+v", err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	<-c

	log.Info().Msg("caught interrupt/terminate signal, attempting graceful shutdown...")

	if err = httpServer.Stop(); err != nil {
		log.Error().Msgf("%+v", err)
	}

	if err = client.Stop(); err != nil {
		log.Error().Msgf("%+v", err)
	}

	log.Info().Msg("graceful shutdown complete")
}
