//go:build linux

// filament is a single-process, single-threaded HTTP/1.x server: one epoll
// loop multiplexes every client connection and CGI pipe, no worker pools.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/watt-toolkit/filament/pkg/filament/config"
	"github.com/watt-toolkit/filament/pkg/filament/server"
)

func main() {
	configPath := flag.String("config", "filament.json", "path to the configuration file")
	logLevel := flag.String("log", "info", "log level (trace|debug|info|warn|error)")
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("configuration rejected")
	}

	// Writes to peers that already closed must surface as EPIPE on the
	// write call, not kill the process.
	signal.Ignore(syscall.SIGPIPE)

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	stop := make(chan struct{})
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		close(stop)
	}()

	if err := srv.Run(stop); err != nil {
		log.Fatal().Err(err).Msg("event loop failed")
	}
}
