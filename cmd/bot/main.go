package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ratewatch/internal/bot"
	"ratewatch/internal/config"
	"ratewatch/internal/logging"
)

func main() {
	cfgPath := flag.String("config", config.DefaultConfigPath(), "path to config.json")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)

	app, err := bot.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init failed")
	}
	defer app.Close()

	// Graceful stop
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutting down")
		app.Close()
		os.Exit(0)
	}()

	if err := app.Run(); err != nil {
		logger.Fatal().Err(err).Msg("run failed")
	}
}
