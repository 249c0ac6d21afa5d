package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kmellis/splitz/api"
	"github.com/kmellis/splitz/config"
)

func main() {
	cfg := config.New()
	if err := cfg.Load(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	output.FormatLevel = func(i interface{}) string {
		return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
	}
	level := zerolog.InfoLevel
	if cfg.GetBool("debug") {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(output).Level(level).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	log.Logger = logger

	server := api.NewServer(logger)
	if err := server.ListenAndServe(cfg.GetString("listen-addr")); err != nil {
		logger.Err(err).Msg("server exited")
		os.Exit(1)
	}
}
