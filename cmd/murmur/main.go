// Package main is the murmur client daemon. It is spawned by the native
// shell and speaks JSON lines on stdin and stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/anand-san/murmur/internal/chatclient"
	"github.com/anand-san/murmur/internal/config"
	"github.com/anand-san/murmur/internal/dispatch"
	"github.com/anand-san/murmur/internal/native"
	"github.com/anand-san/murmur/internal/recorder"
	"github.com/anand-san/murmur/internal/transcribe"
	"github.com/anand-san/murmur/pkg/diaglog"
)

type chatToken struct {
	Token string `json:"token"`
}

func main() {
	configPath := flag.String("config", defaultConfigPath(), "Path to the TOML config file")
	newThread := flag.Bool("new-thread", false, "Start a new conversation instead of resuming the saved one")
	flag.Parse()

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, closer, err := diaglog.Open(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	log.Info().
		Str("server_url", cfg.ServerURL).
		Str("paste_mode", string(cfg.PasteMode)).
		Dur("tick", cfg.TickInterval.Duration).
		Msg("murmur starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bridge := native.New(os.Stdin, os.Stdout, log.With().Str("component", "native").Logger())

	chat, err := chatclient.New(chatclient.Options{
		ServerURL: cfg.ServerURL,
		Token:     cfg.Token,
		ModelID:   cfg.ModelID,
	}, chatclient.NewThreadStore(cfg.StatePath), func(token string) {
		if err := bridge.Notify("chat_token", chatToken{Token: token}); err != nil {
			log.Warn().Err(err).Msg("failed to forward token")
		}
	}, log.With().Str("component", "chat").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open chat thread")
	}
	if *newThread {
		if err := chat.NewThread(); err != nil {
			log.Warn().Err(err).Msg("failed to clear chat thread")
		}
	}

	var paster dispatch.Paster = dispatch.NewNativePaster(bridge)
	if cfg.PasteMode == config.PasteCopy {
		paster = dispatch.NewCopyPaster()
	}
	router := dispatch.NewRouter(paster, chat, log.With().Str("component", "dispatch").Logger())

	orchestrator := recorder.New(
		recorder.Machine{MinUnits: cfg.MinRecordingUnits},
		cfg.TickInterval.Duration,
		bridge,
		transcribe.New(cfg.TranscriptionURL, cfg.Token, nil),
		router,
		log.With().Str("component", "recorder").Logger(),
	)

	go func() {
		if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("native stream failed")
		}
		stop()
	}()

	if err := orchestrator.Run(ctx, bridge.Events()); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("recorder stopped")
	}
	log.Info().Msg("murmur stopped")
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "murmur.toml"
	}
	return filepath.Join(dir, "murmur", "config.toml")
}
