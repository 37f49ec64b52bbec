// Package main is the entry point for the DansBot WhatsApp session manager.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdp/qrterminal/v3"

	"github.com/dansdan/dansbot/internal/command"
	"github.com/dansdan/dansbot/internal/config"
	"github.com/dansdan/dansbot/internal/dashboard"
	"github.com/dansdan/dansbot/internal/notify"
	"github.com/dansdan/dansbot/internal/rules"
	"github.com/dansdan/dansbot/internal/session"
	"github.com/dansdan/dansbot/internal/store"
	"github.com/dansdan/dansbot/internal/telegram"
	"github.com/dansdan/dansbot/internal/transport"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to config file")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	phone      = flag.String("phone", "", "Phone number to pair with on startup (digits only)")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Override log level from flag if provided
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// Validate config
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	// Setup logging
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var logHandler slog.Handler
	if cfg.LogFormat == "text" {
		logHandler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		logHandler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("DansBot starting",
		"config", *configPath,
		"log_level", cfg.LogLevel,
		"session", cfg.SessionID,
	)

	// Ensure data directories exist
	if err := os.MkdirAll(cfg.SessionDir(), 0700); err != nil {
		logger.Error("Failed to create session directory", "error", err)
		os.Exit(1)
	}

	// State history database
	stateDB, err := store.NewSQLiteStore(cfg.StateDBPath())
	if err != nil {
		logger.Error("Failed to initialize state store", "error", err)
		os.Exit(1)
	}
	defer stateDB.Close()

	// Blocklist and feature flags
	ruleStore, err := rules.Load(cfg.DataDir, logger)
	if err != nil {
		logger.Error("Failed to load rules", "error", err)
		os.Exit(1)
	}

	// Telegram is the operator notification channel when configured
	var sink notify.Sink = notify.Nop{}
	var tgClient *telegram.Client
	if cfg.TelegramToken != "" {
		tgClient, err = telegram.NewClient(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Error("Failed to start Telegram client", "error", err)
			os.Exit(1)
		}
		sink = tgClient
	}

	dialer := transport.NewWhatsmeowDialer(cfg.SessionDir(), logger)
	supervisor := session.NewSupervisor(cfg, dialer, sink, stateDB, logger)
	defer supervisor.Close()

	// Chat command dispatcher consumes the inbound message stream
	dispatcher := command.NewDispatcher(supervisor, supervisor, ruleStore, sink, logger)
	supervisor.OnMessage(dispatcher.Handle)

	// Print each QR challenge to the terminal for local pairing
	supervisor.OnQR(func(sessionID, challenge string) {
		fmt.Fprintln(os.Stderr, "╔══════════════════════════════════════════╗")
		fmt.Fprintln(os.Stderr, "║  Scan this QR code with WhatsApp Mobile  ║")
		fmt.Fprintln(os.Stderr, "╚══════════════════════════════════════════╝")
		qrterminal.GenerateHalfBlock(challenge, qrterminal.L, os.Stderr)
		fmt.Fprintln(os.Stderr, "")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Web dashboard
	dash := dashboard.NewServer(cfg.SessionID, supervisor, logger)
	dashErr := make(chan error, 1)
	go func() {
		dashErr <- dash.Run(cfg.HTTPAddr)
	}()

	// Telegram command bot
	if tgClient != nil {
		bot := telegram.NewBot(tgClient, supervisor, cfg.SessionID, logger)
		go bot.Run(ctx)
	}

	// Connect (or begin pairing) in the background; progress is event-driven
	go func() {
		if err := supervisor.StartSession(ctx, cfg.SessionID, *phone); err != nil {
			logger.Error("Initial session start failed", "error", err)
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig)
	case err := <-dashErr:
		if err != nil {
			logger.Error("Dashboard server error", "error", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := dash.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Dashboard shutdown error", "error", err)
	}

	logger.Info("DansBot stopped")
}
