package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
	"hostmonitor/internal/config"
	"hostmonitor/internal/database"
	"hostmonitor/internal/metrics"
	"hostmonitor/internal/monitoring"
	"hostmonitor/internal/notifications"
	"hostmonitor/internal/web"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	memory := flag.Bool("memory", false, "Keep hosts in memory instead of the bolt database")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("hostmonitor %s\nBuild: %s (%s)\n", web.Version, web.GitCommit, web.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if *memory {
		cfg.Database.Type = "memory"
	}

	setupLogging(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"config_file": *configFile,
		"port":        cfg.Server.Port,
		"database":    cfg.Database.Type,
		"hosts":       len(cfg.Hosts),
	}).Info("Starting host monitor")

	store, err := openStore(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	metricsCollector := metrics.NewCollector(store)

	engine, err := monitoring.NewEngine(cfg, store, metricsCollector)
	if err != nil {
		logrus.Fatalf("Failed to initialize monitoring engine: %v", err)
	}

	sender, err := newSender(cfg.Notifications)
	if err != nil {
		logrus.Fatalf("Failed to initialize notifications: %v", err)
	}

	webServer := web.NewServer(cfg, store, engine, metricsCollector, sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := notifications.NewNotifier(engine.Events(), engine.Aggregator(), sender, cfg.Monitoring.OfflineReminder)
	go notifier.Run(ctx)

	if err := webServer.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start web server: %v", err)
	}

	if cfg.Monitoring.ShouldAutoStart() {
		if err := engine.Start(ctx); err != nil {
			logrus.WithError(err).Warn("Monitoring started with errors")
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logrus.WithField("signal", sig).Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := webServer.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Web server shutdown failed")
	}
	engine.Stop()
	cancel()

	logrus.Info("Shutdown complete")
}

func openStore(cfg config.DatabaseConfig) (database.Store, error) {
	if cfg.Type == "memory" {
		logrus.Warn("Using in-memory host store; hosts are lost on exit")
		return database.NewMemoryStore(), nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return database.NewBoltStore(cfg.Path)
}

func newSender(cfg config.NotificationConfig) (notifications.Sender, error) {
	if !cfg.Enabled || !cfg.Pushover.Enabled {
		return notifications.LogSender{}, nil
	}
	return notifications.NewPushoverClient(&cfg.Pushover, nil)
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	if cfg.File != "" {
		logrus.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}))
	}
}
