package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jha-hitesh/slack-channels-proxy/internal/channels"
	"github.com/jha-hitesh/slack-channels-proxy/internal/config"
	"github.com/jha-hitesh/slack-channels-proxy/internal/events"
	"github.com/jha-hitesh/slack-channels-proxy/internal/httpapi"
	"github.com/jha-hitesh/slack-channels-proxy/internal/logger"
	"github.com/jha-hitesh/slack-channels-proxy/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting slack-channels-proxy", zap.String("env", cfg.AppEnv))

	db, err := store.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	svc := channels.NewService(channels.Options{
		Store:          db,
		NewAPI:         channels.NewSlackAPIFactory(cfg.Slack.BaseURL, cfg.Slack.Timeout, cfg.Slack.MaxRateLimitRetries),
		WorkspaceID:    cfg.Slack.WorkspaceID,
		BotToken:       cfg.Slack.BotToken,
		LockStaleAfter: cfg.Sync.LockStaleAfter,
		Logger:         log,
	})
	ingester := events.NewIngester(db, cfg.Slack.SigningSecret, cfg.Slack.SignatureTolerance, log)
	server := httpapi.NewServer(httpapi.ServerOptions{
		Service:       svc,
		Ingester:      ingester,
		Logger:        log,
		Env:           cfg.AppEnv,
		RequireBearer: cfg.Slack.BotToken == "",
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
	})

	// Warm the cache once at boot when the deployment is pinned to one
	// workspace. Runs outside the serving path.
	if cfg.Slack.WorkspaceID != "" && cfg.Slack.BotToken != "" {
		go func() {
			ran, synced, err := svc.ResyncIfEmpty(context.Background(), cfg.Slack.WorkspaceID, "")
			if err != nil {
				log.Error("startup_sync_failed", zap.Error(err))
				return
			}
			log.Info("startup_sync_completed", zap.Bool("ran", ran), zap.Int("synced", synced))
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
	svc.Wait()
}
