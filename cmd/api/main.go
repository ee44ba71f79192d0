package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reviewhub/internal/app"
	"reviewhub/internal/config"
	"reviewhub/internal/logger"
	"reviewhub/internal/reqdoc"
	"reviewhub/internal/store"
	"reviewhub/internal/vcs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logg := logger.New(cfg.LogLevel)

	if err := os.MkdirAll(cfg.RepoPath, 0o755); err != nil {
		log.Fatalf("failed to create repo dir: %v", err)
	}

	reviewStore := store.New(cfg.ReviewRoot())
	source := reqdoc.NewFileSource(cfg.RequirementsRoot())
	gitService := vcs.New(cfg.RepoPath, cfg.ReviewDir, cfg.Username, vcs.NewPool(cfg.GitOpsLimit), cfg.SyncTimeout)

	service := app.New(cfg, reviewStore, source, gitService, logg)
	if err := service.Bootstrap(context.Background()); err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}

	httpServer := app.NewHTTPServer(service, logg)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logg.Info("reviewhub API listening", "addr", cfg.Addr, "user", cfg.Username)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error("shutdown error", "error", err)
	}
}
