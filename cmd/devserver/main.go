package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/internal/config"
	apphttp "storefront/internal/http"
	"storefront/internal/logging"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg, err := config.Load(os.Getenv("STOREFRONT_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New("devserver", cfg.Log.File, cfg.Log.Level)
	if err != nil {
		logger.Warn("file logging disabled", "error", err)
	}

	srv, err := apphttp.NewServer(cfg, apphttp.NewShop(apphttp.SeedProducts()...), logger)
	if err != nil {
		log.Fatalf("devserver: %v", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.Devserver.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("storefront dev server listening", "addr", cfg.Devserver.ListenAddr, "api_path", cfg.Devserver.APIPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
