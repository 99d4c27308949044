package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pevans/gamefed/api"
	"github.com/pevans/gamefed/catalog"
	"github.com/pevans/gamefed/config"
	"github.com/pevans/gamefed/journal"
	"github.com/pevans/gamefed/trust"
)

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config", "", "Config file (default ~/.gamefed/config.yaml)")
	addr := flag.String("addr", getEnv("GAMEFED_API_ADDR", "localhost:8080"), "Listen address")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	store := catalog.NewStore(cfg.Catalog.Path, cfg.Catalog.BackupDir)
	scorer := trust.NewScorer(cfg.TrustTables(), cfg.TrustOptions())

	var runs *journal.Store
	if cfg.JournalDSN != "" {
		runs, err = journal.Open(cfg.JournalDSN)
		if err != nil {
			log.WithError(err).Warn("Run journal unavailable, history routes disabled")
			runs = nil
		} else {
			defer runs.Close()
		}
	}

	server := api.NewServer(store, scorer, cfg, runs, log)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           server.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Shutdown failed")
		}
	}()

	log.WithFields(logrus.Fields{"addr": *addr, "catalog": cfg.Catalog.Path}).Info("Starting game catalog API server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("Server failed")
	}
}
