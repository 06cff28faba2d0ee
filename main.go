package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"logharvest/internal/config"
	"logharvest/internal/database"
	"logharvest/internal/ingest"
	"logharvest/internal/logging"
	"logharvest/internal/remote"
	"logharvest/internal/scheduler"
	"logharvest/internal/seed"
	"logharvest/internal/server"
	"logharvest/internal/sshclient"
	"logharvest/internal/watcher"
)

func main() {
	config.Load()
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	if err := seed.Apply(config.Cfg.SeedPath); err != nil {
		log.Fatalf("Seed: %v", err)
	}

	sessions := sshclient.NewManager(config.Cfg.SSHConnectTimeout, config.Cfg.SSHProbeTimeout)
	executor := remote.NewExecutor(sessions, config.Cfg.SSHCommandTimeout)
	indexer := ingest.NewHTTPIndexer(config.Cfg.IndexerURL, config.Cfg.IndexerTimeout)

	watchCoord := watcher.NewCoordinator(executor)
	ingestCoord := ingest.NewCoordinator(executor, indexer)

	sched := scheduler.New()
	if err := sched.AddJob("watcher-scan", config.Cfg.WatcherInterval, watchCoord.ProcessWatchers); err != nil {
		log.Fatalf("Register watcher job: %v", err)
	}
	if err := sched.AddJob("ingestion", config.Cfg.IngestInterval, ingestCoord.IngestRecords); err != nil {
		log.Fatalf("Register ingestion job: %v", err)
	}
	sched.Start()

	server.Sched = sched
	server.Sessions = sessions

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: server.NewRouter(),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	sched.Stop()

	if err := sessions.Close(); err != nil {
		log.Printf("SSH session manager shutdown: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
