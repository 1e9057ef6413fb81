package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"datahub/api/internal/app"
	"datahub/api/internal/config"
	"datahub/api/internal/dispatch"
	"datahub/api/internal/housekeeping"
	"datahub/api/internal/scope"
	"datahub/api/internal/search"
	"datahub/api/internal/stats"
	"datahub/api/internal/storage"
	"datahub/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	queue, err := dispatch.NewRedisQueue(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer queue.Close()
	dispatcher := dispatch.New(dispatch.QueueNames{
		Metadata: cfg.MetadataQueue,
		File:     cfg.FileQueue,
		Export:   cfg.ExportQueue,
	}, queue, dataStore)

	objects, err := storage.New(storage.Options{
		Endpoint:  cfg.StorageEndpoint,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
		UseSSL:    cfg.StorageUseSSL,
	})
	if err != nil {
		log.Fatalf("object storage client failed: %v", err)
	}
	aggregator := stats.New(dataStore, objects)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	resolver, err := scope.NewResolver(scope.DefaultPolicy(), scope.DefaultGraph())
	if err != nil {
		log.Fatalf("permission graph invalid: %v", err)
	}

	service := app.New(cfg, dataStore, resolver, dispatcher, aggregator, searchService, app.NoopNotifier{})

	hkCtx, stopHousekeeping := context.WithCancel(ctx)
	defer stopHousekeeping()
	runner := housekeeping.NewRunner(housekeeping.Tasks(cfg, dataStore, nil)...)
	runner.Start(hkCtx, cfg.HousekeepingRun)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("DataHub API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stopHousekeeping()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
