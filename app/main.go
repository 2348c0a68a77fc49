package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rsmw/feedloop/app/api"
	"github.com/rsmw/feedloop/app/cfg"
	"github.com/rsmw/feedloop/app/database"
	"github.com/rsmw/feedloop/app/events"
	"github.com/rsmw/feedloop/app/feed"
	"github.com/rsmw/feedloop/app/pool"
	"github.com/rsmw/feedloop/app/scheduler"
	"github.com/rsmw/feedloop/app/stream"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if c == nil {
		// Help was shown.
		return
	}

	slog.Info("Starting feedloop", "version", c.Version)

	db, err := database.NewConnection(c.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", c.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", c.DBPath, "schema_version", version, "dirty", dirty)

	sources := database.NewSourceRepository(db)
	entries := database.NewEntryRepository(db)
	subs := database.NewSubscriptionRepository(db)
	states := database.NewEntryStateRepository(db)

	registerSeeds(sources, c.SourcesDir)

	broker := events.NewBrokerClient(c.RedisAddr)
	defer broker.Close()
	sink := events.NewPublisher(broker)

	workPool := pool.New(pool.Executors(feed.NewParser(), feed.NewContentExtractor()), c.WorkerCount)
	defer workPool.Shutdown()

	httpClient := &http.Client{Timeout: time.Duration(c.FetchTimeout) * time.Second}
	sched := scheduler.NewScheduler(sources, entries, subs, httpClient, workPool, sink)
	sched.Start()
	defer sched.Stop()

	gateway := stream.NewGateway(broker, subs, stream.NewHeaderAuthenticator())
	handler := api.NewHandler(sources, entries, subs, states, workPool, sink, gateway, stream.NewHeaderAuthenticator())
	router := api.NewServer(handler, c.APIAccessKey)

	httpServer := &http.Server{
		Addr:        ":" + c.Port,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// Streaming responses stay open indefinitely; only reads and idle
		// connections are bounded.
		IdleTimeout: 120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", c.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Shutting down", "signal", sig.String())
	case err := <-serverErr:
		slog.Error("HTTP server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Scheduler and pool are stopped via defer, after in-flight fetches
	// unwind.
	slog.Info("Shutdown complete")
}

// registerSeeds loads source seed files and registers each as a feed
// source. A seed failing to register never blocks startup.
func registerSeeds(sources database.SourceRepository, dir string) {
	seeds, err := feed.LoadSeeds(dir)
	if err != nil {
		slog.Error("Failed to load source seeds", "dir", dir, "error", err)
		os.Exit(1)
	}
	if len(seeds) == 0 {
		return
	}

	registered := 0
	for _, seed := range seeds {
		hint := time.Duration(seed.RefreshInterval) * time.Second
		source, created, err := sources.CreateOrRevive(context.Background(), seed.URL, seed.Title, hint, seed.ExtractContent)
		if err != nil {
			slog.Warn("Failed to register seed source", "seed", seed.Name, "url", seed.URL, "error", err)
			continue
		}

		if created {
			slog.Info("Registered source", "seed", seed.Name, "url", source.URL)
		} else {
			slog.Debug("Source already known", "seed", seed.Name, "url", source.URL)
		}
		registered++
	}

	slog.Info("Source seeds processed", "registered", registered, "total", len(seeds))
}
