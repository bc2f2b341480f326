package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/efebarandurmaz/metagraph/internal/config"
	"github.com/efebarandurmaz/metagraph/internal/graph"
	"github.com/efebarandurmaz/metagraph/internal/graph/neo4j"
	"github.com/efebarandurmaz/metagraph/internal/observability"
	"github.com/efebarandurmaz/metagraph/internal/server"
	temporalmod "github.com/efebarandurmaz/metagraph/internal/temporal"
)

const version = "0.1.0"

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}, os.Stderr)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	slog.SetDefault(logger)

	ctx := context.Background()

	tcfg := observability.DefaultTracingConfig()
	tcfg.ServiceName = "metagraph-worker"
	tcfg.ServiceVersion = version
	tcfg.OTLPEndpoint = cfg.Tracing.Endpoint
	tcfg.SampleRate = cfg.Tracing.SampleRate
	tcfg.Environment = cfg.Tracing.Environment
	tp, err := observability.InitTracing(ctx, tcfg)
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}

	health := server.NewHealthServer(version)

	// Without a Neo4j URI the worker keeps stored graphs in memory.
	var repo graph.Repository = graph.NewMemory()
	if cfg.Graph.URI != "" {
		neo, err := neo4j.NewNeo4j(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password, cfg.Graph.Database)
		if err != nil {
			log.Fatalf("graph repository: %v", err)
		}
		health.RegisterCheck("neo4j", server.DependencyChecker("neo4j", neo.Ping))
		repo = neo
	} else {
		logger.Warn("graph.uri not set, storing graphs in memory")
	}

	temporalmod.SetDependencies(&temporalmod.Dependencies{
		Repository: repo,
		Logger:     logger,
	})

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	health.RegisterCheck("temporal", server.DependencyChecker("temporal", func(ctx context.Context) error {
		_, err := c.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
		return err
	}))

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	mux := http.NewServeMux()
	health.Register(mux)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", "addr", cfg.Server.Addr, "error", err)
		}
	}()

	sh := server.NewShutdownHandler(30*time.Second, logger)
	sh.RegisterHook("health", 10, func(ctx context.Context) error {
		health.SetReady(false)
		return httpServer.Shutdown(ctx)
	})
	sh.RegisterHook("worker", 20, func(context.Context) error {
		w.Stop()
		c.Close()
		return nil
	})
	sh.RegisterHook("repository", 30, repo.Close)
	sh.RegisterHook("tracing", 40, tp.Shutdown)
	sh.Start()

	health.SetReady(true)
	fmt.Printf("Worker started on task queue: %s (health on %s)\n", cfg.Temporal.TaskQueue, cfg.Server.Addr)

	if errs := sh.Wait(); len(errs) > 0 {
		logger.Error("shutdown finished with errors", "count", len(errs))
	}
	fmt.Println("Worker stopped")
}
