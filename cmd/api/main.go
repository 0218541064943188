package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leafsii/outcome-amm/internal/api"
	"github.com/leafsii/outcome-amm/internal/auth"
	"github.com/leafsii/outcome-amm/internal/config"
	gdb "github.com/leafsii/outcome-amm/internal/db"
	"github.com/leafsii/outcome-amm/internal/log"
	"github.com/leafsii/outcome-amm/internal/markets"
	"github.com/leafsii/outcome-amm/internal/metrics"
	"github.com/leafsii/outcome-amm/internal/settlement"
	"github.com/leafsii/outcome-amm/internal/store"
	"github.com/leafsii/outcome-amm/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting outcome AMM server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"db", cfg.Database.Type,
	)

	metricsObj, metricsHandler, err := metrics.Setup("outcome-amm")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := gdb.NewDatabase(initCtx, gdb.Config{
		Type:     cfg.Database.Type,
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	}, logger)
	if err != nil {
		logger.Fatalw("Failed to initialize database", "error", err)
	}
	defer db.Close()
	logger.Infow("Database initialized")

	cache, err := store.NewCache(cfg.Cache.RedisAddr, logger, metricsObj)
	if err != nil {
		logger.Fatalw("Failed to setup cache", "error", err)
	}
	defer cache.Close()

	var transferrer settlement.Transferrer = &settlement.LogTransferrer{Logger: logger}
	if cfg.Settlement.Endpoint != "" {
		transferrer = &settlement.HTTPTransferrer{Endpoint: cfg.Settlement.Endpoint}
	} else {
		logger.Warnw("No transfer endpoint configured; settlements are only logged")
	}

	dispatcher := settlement.NewDispatcher(db, transferrer, logger,
		settlement.WithPollInterval(cfg.Settlement.PollInterval),
		settlement.WithBatchSize(cfg.Settlement.BatchSize),
		settlement.WithMaxAttempts(cfg.Settlement.MaxAttempts),
		settlement.WithBackoff(cfg.Settlement.BackoffBase, cfg.Settlement.BackoffMax),
		settlement.WithRecorder(metricsObj),
	)

	marketsSvc := markets.NewService(db, markets.Config{
		Roles: markets.Roles{
			Governance: cfg.Roles.Governance,
			Oracle:     cfg.Roles.Oracle,
			Treasury:   cfg.Roles.Treasury,
			Custodian:  cfg.Roles.Custodian,
		},
		Collateral:             cfg.Markets.Collateral,
		ValidityBond:           cfg.Markets.ValidityBond,
		DefaultChallengePeriod: cfg.Markets.DefaultChallengePeriod,
	}, logger,
		markets.WithViewCache(cache),
		markets.WithPublisher(cache),
		markets.WithNotifier(dispatcher),
		markets.WithRecorder(metricsObj),
		markets.WithLedger(db),
	)

	verifier, err := auth.NewVerifier(cfg.Roles.PublicKeys, cfg.Roles.Privileged()...)
	if err != nil {
		logger.Fatalw("Invalid account public keys", "error", err)
	}
	if unkeyed := verifier.Unkeyed(); len(unkeyed) > 0 {
		logger.Warnw("Privileged accounts without a public key are refused", "accounts", unkeyed)
	}

	// Setup WebSocket hub and SSE handler
	wsHub := ws.NewHub(cache, logger, metricsObj, cfg.Security.CORSAllowedOrigins)
	sseHandler := ws.NewSSEHandler(cache, logger, cfg.Security.CORSAllowedOrigins)

	handler := api.NewHandler(marketsSvc, db, wsHub, sseHandler, logger,
		api.ReadinessCheck{Name: "database", Ping: db.Ping},
		api.ReadinessCheck{Name: "cache", Ping: cache.Ping},
	)
	middleware := api.NewMiddleware(logger, metricsObj, verifier)
	router := handler.Routes(middleware, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM)
	router.Handle("/metrics", metricsHandler)

	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	server := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})

	dispatcher.Start(gctx)
	// pick up transfers left pending by a previous run
	dispatcher.Notify()

	g.Go(func() error {
		logger.Infow("API server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Infow("Shutdown signal received")

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Errorw("Server stopped with error", "error", err)
		return
	}

	delivered, failed := dispatcher.Stats()
	logger.Infow("Server stopped", "settlements_delivered", delivered, "settlement_failures", failed)
}
