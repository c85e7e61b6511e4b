package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hammerlane/gavel/gavel"
	"github.com/hammerlane/gavel/gavel/auction"
	"github.com/hammerlane/gavel/gavel/broadcast"
	"github.com/hammerlane/gavel/gavel/database"
	"github.com/hammerlane/gavel/gavel/logger"
	"golang.org/x/sync/errgroup"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := gavel.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}

	slog.SetDefault(slog.New(logger.NewHandler(cfg.Log.Level)))
	slog.Info("Starting Gavel auction engine",
		slog.String("version", version),
		slog.String("commit", commit))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	slog.Info("Initializing database connection...")
	dbStartTime := time.Now()

	db, err := database.New(ctx, database.DBConfig{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		Database: cfg.DB.Database,
		PoolSize: cfg.DB.PoolSize,
	})
	if err != nil {
		slog.Error("Database connection failed",
			slog.Any("error", err),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	defer db.Close()

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Database ready",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStartTime)))

	hub := broadcast.NewHub()

	// The verification subsystem plugs in here; until it is wired every
	// registered bidder is admitted.
	engine := gavel.NewWithDB(*cfg, db, auction.OpenGate{}, hub)

	if err := engine.Recover(ctx); err != nil {
		slog.Error("Failed to recover engine state", slog.Any("error", err))
		os.Exit(-1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	server := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	g, runCtx := errgroup.WithContext(runCtx)
	g.Go(func() error { return engine.Run(runCtx) })
	g.Go(func() error { return hub.Run(runCtx) })
	g.Go(func() error {
		slog.Info("Broadcast endpoint listening", slog.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Engine stopped with error", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Shutdown complete")
}
