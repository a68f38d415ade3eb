// Command server captures the screen, reads the boost meter, and serves readings over HTTP, WebSocket, and gRPC health.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/boostmeter/internal/audio"
	"github.com/GriffinCanCode/boostmeter/internal/config"
	"github.com/GriffinCanCode/boostmeter/internal/gauge"
	"github.com/GriffinCanCode/boostmeter/internal/grpcserver"
	"github.com/GriffinCanCode/boostmeter/internal/history"
	"github.com/GriffinCanCode/boostmeter/internal/orchestrator"
	"github.com/GriffinCanCode/boostmeter/internal/screen"
	"github.com/GriffinCanCode/boostmeter/internal/server"
)

func main() {
	cfg, err := config.Resolve()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		slog.Error("failed to load gauge profile", "path", cfg.ProfilePath, "error", err)
		os.Exit(1)
	}
	est, err := gauge.NewEstimator(profile)
	if err != nil {
		slog.Error("invalid gauge profile", "error", err)
		os.Exit(1)
	}

	capturer, err := screen.New(cfg)
	if err != nil {
		slog.Error("failed to open capture source", "source", cfg.CaptureSource, "error", err)
		os.Exit(1)
	}
	defer capturer.Close()

	deps := orchestrator.Deps{Capturer: capturer, Estimator: est}

	// History is optional
	if cfg.HistoryDB != "" {
		db, err := history.Open(cfg.HistoryDB)
		if err != nil {
			slog.Error("failed to open history database", "path", cfg.HistoryDB, "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if err := db.RunMigrations(context.Background()); err != nil {
			slog.Error("history migrations failed", "error", err)
			os.Exit(1)
		}
		version, _ := db.Version(context.Background())
		slog.Info("history database ready", "path", db.Path(), "schema", version)
		if cfg.HistoryRetention > 0 {
			n, err := db.Prune(context.Background(), time.Now().Add(-cfg.HistoryRetention))
			if err != nil {
				slog.Warn("history prune failed", "error", err)
			} else if n > 0 {
				slog.Info("pruned old readings", "count", n, "retention", cfg.HistoryRetention)
			}
		}
		deps.History = db
	}

	// Audio cues are best-effort
	player, err := audio.NewPlayer(cfg.AudioSampleRate)
	if err != nil {
		slog.Warn("audio cues disabled", "error", err)
	} else {
		defer player.Close()
		deps.Player = player
	}

	mgr := orchestrator.New(cfg, deps)
	srv := server.New(mgr)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Start(ctx); err != nil {
		slog.Error("orchestrator error", "error", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("meter server starting", "http", cfg.HTTPAddr, "grpc", cfg.GRPCAddr, "source", cfg.CaptureSource)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	healthSrv := grpcserver.New(mgr, orchestrator.HealthyWindow)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		slog.Error("failed to listen for grpc", "addr", cfg.GRPCAddr, "error", err)
		os.Exit(1)
	}
	go healthSrv.Run(ctx)
	go func() {
		if err := healthSrv.Serve(lis); err != nil {
			slog.Error("grpc server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	healthSrv.Stop()
	mgr.Stop()
	cancel()
	slog.Info("shutdown complete")
}
