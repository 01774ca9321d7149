package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jzilic1991/vermon-edge/internal/config"
	"github.com/jzilic1991/vermon-edge/internal/events"
	"github.com/jzilic1991/vermon-edge/internal/pooler"
	"github.com/jzilic1991/vermon-edge/internal/server"
)

func main() {
	// Optional .env for local runs; the container injects real env vars.
	godotenv.Load()

	if len(os.Args) < 2 {
		log.Fatalf("usage: vermon <obj|req> [requirement-verifier host:port]")
	}

	mode, err := config.ParseMode(os.Args[1])
	if err != nil {
		log.Fatalf("Invalid mode: %v", err)
	}

	cfg := config.Load(getEnvOrDefault("CONFIG_PATH", "config.yaml"))
	if len(os.Args) > 2 {
		cfg.Server.ReqVerifierHost = os.Args[2]
	}

	core, err := server.NewCore(cfg, mode)
	if err != nil {
		log.Fatalf("Failed to start verification core: %v", err)
	}
	defer core.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core.Sessions.Start(ctx)
	core.Hub.Run(ctx, core.Bus)

	// Redis mirror — multi-gateway dashboards subscribe there (graceful fallback)
	if cfg.Redis.Enabled {
		mirror, err := events.NewRedisMirror(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, "")
		if err != nil {
			slog.Warn("Redis connection failed, verdict events stay in-memory only", "addr", cfg.Redis.Addr, "error", err)
		} else {
			defer mirror.Close()
			mirror.Run(ctx, core.Bus)
			slog.Info("Redis verdict mirror active", "addr", cfg.Redis.Addr)
		}
	} else {
		slog.Info("Redis disabled, verdict events stay in-memory only")
	}

	if mode == config.ModeObjective {
		p := pooler.New(core.Store, func(fact string, targets []string) {
			core.Submit(fact, targets)
		}, time.Duration(cfg.Pooler.IntervalSec)*time.Second)
		p.Start(ctx)
	}

	if cfg.Server.Type == "grpc" {
		if mode != config.ModeObjective {
			log.Fatalf("SERVER_TYPE=grpc is only supported in obj mode")
		}
		if err := server.ServeGRPC(ctx, core); err != nil {
			log.Fatalf("gRPC server failed: %v", err)
		}
		return
	}

	var handler http.Handler
	if mode == config.ModeObjective {
		handler = server.NewObjectiveRouter(core)
	} else {
		handler = server.NewRequirementRouter(core)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("Received shutdown signal, shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
	}()

	slog.Info("Verification gateway starting", "mode", mode, "port", cfg.Server.Port,
		"server_type", cfg.Server.Type)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}

	slog.Info("Server stopped")
}

// getEnvOrDefault returns the env var value or a default.
func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
