package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rogeriochaves/pinacle-sub001/internal/app/migrate"
	httpx "github.com/rogeriochaves/pinacle-sub001/internal/http"
	"github.com/rogeriochaves/pinacle-sub001/internal/orchestrator"
	"github.com/rogeriochaves/pinacle-sub001/internal/provision"
	"github.com/rogeriochaves/pinacle-sub001/internal/proxyauth"
	"github.com/rogeriochaves/pinacle-sub001/internal/remote"
	"github.com/rogeriochaves/pinacle-sub001/internal/repository/postgres"
	"github.com/rogeriochaves/pinacle-sub001/internal/runtime"
	podspec "github.com/rogeriochaves/pinacle-sub001/internal/spec"
	"github.com/rogeriochaves/pinacle-sub001/internal/ws"
	"github.com/rogeriochaves/pinacle-sub001/pkg/config"
	"github.com/rogeriochaves/pinacle-sub001/pkg/logger"
)

func main() {
	cfg := config.LoadServerConfig()
	log := logger.New("pinacle", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()

	rt, upstreamHost, err := buildRuntime(cfg, log)
	if err != nil {
		log.Error("failed to configure execution backend", "backend", cfg.ExecBackend, "error", err)
		os.Exit(1)
	}

	prov := provision.New(rt, log)
	checker := proxyauth.NewChecker(repo, repo, log)
	orch := orchestrator.New(podspec.NewResolver(log), rt, prov, repo, hub, cfg.SecretsKey, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(httpx.Config{
		Logger:        log,
		Orchestrator:  orch,
		Checker:       checker,
		Pods:          repo,
		Hub:           hub,
		Limiter:       limiter,
		SessionSecret: cfg.JWTSecret,
		ProxySecret:   cfg.ProxyTokenSecret,
		ProxyDomain:   cfg.ProxyDomain,
		UpstreamHost:  upstreamHost,
		DBHealth:      pool.Ping,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.Addr, "backend", cfg.ExecBackend, "proxy_domain", cfg.ProxyDomain)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// buildRuntime picks the container runtime for the configured execution
// backend and returns the host proxied requests should be forwarded to.
// Published ports land on localhost for the docker and vm backends and on
// the remote host for ssh.
func buildRuntime(cfg config.ServerConfig, log *slog.Logger) (runtime.Runtime, string, error) {
	switch cfg.ExecBackend {
	case "docker":
		rt, err := runtime.NewDockerRuntime("", log)
		if err != nil {
			return nil, "", err
		}
		return rt, "127.0.0.1", nil
	case "vm":
		ch := remote.NewVMChannel(cfg.VMInstance, cfg.VMUser, cfg.VMKeyPath, log)
		return runtime.NewRemoteRuntime(ch, log), "127.0.0.1", nil
	case "ssh":
		if cfg.SSHHost == "" {
			return nil, "", errors.New("ssh backend requires SSH_HOST")
		}
		ch := remote.NewSSHChannel(cfg.SSHHost, cfg.SSHPort, cfg.SSHUser, cfg.SSHKeyPath, log)
		return runtime.NewRemoteRuntime(ch, log), cfg.SSHHost, nil
	default:
		return nil, "", errors.New("unknown exec backend: " + cfg.ExecBackend)
	}
}
