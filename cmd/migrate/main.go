package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rogeriochaves/pinacle-sub001/internal/app/migrate"
	"github.com/rogeriochaves/pinacle-sub001/pkg/config"
	"github.com/rogeriochaves/pinacle-sub001/pkg/logger"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: migrate [flags] <up|status|down>\n\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "version to roll down to (down only, 0 rolls back one)")
	flag.Parse()

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	cfg := config.LoadServerConfig()
	log := logger.New("migrate", slog.LevelInfo)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	if err := run(ctx, runner, command, *target); err != nil {
		log.Error("migration command failed", "command", command, "error", err)
		os.Exit(1)
	}
	log.Info("migration command completed", "command", command)
}

func run(ctx context.Context, runner migrate.Runner, command string, target int64) error {
	switch command {
	case "up":
		return runner.Ensure(ctx)
	case "status":
		return runner.Status(ctx)
	case "down":
		return runner.Down(ctx, target)
	default:
		return fmt.Errorf("unsupported command %q", command)
	}
}
