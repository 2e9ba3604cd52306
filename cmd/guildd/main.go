// Command guildd is the guild daemon.
// It loads the company from a YAML config file and runs the scheduler loop
// alongside the operator HTTP API until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/guild/company"
	"github.com/GoCodeAlone/guild/config"
	"github.com/GoCodeAlone/guild/internal/version"
	"github.com/GoCodeAlone/guild/server"
)

var configPath = flag.String("config", "guild.yaml", "path to company config file")

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))

	logger.Info("starting guildd",
		"version", version.Version,
		"commit", version.Commit,
		"company", cfg.Company.Name,
		"agents", len(cfg.Agents),
	)

	co, err := company.New(cfg, company.Options{Logger: logger})
	if err != nil {
		log.Fatalf("Failed to build company: %v", err)
	}
	defer co.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := co.NewScheduler()
	srv := server.New(cfg.Server, co, co.Bus(), version.Version, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Serve(ctx) })
	g.Go(func() error { return srv.Run(ctx) })

	fmt.Printf("Guild %q running on %s\n", cfg.Company.Name, cfg.Server.Addr)
	fmt.Printf("Version: %s (%s)\n", version.Version, version.Commit)

	if err := g.Wait(); err != nil {
		logger.Error("guildd stopped", "error", err)
		os.Exit(1)
	}
	fmt.Println("Shutdown complete")
}

// loadConfig reads path, falling back to the built-in single-agent
// company when the file does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return cfg, err
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
