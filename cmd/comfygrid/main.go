// Command comfygrid runs the grid server: the device pool, the per-device
// event streams and the generation API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	cli "github.com/urfave/cli/v3"

	"github.com/comfygrid/comfygrid/client"
	"github.com/comfygrid/comfygrid/internal/api"
	"github.com/comfygrid/comfygrid/internal/config"
	"github.com/comfygrid/comfygrid/internal/db"
	"github.com/comfygrid/comfygrid/internal/devicepool"
	"github.com/comfygrid/comfygrid/internal/events"
	"github.com/comfygrid/comfygrid/internal/tasks"
)

func main() {
	// missing .env is fine, the config has defaults
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:  "comfygrid",
		Usage: "GPU workflow grid server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Sources: cli.EnvVars("COMFYGRID_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: serve,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, command *cli.Command) error {
	setupLogging(command.String("log-level"))

	cfg, err := loadConfig(command.String("config"))
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("no JWT secret configured, set COMFYGRID_JWT_SECRET")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	pool := devicepool.NewPool(cfg.Pool.OfflineAfter)
	go pool.RunJanitor(ctx, cfg.Pool.SweepInterval)

	hub := events.NewHub(cfg.Events.Buffer, cfg.Events.Heartbeat)

	registry, err := tasks.NewRegistry(store, pool, api.NewHubPusher(hub))
	if err != nil {
		return err
	}
	registry.SetIntervals(cfg.Tasks.PollInterval, cfg.Tasks.WaitDeadline, cfg.Tasks.PushInterval)

	runtime := client.NewRuntimeClient(cfg.Runtime.URL)
	cache := client.NewRegistryCache(cfg.Runtime.RegistryTTL)

	server := api.NewServer(store, pool, hub, registry, runtime, cache, []byte(cfg.Auth.JWTSecret))

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", httpServer.Addr, "runtime", cfg.Runtime.URL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadDefault()
	}
	return config.Load(path)
}

func setupLogging(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	if level != "debug" && level != "info" && level != "warn" && level != "error" {
		fmt.Fprintf(os.Stderr, "unknown log level %q, using info\n", level)
	}
}
