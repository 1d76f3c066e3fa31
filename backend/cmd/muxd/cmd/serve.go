package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mux-run/mux/backend/internal/config"
	"github.com/mux-run/mux/backend/internal/engine"
	"github.com/mux-run/mux/backend/internal/logging"
	"github.com/mux-run/mux/backend/internal/server"
)

func defaultConfigPath() (string, error) {
	return config.DefaultPath()
}

func defaultMuxHome() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".local", "share", "mux"), nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the muxd HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "address to listen on (overrides config's bind field)")
	return cmd
}

func runServe(ctx context.Context) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	log := logging.Setup(logging.Options{Level: level})

	cfgPath, err := resolveConfigPath()
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", cfgPath, err)
	}
	log.Info("loaded config", "path", cfgPath, "projects", len(cfg.Projects))

	home, err := resolveMuxHome()
	if err != nil {
		return fmt.Errorf("resolving mux home: %w", err)
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("creating mux home %s: %w", home, err)
	}

	addr := cfg.Bind
	if bind != "" {
		addr = bind
	}
	if addr == "" {
		addr = "127.0.0.1:8787"
	}

	eng := engine.New(cfg, home)
	srv := server.New(eng, cfg.BearerToken)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("muxd starting", "addr", addr, "home", home)
	if err := srv.ListenAndServe(ctx, addr); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serving: %w", err)
	}
	log.Info("muxd stopped")
	return nil
}
