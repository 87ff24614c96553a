package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/socratic-gateway/internal/config"
	"github.com/tjfontaine/socratic-gateway/internal/mcp"
	"github.com/tjfontaine/socratic-gateway/internal/storage"
	"github.com/tjfontaine/socratic-gateway/internal/storage/memory"
	"github.com/tjfontaine/socratic-gateway/internal/storage/sqlite"
	"github.com/tjfontaine/socratic-gateway/internal/tools"
)

var mcpPrincipal string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the tutoring tools over MCP on stdio",
	RunE:  runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpPrincipal, "principal", mcp.DefaultPrincipal, "owner recorded on saved insights")
}

func runMCP(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	// stdout carries the protocol
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var store storage.Store
	if cfg.Storage.Type == "memory" {
		store = memory.New()
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLite.Path), 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		if store, err = sqlite.New(cfg.Storage.SQLite.Path); err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
	}
	defer store.Close()

	var opts []tools.TavilyOption
	if cfg.Tools.TavilyBaseURL != "" {
		opts = append(opts, tools.WithBaseURL(cfg.Tools.TavilyBaseURL))
	}
	registry, err := tools.Default(tools.Deps{
		Searcher: tools.NewTavilyClient(cfg.Tools.TavilyAPIKey, opts...),
		Insights: store,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	server, err := mcp.New(registry, mcp.Config{
		Version:   version,
		Principal: mcpPrincipal,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx)
}
