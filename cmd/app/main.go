package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/ellingard/chartd/internal"
	"github.com/ellingard/chartd/internal/mcpserver"
	"github.com/ellingard/chartd/internal/organize"
	"github.com/ellingard/chartd/internal/policy"
	"github.com/ellingard/chartd/internal/ratelimit"
	"github.com/ellingard/chartd/internal/remote"
	"github.com/ellingard/chartd/internal/state"
	"github.com/ellingard/chartd/internal/syncer"
	"github.com/ellingard/chartd/internal/syncservice"
	pkgconfig "github.com/ellingard/chartd/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cmd.Bool("mcp") {
		return runMCP(cfg)
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

// runMCP serves the operator tools over stdio instead of starting the
// HTTP server and sync loops. Logs go to stderr to keep stdout clean
// for the protocol.
func runMCP(cfg *internal.Config) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))

	db, err := state.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init state store: %w", err)
	}
	defer db.Close()

	policies, err := policy.NewProvider(cfg.Policy.Path)
	if err != nil {
		return fmt.Errorf("load policy table: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit.ReadCalls, cfg.RateLimit.WriteCalls, cfg.RateLimit.Window())
	store, err := remote.NewMinioStore(remote.Options{
		Endpoint:     cfg.Remote.Endpoint,
		AccessKey:    cfg.Remote.AccessKey,
		SecretKey:    cfg.Remote.SecretKey,
		UseSSL:       cfg.Remote.UseSSL,
		Bucket:       cfg.Remote.Bucket,
		SourcePrefix: cfg.Remote.SourcePrefix,
		BatchCeiling: cfg.Remote.BatchCeiling,
		PageSize:     cfg.Remote.PageSize,
		ListCacheTTL: cfg.Remote.CacheTTL(),
	}, limiter, logger)
	if err != nil {
		return fmt.Errorf("init remote store: %w", err)
	}

	org := organize.New(store, db, cfg.Remote.UserPrefix, logger)
	sc := syncer.New(db, store, policies, org, nil, logger, syncer.Config{
		Workers:          cfg.Sync.Workers,
		RunTimeout:       cfg.Sync.RunTimeout(),
		FailureThreshold: cfg.Sync.FailureThreshold,
	})
	svc := syncservice.NewService(db, sc, policies)

	return mcpserver.New(svc).ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:   "chartd",
		Usage:  "Organizes a band's shared charts and audio into per-user song folders, filtered by instrument role",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.BoolFlag{
				Name:  "mcp",
				Usage: "Serve operator tools over stdio (MCP) instead of the HTTP server",
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
