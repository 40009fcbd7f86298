// Command kazandb runs a key-value server speaking the Redis serialization protocol.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/kazandb/kazandb/internal/config"
	"github.com/kazandb/kazandb/internal/logger"
	"github.com/kazandb/kazandb/internal/resp"
	"github.com/kazandb/kazandb/internal/server"
	"github.com/kazandb/kazandb/internal/storage"
)

// Build information, set via ldflags.
var version = "dev"

func main() {
	if err := newApp(serve).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newApp builds the command line. action receives the merged, validated configuration
func newApp(action func(cfg *config.Config) error) *cli.App {
	return &cli.App{
		Name:    "kazandb",
		Usage:   "in-memory key-value server speaking RESP2",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "directory holding config.yaml",
				Value: ".",
			},
			&cli.StringFlag{
				Name:    "host",
				Aliases: []string{"H"},
				Usage:   "address to bind",
			},
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "port to listen on",
			},
			&cli.StringFlag{
				Name:  "parser",
				Usage: fmt.Sprintf("wire protocol, one of %v", resp.Protocols()),
			},
			// -v is taken by the built-in --version flag
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log every request and reply",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return action(cfg)
		},
	}
}

// loadConfig reads the file and environment, then applies the flags that were set explicitly
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if c.IsSet("host") {
		cfg.Server.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.String("port")
	}
	if c.IsSet("parser") {
		cfg.Server.Protocol = c.String("parser")
	}
	if c.IsSet("verbose") {
		cfg.Server.Verbose = c.Bool("verbose")
		// request logging is written at debug level
		if cfg.Server.Verbose && !c.IsSet("log-level") {
			cfg.Log.Level = "debug"
		}
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serve(cfg *config.Config) error {
	log := logger.New(cfg.Log)
	defer log.Sync() //nolint:errcheck

	log.Info("kazandb starting",
		zap.String("version", version),
		zap.String("address", cfg.Server.Address()),
		zap.String("engine", cfg.Storage.Engine),
		zap.Uint("shards", cfg.Storage.Shards),
	)

	db, err := storage.New(cfg.Storage)
	if err != nil {
		log.Error("cant initialize storage", zap.Error(err))
		return err
	}
	defer db.Close() //nolint:errcheck

	engine := server.NewEngine(db, cfg, log)
	defer engine.Shutdown()

	metrics := server.NewMetrics()
	metrics.WatchStorage(db)

	srv, err := server.New(cfg, engine, log, metrics)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err = srv.ListenAndServe(ctx); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		return err
	}

	log.Info("kazandb stopped")
	return nil
}
