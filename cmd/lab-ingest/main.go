package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/withObsrvr/lab-ingest/internal/config"
	"github.com/withObsrvr/lab-ingest/internal/copier"
	"github.com/withObsrvr/lab-ingest/internal/logging"
	"github.com/withObsrvr/lab-ingest/internal/remote"
	"github.com/withObsrvr/lab-ingest/internal/storage"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to the YAML config file",
	EnvVars: []string{config.EnvPrefix + "_CONFIG"},
}

func main() {
	app := &cli.App{
		Name:    "lab-ingest",
		Usage:   "ingest laboratory sequencing batches from a remote endpoint",
		Version: fmt.Sprintf("%s (%s)", copier.Version, copier.GitSHA),
		Flags:   []cli.Flag{configFlag},
		Commands: []*cli.Command{
			runCmd,
			serveCmd,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("lab-ingest failed", "error", err)
		os.Exit(1)
	}
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "perform a single pass over the remote root",
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}

		c, closeFn, err := build(cctx.Context, cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		report, err := c.Run(cctx.Context)
		if err != nil {
			if cctx.Context.Err() != nil {
				slog.Info("shutdown complete")
				return nil
			}
			return err
		}

		if n := report.Count(copier.Aborted) + report.Count(copier.Failed); n > 0 {
			return cli.Exit(fmt.Sprintf("%d folder(s) need attention", n), 2)
		}
		return nil
	},
}

// loadConfig reads the config file named by --config and installs the
// global logger.
func loadConfig(cctx *cli.Context) (config.Config, error) {
	cfg, err := config.Load(cctx.String(configFlag.Name))
	if err != nil {
		return config.Config{}, err
	}

	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	slog.Info("lab-ingest starting", "version", copier.Version, "git_sha", copier.GitSHA, "protocol", cfg.Remote.Protocol)
	return cfg, nil
}

// build wires the remote opener and scratch store into a Copier.
func build(ctx context.Context, cfg config.Config) (*copier.Copier, func(), error) {
	scratch, err := storage.OpenScratch(ctx, cfg.Scratch.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("open scratch store: %w", err)
	}

	c := copier.New(cfg, remote.NewOpener(cfg.Remote), scratch)
	closeFn := func() {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close audit emitter", "error", err)
		}
		if err := scratch.Close(); err != nil {
			slog.Warn("failed to close scratch store", "error", err)
		}
	}
	return c, closeFn, nil
}
