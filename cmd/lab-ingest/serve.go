package main

import (
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/urfave/cli/v2"

	"github.com/withObsrvr/lab-ingest/internal/copier"
	"github.com/withObsrvr/lab-ingest/internal/metrics"
)

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run passes on the configured cron schedule until interrupted",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "run-now",
			Usage: "start a pass immediately instead of waiting for the first tick",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}

		c, closeFn, err := build(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		if cfg.Metrics.Enabled {
			metrics.Init("lab_ingest")
			go func() {
				slog.Info("serving metrics", "address", cfg.Metrics.Address)
				if err := metrics.Serve(ctx, cfg.Metrics.Address); err != nil {
					slog.Error("metrics server stopped", "error", err)
				}
			}()
		}

		s := gocron.NewScheduler(time.UTC)
		// A pass still running when the next tick fires is not overlapped.
		s.SingletonModeAll()

		pass := func() {
			report, err := c.Run(ctx)
			if err != nil {
				slog.Error("run failed", "error", err)
				return
			}
			if n := report.Count(copier.Aborted); n > 0 {
				slog.Warn("folders aborted on corrupted files", "run_id", report.RunID, "count", n)
			}
		}

		job, err := s.Cron(cfg.Schedule.Cron).Do(pass)
		if err != nil {
			return err
		}
		if cctx.Bool("run-now") {
			pass()
		}

		s.StartAsync()
		slog.Info("scheduler started", "cron", cfg.Schedule.Cron, "next_run", job.NextRun())

		<-ctx.Done()
		slog.Info("shutting down scheduler")
		s.Stop()
		return nil
	},
}
