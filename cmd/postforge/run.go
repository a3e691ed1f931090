package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/postforge/internal/apperr"
	"github.com/TobiSchelling/postforge/internal/logger"
	"github.com/TobiSchelling/postforge/internal/server"
)

var (
	enhanceSchedule string
	runServe        bool
	servePort       int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the generation queue until interrupted",
	Long: "Run claims queued jobs one at a time. With --enhance-schedule it also runs the\n" +
		"enhancement batch on a cron schedule; with --serve it exposes the JSON API.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		svc := buildServices(db)
		r := svc.newRunner(db)
		if _, err := r.Start(ctx); err != nil {
			return err
		}

		schedule := enhanceSchedule
		if schedule == "" {
			schedule = cfg.Enhance.Schedule
		}
		if schedule != "" {
			batch := svc.newBatch(db)
			c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})))
			_, err := c.AddFunc(schedule, func() {
				if _, err := batch.Run(ctx, time.Now(), svc.batchOptions(0, 0, false)); err != nil {
					log.Error("scheduled enhancement failed", "kind", apperr.Kind(err), "error", err)
				}
			})
			if err != nil {
				r.Stop()
				r.Wait()
				return fmt.Errorf("invalid enhance schedule %q: %w", schedule, err)
			}
			c.Start()
			defer func() { <-c.Stop().Done() }()
			log.Info("enhancement scheduled", "schedule", schedule)
		}

		errCh := make(chan error, 1)
		if runServe {
			srv := server.New(server.Deps{
				Store:           db,
				Generator:       svc.orchestrator,
				Runner:          r,
				Context:         ctx,
				GenerateTimeout: cfg.JobTimeout(),
				Log:             log,
			})
			go func() { errCh <- server.Serve(ctx, srv.Handler(), port(), log) }()
		}

		fmt.Println("Runner started. Press Ctrl+C to stop.")
		var serveErr error
		select {
		case <-ctx.Done():
		case serveErr = <-errCh:
		}
		r.Stop()
		r.Wait()
		if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
			return serveErr
		}
		fmt.Println("Runner stopped.")
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		svc := buildServices(db)
		srv := server.New(server.Deps{
			Store:           db,
			Generator:       svc.orchestrator,
			Runner:          svc.newRunner(db),
			Context:         cmd.Context(),
			GenerateTimeout: cfg.JobTimeout(),
			Log:             log,
		})
		fmt.Printf("Serving on http://127.0.0.1:%d\n", port())
		return server.Serve(cmd.Context(), srv.Handler(), port(), log)
	},
}

// cronLogger adapts the zap logger to cron's logging interface.
type cronLogger struct{ l *logger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}

func port() int {
	if servePort > 0 {
		return servePort
	}
	if cfg.Server.Port > 0 {
		return cfg.Server.Port
	}
	return 8000
}

func init() {
	runCmd.Flags().StringVar(&enhanceSchedule, "enhance-schedule", "", "Cron expression for the enhancement batch (overrides config)")
	runCmd.Flags().BoolVar(&runServe, "serve", false, "Also serve the JSON API")
	runCmd.Flags().IntVarP(&servePort, "port", "p", 0, "API port (overrides config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "API port (overrides config)")
}
