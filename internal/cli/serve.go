package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"finplan/internal/amqp"
	apphttp "finplan/internal/http"
	"finplan/internal/log"
	"finplan/internal/worker"
)

const (
	shutdownTimeout    = 30 * time.Second
	cacheSweepInterval = time.Minute
)

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daily scheduler, the admin HTTP server and the AMQP run-request consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.openApp(true)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, cancel := GracefulShutdown(cmd.Context(), app.Logger)
			defer cancel()

			return serve(ctx, cancel, app)
		},
	}
}

func serve(ctx context.Context, cancel context.CancelFunc, app *App) error {
	logger := app.Logger
	cfg := app.Config

	srv := apphttp.NewServer(cfg.AdminAddr, app.Scheduler, app.Metrics.Handler(), app.Readiness(), logger)
	srv.ReadTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	app.Caches.Register(srv.RateLimits())

	go app.Caches.Run(ctx, cacheSweepInterval)
	app.Scheduler.Start(ctx)

	if app.AMQP != nil {
		go consumeRunRequests(ctx, app.AMQP, app.Scheduler, logger.WithComponent(log.ComponentAMQP))
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting admin server", "addr", cfg.AdminAddr, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			logger.Error("Admin server error", "error", err, "addr", cfg.AdminAddr)
			runErr = err
		}
		cancel()
	}

	logger.Info("Shutting down finplan", log.FieldOperation, log.OpShutdown)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin server shutdown error", "error", err)
	}
	app.Scheduler.Shutdown(shutdownTimeout)

	select {
	case <-app.Caches.Done():
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached")
	}
	logger.Info("Shutdown complete")
	return runErr
}

// runTrigger is the scheduler surface the consumer needs.
type runTrigger interface {
	RunOnce(ctx context.Context, trigger string) (worker.RunResult, error)
}

func consumeRunRequests(ctx context.Context, client *amqp.Client, scheduler runTrigger, logger *log.Logger) {
	err := client.ConsumeRunRequests(ctx, handleRunRequest(scheduler, logger))
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Run request consumer stopped", "error", err)
	}
}

func handleRunRequest(scheduler runTrigger, logger *log.Logger) func(context.Context, *amqp.RunRequest) error {
	return func(ctx context.Context, req *amqp.RunRequest) error {
		logger.InfoContext(ctx, "Run requested", "requested_by", req.RequestedBy, log.FieldTrigger, worker.TriggerAMQP)
		_, err := scheduler.RunOnce(ctx, worker.TriggerAMQP)
		return err
	}
}
