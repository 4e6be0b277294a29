package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/pevans/newsagg/api"
	"github.com/pevans/newsagg/logger"
	"github.com/pevans/newsagg/service"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(global *globalOptions) *cobra.Command {
	var (
		listen   string
		schedule string
		runNow   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run aggregations on a schedule and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := loadSystem(global, false)
			if err != nil {
				return err
			}
			defer sys.Close()

			if listen == "" {
				listen = sys.cfg.Listen
			}
			if schedule == "" {
				schedule = sys.cfg.Schedule
			}

			var runnerOpts []service.Option
			serverOpts := []api.Option{api.WithGatherer(sys.gatherer), api.WithLogger(sys.log)}
			if sys.store != nil {
				runnerOpts = append(runnerOpts, service.WithSink(sys.store))
				serverOpts = append(serverOpts, api.WithStore(sys.store))
			}
			runner := service.New(sys.driver, sys.registry, append(runnerOpts, service.WithLogger(sys.log))...)

			if schedule != "" {
				if err := runner.Schedule(schedule); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			runner.Start(ctx)
			defer runner.Stop()

			if runNow {
				if err := runner.Trigger(); err != nil {
					return err
				}
			}

			gin.SetMode(gin.ReleaseMode)
			srv := &http.Server{
				Addr:              listen,
				Handler:           api.NewServer(runner, serverOpts...).SetupRouter(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				sys.log.Info("Starting HTTP API",
					logger.String("addr", listen),
					logger.String("schedule", schedule),
					logger.Int("sources", sys.registry.Len()))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			sys.log.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down server: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (default from config)")
	cmd.Flags().StringVar(&schedule, "schedule", "", `cron expression for runs, such as "0 * * * *" (default from config)`)
	cmd.Flags().BoolVar(&runNow, "run-now", false, "start a run immediately")
	return cmd
}
