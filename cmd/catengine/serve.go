package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammad-safakhou/catengine/internal/recalibration"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const schedulerStopTimeout = 10 * time.Second

func serveCMD(cfgPath *string) *cobra.Command {
	var runOnStart bool
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the recalibration scheduler and the metrics endpoint until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.log.Sync()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			tel := a.telemetry()
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return tel.Serve(gctx) })

			if a.cfg.Recalibration.Enabled {
				st, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				defer st.Close()

				sched, err := recalibration.NewScheduler(a.runner(st, tel), recalibration.SchedulerOptions{
					Interval:   a.cfg.Recalibration.Interval,
					Cron:       a.cfg.Recalibration.Cron,
					RunOnStart: runOnStart,
					Logger:     a.log,
				})
				if err != nil {
					return err
				}
				if err := sched.Start(gctx); err != nil {
					return err
				}
				g.Go(func() error {
					<-gctx.Done()
					return sched.Stop(schedulerStopTimeout)
				})
				a.log.Info("recalibration scheduler started", "interval", a.cfg.Recalibration.Interval.String(), "cron", a.cfg.Recalibration.Cron)
			}

			g.Go(func() error {
				<-gctx.Done()
				return nil
			})
			a.log.Info("catengine serving", "metrics", a.cfg.Telemetry.MetricsEnabled, "recalibration", a.cfg.Recalibration.Enabled)
			err = g.Wait()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			a.log.Info("catengine stopped")
			return nil
		},
	}
	serve.Flags().BoolVar(&runOnStart, "run-on-start", false, "run one recalibration pass immediately")
	return serve
}
