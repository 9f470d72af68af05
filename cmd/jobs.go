package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/service"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/config"
)

var (
	workerMode bool

	abandonedMinAge int
	abandonedMaxAge int
	abandonedDryRun bool

	purgeTag string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Refresh the gateway clock offset and cancel abandoned payments",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"reconcile",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ReconcileInterval },
			func(rt *runtime, ctx context.Context) error {
				_, err := rt.reconcileService.Execute(ctx)
				return err
			},
		)
	},
}

var clockCmd = &cobra.Command{
	Use:   "clock",
	Short: "Run gateway clock offset commands",
}

var clockPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Re-measure the gateway clock offset when the stored value is missing or stale",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"clock_ping",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ReconcileInterval },
			func(rt *runtime, ctx context.Context) error {
				if err := rt.reconcileService.RefreshOffsetIfNeeded(ctx); err != nil {
					return err
				}
				logrus.WithField("offset_seconds", rt.reconcileService.CurrentOffset(ctx)).Info("Clock offset")
				return nil
			},
		)
	},
}

var abandonedCmd = &cobra.Command{
	Use:   "abandoned",
	Short: "Run abandoned payment commands",
}

var abandonedCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel abandoned payment and setup intents inside the age window",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"abandoned_cancel",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ReconcileInterval },
			func(rt *runtime, ctx context.Context) error {
				report, err := rt.reconcileService.CancelAbandonedPayments(ctx, abandonedSweepOptions(os.Stdout))
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout,
					"scanned=%d abandoned=%d canceled=%d expired_sessions=%d skipped=%d failed=%d orders_canceled=%d\n",
					report.Scanned, report.Abandoned, report.Canceled, report.ExpiredSessions,
					report.Skipped, report.Failed, report.OrdersCanceled,
				)
				return nil
			},
		)
	},
}

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Run storefront order commands",
}

var ordersExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Cancel pending-payment orders older than the configured lifetime",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"orders_expire",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ExpireOrdersInterval },
			func(rt *runtime, ctx context.Context) error {
				return rt.reconcileService.RunCleanExpiredOrders(ctx)
			},
		)
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Run cache commands",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove every cached entry saved under a tag",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"cache_purge",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ReconcileInterval },
			func(rt *runtime, ctx context.Context) error {
				removed, err := rt.cache.PurgeTag(ctx, purgeTag)
				if err != nil {
					return err
				}
				logrus.WithFields(logrus.Fields{"tag": purgeTag, "removed": removed}).Info("Cache tag purged")
				return nil
			},
		)
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(clockCmd)
	rootCmd.AddCommand(abandonedCmd)
	rootCmd.AddCommand(ordersCmd)
	rootCmd.AddCommand(cacheCmd)
	clockCmd.AddCommand(clockPingCmd)
	abandonedCmd.AddCommand(abandonedCancelCmd)
	ordersCmd.AddCommand(ordersExpireCmd)
	cacheCmd.AddCommand(cachePurgeCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")

	abandonedCancelCmd.Flags().IntVar(&abandonedMinAge, "min-age", 120, "Youngest intent age to consider, in minutes")
	abandonedCancelCmd.Flags().IntVar(&abandonedMaxAge, "max-age", 360, "Oldest intent age to consider, in minutes")
	abandonedCancelCmd.Flags().BoolVar(&abandonedDryRun, "dry-run", false, "Report what would be canceled without touching Stripe or orders")

	cachePurgeCmd.Flags().StringVar(&purgeTag, "tag", service.OffsetCacheTag, "Cache tag to purge")
}

// abandonedSweepOptions takes the flag values literally, so --min-age 0 sweeps
// up to the current gateway time.
func abandonedSweepOptions(out io.Writer) service.SweepOptions {
	minAge := time.Duration(abandonedMinAge) * time.Minute
	maxAge := time.Duration(abandonedMaxAge) * time.Minute
	return service.SweepOptions{
		MinAge: &minAge,
		MaxAge: &maxAge,
		DryRun: abandonedDryRun,
		Output: service.NewWriterSink(out),
	}
}

func runCommand(
	name string,
	intervalResolver func(cfg *config.Config) time.Duration,
	fn func(rt *runtime, ctx context.Context) error,
) {
	rt := mustCreateRuntime()
	defer rt.Close()

	if workerMode {
		runWorker(name, intervalResolver(rt.cfg), rt, fn)
		return
	}

	ctx := context.Background()
	runJob(name, func() error { return fn(rt, ctx) })
}

func runWorker(
	name string,
	interval time.Duration,
	rt *runtime,
	fn func(rt *runtime, ctx context.Context) error,
) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJob(name, func() error { return fn(rt, ctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() error { return fn(rt, ctx) })
		}
	}
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}
