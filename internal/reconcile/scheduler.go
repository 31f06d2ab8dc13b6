package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"github.com/anonto42/nano-midea/fanout/pkg/logger"
)

// DefaultCron runs reconciliation daily at 03:00 UTC.
const DefaultCron = "0 3 * * *"

// Start validates cronExpr and runs r.All on every tick until the returned
// cancel function is called or ctx ends. Runs never overlap.
func Start(ctx context.Context, r *Reconciler, cronExpr string) (context.CancelFunc, error) {
	if cronExpr == "" {
		cronExpr = DefaultCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Log.Error("reconcile_invalid_cron", zap.String("cron", cronExpr))
		return nil, fmt.Errorf("invalid reconcile cron expression: %s", cronExpr)
	}

	ctx, cancel := context.WithCancel(ctx)
	go runScheduler(ctx, cronExpr, func(ctx context.Context) {
		if _, err := r.All(ctx); err != nil {
			logger.Log.Error("reconcile_run_error", zap.Error(err))
		}
	})
	logger.Log.Info("reconcile_scheduler_started", zap.String("cron", cronExpr))
	return cancel, nil
}

// runScheduler sleeps until the next cron tick and then runs fn.
func runScheduler(ctx context.Context, cronExpr string, fn func(context.Context)) {
	for {
		next, err := gronx.NextTickAfter(cronExpr, time.Now().UTC(), false)
		if err != nil {
			logger.Log.Error("reconcile_nexttick_failed", zap.String("cron", cronExpr), zap.Error(err))
			next = time.Now().Add(30 * time.Second)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Log.Info("reconcile_scheduler_stopping")
			return
		case <-timer.C:
		}
		if err == nil {
			fn(ctx)
		}
	}
}
