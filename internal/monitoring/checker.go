package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Checker runs the collect-evaluate-alert cycle on a fixed interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
}

// NewChecker wires a collector and alerter into a periodic health check.
func NewChecker(collector *Collector, alerter *Alerter, interval time.Duration, lookbackHours int) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  lookbackHours,
	}
}

// Run blocks until ctx is cancelled, checking once immediately and then
// on every interval tick.
func (c *Checker) Run(ctx context.Context) {
	c.check(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.check(ctx)
		}
	}
}

func (c *Checker) check(ctx context.Context) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		zap.L().Error("metrics collection failed", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)
	zap.L().Debug("health check",
		zap.Int("executions", snap.ExecutionsTotal),
		zap.Float64("fail_rate", snap.ExecutionFailRate),
		zap.Int("alerts", len(alerts)))

	if err := c.alerter.SendAlerts(ctx, alerts); err != nil {
		zap.L().Error("alert delivery incomplete", zap.Error(err))
	}
}
