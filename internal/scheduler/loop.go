package scheduler

import (
	"context"
	"time"

	"github.com/dukerupert/allowance/internal/recurrence"
)

// Start runs one materialization pass, then fires the daily cycle shortly
// after each local midnight until ctx is cancelled or Stop is called.
func (d *Driver) Start(ctx context.Context) {
	d.mu.Lock()
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	d.mu.Unlock()

	go func() {
		defer close(d.done)

		if _, err := d.materializer.Materialize(ctx, d.Today()); err != nil {
			d.logger.Error("startup materialize", "error", err)
		}

		for {
			wait := d.nextRun(d.now()).Sub(d.now())
			d.logger.Debug("next daily cycle", "in", wait.Round(time.Second))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				d.tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
func (d *Driver) Stop() {
	d.mu.RLock()
	cancel := d.cancel
	done := d.done
	d.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// nextRun is the first local midnight plus RunOffset strictly after now.
func (d *Driver) nextRun(now time.Time) time.Time {
	local := now.In(d.cfg.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, d.cfg.Location)
	next := midnight.Add(d.cfg.RunOffset)
	for !next.After(now) {
		midnight = midnight.AddDate(0, 0, 1)
		next = midnight.Add(d.cfg.RunOffset)
	}
	return next
}

func (d *Driver) tick(ctx context.Context) {
	if d.locker != nil {
		release, ok, err := d.locker.TryAcquire(ctx, d.cfg.LeaseName)
		if err != nil {
			d.logger.Error("acquire lease", "lease", d.cfg.LeaseName, "error", err)
			return
		}
		if !ok {
			d.logger.Info("lease held elsewhere, skipping daily cycle", "lease", d.cfg.LeaseName)
			return
		}
		defer release()
	}

	sum, err := d.RunDailyCycle(ctx, nil)
	if err != nil {
		d.logger.Error("daily cycle", "target_date", recurrence.FormatDate(sum.TargetDate), "error", err)
	}
}
