package dispatcher

import (
	"context"
	"fmt"
	"time"
)

// ensureRunning launches the emulator if needed and waits for Android to
// finish booting. startedByUs tells the caller whether to stop it again.
// Launch and readiness failures are retried with a fixed backoff.
func (d *Dispatcher) ensureRunning(ctx context.Context, tt *trackedTask) (startedByUs bool, err error) {
	id := tt.id

	running, err := d.ctrl.IsRunning(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		d.logger.Warn("running check failed, assuming stopped", "emulator", id, "error", err)
		running = false
	}

	if !running {
		for attempt := 1; ; attempt++ {
			err := d.ctrl.Start(ctx, id)
			if err == nil {
				break
			}
			d.addError(tt, err.Error())
			if attempt >= d.cfg.StartRetries {
				return false, fmt.Errorf("start emulator %d after %d attempts: %w", id, attempt, err)
			}
			d.logger.Warn("emulator start failed, retrying", "emulator", id, "attempt", attempt, "error", err)
			if !sleepCtx(ctx, d.cfg.RetryBackoff) {
				return false, ctx.Err()
			}
		}
		startedByUs = true
	}

	deadline := time.NewTimer(d.cfg.BootTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(d.cfg.BootPoll)
	defer ticker.Stop()

	for {
		ready, err := d.ctrl.IsDeviceReady(ctx, id)
		switch {
		case err != nil && ctx.Err() != nil:
			return startedByUs, ctx.Err()
		case err != nil:
			d.logger.Warn("device readiness check failed", "emulator", id, "error", err)
		case ready:
			return startedByUs, nil
		}

		select {
		case <-ctx.Done():
			return startedByUs, ctx.Err()
		case <-deadline.C:
			return startedByUs, fmt.Errorf("emulator %d not ready after %v", id, d.cfg.BootTimeout)
		case <-ticker.C:
		}
	}
}
