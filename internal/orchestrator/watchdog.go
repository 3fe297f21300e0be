package orchestrator

import (
	"context"
	"errors"
	"time"
)

func (w *Worker) ensureWatchdog() {
	w.watchdogOnce.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.shuttingDown {
			return
		}

		ctx, cancel := context.WithCancel(w.ctx)
		w.watchdogCancel = cancel
		w.watchdogDone = make(chan struct{})
		go w.watchdog(ctx, w.watchdogDone)
	})
}

func (w *Worker) stopWatchdog() {
	w.mu.Lock()
	cancel, done := w.watchdogCancel, w.watchdogDone
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Worker) watchdog(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.opts.WatchdogInterval)
	defer ticker.Stop()

	w.log.WithField("interval", w.opts.WatchdogInterval).Info("watchdog started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info("watchdog stopped")
			return
		case <-ticker.C:
			w.checkState(ctx)
		}
	}
}

// checkState ends a session whose subscriber has been gone longer than the
// idle timeout and reattaches a disconnected browser.
func (w *Worker) checkState(ctx context.Context) {
	w.mu.Lock()
	shutting := w.shuttingDown
	connected := w.connected
	expired := w.idleExpiredLocked()
	w.mu.Unlock()

	if shutting {
		return
	}

	if expired {
		ended, err := w.endIdleSession(ctx)
		if err != nil {
			w.log.WithError(err).Warn("failed to end idle session")
		}
		if ended {
			w.log.WithField("idle_timeout", w.opts.IdleTimeout).Info("ended session after subscriber inactivity")
		}
	}

	if !connected {
		w.log.Info("browser not connected, relaunching")
		if err := w.Launch(ctx); err != nil && !errors.Is(err, ErrLaunchInProgress) {
			w.log.WithError(err).Debug("relaunch failed")
		}
	}
}
