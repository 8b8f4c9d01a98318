// Package systemd reports service state over the sd_notify protocol.
// Every call is a no-op when the process is not run by systemd.
package systemd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends readiness, status and watchdog messages to systemd.
type Notifier struct {
	logger *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNotifier creates a notifier.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger}
}

func (n *Notifier) send(state string) error {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		return err
	}
	if sent {
		n.logger.Debug("Notified systemd", "state", state)
	}
	return nil
}

// Ready reports that startup finished.
func (n *Notifier) Ready() error {
	return n.send(daemon.SdNotifyReady)
}

// Stopping reports that shutdown began.
func (n *Notifier) Stopping() error {
	return n.send(daemon.SdNotifyStopping)
}

// Status sets the free-form status line shown by systemctl.
func (n *Notifier) Status(status string) error {
	return n.send("STATUS=" + status)
}

// StartWatchdog pings the watchdog at half the configured interval until
// ctx ends or Stop is called. It does nothing when the unit has no
// WatchdogSec.
func (n *Notifier) StartWatchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return err
	}
	ctx, n.cancel = context.WithCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := n.send(daemon.SdNotifyWatchdog); err != nil {
					n.logger.Warn("Watchdog ping failed", "error", err)
				}
			}
		}
	}()
	n.logger.Info("Watchdog enabled", "interval", interval)
	return nil
}

// Stop ends the watchdog loop.
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
}
