// Package systemd reports service state to the service manager.
package systemd

import (
	"context"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages. Outside systemd every call is a no-op.
type Notifier struct {
	logger *slog.Logger
	send   func(state string) (bool, error)
}

// NewNotifier creates a notifier that writes to $NOTIFY_SOCKET.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{
		logger: logger,
		send: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
}

func (n *Notifier) notify(state string) {
	sent, err := n.send(state)
	if err != nil {
		n.logger.Warn("sd_notify failed", "state", state, "error", err)
		return
	}
	if sent {
		n.logger.Debug("sd_notify", "state", state)
	}
}

// Ready reports that startup finished.
func (n *Notifier) Ready() { n.notify(daemon.SdNotifyReady) }

// Reloading reports that configuration is being reapplied. Call Ready after.
func (n *Notifier) Reloading() { n.notify(daemon.SdNotifyReloading) }

// Stopping reports that shutdown began.
func (n *Notifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl.
func (n *Notifier) Status(msg string) { n.notify("STATUS=" + msg) }

// RunWatchdog pings the watchdog at half its timeout until ctx is done. It
// returns at once when the unit has no watchdog.
func (n *Notifier) RunWatchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
