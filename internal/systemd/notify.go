// Package systemd reports service lifecycle to the service manager through
// the sd_notify protocol. Every call is a no-op when camnode is not running
// under systemd.
package systemd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/smazurov/camnode/internal/logging"
)

// Notifier sends state changes to the service manager.
type Notifier struct {
	logger *slog.Logger
	notify func(state string) (bool, error)
}

// NewNotifier creates a notifier using the NOTIFY_SOCKET from the environment.
func NewNotifier() *Notifier {
	return &Notifier{
		logger: logging.GetLogger("systemd"),
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
}

func (n *Notifier) send(state string) bool {
	sent, err := n.notify(state)
	if err != nil {
		n.logger.Warn("sd_notify failed", "state", state, "error", err)
		return false
	}
	return sent
}

// Ready tells the service manager startup is complete. The status line is
// shown by systemctl status.
func (n *Notifier) Ready(status string) bool {
	return n.send(fmt.Sprintf("%s\nSTATUS=%s", daemon.SdNotifyReady, status))
}

// Status updates the free-form status line.
func (n *Notifier) Status(status string) bool {
	return n.send("STATUS=" + status)
}

// Stopping tells the service manager shutdown has begun.
func (n *Notifier) Stopping() bool {
	return n.send(daemon.SdNotifyStopping)
}

// RunWatchdog pings the watchdog at half the configured interval until ctx is
// done. It returns immediately when WatchdogSec is not set for the unit.
func (n *Notifier) RunWatchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.logger.Warn("Watchdog configuration invalid", "error", err)
		return
	}
	if interval == 0 {
		return
	}
	n.logger.Debug("Watchdog enabled", "interval", interval)
	n.watchdog(ctx, interval/2)
}

func (n *Notifier) watchdog(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
