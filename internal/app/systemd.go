package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "manabot/pkg/logx"
)

const (
	sdReady    = daemon.SdNotifyReady
	sdStopping = daemon.SdNotifyStopping
	sdWatchdog = daemon.SdNotifyWatchdog
)

// startSystemd reports readiness and, when the unit sets WatchdogSec, pings
// the watchdog at half the interval while the supervisor is healthy.
func (a *App) startSystemd() {
	if !a.systemd.Notify {
		return
	}
	a.notifySystemd(sdReady)

	if !a.systemd.Watchdog {
		return
	}
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog lookup failed", logx.Err(err))
		return
	}
	if every <= 0 {
		a.log.Debug("systemd watchdog not configured for this unit")
		return
	}
	every /= 2
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				// A failed supervisor stops pinging so systemd restarts us.
				if a.sup.Err() != nil {
					continue
				}
				a.notifySystemd(sdWatchdog)
			}
		}
	})
}

func (a *App) notifySystemd(state string) {
	if !a.systemd.Notify {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		a.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
	case !sent:
		a.log.Debug("systemd notify socket not set", logx.String("state", state))
	}
}
