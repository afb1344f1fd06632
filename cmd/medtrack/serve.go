package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"medtrack/internal/app"
	logx "medtrack/pkg/logx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reminder dispatcher and HTTP API until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.NewApp(configPath())
		if err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := a.Start(ctx); err != nil {
			_ = a.Stop(context.Background(), app.StopFatalError)
			return err
		}
		notifySystemd(a.Logger(), daemon.SdNotifyReady)
		stopWatchdog := startWatchdog(ctx, a.Logger())
		defer stopWatchdog()

		reason := app.StopUnknown
		select {
		case sig := <-sigCh:
			reason = app.StopSIGINT
			if sig == syscall.SIGTERM {
				reason = app.StopSIGTERM
			}
		case <-a.Done():
			reason = app.StopFatalError
		}

		notifySystemd(a.Logger(), daemon.SdNotifyStopping)
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer stopCancel()
		stopErr := a.Stop(stopCtx, reason)
		if err := a.Err(); err != nil && reason == app.StopFatalError {
			return err
		}
		return stopErr
	},
}

// notifySystemd is a no-op outside a systemd unit with NOTIFY_SOCKET set.
func notifySystemd(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("systemd notified", logx.String("state", state))
	}
}

// startWatchdog pings the systemd watchdog at half its interval when
// WatchdogSec is configured on the unit.
func startWatchdog(ctx context.Context, log logx.Logger) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog check failed", logx.Err(err))
		return func() {}
	}
	if interval <= 0 {
		return func() {}
	}
	wctx, cancel := context.WithCancel(ctx)
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-wctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	return cancel
}
