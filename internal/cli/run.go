package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"igmonitor/internal/app"
	logx "igmonitor/pkg/logx"
)

func newRunCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the Telegram bot and the monitors (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), *cfgFile)
		},
	}
}

func run(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a, err := app.New(cfgPath, app.Options{})
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	log := logx.NewConsole("INFO").With(logx.String("comp", "systemd"))
	notify(log, daemon.SdNotifyReady)
	go watchdog(ctx, log)

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	case <-parent.Done():
	}

	notify(log, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	cancel()
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

// notify is a no-op outside systemd (NOTIFY_SOCKET unset).
func notify(log logx.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}

// watchdog pings at half the WatchdogSec interval when the unit enables it.
func watchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			notify(log, daemon.SdNotifyWatchdog)
		}
	}
}
