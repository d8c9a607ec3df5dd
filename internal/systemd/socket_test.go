package systemd

import (
	"context"
	"testing"
)

func TestOutsideSystemd(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	listeners, err := GetListeners()
	if err != nil {
		t.Fatalf("GetListeners failed: %v", err)
	}
	if listeners.Activated || listeners.API != nil || listeners.Metrics != nil {
		t.Errorf("Expected no activated listeners, got %+v", listeners)
	}

	if err := NotifyReady(); err != nil {
		t.Errorf("NotifyReady should be a no-op, got %v", err)
	}
	if err := NotifyStopping(); err != nil {
		t.Errorf("NotifyStopping should be a no-op, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := RunWatchdog(ctx); err != nil {
		t.Errorf("RunWatchdog should return nil without a watchdog, got %v", err)
	}
}
