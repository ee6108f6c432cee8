package systemd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "spudbot/pkg/logx"
)

func TestNotifyWithoutSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	for _, fn := range []func() (bool, error){Ready, Stopping, func() (bool, error) { return Status("polling") }} {
		sent, err := fn()
		require.NoError(t, err)
		assert.False(t, sent)
	}
}

func TestWatchdogDisabledReturns(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	done := make(chan struct{})
	go func() {
		Watchdog(context.Background(), logx.Nop())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog loop started without WATCHDOG_USEC")
	}
}
