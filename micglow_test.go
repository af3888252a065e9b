package micglow

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cancelClock cancels the daemon after a number of loop delays.
type cancelClock struct {
	sleeps int
	after  int
	cancel context.CancelFunc
}

func (c *cancelClock) Sleep(time.Duration) {
	c.sleeps++
	if c.sleeps == c.after {
		c.cancel()
	}
}

func TestDaemonConsoleSynthetic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Matrix.Driver = ConsoleDriver
	cfg.Mic.Source = SyntheticSource

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	d, err := NewDaemon(cfg, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := &cancelClock{after: 3, cancel: cancel}
	d.clock = clock

	err = d.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, clock.sleeps)

	out := logs.String()
	assert.Equal(t, 3, strings.Count(out, `msg="microphone level"`))
	assert.Equal(t, 3, strings.Count(out, "status=silence"))
	assert.Equal(t, 3, strings.Count(out, `msg="loudness trend"`))
}

func TestNewDaemonRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Matrix.Driver = "hdmi"

	_, err := NewDaemon(cfg, slog.Default())
	assert.Error(t, err)
}
