package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LoggerConfig{Level: WARN, Component: "test", Output: &buf})
	l.Info("should not appear")
	l.Warn("should appear")
	require.NotContains(t, buf.String(), "should not appear")
	require.Contains(t, buf.String(), "should appear")
}

func TestLoggerFieldsRendered(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LoggerConfig{Level: DEBUG, Component: "detector", Output: &buf})
	l.Info("tick", Uint64("frame_id", 42), Err(errors.New("boom")))
	out := buf.String()
	require.True(t, strings.Contains(out, "frame_id=42"))
	require.True(t, strings.Contains(out, "error="))
}

func TestGracefulShutdownRunsAllHooks(t *testing.T) {
	var order []int
	var buf bytes.Buffer
	gs := NewGracefulShutdown(time.Second, NewLogger(LoggerConfig{Output: &buf}))
	gs.Register(func() error { order = append(order, 1); return nil })
	gs.Register(func() error { order = append(order, 2); return nil })

	err := gs.Shutdown(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []int{1, 2}, order)
}

func TestGracefulShutdownTimesOut(t *testing.T) {
	gs := NewGracefulShutdown(10*time.Millisecond, nil)
	gs.Register(func() error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	err := gs.Shutdown(context.Background())
	require.Error(t, err)
}
