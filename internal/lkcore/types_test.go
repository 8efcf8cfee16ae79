package lkcore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLaneSlopeAndValid(t *testing.T) {
	l := Lane{X1: 240, Y1: 600, X2: 360, Y2: 360, Confidence: 0.9}
	slope, ok := l.Slope()
	require.True(t, ok)
	require.InDelta(t, -2.0, slope, 1e-9)
	require.True(t, l.Valid())
}

func TestLaneVerticalSlopeUndefined(t *testing.T) {
	l := Lane{X1: 100, Y1: 600, X2: 100, Y2: 300}
	_, ok := l.Slope()
	require.False(t, ok)
}

func TestDetectionResultHasBothNone(t *testing.T) {
	left := &Lane{X1: 1, Y1: 2}
	d := DetectionResult{LeftLane: left}
	require.False(t, d.HasBoth())
	require.False(t, d.HasNone())

	d2 := DetectionResult{}
	require.True(t, d2.HasNone())
}

func TestControlCommandClamp(t *testing.T) {
	c := ControlCommand{Steering: 2.0, Throttle: 0.9, Brake: 0.5}.Clamp()
	require.Equal(t, float32(1.0), c.Steering)
	require.Equal(t, float32(0.9), c.Throttle)
	require.Equal(t, float32(0), c.Brake)
}

func TestConfigValidate(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	bad := c
	bad.CV.CannyLow = 200
	require.Error(t, bad.Validate())
}
