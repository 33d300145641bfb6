package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestProbeWarmupThenInterval(t *testing.T) {
	t.Parallel()

	p := NewProbe(ProbeConfig{Interval: 6 * time.Hour, Settle: 5 * time.Second, Warmup: 10 * time.Second})
	assert.False(t, p.Tick(t0), "not started")

	p.Start(t0)
	assert.False(t, p.Tick(t0))
	assert.False(t, p.Tick(t0.Add(9*time.Second)))

	first := t0.Add(10 * time.Second)
	require.True(t, p.Tick(first))
	assert.Equal(t, AwaitingReply, p.State())

	// Minute ticks for the next 6h minus warm-up never re-probe.
	for now := first.Add(time.Minute); now.Before(t0.Add(6 * time.Hour)); now = now.Add(time.Minute) {
		require.False(t, p.Tick(now), now)
	}
	assert.Equal(t, first, p.Last())
	assert.Equal(t, Idle, p.State())

	assert.True(t, p.Tick(first.Add(6*time.Hour)))
}

func TestProbeSettle(t *testing.T) {
	t.Parallel()

	p := NewProbe(ProbeConfig{Interval: time.Hour, Settle: 5 * time.Second})
	p.Start(t0)
	require.True(t, p.Tick(t0))

	_, settled := p.Settle(t0.Add(time.Second))
	assert.False(t, settled, "window still open")

	assert.True(t, p.ObserveReply(t0.Add(2*time.Second)))

	replied, settled := p.Settle(t0.Add(5 * time.Second))
	assert.True(t, settled)
	assert.True(t, replied)
	assert.Equal(t, Idle, p.State())

	assert.False(t, p.ObserveReply(t0.Add(6*time.Second)), "no probe outstanding")
	_, settled = p.Settle(t0.Add(7 * time.Second))
	assert.False(t, settled)
}

func TestProbeSilenceIsUnconfirmed(t *testing.T) {
	t.Parallel()

	p := NewProbe(ProbeConfig{Interval: time.Hour, Settle: 5 * time.Second})
	p.Start(t0)
	require.True(t, p.Tick(t0))

	replied, settled := p.Settle(t0.Add(10 * time.Second))
	assert.True(t, settled)
	assert.False(t, replied)
}

func TestProbeLastNeverMovesBackwards(t *testing.T) {
	t.Parallel()

	p := NewProbe(ProbeConfig{Interval: time.Hour})
	p.Start(t0)
	require.True(t, p.Tick(t0))
	assert.False(t, p.Tick(t0.Add(-2*time.Hour)))
	assert.Equal(t, t0, p.Last())
}

func TestProbeApplyKeepsLast(t *testing.T) {
	t.Parallel()

	p := NewProbe(ProbeConfig{Interval: 6 * time.Hour})
	p.Start(t0)
	require.True(t, p.Tick(t0))

	p.Apply(ProbeConfig{Interval: time.Hour})
	assert.Equal(t, t0.Add(time.Hour), p.NextDue())
	assert.False(t, p.Tick(t0.Add(59*time.Minute)))
	assert.True(t, p.Tick(t0.Add(time.Hour)))
}
