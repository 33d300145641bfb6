package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func est() *time.Location { return time.FixedZone("EST", -5*3600) }

func pondPredictor(t *testing.T) *Predictor {
	t.Helper()
	slots, err := ParseSlots([]string{"22:00", "03:00", "06:00", "10:00", "15:00", "18:00", "15:00"})
	require.NoError(t, err)
	return NewPredictor(PredictorConfig{Slots: slots, Lead: 5 * time.Minute, Window: time.Minute, Location: est()})
}

func TestParseSlots(t *testing.T) {
	t.Parallel()

	slots, err := ParseSlots([]string{"15:00", "3:00", "03:00"})
	require.NoError(t, err)
	assert.Equal(t, []Slot{{3, 0}, {15, 0}}, slots)

	for _, bad := range []string{"", "24:00", "10:60", "10", "ab:cd", "10:5"} {
		_, err := ParseSlot(bad)
		assert.Error(t, err, bad)
	}
}

func TestPredictorFiresOncePerWindow(t *testing.T) {
	t.Parallel()

	p := pondPredictor(t)
	loc := est()

	assert.Empty(t, p.Tick(time.Date(2024, 3, 1, 14, 54, 30, 0, loc)))

	due := p.Tick(time.Date(2024, 3, 1, 14, 55, 0, 0, loc))
	require.Len(t, due, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 15, 0, 0, 0, loc), due[0].At)
	assert.Equal(t, Slot{15, 0}, due[0].Slot)

	assert.Empty(t, p.Tick(time.Date(2024, 3, 1, 14, 55, 30, 0, loc)), "same window")
	assert.Empty(t, p.Tick(time.Date(2024, 3, 1, 14, 56, 0, 0, loc)), "window closed")
	assert.Equal(t, time.Date(2024, 3, 1, 15, 0, 0, 0, loc), p.LastNotified())
}

func TestPredictorNoRetroactiveNotify(t *testing.T) {
	t.Parallel()

	p := pondPredictor(t)
	loc := est()

	// The tick that should have landed at 14:55 is late by two minutes.
	assert.Empty(t, p.Tick(time.Date(2024, 3, 1, 14, 57, 0, 0, loc)))
	assert.Empty(t, p.Tick(time.Date(2024, 3, 1, 15, 0, 0, 0, loc)))
	assert.True(t, p.LastNotified().IsZero())

	due := p.Tick(time.Date(2024, 3, 1, 17, 55, 10, 0, loc))
	require.Len(t, due, 1)
	assert.Equal(t, 18, due[0].At.Hour())
}

func TestPredictorRollsToTomorrow(t *testing.T) {
	t.Parallel()

	p := pondPredictor(t)
	loc := est()

	next := p.Next(time.Date(2024, 3, 1, 23, 0, 0, 0, loc))
	require.Len(t, next, 6)
	assert.Equal(t, time.Date(2024, 3, 2, 3, 0, 0, 0, loc), next[0].At)

	due := p.Tick(time.Date(2024, 3, 2, 2, 55, 0, 0, loc))
	require.Len(t, due, 1)
	assert.Equal(t, time.Date(2024, 3, 2, 3, 0, 0, 0, loc), due[0].At)
}

func TestPredictorTickUsesZone(t *testing.T) {
	t.Parallel()

	p := pondPredictor(t)
	// 19:55 UTC == 14:55 EST.
	due := p.Tick(time.Date(2024, 3, 1, 19, 55, 0, 0, time.UTC))
	require.Len(t, due, 1)
	assert.Equal(t, 15, due[0].At.Hour())
}

func TestPredictorApplyKeepsLastNotified(t *testing.T) {
	t.Parallel()

	p := pondPredictor(t)
	loc := est()
	require.Len(t, p.Tick(time.Date(2024, 3, 1, 14, 55, 0, 0, loc)), 1)

	p.Apply(PredictorConfig{Slots: []Slot{{15, 0}}, Lead: 5 * time.Minute, Window: time.Minute, Location: loc})
	assert.Empty(t, p.Tick(time.Date(2024, 3, 1, 14, 55, 20, 0, loc)))
}

func TestPredictorUpcoming(t *testing.T) {
	t.Parallel()

	p := pondPredictor(t)
	loc := est()
	up := p.Upcoming(time.Date(2024, 3, 1, 16, 0, 0, 0, loc), 4)
	require.Len(t, up, 4)
	assert.Equal(t, 18, up[0].At.Hour())
	assert.Equal(t, 22, up[1].At.Hour())
	assert.Equal(t, time.Date(2024, 3, 2, 3, 0, 0, 0, loc), up[2].At)
	assert.Equal(t, time.Date(2024, 3, 2, 2, 55, 0, 0, loc), up[2].NotifyAt)
}

func TestLoadZoneFallback(t *testing.T) {
	t.Parallel()

	loc, err := LoadZone("Nowhere/Atlantis", Fallback{Name: "EST", Offset: -5 * time.Hour})
	require.ErrorIs(t, err, ErrZoneUnavailable)
	require.NotNil(t, loc)
	name, off := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, "EST", name)
	assert.Equal(t, -5*3600, off)

	loc, err = LoadZone("UTC", Fallback{})
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestParseOffset(t *testing.T) {
	t.Parallel()

	tests := map[string]time.Duration{
		"-05:00": -5 * time.Hour,
		"+05:30": 5*time.Hour + 30*time.Minute,
		"+02":    2 * time.Hour,
		"Z":      0,
	}
	for in, want := range tests {
		got, err := ParseOffset(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		if in != "Z" {
			assert.Equal(t, want, mustParse(t, FormatOffset(got)), in)
		}
	}
	for _, bad := range []string{"05:00", "+25:00", "-01:99"} {
		_, err := ParseOffset(bad)
		assert.Error(t, err, bad)
	}
}

func mustParse(t *testing.T, s string) time.Duration {
	t.Helper()
	d, err := ParseOffset(s)
	require.NoError(t, err)
	return d
}
