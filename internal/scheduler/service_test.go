package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"manabot/internal/eventbus"
	logx "manabot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startService(t *testing.T, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(Config{Timezone: "UTC"}, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestAddOnceRunsOnce(t *testing.T) {
	t.Parallel()

	s := startService(t, nil)
	done := make(chan struct{}, 2)
	_, err := s.AddOnce("settle", time.Now().Add(20*time.Millisecond), time.Second, func(context.Context) error {
		done <- struct{}{}
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("once job did not run")
	}
	assert.Empty(t, s.Snapshot().Once)
}

func TestAddOnceReplacesPending(t *testing.T) {
	t.Parallel()

	s := startService(t, nil)
	var first, second atomic.Int32
	_, err := s.AddOnce("settle", time.Now().Add(50*time.Millisecond), 0, func(context.Context) error {
		first.Add(1)
		return nil
	})
	require.NoError(t, err)
	_, err = s.AddOnce("settle", time.Now().Add(60*time.Millisecond), 0, func(context.Context) error {
		second.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return second.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestAddOnceBeforeStartIsArmedOnStart(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), nil)
	var ran atomic.Bool
	_, err := s.AddOnce("later", time.Now(), 0, func(context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.False(t, ran.Load())

	s.Start(context.Background())
	defer s.Stop(context.Background())
	require.Eventually(t, ran.Load, 2*time.Second, 10*time.Millisecond)
}

func TestIntervalUpsertAndRemove(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()
	s := startService(t, bus)

	var runs atomic.Int32
	job := func(context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	}
	_, err := s.AddInterval("tick", time.Second, 0, job)
	require.NoError(t, err)
	_, err = s.AddSchedule("tick", "1s", 0, job)
	require.NoError(t, err)
	assert.Len(t, s.Snapshot().Schedules, 1)

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	ev := <-events
	assert.Equal(t, "scheduler.run", ev.Type)
	assert.Equal(t, "boom", ev.Data.(RunEvent).Error)

	assert.True(t, s.Remove("tick"))
	assert.False(t, s.Remove("tick"))
	assert.Empty(t, s.Snapshot().Schedules)
}

func TestAddCronValidates(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), nil)
	_, err := s.AddCron("bad", "not cron at all", 0, func(context.Context) error { return nil })
	require.Error(t, err)

	_, err = s.AddCron("ok", "* * * * *", 0, func(context.Context) error { return nil })
	require.NoError(t, err)

	_, err = s.AddSchedule("hhmm", "25:99", 0, func(context.Context) error { return nil })
	require.Error(t, err)
}

func TestInvalidTimezoneFallsBack(t *testing.T) {
	t.Parallel()

	s := New(Config{Timezone: "Not/AZone"}, logx.Nop(), nil)
	assert.Equal(t, time.Local.String(), s.Snapshot().Timezone)
}
