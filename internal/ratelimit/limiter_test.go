package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestAdmitRejectsAfterMaxAndRecoversAfterRetry(t *testing.T) {
	tests := []struct {
		name   string
		limits Limits
		window Window
		step   time.Duration
	}{
		{name: "minute", limits: Limits{PerMinute: 3, PerHour: 100, PerDay: 1000}, window: WindowMinute, step: 5 * time.Second},
		{name: "hour", limits: Limits{PerMinute: 100, PerHour: 4, PerDay: 1000}, window: WindowHour, step: 2 * time.Minute},
		{name: "day", limits: Limits{PerMinute: 100, PerHour: 100, PerDay: 2}, window: WindowDay, step: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.limits, 4)
			now := base
			max := tt.limits.Max(tt.window)

			for i := 0; i < max; i++ {
				d, err := l.Admit("u1", "share", now)
				require.NoError(t, err)
				require.True(t, d.Allowed, "action %d should be admitted", i)
				require.NoError(t, l.Record("u1", "share", now))
				now = now.Add(tt.step)
			}

			d, err := l.Admit("u1", "share", now)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, tt.window, d.Window)
			assert.Equal(t, max, d.Current)
			assert.Equal(t, max, d.Max)
			require.Positive(t, d.RetryAfterSeconds)

			later := now.Add(time.Duration(d.RetryAfterSeconds) * time.Second)
			d, err = l.Admit("u1", "share", later)
			require.NoError(t, err)
			assert.True(t, d.Allowed, "should be admitted after retry delay")
		})
	}
}

func TestAdmitRetryAfterIsCeiling(t *testing.T) {
	l := New(Limits{PerMinute: 1, PerHour: 10, PerDay: 10}, 1)
	require.NoError(t, l.Record("u1", "share", base))

	d, err := l.Admit("u1", "share", base.Add(30*time.Second+200*time.Millisecond))
	require.NoError(t, err)
	require.False(t, d.Allowed)
	assert.Equal(t, 30, d.RetryAfterSeconds)
}

func TestAdmitChecksMinuteBeforeHour(t *testing.T) {
	l := New(Limits{PerMinute: 1, PerHour: 1, PerDay: 10}, 1)
	require.NoError(t, l.Record("u1", "share", base))

	d, err := l.Admit("u1", "share", base.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, WindowMinute, d.Window)

	d, err = l.Admit("u1", "share", base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, WindowHour, d.Window)
}

func TestSubjectsAndActionsAreIsolated(t *testing.T) {
	l := New(Limits{PerMinute: 1, PerHour: 10, PerDay: 10}, 2)
	require.NoError(t, l.Record("u1", "share", base))

	d, _ := l.Admit("u2", "share", base)
	assert.True(t, d.Allowed)
	d, _ = l.Admit("u1", "comment", base)
	assert.True(t, d.Allowed)
	d, _ = l.Admit("u1", "share", base)
	assert.False(t, d.Allowed)
}

func TestAdmitFailsOpenOnInvalidKey(t *testing.T) {
	l := New(Limits{PerMinute: 1, PerHour: 1, PerDay: 1}, 1)
	d, err := l.Admit("", "share", base)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.True(t, d.Allowed)
}

func TestRecordKeepsOrderForLateTimestamps(t *testing.T) {
	l := New(Limits{PerMinute: 10, PerHour: 10, PerDay: 10}, 1)
	require.NoError(t, l.Record("u1", "share", base.Add(10*time.Second)))
	require.NoError(t, l.Record("u1", "share", base))
	require.NoError(t, l.Record("u1", "share", base.Add(5*time.Second)))

	ts := l.Timestamps("u1", "share")
	require.Len(t, ts, 3)
	assert.True(t, ts[0].Equal(base))
	assert.True(t, ts[1].Equal(base.Add(5*time.Second)))
	assert.True(t, ts[2].Equal(base.Add(10*time.Second)))
}

func TestStatusReportsRemaining(t *testing.T) {
	l := New(Limits{PerMinute: 3, PerHour: 5, PerDay: 10}, 1)
	require.NoError(t, l.Record("u1", "share", base))
	require.NoError(t, l.Record("u1", "share", base.Add(10*time.Second)))

	status := l.Status("u1", "share", base.Add(20*time.Second))
	require.Len(t, status, 3)
	assert.Equal(t, WindowStatus{Window: WindowMinute, Current: 2, Max: 3, Remaining: 1, ResetInSeconds: 40}, status[0])
	assert.Equal(t, 3, status[1].Remaining)
	assert.Equal(t, 8, status[2].Remaining)

	empty := l.Status("nobody", "share", base)
	assert.Equal(t, 3, empty[0].Remaining)
	assert.Zero(t, empty[0].ResetInSeconds)
}

func TestResetAndSweep(t *testing.T) {
	l := New(Limits{PerMinute: 1, PerHour: 1, PerDay: 1}, 4)
	require.NoError(t, l.Record("u1", "share", base))
	require.NoError(t, l.Record("u1", "comment", base))
	require.NoError(t, l.Record("u2", "share", base.Add(20*time.Hour)))

	l.Reset("u1", "share")
	d, _ := l.Admit("u1", "share", base)
	assert.True(t, d.Allowed)
	d, _ = l.Admit("u1", "comment", base)
	assert.False(t, d.Allowed)

	removed := l.Sweep(base.Add(25*time.Hour), 24*time.Hour)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, l.Len())

	l.Reset("u2", "")
	assert.Zero(t, l.Len())
}

func TestConcurrentRecordKeepsAllEntries(t *testing.T) {
	l := New(Limits{PerMinute: 10000, PerHour: 10000, PerDay: 10000}, 8)

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			subject := fmt.Sprintf("u%d", worker%3)
			for i := 0; i < 100; i++ {
				at := base.Add(time.Duration(i) * time.Millisecond)
				_, _ = l.Admit(subject, "share", at)
				_ = l.Record(subject, "share", at)
			}
		}(worker)
	}
	wg.Wait()

	total := 0
	for i := 0; i < 3; i++ {
		ts := l.Timestamps(fmt.Sprintf("u%d", i), "share")
		for j := 1; j < len(ts); j++ {
			require.False(t, ts[j].Before(ts[j-1]), "timestamps must stay ordered")
		}
		total += len(ts)
	}
	assert.Equal(t, 800, total)
}

func TestReserveHoldsSlotUntilReleased(t *testing.T) {
	l := New(Limits{PerMinute: 2, PerHour: 10, PerDay: 10}, 4)

	d1, release1, err := l.Reserve("u1", "share", base)
	require.NoError(t, err)
	require.True(t, d1.Allowed)
	d2, _, err := l.Reserve("u1", "share", base.Add(time.Second))
	require.NoError(t, err)
	require.True(t, d2.Allowed)

	d3, release3, err := l.Reserve("u1", "share", base.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, d3.Allowed)
	assert.Equal(t, WindowMinute, d3.Window)
	release3()
	assert.Len(t, l.Timestamps("u1", "share"), 2, "denied reservation takes no slot")

	release1()
	release1()
	assert.Equal(t, []time.Time{base.Add(time.Second)}, l.Timestamps("u1", "share"))

	d4, _, err := l.Reserve("u1", "share", base.Add(3*time.Second))
	require.NoError(t, err)
	assert.True(t, d4.Allowed, "released slot is available again")
}

func TestReserveReleaseAfterResetIsHarmless(t *testing.T) {
	l := New(Limits{PerMinute: 2, PerHour: 10, PerDay: 10}, 4)

	_, release, err := l.Reserve("u1", "share", base)
	require.NoError(t, err)
	l.Reset("u1", "")
	release()
	assert.Empty(t, l.Timestamps("u1", "share"))
}

func TestConcurrentReserveNeverExceedsCap(t *testing.T) {
	l := New(Limits{PerMinute: 3, PerHour: 100, PerDay: 1000}, 4)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _, err := l.Reserve("u1", "share", base)
			assert.NoError(t, err)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, allowed)
	assert.Len(t, l.Timestamps("u1", "share"), 3)
}
