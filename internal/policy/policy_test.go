package policy

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trainu/coach-inbox/internal/config"
)

var testPolicy = config.PolicyConfig{
	QuietHoursStart:    21,
	QuietHoursEnd:      8,
	DefaultTimezone:    "America/New_York",
	DailyCapPerContact: 3,
}

func TestInQuietHours(t *testing.T) {
	p, err := New(testPolicy, nil, nil)
	require.NoError(t, err)

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	cases := []struct {
		hour  int
		quiet bool
	}{
		{7, true},
		{8, false},
		{14, false},
		{20, false},
		{21, true},
		{23, true},
		{0, true},
	}
	for _, tc := range cases {
		at := time.Date(2026, 10, 19, tc.hour, 30, 0, 0, ny)
		assert.Equal(t, tc.quiet, p.InQuietHours(at, ""), "hour %d", tc.hour)
	}

	// 14:00 UTC is 16:00 in Berlin but 07:00 in Los Angeles.
	at := time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)
	assert.False(t, p.InQuietHours(at, "Europe/Berlin"))
	assert.True(t, p.InQuietHours(at, "America/Los_Angeles"))
	// unknown zone falls back to New York (10:00)
	assert.False(t, p.InQuietHours(at, "Mars/Olympus"))
}

func TestCheck_DailyCapWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	p, err := New(testPolicy, NewRedisCounter(rdb), nil)
	require.NoError(t, err)
	noon := time.Date(2026, 10, 19, 16, 0, 0, 0, time.UTC) // 12:00 New York
	p.WithClock(func() time.Time { return noon })

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Check(ctx, "contact-1", ""))
		p.Record(ctx, "contact-1", "")
	}
	assert.ErrorIs(t, p.Check(ctx, "contact-1", ""), ErrDailyCap)
	assert.NoError(t, p.Check(ctx, "contact-2", ""))

	assert.True(t, mr.Exists("coach:cap:contact-1:2026-10-19"))

	// next local day resets the cap
	p.WithClock(func() time.Time { return noon.Add(24 * time.Hour) })
	assert.NoError(t, p.Check(ctx, "contact-1", ""))
}

func TestCheck_QuietHoursBeforeCap(t *testing.T) {
	p, err := New(testPolicy, NewMemoryCounter(), nil)
	require.NoError(t, err)
	late := time.Date(2026, 10, 20, 2, 0, 0, 0, time.UTC) // 22:00 New York
	p.WithClock(func() time.Time { return late })

	assert.ErrorIs(t, p.Check(context.Background(), "contact-1", ""), ErrQuietHours)
}

func TestCheck_CounterDownFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	p, err := New(testPolicy, NewRedisCounter(rdb), nil)
	require.NoError(t, err)
	p.WithClock(func() time.Time { return time.Date(2026, 10, 19, 16, 0, 0, 0, time.UTC) })

	mr.Close()
	assert.NoError(t, p.Check(context.Background(), "contact-1", ""))
}
