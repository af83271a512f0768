package trigger

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobhost/internal/errors"
)

func utc(y int, mo time.Month, d, h, mi, s int) time.Time {
	return time.Date(y, mo, d, h, mi, s, 0, time.UTC)
}

func TestCronFireTimeAfter(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		expr string
		ref  time.Time
		want time.Time
	}{
		{"five fields", "0 1 * * *", utc(2024, 1, 1, 0, 0, 0), utc(2024, 1, 1, 1, 0, 0)},
		{"five fields after fire", "0 1 * * *", utc(2024, 1, 1, 1, 0, 0), utc(2024, 1, 2, 1, 0, 0)},
		{"five fields late", "0 1 * * *", utc(2024, 1, 1, 1, 5, 0), utc(2024, 1, 2, 1, 0, 0)},
		{"seconds field", "30 0 1 * * *", utc(2024, 1, 1, 0, 0, 0), utc(2024, 1, 1, 1, 0, 30)},
		{"every ten seconds", "*/10 * * * * *", utc(2024, 1, 1, 0, 0, 5), utc(2024, 1, 1, 0, 0, 10)},
		{"sub-second reference", "* * * * * *", utc(2024, 1, 1, 0, 0, 0).Add(500 * time.Millisecond), utc(2024, 1, 1, 0, 0, 1)},
		{"year field", "0 0 12 1 1 * 2026", utc(2024, 1, 1, 0, 0, 0), utc(2026, 1, 1, 12, 0, 0)},
		{"year range", "0 0 0 1 6 ? 2025-2027", utc(2025, 7, 1, 0, 0, 0), utc(2026, 6, 1, 0, 0, 0)},
		{"descriptor", "@daily", utc(2024, 1, 1, 0, 0, 0), utc(2024, 1, 2, 0, 0, 0)},
		{"month rollover", "0 0 0 1 * *", utc(2024, 12, 15, 0, 0, 0), utc(2025, 1, 1, 0, 0, 0)},
		{"leap day", "0 0 29 2 *", utc(2024, 3, 1, 0, 0, 0), utc(2028, 2, 29, 0, 0, 0)},
		{"weekday", "0 9 * * MON", utc(2024, 1, 3, 0, 0, 0), utc(2024, 1, 8, 9, 0, 0)},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, err := ParseCron(tc.expr, time.UTC)
			require.NoError(t, err)
			got, ok := c.FireTimeAfter(tc.ref)
			require.True(t, ok)
			assert.True(t, got.Equal(tc.want), "got %s want %s", got, tc.want)
		})
	}
}

func TestCronNextIsAlwaysAfterReference(t *testing.T) {
	t.Parallel()

	exprs := []string{"0 1 * * *", "*/7 * * * * *", "@hourly", "15 4 1,15 * *", "0 0 0 * * SUN"}
	refs := []time.Time{
		utc(2024, 1, 1, 0, 0, 0),
		utc(2024, 2, 29, 23, 59, 59),
		utc(2024, 12, 31, 23, 59, 59).Add(999 * time.Millisecond),
	}
	for _, expr := range exprs {
		c := MustParseCron(expr, time.UTC)
		for _, ref := range refs {
			prev := ref
			for i := 0; i < 5; i++ {
				next, ok := c.FireTimeAfter(prev)
				require.True(t, ok, expr)
				require.True(t, next.After(prev), "%s: %s not after %s", expr, next, prev)
				prev = next
			}
		}
	}
}

func TestCronYearInPastNeverFires(t *testing.T) {
	t.Parallel()

	c := MustParseCron("0 0 12 1 1 * 2020", time.UTC)
	_, ok := c.FireTimeAfter(utc(2024, 1, 1, 0, 0, 0))
	assert.False(t, ok)

	_, ok = MustParseCron("0 0 0 30 2 *", time.UTC).FireTimeAfter(utc(2024, 1, 1, 0, 0, 0))
	assert.False(t, ok)
}

func TestCronTimeZone(t *testing.T) {
	t.Parallel()

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	c := MustParseCron("0 1 * * *", tokyo)
	got, ok := c.FireTimeAfter(utc(2024, 1, 1, 0, 0, 0))
	require.True(t, ok)
	assert.True(t, got.Equal(utc(2024, 1, 1, 16, 0, 0)), "got %s", got.UTC())

	c = MustParseCron("CRON_TZ=Asia/Tokyo 0 1 * * *", time.UTC)
	assert.Equal(t, "Asia/Tokyo", c.Location().String())
}

func TestCronDSTGapFiresAtEndOfGap(t *testing.T) {
	t.Parallel()

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	c := MustParseCron("30 2 * * *", ny)

	// 2024-03-10 02:00 EST jumps to 03:00 EDT.
	got, ok := c.FireTimeAfter(time.Date(2024, 3, 10, 0, 0, 0, 0, ny))
	require.True(t, ok)
	assert.True(t, got.Equal(utc(2024, 3, 10, 7, 0, 0)), "got %s", got.UTC())

	got, ok = c.FireTimeAfter(got)
	require.True(t, ok)
	assert.True(t, got.Equal(utc(2024, 3, 11, 6, 30, 0)), "got %s", got.UTC())
}

func TestCronDSTOverlapFiresOnce(t *testing.T) {
	t.Parallel()

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	c := MustParseCron("30 1 * * *", ny)

	// 2024-11-03 02:00 EDT falls back to 01:00 EST; 01:30 happens twice.
	got, ok := c.FireTimeAfter(time.Date(2024, 11, 3, 0, 0, 0, 0, ny))
	require.True(t, ok)
	assert.True(t, got.Equal(utc(2024, 11, 3, 5, 30, 0)), "got %s", got.UTC())

	got, ok = c.FireTimeAfter(got)
	require.True(t, ok)
	assert.True(t, got.Equal(utc(2024, 11, 4, 6, 30, 0)), "got %s", got.UTC())
}

func TestParseCronRejects(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"", "not a cron", "0 0 12 1 1 * 1900", "0 0 12 1 1 * 2026-2024", "@every 5m"} {
		_, err := ParseCron(expr, time.UTC)
		require.Error(t, err, expr)
		assert.True(t, errors.Is(err, errors.ErrInvalidArgument), "%q: %v", expr, err)
	}
}

func TestParseYears(t *testing.T) {
	t.Parallel()

	ys, err := parseYears("2024,2030/5,2026-2027")
	require.NoError(t, err)
	for _, y := range []int{2024, 2026, 2027, 2030, 2035} {
		assert.True(t, ys.match(y), y)
	}
	for _, y := range []int{2025, 2028, 2031} {
		assert.False(t, ys.match(y), y)
	}
	next, ok := ys.after(2027)
	require.True(t, ok)
	assert.Equal(t, 2030, next)
}
