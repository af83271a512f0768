package trigger

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"jobhost/internal/errors"
)

// Same bit robfig/cron sets on a field written as "*" or "?".
const starBit = 1 << 63

// maxSearchYears bounds the search for expressions that never match.
const maxSearchYears = 100

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// CronSchedule fires on wall-clock times matching a cron expression.
//
// Wall times inside a DST gap fire at the first instant after the gap.
// Wall times that occur twice fire once, at the earlier occurrence.
type CronSchedule struct {
	expr  string
	spec  *cron.SpecSchedule
	years yearSet
	loc   *time.Location
}

// ParseCron parses expr for evaluation in loc (nil means UTC). A leading
// "TZ=" or "CRON_TZ=" token overrides loc. A seventh field restricts years.
func ParseCron(expr string, loc *time.Location) (*CronSchedule, error) {
	raw := strings.TrimSpace(expr)
	if raw == "" {
		return nil, errors.InvalidArgumentf("cron expression required")
	}
	if loc == nil {
		loc = time.UTC
	}

	fields := strings.Fields(raw)
	var tzPrefix string
	if strings.HasPrefix(fields[0], "TZ=") || strings.HasPrefix(fields[0], "CRON_TZ=") {
		tzPrefix = fields[0]
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return nil, errors.InvalidArgumentf("cron expression %q has no fields", expr)
	}

	years := yearSet{any: true}
	if !strings.HasPrefix(fields[0], "@") && len(fields) == 7 {
		ys, err := parseYears(fields[6])
		if err != nil {
			return nil, errors.Wrapf(err, "cron expression %q", expr)
		}
		years = ys
		fields = fields[:6]
	}

	toParse := strings.Join(fields, " ")
	if tzPrefix != "" {
		toParse = tzPrefix + " " + toParse
	}
	parsed, err := cronParser.Parse(toParse)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "invalid cron expression %q", expr), errors.ErrInvalidArgument)
	}
	spec, ok := parsed.(*cron.SpecSchedule)
	if !ok {
		// "@every" yields a constant delay schedule.
		return nil, errors.WithHint(
			errors.InvalidArgumentf("cron expression %q is an interval", expr),
			"use an interval trigger for @every",
		)
	}
	if tzPrefix != "" {
		loc = spec.Location
	}
	return &CronSchedule{expr: raw, spec: spec, years: years, loc: loc}, nil
}

// MustParseCron is ParseCron for expressions known to be valid.
func MustParseCron(expr string, loc *time.Location) *CronSchedule {
	c, err := ParseCron(expr, loc)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *CronSchedule) Kind() string             { return "cron" }
func (c *CronSchedule) String() string           { return c.expr }
func (c *CronSchedule) Location() *time.Location { return c.loc }

// FireTimeAfter returns the first matching instant strictly after t.
func (c *CronSchedule) FireTimeAfter(t time.Time) (time.Time, bool) {
	ref := t.In(c.loc)
	y, mo, d := ref.Date()
	rh, rmi, rs := ref.Clock()
	limit := y + maxSearchYears

	day := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	first := true
	for day.Year() <= limit {
		if !c.years.match(day.Year()) {
			next, ok := c.years.after(day.Year())
			if !ok || next > limit {
				return time.Time{}, false
			}
			day = time.Date(next, time.January, 1, 0, 0, 0, 0, time.UTC)
			first = false
			continue
		}
		if c.spec.Month&(1<<uint(day.Month())) == 0 {
			day = time.Date(day.Year(), day.Month()+1, 1, 0, 0, 0, 0, time.UTC)
			first = false
			continue
		}
		if c.dayMatches(day) {
			if at, ok := c.firstOnDay(day, first, rh, rmi, rs, t); ok {
				return at, true
			}
		}
		day = day.AddDate(0, 0, 1)
		first = false
	}
	return time.Time{}, false
}

// firstOnDay scans the matching wall times of one civil day in order. On the
// reference day, wall times before the reference clock are skipped.
func (c *CronSchedule) firstOnDay(day time.Time, first bool, rh, rmi, rs int, after time.Time) (time.Time, bool) {
	y, mo, d := day.Date()
	for h := 0; h < 24; h++ {
		if c.spec.Hour&(1<<uint(h)) == 0 || (first && h < rh) {
			continue
		}
		for mi := 0; mi < 60; mi++ {
			if c.spec.Minute&(1<<uint(mi)) == 0 || (first && h == rh && mi < rmi) {
				continue
			}
			for s := 0; s < 60; s++ {
				if c.spec.Second&(1<<uint(s)) == 0 || (first && h == rh && mi == rmi && s < rs) {
					continue
				}
				at := resolveWall(y, mo, d, h, mi, s, c.loc)
				if at.After(after) {
					return at, true
				}
			}
		}
	}
	return time.Time{}, false
}

// dayMatches follows cron's day-of-month / day-of-week rule: when either
// field is restricted by "*" both must match, otherwise either may.
func (c *CronSchedule) dayMatches(day time.Time) bool {
	domMatch := c.spec.Dom&(1<<uint(day.Day())) > 0
	dowMatch := c.spec.Dow&(1<<uint(day.Weekday())) > 0
	if c.spec.Dom&starBit > 0 || c.spec.Dow&starBit > 0 {
		return domMatch && dowMatch
	}
	return domMatch || dowMatch
}

// resolveWall maps a wall-clock time in loc to an instant. Nonexistent wall
// times map to the end of the gap; repeated ones to their first occurrence.
func resolveWall(y int, mo time.Month, d, h, mi, s int, loc *time.Location) time.Time {
	naive := time.Date(y, mo, d, h, mi, s, 0, time.UTC)
	_, offBefore := naive.Add(-36 * time.Hour).In(loc).Zone()
	_, offAfter := naive.Add(36 * time.Hour).In(loc).Zone()

	var best time.Time
	for _, off := range []int{offBefore, offAfter} {
		u := naive.Add(-time.Duration(off) * time.Second).In(loc)
		uy, umo, ud := u.Date()
		uh, umi, us := u.Clock()
		if uy != y || umo != mo || ud != d || uh != h || umi != mi || us != s {
			continue
		}
		if best.IsZero() || u.Before(best) {
			best = u
		}
	}
	if !best.IsZero() {
		return best
	}

	// In a gap: the instant read with the earlier offset lies past the
	// transition, and its zone starts exactly at the transition.
	u := naive.Add(-time.Duration(offBefore) * time.Second).In(loc)
	if start, _ := u.ZoneBounds(); !start.IsZero() && start.Before(u) {
		return start.In(loc)
	}
	return u
}
