package trigger

import (
	"sort"
	"strconv"
	"strings"

	"jobhost/internal/errors"
)

const (
	minYear = 1970
	maxYear = 2199
)

// yearSet is the parsed optional seventh cron field.
type yearSet struct {
	any   bool
	years []int // sorted, unique
}

func (s yearSet) match(y int) bool {
	if s.any {
		return true
	}
	i := sort.SearchInts(s.years, y)
	return i < len(s.years) && s.years[i] == y
}

// after returns the smallest allowed year greater than y.
func (s yearSet) after(y int) (int, bool) {
	if s.any {
		return y + 1, true
	}
	i := sort.SearchInts(s.years, y+1)
	if i >= len(s.years) {
		return 0, false
	}
	return s.years[i], true
}

// parseYears accepts "*", "?", single years, ranges, lists and steps
// ("2024", "2024-2026", "2024,2026", "2024/2", "*/5").
func parseYears(field string) (yearSet, error) {
	field = strings.TrimSpace(field)
	if field == "*" || field == "?" {
		return yearSet{any: true}, nil
	}
	seen := map[int]struct{}{}
	for _, part := range strings.Split(field, ",") {
		if err := addYearPart(seen, part); err != nil {
			return yearSet{}, err
		}
	}
	out := make([]int, 0, len(seen))
	for y := range seen {
		out = append(out, y)
	}
	sort.Ints(out)
	return yearSet{years: out}, nil
}

func addYearPart(seen map[int]struct{}, part string) error {
	part = strings.TrimSpace(part)
	if part == "" {
		return errors.InvalidArgumentf("empty year in list")
	}
	rng, stepStr, hasStep := strings.Cut(part, "/")
	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepStr)
		if err != nil || n <= 0 {
			return errors.InvalidArgumentf("invalid year step %q", part)
		}
		step = n
	}

	lo, hi := minYear, maxYear
	switch {
	case rng == "*" || rng == "?":
	case strings.Contains(rng, "-"):
		a, b, _ := strings.Cut(rng, "-")
		var err error
		if lo, err = parseYear(a); err != nil {
			return err
		}
		if hi, err = parseYear(b); err != nil {
			return err
		}
		if hi < lo {
			return errors.InvalidArgumentf("year range %q is reversed", rng)
		}
	default:
		y, err := parseYear(rng)
		if err != nil {
			return err
		}
		lo = y
		if !hasStep {
			hi = y
		}
	}
	for y := lo; y <= hi; y += step {
		seen[y] = struct{}{}
	}
	return nil
}

func parseYear(s string) (int, error) {
	y, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || y < minYear || y > maxYear {
		return 0, errors.InvalidArgumentf("year %q out of range %d-%d", s, minYear, maxYear)
	}
	return y, nil
}
