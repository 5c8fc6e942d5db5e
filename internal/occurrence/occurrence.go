// Package occurrence computes the fire times of repeating items.
//
// All arithmetic is done on the wall clock of the input's location, so a
// daily 07:00 item stays at 07:00 across daylight-saving changes.
package occurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/noahxzhu/alarm-notify/internal/model"
)

// MaxIterations bounds Advance.
const MaxIterations = 366

var ErrRepeatComputation = errors.New("repeat computation error")

// Degenerate reports a custom repeat without days. It is treated as once.
func Degenerate(r model.Repeat) bool {
	return r.Mode == model.RepeatCustom && len(r.Days) == 0
}

// Next returns the occurrence following t, or false when r does not repeat.
func Next(t time.Time, r model.Repeat) (time.Time, bool) {
	switch r.Mode {
	case model.RepeatDaily:
		return addDays(t, 1), true
	case model.RepeatWeekly:
		return addDays(t, 7), true
	case model.RepeatWeekdays:
		return nextMatching(t, func(d time.Weekday) bool { return d != time.Saturday && d != time.Sunday })
	case model.RepeatWeekends:
		return nextMatching(t, func(d time.Weekday) bool { return d == time.Saturday || d == time.Sunday })
	case model.RepeatCustom:
		if len(r.Days) == 0 {
			return time.Time{}, false
		}
		return nextMatching(t, r.Days.Contains)
	default:
		return time.Time{}, false
	}
}

// Advance calls Next until the result is strictly after `after`. It returns
// false for non-repeating patterns and ErrRepeatComputation when the search
// exceeds MaxIterations.
func Advance(t time.Time, r model.Repeat, after time.Time) (time.Time, bool, error) {
	cur := t
	for i := 0; i < MaxIterations; i++ {
		next, ok := Next(cur, r)
		if !ok {
			return time.Time{}, false, nil
		}
		if next.After(after) {
			return next, true, nil
		}
		cur = next
	}
	return time.Time{}, false, fmt.Errorf("%w: no occurrence after %s within %d steps from %s",
		ErrRepeatComputation, after.Format(time.RFC3339), MaxIterations, t.Format(time.RFC3339))
}

// Align returns t when it falls on a day r fires on, otherwise the next
// occurrence after it.
func Align(t time.Time, r model.Repeat) time.Time {
	if firesOn(t.Weekday(), r) {
		return t
	}
	if next, ok := Next(t, r); ok {
		return next
	}
	return t
}

func firesOn(d time.Weekday, r model.Repeat) bool {
	switch r.Mode {
	case model.RepeatWeekdays:
		return d != time.Saturday && d != time.Sunday
	case model.RepeatWeekends:
		return d == time.Saturday || d == time.Sunday
	case model.RepeatCustom:
		return len(r.Days) == 0 || r.Days.Contains(d)
	default:
		return true
	}
}

func addDays(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+n, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func nextMatching(t time.Time, match func(time.Weekday) bool) (time.Time, bool) {
	for i := 1; i <= 7; i++ {
		c := addDays(t, i)
		if match(c.Weekday()) {
			return c, true
		}
	}
	return time.Time{}, false
}
