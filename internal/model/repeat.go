package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type RepeatMode string

const (
	RepeatOnce     RepeatMode = "once"
	RepeatDaily    RepeatMode = "daily"
	RepeatWeekdays RepeatMode = "weekdays"
	RepeatWeekends RepeatMode = "weekends"
	RepeatWeekly   RepeatMode = "weekly"
	RepeatCustom   RepeatMode = "custom"
)

func ParseRepeatMode(s string) (RepeatMode, error) {
	m := RepeatMode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case "":
		return RepeatOnce, nil
	case RepeatOnce, RepeatDaily, RepeatWeekdays, RepeatWeekends, RepeatWeekly, RepeatCustom:
		return m, nil
	}
	return "", fmt.Errorf("unknown repeat mode %q", s)
}

type Repeat struct {
	Mode RepeatMode `json:"mode"`
	Days Weekdays   `json:"days,omitempty"` // custom only
}

func (r Repeat) IsOnce() bool { return r.Mode == "" || r.Mode == RepeatOnce }

// Weekdays is a set of days serialized as short lowercase names ("mon", "tue", ...).
type Weekdays []time.Weekday

var weekdayNames = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= 3 {
		for i, n := range weekdayNames {
			if strings.HasPrefix(s, n) {
				return time.Weekday(i), nil
			}
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// ParseWeekdays parses, dedups and sorts day names.
func ParseWeekdays(names []string) (Weekdays, error) {
	seen := map[time.Weekday]bool{}
	var out Weekdays
	for _, n := range names {
		d, err := ParseWeekday(n)
		if err != nil {
			return nil, err
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (w Weekdays) Contains(d time.Weekday) bool {
	for _, x := range w {
		if x == d {
			return true
		}
	}
	return false
}

func (w Weekdays) Names() []string {
	out := make([]string, 0, len(w))
	for _, d := range w {
		out = append(out, weekdayNames[d%7])
	}
	return out
}

func (w Weekdays) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Names())
}

func (w *Weekdays) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	days, err := ParseWeekdays(names)
	if err != nil {
		return err
	}
	*w = days
	return nil
}
