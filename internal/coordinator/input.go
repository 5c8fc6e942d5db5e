package coordinator

import (
	"fmt"
	"strings"
	"time"

	"github.com/noahxzhu/alarm-notify/internal/model"
)

// ScheduleRequest carries the validated arguments of schedule. Time is a
// wall-clock time of day ("07:00", "14:30:15", "7:00 AM"); Date is an
// optional calendar date ("2026-10-18") and defaults to today.
type ScheduleRequest struct {
	Kind        model.Kind
	DisplayName string
	Time        string
	Date        string
	Message     *string
	Targets     model.Targets
	Repeat      model.Repeat
	Sound       string
}

// Changes is a partial update for edit and reschedule. Nil fields are left as they are.
type Changes struct {
	Time        *string
	Date        *string
	DisplayName *string
	Message     *string
	Targets     *model.Targets
	Repeat      *model.Repeat
	Sound       *string
}

func (c Changes) movesTime() bool { return c.Time != nil || c.Date != nil }

type timeOfDay struct {
	hour, min, sec int
}

func (t timeOfDay) String() string { return fmt.Sprintf("%02d:%02d:%02d", t.hour, t.min, t.sec) }

var timeLayouts = []string{"15:04", "15:04:05", "3:04 PM", "3:04PM", "3:04:05 PM", "3 PM", "3PM"}

func parseTimeOfDay(s string) (timeOfDay, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "" {
		return timeOfDay{}, fmt.Errorf("%w: time is required", ErrInvalidInput)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return timeOfDay{hour: t.Hour(), min: t.Minute(), sec: t.Second()}, nil
		}
	}
	return timeOfDay{}, fmt.Errorf("%w: cannot parse time %q", ErrInvalidInput, s)
}

func timeOfDayOf(t time.Time) timeOfDay {
	return timeOfDay{hour: t.Hour(), min: t.Minute(), sec: t.Second()}
}

type civilDate struct {
	year  int
	month time.Month
	day   int
}

func parseDate(s string) (civilDate, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return civilDate{}, fmt.Errorf("%w: cannot parse date %q", ErrInvalidInput, s)
	}
	return dateOf(t), nil
}

func dateOf(t time.Time) civilDate {
	y, m, d := t.Date()
	return civilDate{year: y, month: m, day: d}
}

func (d civilDate) at(tod timeOfDay, loc *time.Location) time.Time {
	return time.Date(d.year, d.month, d.day, tod.hour, tod.min, tod.sec, 0, loc)
}

// resolveFireTime combines date and time in loc. Without an explicit date a
// moment that is not after now rolls over to the following day.
func resolveFireTime(now time.Time, d civilDate, tod timeOfDay, explicitDate bool, loc *time.Location) (time.Time, error) {
	t := d.at(tod, loc)
	if !t.After(now) && !explicitDate {
		t = dateOf(now.In(loc)).at(tod, loc)
		if !t.After(now) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, tod.hour, tod.min, tod.sec, 0, loc)
		}
	}
	if !t.After(now) {
		return time.Time{}, fmt.Errorf("%w: %s", ErrPastSchedule, t.Format(time.RFC3339))
	}
	return t, nil
}

func validateRepeat(r model.Repeat) (model.Repeat, error) {
	mode, err := model.ParseRepeatMode(string(r.Mode))
	if err != nil {
		return model.Repeat{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	out := model.Repeat{Mode: mode}
	if mode == model.RepeatCustom {
		out.Days = append(model.Weekdays(nil), r.Days...)
	}
	return out, nil
}

func cleanTargets(t model.Targets) model.Targets {
	out := model.Targets{Satellite: strings.TrimSpace(t.Satellite)}
	for _, mp := range t.MediaPlayers {
		if mp = strings.TrimSpace(mp); mp != "" {
			out.MediaPlayers = append(out.MediaPlayers, mp)
		}
	}
	for _, d := range t.NotifyDevices {
		if d = strings.TrimSpace(d); d != "" {
			out.NotifyDevices = append(out.NotifyDevices, d)
		}
	}
	return out
}

func cleanMessage(m *string) *string {
	if m == nil {
		return nil
	}
	v := strings.TrimSpace(*m)
	if v == "" {
		return nil
	}
	return &v
}
