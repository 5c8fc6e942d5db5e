package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/noahxzhu/alarm-notify/internal/model"
)

var icalDays = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// handleCalendar serves pending items as an iCalendar feed.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	cal := buildCalendar(s.coord.List(), s.loc, s.now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func buildCalendar(items []model.Item, loc *time.Location, now time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//noahxzhu//alarm-notify//EN")

	for _, it := range items {
		if !it.Status.Pending() {
			continue
		}
		ev := ical.NewEvent()
		ev.Props.SetText(ical.PropUID, it.ID+"@alarm-notify")
		ev.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeStart, eventTime(it.ScheduledTime, loc))
		ev.Props.SetText(ical.PropSummary, summary(it))
		if msg := it.MessageText(); msg != "" {
			ev.Props.SetText(ical.PropDescription, msg)
		}
		if rule := rrule(it.Repeat); rule != "" {
			p := ical.NewProp(ical.PropRecurrenceRule)
			p.Value = rule
			ev.Props.Set(p)
		}
		cal.Children = append(cal.Children, ev.Component)
	}
	return cal
}

// eventTime keeps named zones as TZID times. Local and UTC become UTC.
func eventTime(t time.Time, loc *time.Location) time.Time {
	if loc == nil || loc == time.Local || loc.String() == "UTC" {
		return t.UTC()
	}
	return t.In(loc)
}

func summary(it model.Item) string {
	if it.Kind == model.KindReminder {
		return "Reminder: " + it.DisplayName
	}
	return "Alarm: " + it.DisplayName
}

func rrule(r model.Repeat) string {
	switch r.Mode {
	case model.RepeatDaily:
		return "FREQ=DAILY"
	case model.RepeatWeekly:
		return "FREQ=WEEKLY"
	case model.RepeatWeekdays:
		return "FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR"
	case model.RepeatWeekends:
		return "FREQ=WEEKLY;BYDAY=SA,SU"
	case model.RepeatCustom:
		if len(r.Days) == 0 {
			return ""
		}
		days := make([]string, 0, len(r.Days))
		for _, d := range r.Days {
			days = append(days, icalDays[d%7])
		}
		return "FREQ=WEEKLY;BYDAY=" + strings.Join(days, ",")
	}
	return ""
}
