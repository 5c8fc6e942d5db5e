package model

import (
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindAlarm    Kind = "alarm"
	KindReminder Kind = "reminder"
)

// ParseKind accepts the singular or plural form, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "alarm", "alarms":
		return KindAlarm, nil
	case "reminder", "reminders":
		return KindReminder, nil
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

func (k Kind) Valid() bool { return k == KindAlarm || k == KindReminder }

// Collection is the persisted collection name for the kind.
func (k Kind) Collection() string { return string(k) + "s" }

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether the status ends the current occurrence.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusCompleted || s == StatusError
}

// Pending reports whether the item holds a runtime resource (timer or session).
func (s Status) Pending() bool { return s == StatusScheduled || s == StatusActive }

type Targets struct {
	Satellite     string   `json:"satellite,omitempty"`
	MediaPlayers  []string `json:"media_players,omitempty"`
	NotifyDevices []string `json:"notify_devices,omitempty"`
}

// Empty reports whether no playback target is set. Notify devices do not count.
func (t Targets) Empty() bool {
	return strings.TrimSpace(t.Satellite) == "" && len(t.MediaPlayers) == 0
}

func (t Targets) clone() Targets {
	return Targets{
		Satellite:     t.Satellite,
		MediaPlayers:  append([]string(nil), t.MediaPlayers...),
		NotifyDevices: append([]string(nil), t.NotifyDevices...),
	}
}

// Item is one alarm or reminder.
type Item struct {
	ID            string
	Kind          Kind
	DisplayName   string
	ScheduledTime time.Time
	// AnchorTime is the last regular occurrence of a repeating item. Snoozing
	// moves ScheduledTime only, so repeats are computed from here.
	AnchorTime time.Time
	Message    *string
	Targets    Targets
	Repeat     Repeat
	Status     Status
	Sound      string
	CreatedAt  time.Time
}

func (i Item) Clone() Item {
	cp := i
	cp.Targets = i.Targets.clone()
	cp.Repeat.Days = append(Weekdays(nil), i.Repeat.Days...)
	if i.Message != nil {
		m := *i.Message
		cp.Message = &m
	}
	return cp
}

// MessageText returns the message or "".
func (i Item) MessageText() string {
	if i.Message == nil {
		return ""
	}
	return *i.Message
}

// Slug lowercases s and collapses every run of non-alphanumerics into one underscore.
func Slug(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}
