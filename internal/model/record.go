package model

import (
	"fmt"
	"time"
)

// ItemRecord is the persisted form of an Item. Times are RFC 3339 strings
// carrying the local offset. Runtime state (timers, sessions) is never stored.
type ItemRecord struct {
	ID            string  `json:"id"`
	Kind          Kind    `json:"kind"`
	DisplayName   string  `json:"display_name"`
	ScheduledTime string  `json:"scheduled_time"`
	AnchorTime    string  `json:"anchor_time,omitempty"`
	Message       *string `json:"message,omitempty"`
	Targets       Targets `json:"targets"`
	Repeat        Repeat  `json:"repeat"`
	Status        Status  `json:"status"`
	Sound         string  `json:"sound,omitempty"`
	CreatedAt     string  `json:"created_at,omitempty"`
}

const recordTimeLayout = time.RFC3339Nano

func (i Item) Record() ItemRecord {
	c := i.Clone()
	r := ItemRecord{
		ID:            c.ID,
		Kind:          c.Kind,
		DisplayName:   c.DisplayName,
		ScheduledTime: c.ScheduledTime.Format(recordTimeLayout),
		Message:       c.Message,
		Targets:       c.Targets,
		Repeat:        c.Repeat,
		Status:        c.Status,
		Sound:         c.Sound,
	}
	if !c.AnchorTime.IsZero() {
		r.AnchorTime = c.AnchorTime.Format(recordTimeLayout)
	}
	if !c.CreatedAt.IsZero() {
		r.CreatedAt = c.CreatedAt.Format(recordTimeLayout)
	}
	return r
}

// FromRecord rebuilds an Item, converting times into loc.
func FromRecord(r ItemRecord, loc *time.Location) (Item, error) {
	if loc == nil {
		loc = time.Local
	}
	if r.ID == "" {
		return Item{}, fmt.Errorf("record has no id")
	}
	if !r.Kind.Valid() {
		return Item{}, fmt.Errorf("record %s: invalid kind %q", r.ID, r.Kind)
	}
	scheduled, err := time.Parse(recordTimeLayout, r.ScheduledTime)
	if err != nil {
		return Item{}, fmt.Errorf("record %s: scheduled_time: %w", r.ID, err)
	}
	item := Item{
		ID:            r.ID,
		Kind:          r.Kind,
		DisplayName:   r.DisplayName,
		ScheduledTime: scheduled.In(loc),
		Message:       r.Message,
		Targets:       r.Targets,
		Repeat:        r.Repeat,
		Status:        r.Status,
		Sound:         r.Sound,
	}
	if item.Repeat.Mode == "" {
		item.Repeat.Mode = RepeatOnce
	}
	if item.Status == "" {
		item.Status = StatusScheduled
	}
	item.AnchorTime = item.ScheduledTime
	if r.AnchorTime != "" {
		anchor, err := time.Parse(recordTimeLayout, r.AnchorTime)
		if err != nil {
			return Item{}, fmt.Errorf("record %s: anchor_time: %w", r.ID, err)
		}
		item.AnchorTime = anchor.In(loc)
	}
	if r.CreatedAt != "" {
		created, err := time.Parse(recordTimeLayout, r.CreatedAt)
		if err != nil {
			return Item{}, fmt.Errorf("record %s: created_at: %w", r.ID, err)
		}
		item.CreatedAt = created.In(loc)
	}
	return item.Clone(), nil
}
