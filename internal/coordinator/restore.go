package coordinator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/noahxzhu/alarm-notify/internal/logx"
	"github.com/noahxzhu/alarm-notify/internal/model"
	"github.com/noahxzhu/alarm-notify/internal/occurrence"
	"github.com/noahxzhu/alarm-notify/internal/playback"
)

// Restore loads persisted items and re-arms them. It is called at startup,
// before any other operation. When loading fails, every later write fails
// with ErrPersistence until a Restore succeeds, so the unread records are
// never overwritten.
//
// Scheduled items in the future are re-armed. Overdue one-shot items fire
// immediately; overdue repeating items move to their next future occurrence.
// Active items cannot resume mid-session: they fire again immediately, or go
// to error when none of their targets resolves any more.
func (c *Coordinator) Restore(ctx context.Context) error {
	records, err := c.store.LoadAll(ctx)
	if err != nil {
		c.mu.Lock()
		c.unloaded = true
		c.mu.Unlock()
		return fmt.Errorf("%w: load: %v", ErrPersistence, err)
	}

	items := make([]model.Item, 0, len(records))
	for id, r := range records {
		if r.ID == "" {
			r.ID = id
		}
		item, err := model.FromRecord(r, c.loc)
		if err != nil {
			c.log.Warn("skipping unreadable item", logx.String("id", id), logx.Err(err))
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	c.unloaded = false
	now := c.clock.Now()
	counts := map[model.Status]int{}
	for _, item := range items {
		if _, dup := c.items[item.ID]; dup {
			continue
		}
		c.noteIDLocked(item.Kind, item.ID)
		e := c.insertLocked(item)

		switch item.Status {
		case model.StatusScheduled:
			c.restoreScheduledLocked(e, now)
		case model.StatusActive:
			if !c.resolvable(item.Targets) {
				e.item.Status = model.StatusError
				c.log.Warn("target no longer available", logx.String("id", item.ID))
				break
			}
			e.item.Status = model.StatusScheduled
			c.armLocked(e)
			c.log.Info("resuming interrupted item", logx.String("id", item.ID))
		}
		counts[e.item.Status]++
	}
	c.log.Info("items restored",
		logx.Int("total", len(items)),
		logx.Int("scheduled", counts[model.StatusScheduled]),
		logx.Int("error", counts[model.StatusError]))
	return c.persistLocked(ctx)
}

func (c *Coordinator) restoreScheduledLocked(e *entry, now time.Time) {
	item := &e.item
	if item.ScheduledTime.After(now) || item.Repeat.IsOnce() || occurrence.Degenerate(item.Repeat) {
		c.armLocked(e)
		return
	}
	next, ok, err := occurrence.Advance(item.AnchorTime, item.Repeat, now)
	if err != nil {
		item.Status = model.StatusError
		c.log.Error("cannot compute next occurrence", logx.String("id", item.ID), logx.Err(err))
		return
	}
	if !ok {
		c.armLocked(e)
		return
	}
	c.log.Info("skipping missed occurrences", logx.String("id", item.ID), logx.Time("missed", item.ScheduledTime), logx.Time("next", next))
	item.ScheduledTime, item.AnchorTime = next, next
	c.armLocked(e)
}

// resolvable reports whether at least one playback target still exists.
func (c *Coordinator) resolvable(t model.Targets) bool {
	if c.opts.Resolver == nil {
		return true
	}
	if t.Satellite != "" && c.opts.Resolver.Resolvable(playback.Endpoint{Class: playback.ClassSatellite, Ref: t.Satellite}) {
		return true
	}
	for _, mp := range t.MediaPlayers {
		if c.opts.Resolver.Resolvable(playback.Endpoint{Class: playback.ClassMediaPlayer, Ref: mp}) {
			return true
		}
	}
	return false
}
