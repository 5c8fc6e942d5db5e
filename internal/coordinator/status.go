package coordinator

import (
	"sort"

	"github.com/noahxzhu/alarm-notify/internal/model"
)

// Summary is the status view of one kind: pending items by fire time.
type Summary struct {
	Kind  model.Kind
	Count int
	Items []model.Item
}

// Status returns the scheduled and active items of kind.
func (c *Coordinator) Status(kind model.Kind) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{Kind: kind}
	for _, e := range c.items {
		if e.item.Kind == kind && e.item.Status.Pending() {
			s.Items = append(s.Items, e.item.Clone())
		}
	}
	sortByTime(s.Items)
	s.Count = len(s.Items)
	return s
}

// List returns every item, in fire-time order.
func (c *Coordinator) List() []model.Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.Item, 0, len(c.items))
	for _, e := range c.items {
		out = append(out, e.item.Clone())
	}
	sortByTime(out)
	return out
}

// Get returns the item with the exact id.
func (c *Coordinator) Get(id string) (model.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[id]
	if !ok {
		return model.Item{}, false
	}
	return e.item.Clone(), true
}

func sortByTime(items []model.Item) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].ScheduledTime.Equal(items[j].ScheduledTime) {
			return items[i].ScheduledTime.Before(items[j].ScheduledTime)
		}
		return items[i].ID < items[j].ID
	})
}
