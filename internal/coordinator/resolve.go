package coordinator

import (
	"fmt"
	"strings"

	"github.com/noahxzhu/alarm-notify/internal/model"
)

// lookupLocked resolves ident in this order: exact id, the id part of a
// qualified reference ("alarm.wake_up"), then the normalized display name or
// id, preferring items of the requested kind and then the earliest created.
// An empty kind matches any item.
func (c *Coordinator) lookupLocked(ident string, kind model.Kind) (*entry, error) {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrNotFound)
	}

	candidates := []string{ident}
	if i := strings.LastIndex(ident, "."); i >= 0 && i < len(ident)-1 {
		candidates = append(candidates, ident[i+1:])
	}
	for _, id := range candidates {
		if e, ok := c.items[id]; ok {
			return e, checkKind(e, kind)
		}
	}

	var other *entry
	for _, cand := range candidates {
		norm := model.Slug(cand)
		if norm == "" {
			continue
		}
		for _, e := range c.snapshotLocked("") {
			if model.Slug(e.item.DisplayName) != norm && model.Slug(e.item.ID) != norm {
				continue
			}
			if kind == "" || e.item.Kind == kind {
				return e, nil
			}
			if other == nil {
				other = e
			}
		}
	}
	if other != nil {
		return other, checkKind(other, kind)
	}

	for _, cand := range candidates {
		for _, key := range []string{cand, model.Slug(cand)} {
			if ts, ok := c.tombstones[key]; ok && (kind == "" || ts.kind == kind) {
				return nil, errGone
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, ident)
}

func checkKind(e *entry, kind model.Kind) error {
	if kind == "" || e.item.Kind == kind {
		return nil
	}
	return fmt.Errorf("%w: %s is %s, not %s", ErrKindMismatch, e.item.ID, e.item.Kind, kind)
}
