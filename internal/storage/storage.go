// Package storage persists item records.
//
// Drivers keep two logical collections, one per kind:
//   - "memory":   in-process map (tests, dry runs)
//   - "file":     <path>/alarms.json and <path>/reminders.json
//   - "sqlite":   tables alarms and reminders in a database file
//   - "postgres": the same tables on a PostgreSQL server
//   - "redis":    hashes <prefix>:alarms and <prefix>:reminders
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/noahxzhu/alarm-notify/internal/logx"
	"github.com/noahxzhu/alarm-notify/internal/model"
)

// Store is the durability contract of the coordinator. SaveAll replaces the
// full persisted state with the given records.
type Store interface {
	LoadAll(ctx context.Context) (map[string]model.ItemRecord, error)
	SaveAll(ctx context.Context, records map[string]model.ItemRecord) error
	Delete(ctx context.Context, id string) error
	Close() error
}

var ErrClosed = errors.New("storage closed")

type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open initializes the configured driver.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With(logx.String("component", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "memory", "none":
		return NewMemory(), nil
	case "file", "json":
		return OpenFile(cfg.Path, log)
	case "sqlite", "sqlite3":
		return OpenSQLite(ctx, cfg.Path, cfg.BusyTimeout, log)
	case "postgres", "postgresql":
		return OpenPostgres(ctx, cfg.DSN, log)
	case "redis":
		return OpenRedis(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

var kinds = []model.Kind{model.KindAlarm, model.KindReminder}

// split groups records into their per-kind collections.
func split(records map[string]model.ItemRecord) map[model.Kind]map[string]model.ItemRecord {
	out := map[model.Kind]map[string]model.ItemRecord{
		model.KindAlarm:    {},
		model.KindReminder: {},
	}
	for id, r := range records {
		if r.ID == "" {
			r.ID = id
		}
		k := r.Kind
		if !k.Valid() {
			k = model.KindAlarm
		}
		out[k][id] = r
	}
	return out
}
