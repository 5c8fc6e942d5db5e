package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/noahxzhu/alarm-notify/internal/logx"
	"github.com/noahxzhu/alarm-notify/internal/model"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore keeps one table per kind. The full record is stored as JSON next
// to a few columns useful for ad-hoc queries.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	log     logx.Logger
}

func OpenSQLite(ctx context.Context, path string, busyTimeout time.Duration, log logx.Logger) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	st := newSQLStore(db, dialectSQLite, log)
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func OpenPostgres(ctx context.Context, dsn string, log logx.Logger) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	st := newSQLStore(db, dialectPostgres, log)
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func newSQLStore(db *sql.DB, d dialect, log logx.Logger) *SQLStore {
	return &SQLStore{db: db, dialect: d, log: log}
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, k := range kinds {
		stmt := `CREATE TABLE IF NOT EXISTS ` + k.Collection() + ` (
	id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	scheduled_time TEXT NOT NULL,
	status TEXT NOT NULL,
	record TEXT NOT NULL
)`
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", k.Collection(), err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != dialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) LoadAll(ctx context.Context) (map[string]model.ItemRecord, error) {
	out := map[string]model.ItemRecord{}
	for _, k := range kinds {
		rows, err := s.db.QueryContext(ctx, `SELECT id, record FROM `+k.Collection())
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", k.Collection(), err)
		}
		for rows.Next() {
			var id, raw string
			if err := rows.Scan(&id, &raw); err != nil {
				rows.Close()
				return nil, err
			}
			var r model.ItemRecord
			if err := json.Unmarshal([]byte(raw), &r); err != nil {
				s.log.Warn("skipping unreadable record", logx.String("id", id), logx.Err(err))
				continue
			}
			r.ID = id
			if r.Kind == "" {
				r.Kind = k
			}
			out[id] = r
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) SaveAll(ctx context.Context, records map[string]model.ItemRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	groups := split(records)
	for _, k := range kinds {
		if err := s.replaceCollection(ctx, tx, k, groups[k]); err != nil {
			return fmt.Errorf("save %s: %w", k.Collection(), err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) replaceCollection(ctx context.Context, tx *sql.Tx, k model.Kind, coll map[string]model.ItemRecord) error {
	table := k.Collection()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM `+table)
	if err != nil {
		return err
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if _, ok := coll[id]; !ok {
			stale = append(stale, id)
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return err
	}

	sort.Strings(stale)
	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM `+table+` WHERE id = ?`), id); err != nil {
			return err
		}
	}

	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	upsert := s.rebind(`INSERT INTO ` + table + `(id, display_name, scheduled_time, status, record) VALUES(?,?,?,?,?)
	ON CONFLICT(id) DO UPDATE SET display_name=excluded.display_name, scheduled_time=excluded.scheduled_time,
	status=excluded.status, record=excluded.record`)
	for _, id := range ids {
		r := coll[id]
		raw, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsert, id, r.DisplayName, r.ScheduledTime, string(r.Status), string(raw)); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	for _, k := range kinds {
		if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM `+k.Collection()+` WHERE id = ?`), id); err != nil {
			return fmt.Errorf("delete from %s: %w", k.Collection(), err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
