package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/noahxzhu/alarm-notify/internal/logx"
	"github.com/noahxzhu/alarm-notify/internal/model"
)

// FileStore keeps one JSON document per kind, each an object id -> record.
type FileStore struct {
	mu  sync.Mutex
	dir string
	log logx.Logger
}

func OpenFile(dir string, log logx.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{dir: dir, log: log}, nil
}

func (s *FileStore) path(k model.Kind) string {
	return filepath.Join(s.dir, k.Collection()+".json")
}

func (s *FileStore) LoadAll(ctx context.Context) (map[string]model.ItemRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]model.ItemRecord{}
	for _, k := range kinds {
		coll, err := s.readLocked(k)
		if err != nil {
			return nil, err
		}
		for id, r := range coll {
			if r.ID == "" {
				r.ID = id
			}
			if r.Kind == "" {
				r.Kind = k
			}
			out[id] = r
		}
	}
	return out, nil
}

func (s *FileStore) readLocked(k model.Kind) (map[string]model.ItemRecord, error) {
	data, err := os.ReadFile(s.path(k))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]model.ItemRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return map[string]model.ItemRecord{}, nil
	}
	coll := map[string]model.ItemRecord{}
	if err := json.Unmarshal(data, &coll); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", k.Collection(), err)
	}
	return coll, nil
}

func (s *FileStore) SaveAll(ctx context.Context, records map[string]model.ItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, coll := range split(records) {
		if err := s.writeLocked(k, coll); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range kinds {
		coll, err := s.readLocked(k)
		if err != nil {
			return err
		}
		if _, ok := coll[id]; !ok {
			continue
		}
		delete(coll, id)
		if err := s.writeLocked(k, coll); err != nil {
			return err
		}
	}
	return nil
}

// writeLocked replaces the collection file through a temp file and rename.
func (s *FileStore) writeLocked(k model.Kind, coll map[string]model.ItemRecord) error {
	data, err := json.MarshalIndent(coll, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	path := s.path(k)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}
	s.log.Debug("collection written", logx.String("collection", k.Collection()), logx.Int("items", len(coll)))
	return nil
}

func (s *FileStore) Close() error { return nil }
