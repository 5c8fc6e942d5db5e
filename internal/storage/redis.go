package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/noahxzhu/alarm-notify/internal/logx"
	"github.com/noahxzhu/alarm-notify/internal/model"
)

// RedisStore keeps one hash per kind, id -> record JSON.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func OpenRedis(ctx context.Context, cfg Config, log logx.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(client, cfg.RedisPrefix, log), nil
}

func NewRedisStore(client *redis.Client, prefix string, log logx.Logger) *RedisStore {
	if prefix == "" {
		prefix = "alarmd"
	}
	return &RedisStore{client: client, prefix: prefix, log: log}
}

func (s *RedisStore) key(k model.Kind) string { return s.prefix + ":" + k.Collection() }

func (s *RedisStore) LoadAll(ctx context.Context) (map[string]model.ItemRecord, error) {
	out := map[string]model.ItemRecord{}
	for _, k := range kinds {
		m, err := s.client.HGetAll(ctx, s.key(k)).Result()
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", s.key(k), err)
		}
		for id, raw := range m {
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
	}
	return out, nil
}

// SaveAll replaces both hashes inside one MULTI/EXEC.
func (s *RedisStore) SaveAll(ctx context.Context, records map[string]model.ItemRecord) error {
	groups := split(records)
	fields := map[model.Kind][]any{}
	for _, k := range kinds {
		for id, r := range groups[k] {
			raw, err := json.Marshal(r)
			if err != nil {
				return err
			}
			fields[k] = append(fields[k], id, string(raw))
		}
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range kinds {
			p.Del(ctx, s.key(k))
			if len(fields[k]) > 0 {
				p.HSet(ctx, s.key(k), fields[k]...)
			}
		}
		return nil
	})
	return err
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range kinds {
			p.HDel(ctx, s.key(k), id)
		}
		return nil
	})
	return err
}

func (s *RedisStore) Close() error { return s.client.Close() }
