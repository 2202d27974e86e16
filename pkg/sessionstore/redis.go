package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps sessions as JSON documents with a sliding TTL, plus a set
// per flow indexing its sessions.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

type RedisOption func(*RedisStore)

// WithTTL sets the idle lifetime of a session. Zero disables expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithPrefix sets the key prefix. Default is "callflow".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		ttl:    DefaultTTL,
		prefix: "callflow",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// NewRedisStoreFromURL parses a redis:// URL and connects.
func NewRedisStoreFromURL(ctx context.Context, url string, opts ...RedisOption) (*RedisStore, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisStore(client, opts...), nil
}

func (s *RedisStore) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

func (s *RedisStore) flowIndexKey(flowID string) string {
	return fmt.Sprintf("%s:flow:%s:sessions", s.prefix, flowID)
}

func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	indexKey := s.flowIndexKey(rec.Session.FlowID)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(rec.Session.ID), data, s.ttl)
	pipe.SAdd(ctx, indexKey, rec.Session.ID)

	if s.ttl > 0 {
		pipe.Expire(ctx, indexKey, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	return nil
}

// Load reads a session and extends its TTL.
func (s *RedisStore) Load(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	var (
		data []byte
		err  error
	)

	if s.ttl > 0 {
		data, err = s.client.GetEx(ctx, s.sessionKey(id), s.ttl).Bytes()
	} else {
		data, err = s.client.Get(ctx, s.sessionKey(id)).Bytes()
	}

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	rec, err := s.Load(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(id))
	pipe.SRem(ctx, s.flowIndexKey(rec.Session.FlowID), id)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	return nil
}

// ListByFlow returns indexed sessions that still exist, pruning expired ones
// from the index.
func (s *RedisStore) ListByFlow(ctx context.Context, flowID string) ([]string, error) {
	indexKey := s.flowIndexKey(flowID)

	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}

	live := make([]string, 0, len(ids))
	stale := make([]any, 0)

	for _, id := range ids {
		n, err := s.client.Exists(ctx, s.sessionKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis exists failed: %w", err)
		}

		if n == 0 {
			stale = append(stale, id)

			continue
		}

		live = append(live, id)
	}

	if len(stale) > 0 {
		if err := s.client.SRem(ctx, indexKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("redis srem failed: %w", err)
		}
	}

	sort.Strings(live)

	return live, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
