package redistasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/hostbridge/mcp-host-go/mcp"
	"github.com/hostbridge/mcp-host-go/tasks"
)

// Config for the Redis-backed task store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: TASKS_KEY_PREFIX
	KeyPrefix string `env:"TASKS_KEY_PREFIX,default=mcp:tasks:"`
	// Retention bounds how long terminal task records are kept. ENV: TASKS_RETENTION
	Retention time.Duration `env:"TASKS_RETENTION,default=15m"`
}

// Store keeps task records as JSON values plus a creation-ordered index set.
// Terminal records expire after the retention window; active records never
// expire on their own.
type Store struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
}

var _ tasks.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcp:tasks:"
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 15 * time.Minute
	}
	return &Store{client: cl, keyPrefix: prefix, retention: retention}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) taskKey(id string) string { return s.keyPrefix + "task:" + id }
func (s *Store) indexKey() string         { return s.keyPrefix + "index" }

func (s *Store) Put(ctx context.Context, t mcp.TaskInfo) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.TaskID, err)
	}
	pipe := s.client.TxPipeline()
	if t.State.IsTerminal() {
		pipe.Set(ctx, s.taskKey(t.TaskID), raw, s.retention)
	} else {
		pipe.Set(ctx, s.taskKey(t.TaskID), raw, 0)
	}
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(t.CreatedAt.UnixNano()),
		Member: t.TaskID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store task %s: %w", t.TaskID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (mcp.TaskInfo, bool, error) {
	raw, err := s.client.Get(ctx, s.taskKey(id)).Bytes()
	if err == redis.Nil {
		return mcp.TaskInfo{}, false, nil
	}
	if err != nil {
		return mcp.TaskInfo{}, false, fmt.Errorf("load task %s: %w", id, err)
	}
	var t mcp.TaskInfo
	if err := json.Unmarshal(raw, &t); err != nil {
		return mcp.TaskInfo{}, false, fmt.Errorf("decode task %s: %w", id, err)
	}
	return t, true, nil
}

func (s *Store) List(ctx context.Context) ([]mcp.TaskInfo, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]mcp.TaskInfo, 0, len(ids))
	var expired []interface{}
	for _, id := range ids {
		t, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Value expired; drop the dangling index entry lazily.
			expired = append(expired, id)
			continue
		}
		out = append(out, t)
	}
	if len(expired) > 0 {
		_ = s.client.ZRem(ctx, s.indexKey(), expired...).Err()
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.taskKey(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}
