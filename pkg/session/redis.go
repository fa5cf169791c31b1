package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry mirrors session presence into Redis so operators can see
// live sessions. Envelopes never pass through Redis.
type RedisRegistry struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisRegistry(rdb *redis.Client, prefix string, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRegistry{rdb: rdb, prefix: prefix, ttl: ttl}
}

// DialRedis parses a redis:// URL and checks the server answers.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (r *RedisRegistry) sessionKey(id string) string {
	return r.prefix + "session:" + id
}

func (r *RedisRegistry) setKey() string {
	return r.prefix + "sessions"
}

func (r *RedisRegistry) Add(ctx context.Context, info Info) error {
	key := r.sessionKey(info.ID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", info.ID,
			"remote_addr", info.RemoteAddr,
			"origin", info.Origin,
			"connected_at", info.ConnectedAt.UTC().Format(time.RFC3339Nano),
			"state", info.State.String(),
		)
		pipe.Expire(ctx, key, r.ttl)
		pipe.SAdd(ctx, r.setKey(), info.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}
	return nil
}

func (r *RedisRegistry) SetState(ctx context.Context, id string, st State) error {
	key := r.sessionKey(id)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "state", st.String())
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update session state: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Remove(ctx context.Context, id string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.sessionKey(id))
		pipe.SRem(ctx, r.setKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// Count reports live sessions. Set members whose hash has expired, left by
// a process that died without calling Remove, are pruned first.
func (r *RedisRegistry) Count(ctx context.Context) (int, error) {
	if _, err := r.Prune(ctx); err != nil {
		return 0, err
	}
	n, err := r.rdb.SCard(ctx, r.setKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return int(n), nil
}

// Prune drops set members whose session hash no longer exists and returns
// how many were removed.
func (r *RedisRegistry) Prune(ctx context.Context) (int, error) {
	ids, err := r.rdb.SMembers(ctx, r.setKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	exists := make([]*redis.IntCmd, len(ids))
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			exists[i] = pipe.Exists(ctx, r.sessionKey(id))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to check sessions: %w", err)
	}

	var stale []interface{}
	for i, cmd := range exists {
		if cmd.Val() == 0 {
			stale = append(stale, ids[i])
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := r.rdb.SRem(ctx, r.setKey(), stale...).Err(); err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return len(stale), nil
}
