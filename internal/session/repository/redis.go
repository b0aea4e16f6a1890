package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"lab-access/backend/internal/session/domain"
)

// RedisRepository stores each session as a hash at session:<identifier>.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRepository returns a session sink on client. ttl <= 0 keeps sessions until removed externally.
func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	return &RedisRepository{client: client, ttl: ttl}
}

// Save replaces the hash for st.Identifier in one MULTI/EXEC.
func (r *RedisRepository) Save(ctx context.Context, st domain.State) error {
	k := key(st.Identifier)
	fields := make([]any, 0, 8)
	for f, v := range st.Fields() {
		fields = append(fields, f, v)
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k, fields...)
		if r.ttl > 0 {
			pipe.Expire(ctx, k, r.ttl)
		}
		return nil
	})
	return err
}

// Load returns the cached state for identifier, or nil if absent.
func (r *RedisRepository) Load(ctx context.Context, identifier string) (*domain.State, error) {
	m, err := r.client.HGetAll(ctx, key(identifier)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	st := domain.FromFields(m)
	return &st, nil
}
