package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/osvaldoandrade/nftbatch/pkg/domain"

	"github.com/go-redis/redis/v8"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionKeyPattern matches every stored session view.
const SessionKeyPattern = "nftbatch:session:*"

// ErrSessionContended is returned when Update keeps losing WATCH races.
var ErrSessionContended = errors.New("session update contended")

// maxUpdateRetries bounds optimistic retries of Update.
const maxUpdateRetries = 16

type SessionRepository interface {
	Get(ctx context.Context, id string) (*domain.View, error)
	Put(ctx context.Context, id string, v domain.View, ttl time.Duration) error
	Update(ctx context.Context, id string, ttl time.Duration, fn func(cur domain.View) (domain.View, bool)) (domain.View, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

type sessionRedisRepo struct {
	rdb *redis.Client
}

func NewSessionRepository(rdb *redis.Client) SessionRepository {
	return &sessionRedisRepo{rdb: rdb}
}

func (r *sessionRedisRepo) keySession(id string) string {
	return fmt.Sprintf("nftbatch:session:%s", id)
}

func (r *sessionRedisRepo) Get(ctx context.Context, id string) (*domain.View, error) {
	js, err := r.rdb.Get(ctx, r.keySession(id)).Result()
	if err == redis.Nil || (err == nil && js == "") {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET session: %w", err)
	}
	var v domain.View
	if err := json.Unmarshal([]byte(js), &v); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &v, nil
}

// Put overwrites the view and resets its expiry. A non-positive ttl keeps the
// key forever.
func (r *sessionRedisRepo) Put(ctx context.Context, id string, v domain.View, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.keySession(id), string(b), 0)
	if ttl > 0 {
		pipe.PExpire(ctx, r.keySession(id), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis SET session: %w", err)
	}
	return nil
}

// Update reads the view under WATCH, applies fn and writes the result in a
// MULTI block, retrying when another writer touched the key in between.
func (r *sessionRedisRepo) Update(ctx context.Context, id string, ttl time.Duration, fn func(cur domain.View) (domain.View, bool)) (domain.View, error) {
	key := r.keySession(id)
	var result domain.View
	txf := func(tx *redis.Tx) error {
		var cur domain.View
		js, err := tx.Get(ctx, key).Result()
		switch {
		case err == redis.Nil:
		case err != nil:
			return fmt.Errorf("redis GET session: %w", err)
		case js != "":
			if err := json.Unmarshal([]byte(js), &cur); err != nil {
				return fmt.Errorf("unmarshal session: %w", err)
			}
		}
		next, write := fn(cur)
		if !write {
			result = cur
			return nil
		}
		b, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, string(b), 0)
			if ttl > 0 {
				pipe.PExpire(ctx, key, ttl)
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return domain.View{}, err
		}
		if ctx.Err() != nil {
			return domain.View{}, ctx.Err()
		}
	}
	return domain.View{}, ErrSessionContended
}

func (r *sessionRedisRepo) Delete(ctx context.Context, id string) error {
	if err := r.rdb.Del(ctx, r.keySession(id)).Err(); err != nil {
		return fmt.Errorf("redis DEL session: %w", err)
	}
	return nil
}

func (r *sessionRedisRepo) Count(ctx context.Context) (int64, error) {
	var (
		cursor uint64
		total  int64
	)
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, SessionKeyPattern, 500).Result()
		if err != nil {
			return 0, fmt.Errorf("redis SCAN sessions: %w", err)
		}
		total += int64(len(keys))
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}
