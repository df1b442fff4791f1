package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token, so a run
// that outlived its lease cannot free somebody else's.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Lock is a single-holder lease (SET NX PX). It expires on its own if the
// holder dies.
type Lock struct {
	RDB  redis.Cmdable
	Name string
	TTL  time.Duration
}

func NewLock(rdb redis.Cmdable, name string, ttl time.Duration) *Lock {
	return &Lock{RDB: rdb, Name: name, TTL: ttl}
}

func (l *Lock) key() string { return fmt.Sprintf(KeyLock, l.Name) }

func (l *Lock) Acquire(ctx context.Context) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.RDB.SetNX(ctx, l.key(), token, l.TTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire %s: %w", l.key(), err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *Lock) Release(ctx context.Context, token string) error {
	if err := releaseScript.Run(ctx, l.RDB, []string{l.key()}, token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.key(), err)
	}
	return nil
}
