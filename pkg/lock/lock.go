// Package lock provides redis-backed leases that serialise work on a single
// resource across API and worker instances.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultTTL = time.Minute

// ErrHeld is returned when another owner currently holds the lease.
var ErrHeld = errors.New("lock held by another owner")

// Store is the redis surface a lease needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	LockKey(scope, id string) string
}

// Locker hands out leases for ids within one scope.
type Locker interface {
	Acquire(ctx context.Context, id string) (Lease, error)
}

// Lease is an acquired lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

// RedisLocker implements Locker with SET NX PX and an owner token.
type RedisLocker struct {
	store Store
	scope string
	ttl   time.Duration
}

// NewRedisLocker constructs a locker for the given scope, e.g. "order".
func NewRedisLocker(store Store, scope string, ttl time.Duration) (*RedisLocker, error) {
	if store == nil {
		return nil, errors.New("lock store required")
	}
	if scope == "" {
		return nil, errors.New("lock scope required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{store: store, scope: scope, ttl: ttl}, nil
}

// Acquire returns ErrHeld when the id is already locked.
func (l *RedisLocker) Acquire(ctx context.Context, id string) (Lease, error) {
	key := l.store.LockKey(l.scope, id)
	owner := uuid.NewString()
	ok, err := l.store.SetNX(ctx, key, owner, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("setnx %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &redisLease{store: l.store, key: key, owner: owner}, nil
}

type redisLease struct {
	store Store
	key   string
	owner string
}

func (l *redisLease) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	if _, err := l.store.CompareAndDelete(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	l.owner = ""
	return nil
}
