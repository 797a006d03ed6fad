package locks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ticket-reconciler/internal/status"
	"ticket-reconciler/utils"

	"github.com/redis/go-redis/v9"
)

// Locker serializes work on a key across processes.
type Locker interface {
	// Acquire blocks until the lock for key is held or ctx is done. The
	// returned release func is safe to call more than once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type RedisLocker struct {
	redis    *redis.Client
	ttl      time.Duration
	wait     time.Duration
	retry    time.Duration
	newToken func() string
}

type Option func(*RedisLocker)

// WithWait bounds how long Acquire keeps retrying.
func WithWait(d time.Duration) Option { return func(l *RedisLocker) { l.wait = d } }

func WithRetryInterval(d time.Duration) Option { return func(l *RedisLocker) { l.retry = d } }

func WithTokenFunc(fn func() string) Option { return func(l *RedisLocker) { l.newToken = fn } }

func NewRedisLocker(client *redis.Client, ttl time.Duration, opts ...Option) *RedisLocker {
	l := &RedisLocker{
		redis: client,
		ttl:   ttl,
		wait:  10 * time.Second,
		retry: 50 * time.Millisecond,
		newToken: func() string {
			token, _ := utils.GenerateCode(16)
			return token
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	key = "lock:" + key
	token := l.newToken()

	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	backOff := l.retry
	for {
		ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return l.releaser(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire %s: %w", key, status.ErrLockNotAcquired)
		case <-time.After(backOff):
			if backOff < time.Second {
				backOff *= 2
			}
		}
	}
}

func (l *RedisLocker) releaser(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := l.redis.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
				slog.Error("locks.release()", "key", key, "error", err)
			}
		})
	}
}

// LocalLocker is an in-process Locker for single instance deployments and tests.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]*localLock{}}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, lk)
		return nil, fmt.Errorf("acquire %s: %w", key, status.ErrLockNotAcquired)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.drop(key, lk)
		})
	}, nil
}

func (l *LocalLocker) drop(key string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}
