package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/pkg/errors"
)

var (
	ErrLockNotAcquired = errors.New(errors.ErrCodeRunLocked, "failed to acquire lock")
	ErrLockNotHeld     = errors.New(errors.ErrCodeConflict, "lock not held by this owner")
)

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Mutex is a single-owner lock. While held, a watchdog extends its TTL every
// ttl/3 so that long batch runs keep it; if the process dies the lock
// expires after ttl.
type Mutex struct {
	client *Client
	key    string
	value  string
	ttl    time.Duration
	logger logging.Logger

	stop chan struct{}
	done chan struct{}
}

// NewMutex returns an unlocked mutex on key.
func NewMutex(client *Client, key string, ttl time.Duration) *Mutex {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Mutex{client: client, key: key, value: uuid.NewString(), ttl: ttl, logger: client.logger}
}

// TryLock acquires the lock without waiting.
func (m *Mutex) TryLock(ctx context.Context) (bool, error) {
	ok, err := m.client.rdb.SetNX(ctx, m.key, m.value, m.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "acquire lock").WithDetail("key=" + m.key)
	}
	if ok {
		m.stop = make(chan struct{})
		m.done = make(chan struct{})
		go m.watchdog()
	}
	return ok, nil
}

// Unlock releases the lock if this Mutex still owns it.
func (m *Mutex) Unlock(ctx context.Context) error {
	if m.stop != nil {
		close(m.stop)
		<-m.done
		m.stop = nil
	}
	n, err := unlockScript.Run(ctx, m.client.rdb, []string{m.key}, m.value).Int64()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "release lock").WithDetail("key=" + m.key)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend resets the TTL if this Mutex still owns the lock.
func (m *Mutex) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, m.client.rdb, []string{m.key}, m.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (m *Mutex) watchdog() {
	defer close(m.done)
	ticker := time.NewTicker(m.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.ttl/3)
			ok, err := m.Extend(ctx, m.ttl)
			cancel()
			if err != nil {
				m.logger.Error("lock watchdog failed to extend", logging.String("key", m.key), logging.Err(err))
				return
			}
			if !ok {
				m.logger.Warn("lock watchdog lost lock", logging.String("key", m.key))
				return
			}
		}
	}
}

// RunLocker implements batch.RunLocker so that two processes never run the
// same batch run ID at once.
type RunLocker struct {
	client *Client
	prefix string
	ttl    time.Duration
}

func NewRunLocker(client *Client, prefix string, ttl time.Duration) *RunLocker {
	return &RunLocker{client: client, prefix: prefix, ttl: ttl}
}

func (l *RunLocker) LockRun(ctx context.Context, runID string) (func(context.Context) error, error) {
	m := NewMutex(l.client, l.prefix+"lock:run:"+runID, l.ttl)
	ok, err := m.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired.WithDetail("run_id=" + runID)
	}
	return m.Unlock, nil
}
