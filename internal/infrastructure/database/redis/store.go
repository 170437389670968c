package redis

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/citeresolve/pkg/errors"
)

// Store is a storage.KVStore over Redis strings. It backs the shared
// resolution cache so that several workers reuse each other's results.
type Store struct {
	client *Client
	prefix string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPrefix namespaces every key, e.g. "citeresolve:".
func WithPrefix(prefix string) StoreOption {
	return func(s *Store) { s.prefix = prefix }
}

func NewStore(client *Client, opts ...StoreOption) *Store {
	s := &Store{client: client}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.client.isClosed() {
		return nil, false, ErrClientClosed
	}
	data, err := s.client.rdb.Get(ctx, s.prefix+key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrCodeCacheError, "redis get").WithDetail("key=" + key)
	}
	return data, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.client.isClosed() {
		return ErrClientClosed
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.rdb.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "redis set").WithDetail("key=" + key)
	}
	return nil
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}
	if err := s.client.rdb.Del(ctx, full...).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "redis del")
	}
	return nil
}
