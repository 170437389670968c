package resolution

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/internal/infrastructure/storage"
	apperrors "github.com/turtacn/citeresolve/pkg/errors"
)

// ComputeFunc produces the result for a cache miss.
type ComputeFunc func(ctx context.Context) (*citation.ResolutionResult, error)

// DedupCache is an atomic get-or-compute cache of resolution results keyed
// by dedup key. compute runs only on a miss, and concurrent callers for one
// key share a single computation. Errors from compute are returned and
// never cached.
//
// The shared computation does not inherit the cancellation of the caller
// that started it: each caller stops waiting when its own ctx ends, and
// the computation runs on to fill the cache for the others.
//
// The returned result is owned by the caller. hit is true when the result
// was not computed by this call; the result then has Metadata.FromCache set.
type DedupCache interface {
	GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (res *citation.ResolutionResult, hit bool, err error)
}

// TTLPolicy chooses an expiry per result. FAILED results expire sooner so
// that a source outage is retried on the next run.
type TTLPolicy struct {
	TTL       time.Duration
	FailedTTL time.Duration
}

func (p TTLPolicy) ttlFor(r *citation.ResolutionResult) time.Duration {
	if r.Status == citation.StatusFailed && p.FailedTTL > 0 {
		return p.FailedTTL
	}
	return p.TTL
}

type flightResult struct {
	res *citation.ResolutionResult
	hit bool
	// owner identifies the caller whose call ran the computation.
	owner *int
}

// share runs fn at most once per key at a time under a context detached
// from ctx's cancellation and waits for it or for ctx, whichever ends
// first.
func share(ctx context.Context, group *singleflight.Group, key string, fn func(context.Context) (flightResult, error)) (*citation.ResolutionResult, bool, error) {
	owner := new(int)
	detached := context.WithoutCancel(ctx)
	ch := group.DoChan(key, func() (v interface{}, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = apperrors.Newf(apperrors.ErrCodeInternal, "resolution panicked: %v", p).WithDetail("key=" + key)
			}
		}()
		fr, err := fn(detached)
		if err != nil {
			return nil, err
		}
		fr.owner = owner
		return fr, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, false, r.Err
		}
		fr := r.Val.(flightResult)
		if fr.owner == owner && !fr.hit {
			return fr.res.Clone(), false, nil
		}
		return asHit(fr.res), true, nil
	}
}

func errNilResult(key string) error {
	return apperrors.New(apperrors.ErrCodeInternal, "resolution produced no result").WithDetail("key=" + key)
}

// asHit returns a caller-owned copy marked as served from cache.
func asHit(r *citation.ResolutionResult) *citation.ResolutionResult {
	out := r.Clone()
	out.Metadata.FromCache = true
	return out
}

// MemoryCache is a process-local DedupCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	policy  TTLPolicy
	now     func() time.Time
	group   singleflight.Group
}

type memoryEntry struct {
	res       *citation.ResolutionResult
	expiresAt time.Time
}

// MemoryCacheOption configures a MemoryCache.
type MemoryCacheOption func(*MemoryCache)

// WithCacheClock overrides time.Now.
func WithCacheClock(now func() time.Time) MemoryCacheOption {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewMemoryCache(policy TTLPolicy, opts ...MemoryCacheOption) *MemoryCache {
	c := &MemoryCache{entries: make(map[string]memoryEntry), policy: policy, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *MemoryCache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (*citation.ResolutionResult, bool, error) {
	if r, ok := c.get(key); ok {
		return asHit(r), true, nil
	}

	return share(ctx, &c.group, key, func(ctx context.Context) (flightResult, error) {
		if r, ok := c.get(key); ok {
			return flightResult{res: r, hit: true}, nil
		}
		r, err := compute(ctx)
		if err != nil {
			return flightResult{}, err
		}
		if r == nil {
			return flightResult{}, errNilResult(key)
		}
		stored := r.Clone()
		c.put(key, stored)
		return flightResult{res: stored}, nil
	})
}

func (c *MemoryCache) get(key string) (*citation.ResolutionResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.res, true
}

func (c *MemoryCache) put(key string, r *citation.ResolutionResult) {
	e := memoryEntry{res: r}
	if ttl := c.policy.ttlFor(r); ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// Invalidate drops key.
func (c *MemoryCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StoreCache is a DedupCache over a storage.KVStore, typically Redis shared
// by several workers. Results are stored as JSON. Singleflight collapses
// concurrent misses within this process only.
//
// The store is best effort: a read error is logged and treated as a miss,
// and a write error is logged without failing the resolution.
type StoreCache struct {
	store  storage.KVStore
	policy TTLPolicy
	prefix string
	logger logging.Logger
	group  singleflight.Group
}

// StoreCacheOption configures a StoreCache.
type StoreCacheOption func(*StoreCache)

// WithKeyPrefix namespaces cache keys, e.g. "citeresolve:resolution:".
func WithKeyPrefix(prefix string) StoreCacheOption {
	return func(c *StoreCache) { c.prefix = prefix }
}

// WithCacheLogger sets the logger.
func WithCacheLogger(l logging.Logger) StoreCacheOption {
	return func(c *StoreCache) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewStoreCache(store storage.KVStore, policy TTLPolicy, opts ...StoreCacheOption) *StoreCache {
	c := &StoreCache{store: store, policy: policy, prefix: "resolution:", logger: logging.NewNopLogger()}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *StoreCache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (*citation.ResolutionResult, bool, error) {
	if r, ok := c.load(ctx, key); ok {
		return asHit(r), true, nil
	}

	return share(ctx, &c.group, key, func(ctx context.Context) (flightResult, error) {
		if r, ok := c.load(ctx, key); ok {
			return flightResult{res: r, hit: true}, nil
		}
		r, err := compute(ctx)
		if err != nil {
			return flightResult{}, err
		}
		if r == nil {
			return flightResult{}, errNilResult(key)
		}
		c.save(ctx, key, r)
		return flightResult{res: r.Clone()}, nil
	})
}

func (c *StoreCache) load(ctx context.Context, key string) (*citation.ResolutionResult, bool) {
	data, ok, err := c.store.Get(ctx, c.prefix+key)
	if err != nil {
		c.logger.Warn("resolution cache read failed", logging.String(logging.FieldDedupKey, key), logging.Err(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var r citation.ResolutionResult
	if err := json.Unmarshal(data, &r); err != nil {
		c.logger.Warn("resolution cache entry undecodable", logging.String(logging.FieldDedupKey, key), logging.Err(err))
		return nil, false
	}
	return &r, true
}

func (c *StoreCache) save(ctx context.Context, key string, r *citation.ResolutionResult) {
	data, err := json.Marshal(r)
	if err != nil {
		c.logger.Warn("resolution cache encode failed", logging.String(logging.FieldDedupKey, key), logging.Err(err))
		return
	}
	if err := c.store.Set(ctx, c.prefix+key, data, c.policy.ttlFor(r)); err != nil {
		c.logger.Warn("resolution cache write failed", logging.String(logging.FieldDedupKey, key), logging.Err(err))
	}
}

// noCache computes every call.
type noCache struct{}

func (noCache) GetOrCompute(ctx context.Context, _ string, compute ComputeFunc) (*citation.ResolutionResult, bool, error) {
	r, err := compute(ctx)
	return r, false, err
}
