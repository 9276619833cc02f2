package notifyclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultStaleTime is how long a cached result is served without refetching.
const DefaultStaleTime = 30 * time.Second

// DefaultFetchTimeout bounds a shared fetch once it no longer follows its first caller's context.
const DefaultFetchTimeout = 30 * time.Second

// flight counts the callers still waiting on one shared fetch.
type flight struct {
	waiters int
}

type cacheEntry struct {
	value     interface{}
	fetchedAt time.Time
	gen       uint64
}

// QueryCache is a read-through, write-invalidate cache. Entries are keyed by operation plus
// canonical parameters. Invalidating an operation bumps its generation, so fetches started
// before the invalidation never store their (possibly stale) result.
type QueryCache struct {
	mu        sync.Mutex
	entries      map[string]*cacheEntry
	gens         map[string]uint64
	flights      map[string]*flight
	group        singleflight.Group
	staleTime    time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
}

func NewQueryCache(staleTime time.Duration) *QueryCache {
	if staleTime <= 0 {
		staleTime = DefaultStaleTime
	}
	return &QueryCache{
		entries:      make(map[string]*cacheEntry),
		gens:         make(map[string]uint64),
		flights:      make(map[string]*flight),
		staleTime:    staleTime,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
	}
}

// Key renders op and params canonically. Params are JSON encoded, so struct field order and
// sorted map keys make equal parameters produce equal keys.
func Key(op string, params interface{}) string {
	if params == nil {
		return op
	}
	b, err := json.Marshal(params)
	if err != nil {
		return op + "|" + fmt.Sprintf("%+v", params)
	}
	return op + "|" + string(b)
}

func opOf(key string) string {
	op, _, _ := strings.Cut(key, "|")
	return op
}

// Invalidate drops every entry of the given operations and supersedes their in-flight fetches.
func (c *QueryCache) Invalidate(ops ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, op := range ops {
		c.gens[op]++
	}
	for key := range c.entries {
		for _, op := range ops {
			if opOf(key) == op {
				delete(c.entries, key)
				break
			}
		}
	}
}

// Peek returns a fresh cached value without fetching.
func (c *QueryCache) Peek(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(key)
}

func (c *QueryCache) lookupLocked(key string) (interface{}, bool) {
	e, ok := c.entries[key]
	if !ok || e.gen != c.gens[opOf(key)] || c.now().Sub(e.fetchedAt) >= c.staleTime {
		return nil, false
	}
	return e.value, true
}

// Fetch returns the cached value for key or runs fetch once for all concurrent callers of the
// same key and generation. The shared fetch is detached from any single caller's cancellation;
// each caller stops waiting when its own ctx is done. A result is stored only when fetch
// succeeded, at least one caller was still waiting and no invalidation happened meanwhile.
func Fetch[T any](ctx context.Context, c *QueryCache, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	c.mu.Lock()
	if v, ok := c.lookupLocked(key); ok {
		c.mu.Unlock()
		return v.(T), nil
	}
	op := opOf(key)
	gen := c.gens[op]
	flightKey := key + "#" + strconv.FormatUint(gen, 10)
	f, ok := c.flights[flightKey]
	if !ok {
		f = &flight{}
		c.flights[flightKey] = f
	}
	f.waiters++
	c.mu.Unlock()

	defer c.leave(flightKey, f)

	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		v, err := fetch(fetchCtx)

		c.mu.Lock()
		wanted := false
		if cur, ok := c.flights[flightKey]; ok {
			wanted = cur.waiters > 0
			delete(c.flights, flightKey)
		}
		if err == nil && wanted && c.gens[op] == gen {
			c.entries[key] = &cacheEntry{value: v, fetchedAt: c.now(), gen: gen}
		}
		c.mu.Unlock()

		if err != nil {
			return nil, err
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// leave drops one waiter. A flight nobody waits for any more is forgotten, so its result is not stored.
func (c *QueryCache) leave(flightKey string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters <= 0 && c.flights[flightKey] == f {
		delete(c.flights, flightKey)
	}
}
