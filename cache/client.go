package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultFetchTimeout bounds a single fetch, including retries done by the fetch itself.
const DefaultFetchTimeout = 30 * time.Second

type fetcher func(ctx context.Context) (any, error)

/* Client is the query and mutation executor in front of a Store.
 * Uses pointer semantics as it's an API, not data.
 */
type Client struct {
	store    *Store
	flights  singleflight.Group
	mu       sync.Mutex
	fetchers map[Key]fetcher
	timeout  time.Duration
	wg       sync.WaitGroup
	stats    *counters
	log      zerolog.Logger
	closed   bool
}

// Option customises a Client.
type Option func(*Client)

// WithFetchTimeout bounds every fetch. Zero disables the bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the logger used by the client.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// New creates a client bound to store. The store must not be shared with another client.
func New(store *Store, opts ...Option) *Client {
	c := &Client{
		store:    store,
		fetchers: make(map[Key]fetcher),
		timeout:  DefaultFetchTimeout,
		stats:    store.stats,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	store.onEvict = c.forget
	return c
}

// Store returns the underlying resource store.
func (c *Client) Store() *Store {
	return c.store
}

// Stats returns the current counters.
func (c *Client) Stats() Stats {
	return c.stats.snapshot()
}

// Peek returns the cached entry for key without counting a hit or fetching.
func (c *Client) Peek(key Key) (Entry, bool) {
	return c.store.Get(key)
}

/* Invalidate marks the tags stale and refetches every subscribed key in the
 * background. Unsubscribed entries are refetched by their next query.
 */
func (c *Client) Invalidate(tags ...Tag) {
	c.stats.invalidations.Add(1)
	keys := c.store.Invalidate(tags...)
	c.log.Debug().Interface("tags", tags).Int("active", len(keys)).Msg("invalidated tags")
	for _, key := range keys {
		c.refetch(key)
	}
}

// Close stops new background refetches and waits for the running ones to finish.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background refetches: %w", ctx.Err())
	}
}

func (c *Client) query(ctx context.Context, key Key, f fetcher, force bool) (any, error) {
	if !force {
		if e, ok := c.store.Get(key); ok && e.Status == Fulfilled && !e.Stale {
			c.stats.hits.Add(1)
			return e.Data, nil
		}
	}
	c.stats.misses.Add(1)
	return c.fetch(ctx, key, f)
}

/* fetch coalesces concurrent reads of key into one call of f.
 * Flights are keyed by generation: a read started after an invalidation never
 * joins a request whose result will be discarded.
 * The call is detached from the caller's cancellation: a caller that gives up
 * stops waiting, the request still completes and is stored if still current.
 */
func (c *Client) fetch(ctx context.Context, key Key, f fetcher) (any, error) {
	c.register(key, f)
	gen := c.store.begin(key)
	ch := c.flights.DoChan(fmt.Sprintf("%s@%d", key, gen), func() (any, error) {
		c.stats.fetches.Add(1)

		fctx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, c.timeout)
			defer cancel()
		}

		data, err := f(fctx)
		if err != nil {
			c.stats.fetchErrors.Add(1)
			c.store.fail(key, gen, err)
			c.log.Warn().Err(err).Str("key", key.String()).Msg("fetch failed")
			return nil, err
		}
		c.store.commit(key, gen, data)
		return data, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refetch reloads key in the background with the fetcher of its last query.
func (c *Client) refetch(key Key) {
	f, ok := c.lookup(key)
	if !ok {
		return
	}
	c.background(key, f)
}

func (c *Client) background(key Key, f fetcher) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	c.stats.refetches.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.fetch(context.Background(), key, f); err != nil {
			c.log.Debug().Err(err).Str("key", key.String()).Msg("background refetch failed")
		}
	}()
}

// ensure delivers the current entry of key and fetches it unless it is fresh.
func (c *Client) ensure(key Key, f fetcher, deliver Listener) {
	c.register(key, f)
	if e, ok := c.store.Get(key); ok {
		deliver(e)
		if e.Status == Fulfilled && !e.Stale {
			c.stats.hits.Add(1)
			return
		}
	}
	c.stats.misses.Add(1)
	c.background(key, f)
}

func (c *Client) mutate(ctx context.Context, kind MutationKind, fn func(context.Context) (any, error)) (any, error) {
	if err := kind.Validate(); err != nil {
		return nil, fmt.Errorf("validating mutation: %w", err)
	}
	c.stats.mutations.Add(1)
	data, err := fn(ctx)
	if err != nil {
		c.stats.mutationErrors.Add(1)
		c.log.Info().Err(err).Str("mutation", kind.String()).Msg("mutation failed")
		return nil, err
	}
	c.Invalidate(kind.Invalidates()...)
	return data, nil
}

func (c *Client) register(key Key, f fetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchers[key] = f
}

func (c *Client) lookup(key Key) (fetcher, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.fetchers[key]
	return f, ok
}

// forget is called by the store on eviction, with the store lock held.
func (c *Client) forget(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.fetchers, key)
}

// Query returns the cached value of key, fetching it on a miss or when stale.
func Query[T any](ctx context.Context, c *Client, key Key, fetch func(context.Context, Key) (T, error)) (T, error) {
	v, err := c.query(ctx, key, erase(key, fetch), false)
	return as[T](key, v, err)
}

// Refetch bypasses the cached value of key. It is the explicit retry after an error.
func Refetch[T any](ctx context.Context, c *Client, key Key, fetch func(context.Context, Key) (T, error)) (T, error) {
	v, err := c.query(ctx, key, erase(key, fetch), true)
	return as[T](key, v, err)
}

/* Mutate runs a write and, only when it succeeds, invalidates the tags of kind.
 * Writes are never retried: the caller gets the error and the store keeps its
 * last known good state.
 */
func Mutate[T any](ctx context.Context, c *Client, kind MutationKind, fn func(context.Context) (T, error)) (T, error) {
	v, err := c.mutate(ctx, kind, func(ctx context.Context) (any, error) {
		res, err := fn(ctx)
		return res, err
	})
	var zero T
	if err != nil {
		return zero, err
	}
	res, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("mutation %s returned %T, want %T", kind, v, zero)
	}
	return res, nil
}

func erase[T any](key Key, fetch func(context.Context, Key) (T, error)) fetcher {
	return func(ctx context.Context) (any, error) {
		v, err := fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

func as[T any](key Key, v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	res, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache entry %s holds %T, want %T", key, v, zero)
	}
	return res, nil
}
