package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcelsud/library-catalog/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, opts ...cache.Option) *cache.Client {
	t.Helper()
	c := cache.New(cache.NewStore(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

// counting returns a fetch that answers value and counts its calls.
func counting(value string, calls *atomic.Int32) func(context.Context, cache.Key) (string, error) {
	return func(ctx context.Context, key cache.Key) (string, error) {
		calls.Add(1)
		return value, nil
	}
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	key := cache.NewKey(cache.Books, "")
	t.Run("miss then hit", func(t *testing.T) {
		c := newClient(t)
		var calls atomic.Int32
		got, err := cache.Query(ctx, c, key, counting("list", &calls))
		require.NoError(t, err)
		assert.Equal(t, "list", got)

		got, err = cache.Query(ctx, c, key, counting("other", &calls))
		require.NoError(t, err)
		assert.Equal(t, "list", got)
		assert.Equal(t, int32(1), calls.Load())

		stats := c.Stats()
		assert.Equal(t, uint64(1), stats.Hits)
		assert.Equal(t, uint64(1), stats.Misses)
		assert.Equal(t, uint64(1), stats.Fetches)
	})
	t.Run("coalesces concurrent reads", func(t *testing.T) {
		c := newClient(t)
		detail := cache.NewKey(cache.Books, "123")
		release := make(chan struct{})
		var calls atomic.Int32
		fetch := func(ctx context.Context, key cache.Key) (string, error) {
			calls.Add(1)
			<-release
			return "book 123", nil
		}

		var wg sync.WaitGroup
		results := make([]string, 2)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := cache.Query(ctx, c, detail, fetch)
				assert.NoError(t, err)
				results[i] = v
			}()
		}
		require.Eventually(t, func() bool { return c.Stats().Misses == 2 }, time.Second, time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, []string{"book 123", "book 123"}, results)
		assert.Equal(t, uint64(1), c.Stats().Coalesced())
	})
	t.Run("error keeps the last known data", func(t *testing.T) {
		c := newClient(t)
		c.Store().Put(key, "old list")
		boom := errors.New("boom")
		_, err := cache.Refetch(ctx, c, key, func(context.Context, cache.Key) (string, error) {
			return "", boom
		})
		assert.ErrorIs(t, err, boom)

		e, ok := c.Peek(key)
		require.True(t, ok)
		assert.Equal(t, cache.Errored, e.Status)
		assert.Equal(t, boom, e.Err)
		assert.Equal(t, "old list", e.Data)
		assert.Equal(t, uint64(1), c.Stats().FetchErrors)
	})
	t.Run("query after an error retries", func(t *testing.T) {
		c := newClient(t)
		_, err := cache.Query(ctx, c, key, func(context.Context, cache.Key) (string, error) {
			return "", errors.New("down")
		})
		require.Error(t, err)

		var calls atomic.Int32
		got, err := cache.Query(ctx, c, key, counting("list", &calls))
		require.NoError(t, err)
		assert.Equal(t, "list", got)
		assert.Equal(t, int32(1), calls.Load())

		e, _ := c.Peek(key)
		assert.Equal(t, cache.Fulfilled, e.Status)
		assert.Nil(t, e.Err)
	})
	t.Run("refetch bypasses a fresh entry", func(t *testing.T) {
		c := newClient(t)
		c.Store().Put(key, "cached")
		var calls atomic.Int32
		got, err := cache.Refetch(ctx, c, key, counting("network", &calls))
		require.NoError(t, err)
		assert.Equal(t, "network", got)
		assert.Equal(t, int32(1), calls.Load())
	})
	t.Run("wrong type", func(t *testing.T) {
		c := newClient(t)
		c.Store().Put(key, 42)
		_, err := cache.Query(ctx, c, key, counting("list", new(atomic.Int32)))
		assert.ErrorContains(t, err, "holds int")
	})
}

func TestQueryCancellation(t *testing.T) {
	key := cache.NewKey(cache.Books, "")
	t.Run("caller gives up, result is still stored", func(t *testing.T) {
		c := newClient(t)
		release := make(chan struct{})
		fetch := func(ctx context.Context, key cache.Key) (string, error) {
			<-release
			return "list", ctx.Err()
		}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, err := cache.Query(ctx, c, key, fetch)
			done <- err
		}()
		require.Eventually(t, func() bool { return c.Stats().Fetches == 1 }, time.Second, time.Millisecond)
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)

		close(release)
		assert.Eventually(t, func() bool {
			e, ok := c.Peek(key)
			return ok && e.Status == cache.Fulfilled && e.Data == "list"
		}, time.Second, time.Millisecond)
	})
	t.Run("fetch timeout", func(t *testing.T) {
		c := newClient(t, cache.WithFetchTimeout(20*time.Millisecond))
		_, err := cache.Query(context.Background(), c, key, func(ctx context.Context, key cache.Key) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		e, _ := c.Peek(key)
		assert.Equal(t, cache.Errored, e.Status)
	})
}

func TestGenerationGuard(t *testing.T) {
	ctx := context.Background()
	key := cache.NewKey(cache.Books, "")

	slowFetch := func(release chan struct{}) func(context.Context, cache.Key) (string, error) {
		return func(context.Context, cache.Key) (string, error) {
			<-release
			return "old response", nil
		}
	}

	t.Run("response started before an invalidation is discarded", func(t *testing.T) {
		c := newClient(t)
		release := make(chan struct{})
		done := make(chan string, 1)
		go func() {
			v, _ := cache.Query(ctx, c, key, slowFetch(release))
			done <- v
		}()
		require.Eventually(t, func() bool { return c.Stats().Fetches == 1 }, time.Second, time.Millisecond)

		c.Invalidate(cache.Books)
		close(release)
		assert.Equal(t, "old response", <-done)

		e, ok := c.Peek(key)
		require.True(t, ok)
		assert.NotEqual(t, cache.Fulfilled, e.Status)
		assert.Nil(t, e.Data)
		assert.Equal(t, uint64(1), c.Stats().Discarded)
	})
	t.Run("response started before a put is discarded", func(t *testing.T) {
		c := newClient(t)
		release := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = cache.Query(ctx, c, key, slowFetch(release))
		}()
		require.Eventually(t, func() bool { return c.Stats().Fetches == 1 }, time.Second, time.Millisecond)

		c.Store().Put(key, "fresh")
		close(release)
		<-done

		e, _ := c.Peek(key)
		assert.Equal(t, "fresh", e.Data)
		assert.Equal(t, cache.Fulfilled, e.Status)
	})
	t.Run("read after an invalidation does not join the old flight", func(t *testing.T) {
		c := newClient(t)
		release := make(chan struct{})
		go func() {
			_, _ = cache.Query(ctx, c, key, slowFetch(release))
		}()
		require.Eventually(t, func() bool { return c.Stats().Fetches == 1 }, time.Second, time.Millisecond)
		c.Invalidate(cache.Books)

		got, err := cache.Query(ctx, c, key, counting("new response", new(atomic.Int32)))
		require.NoError(t, err)
		assert.Equal(t, "new response", got)
		close(release)

		assert.Eventually(t, func() bool { return c.Stats().Discarded == 1 }, time.Second, time.Millisecond)
		e, _ := c.Peek(key)
		assert.Equal(t, "new response", e.Data)
	})
}

func TestMutate(t *testing.T) {
	ctx := context.Background()
	books := cache.NewKey(cache.Books, "")
	summary := cache.NewKey(cache.BorrowSummary, "")

	t.Run("success refetches active subscriptions", func(t *testing.T) {
		c := newClient(t)
		var calls atomic.Int32
		var mu sync.Mutex
		var last cache.View[string]
		fetch := func(context.Context, cache.Key) (string, error) {
			n := calls.Add(1)
			if n == 1 {
				return "two books", nil
			}
			return "three books", nil
		}
		w := cache.Watch(c, books, fetch, func(v cache.View[string]) {
			mu.Lock()
			defer mu.Unlock()
			last = v
		})
		defer w.Close()
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return last.Data == "two books"
		}, time.Second, time.Millisecond)

		created, err := cache.Mutate(ctx, c, cache.CreateBook, func(context.Context) (string, error) {
			return "new book", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "new book", created)

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return last.Data == "three books" && !last.Stale
		}, time.Second, time.Millisecond)
		assert.Equal(t, int32(2), calls.Load())
		assert.Equal(t, uint64(1), c.Stats().Invalidations)
	})
	t.Run("failure leaves the store untouched", func(t *testing.T) {
		c := newClient(t)
		c.Store().Put(books, "list")
		before, _ := c.Peek(books)

		conflict := errors.New("ISBN already exists")
		_, err := cache.Mutate(ctx, c, cache.UpdateBook, func(context.Context) (string, error) {
			return "", conflict
		})
		assert.Same(t, conflict, err)

		after, _ := c.Peek(books)
		assert.Equal(t, before, after)
		stats := c.Stats()
		assert.Equal(t, uint64(0), stats.Invalidations)
		assert.Equal(t, uint64(1), stats.MutationErrors)
	})
	t.Run("borrow invalidates books and summary", func(t *testing.T) {
		c := newClient(t)
		c.Store().Put(books, "list")
		c.Store().Put(summary, "summary")
		c.Store().Put(cache.NewKey(cache.Books, "9"), "detail")

		_, err := cache.Mutate(ctx, c, cache.BorrowBook, func(context.Context) (struct{}, error) {
			return struct{}{}, nil
		})
		require.NoError(t, err)

		for _, key := range []cache.Key{books, summary, cache.NewKey(cache.Books, "9")} {
			e, _ := c.Peek(key)
			assert.True(t, e.Stale, key.String())
		}
		// nothing subscribed, so nothing refetched until the next query
		assert.Equal(t, uint64(0), c.Stats().Refetches)

		var calls atomic.Int32
		got, err := cache.Query(ctx, c, summary, counting("new summary", &calls))
		require.NoError(t, err)
		assert.Equal(t, "new summary", got)
		assert.Equal(t, int32(1), calls.Load())
	})
	t.Run("update does not touch the summary", func(t *testing.T) {
		c := newClient(t)
		c.Store().Put(summary, "summary")
		_, err := cache.Mutate(ctx, c, cache.UpdateBook, func(context.Context) (string, error) {
			return "updated", nil
		})
		require.NoError(t, err)
		e, _ := c.Peek(summary)
		assert.False(t, e.Stale)
	})
	t.Run("no refetch after close", func(t *testing.T) {
		c := newClient(t)
		var calls atomic.Int32
		rec := &recorder{}
		w := cache.Watch(c, books, counting("list", &calls), rec.add)
		defer w.Close()
		require.Eventually(t, rec.has("list"), time.Second, time.Millisecond)

		require.NoError(t, c.Close(ctx))
		refetches := c.Stats().Refetches
		_, err := cache.Mutate(ctx, c, cache.CreateBook, func(context.Context) (string, error) {
			return "new book", nil
		})
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, refetches, c.Stats().Refetches)
		e, _ := c.Peek(books)
		assert.True(t, e.Stale)
	})
	t.Run("invalid kind", func(t *testing.T) {
		c := newClient(t)
		called := false
		_, err := cache.Mutate(ctx, c, cache.MutationKind(0), func(context.Context) (string, error) {
			called = true
			return "", nil
		})
		assert.Error(t, err)
		assert.False(t, called)
	})
}
