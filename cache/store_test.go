package cache_test

import (
	"testing"
	"time"

	"github.com/marcelsud/library-catalog/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePut(t *testing.T) {
	t.Run("replaces the whole value", func(t *testing.T) {
		s := cache.NewStore()
		key := cache.NewKey(cache.Books, "")
		s.Put(key, []string{"a", "b"})
		s.Put(key, []string{"c"})

		e, ok := s.Get(key)
		require.True(t, ok)
		assert.Equal(t, cache.Fulfilled, e.Status)
		assert.Equal(t, []string{"c"}, e.Data)
		assert.False(t, e.Stale)
		assert.NotZero(t, e.Generation)
		assert.False(t, e.UpdatedAt.IsZero())
	})
	t.Run("notifies subscribers in order", func(t *testing.T) {
		s := cache.NewStore()
		key := cache.NewKey(cache.Books, "1")
		var calls []string
		s.Subscribe(key, func(e cache.Entry) { calls = append(calls, "first") })
		s.Subscribe(key, func(e cache.Entry) { calls = append(calls, "second") })
		s.Put(key, "book")
		assert.Equal(t, []string{"first", "second"}, calls)
	})
	t.Run("uses the store clock", func(t *testing.T) {
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		s := cache.NewStore(cache.WithStoreClock(func() time.Time { return now }))
		key := cache.NewKey(cache.BorrowSummary, "")
		s.Put(key, 1)
		e, _ := s.Get(key)
		assert.Equal(t, now, e.UpdatedAt)
	})
}

func TestStoreInvalidate(t *testing.T) {
	s := cache.NewStore()
	books := cache.NewKey(cache.Books, "")
	detail := cache.NewKey(cache.Books, "42")
	summary := cache.NewKey(cache.BorrowSummary, "")
	s.Put(books, "list")
	s.Put(detail, "detail")
	s.Put(summary, "summary")
	before, _ := s.Get(books)

	var seen []cache.Entry
	s.Subscribe(books, func(e cache.Entry) { seen = append(seen, e) })

	active := s.Invalidate(cache.Books)
	assert.Equal(t, []cache.Key{books}, active)

	e, _ := s.Get(books)
	assert.True(t, e.Stale)
	assert.Equal(t, "list", e.Data)
	assert.Greater(t, e.Generation, before.Generation)

	d, _ := s.Get(detail)
	assert.True(t, d.Stale)

	sum, _ := s.Get(summary)
	assert.False(t, sum.Stale)

	require.Len(t, seen, 1)
	assert.True(t, seen[0].Stale)
	assert.Equal(t, 1, seen[0].Subscribers)
}

func TestStoreSubscription(t *testing.T) {
	t.Run("creates a pending entry", func(t *testing.T) {
		s := cache.NewStore()
		key := cache.NewKey(cache.Books, "7")
		sub := s.Subscribe(key, func(cache.Entry) {})
		assert.Equal(t, key, sub.Key())

		e, ok := s.Get(key)
		require.True(t, ok)
		assert.Equal(t, cache.Pending, e.Status)
		assert.Equal(t, 1, e.Subscribers)
	})
	t.Run("unsubscribe is idempotent", func(t *testing.T) {
		s := cache.NewStore()
		key := cache.NewKey(cache.Books, "")
		first := s.Subscribe(key, func(cache.Entry) {})
		s.Subscribe(key, func(cache.Entry) {})
		first.Unsubscribe()
		first.Unsubscribe()

		e, _ := s.Get(key)
		assert.Equal(t, 1, e.Subscribers)
	})
	t.Run("zero grace evicts on last unsubscribe", func(t *testing.T) {
		s := cache.NewStore(cache.WithGracePeriod(0))
		key := cache.NewKey(cache.Books, "")
		sub := s.Subscribe(key, func(cache.Entry) {})
		s.Put(key, "list")
		require.Equal(t, 1, s.Len())

		sub.Unsubscribe()
		assert.Equal(t, 0, s.Len())
	})
	t.Run("evicts after the grace period", func(t *testing.T) {
		s := cache.NewStore(cache.WithGracePeriod(20 * time.Millisecond))
		key := cache.NewKey(cache.Books, "")
		sub := s.Subscribe(key, func(cache.Entry) {})
		s.Put(key, "list")
		sub.Unsubscribe()
		assert.Equal(t, 1, s.Len())
		assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	})
	t.Run("reads restart the grace period", func(t *testing.T) {
		s := cache.NewStore(cache.WithGracePeriod(100 * time.Millisecond))
		key := cache.NewKey(cache.Books, "")
		s.Put(key, "list")
		for i := 0; i < 4; i++ {
			time.Sleep(40 * time.Millisecond)
			_, ok := s.Get(key)
			require.True(t, ok, "read %d", i)
		}
		assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	})
	t.Run("subscribing again cancels the eviction", func(t *testing.T) {
		s := cache.NewStore(cache.WithGracePeriod(30 * time.Millisecond))
		key := cache.NewKey(cache.Books, "")
		s.Put(key, "list")
		s.Subscribe(key, func(cache.Entry) {})
		time.Sleep(80 * time.Millisecond)

		e, ok := s.Get(key)
		require.True(t, ok)
		assert.Equal(t, "list", e.Data)
	})
}

func TestStoreEntries(t *testing.T) {
	s := cache.NewStore()
	s.Put(cache.NewKey(cache.Books, ""), "list")
	s.Put(cache.NewKey(cache.BorrowSummary, ""), "summary")
	assert.Len(t, s.Entries(), 2)
	assert.Equal(t, 2, s.Len())
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "books", cache.NewKey(cache.Books, "").String())
	assert.Equal(t, "books/123", cache.NewKey(cache.Books, "123").String())
	assert.Equal(t, "borrowSummary", cache.NewKey(cache.BorrowSummary, "").String())
}

func TestInvalidationGraph(t *testing.T) {
	tests := []struct {
		kind cache.MutationKind
		want []cache.Tag
	}{
		{cache.CreateBook, []cache.Tag{cache.Books}},
		{cache.UpdateBook, []cache.Tag{cache.Books}},
		{cache.DeleteBook, []cache.Tag{cache.Books}},
		{cache.BorrowBook, []cache.Tag{cache.Books, cache.BorrowSummary}},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.Invalidates())
		})
	}
	t.Run("invalid kind", func(t *testing.T) {
		assert.Error(t, cache.MutationKind(99).Validate())
		assert.Nil(t, cache.MutationKind(99).Invalidates())
	})
	t.Run("returned tags are a copy", func(t *testing.T) {
		tags := cache.BorrowBook.Invalidates()
		tags[0] = cache.BorrowSummary
		assert.Equal(t, []cache.Tag{cache.Books, cache.BorrowSummary}, cache.BorrowBook.Invalidates())
	})
}

func TestStoreVersion(t *testing.T) {
	s := cache.NewStore()
	key := cache.NewKey(cache.Books, "")
	s.Put(key, "list")
	first, _ := s.Get(key)
	assert.NotZero(t, first.Version)

	s.Subscribe(key, func(cache.Entry) {})
	subscribed, _ := s.Get(key)
	assert.Equal(t, first.Version, subscribed.Version)

	s.Invalidate(cache.Books)
	stale, _ := s.Get(key)
	assert.Greater(t, stale.Version, first.Version)

	s.Put(key, "new list")
	fresh, _ := s.Get(key)
	assert.Greater(t, fresh.Version, stale.Version)
}
