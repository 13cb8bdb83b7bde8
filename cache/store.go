package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultGracePeriod is how long an entry without subscribers is kept before eviction.
const DefaultGracePeriod = 60 * time.Second

// Listener receives a snapshot of an entry every time it changes.
type Listener func(Entry)

type listener struct {
	id uint64
	fn Listener
}

type record struct {
	entry     Entry
	listeners []listener
	evict     *time.Timer
}

/* Store is the in-memory map from Key to Entry.
 * It is the only shared mutable state of the cache: every write goes through Put,
 * commit, fail or Invalidate under the store lock. Listeners are called after the
 * lock is released, in subscription order.
 */
type Store struct {
	mu      sync.Mutex
	records map[Key]*record
	seq     uint64
	grace   time.Duration
	now     func() time.Time
	onEvict func(Key)
	stats   *counters
	log     zerolog.Logger
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithGracePeriod sets how long unused entries survive. Zero or less evicts immediately.
func WithGracePeriod(d time.Duration) StoreOption {
	return func(s *Store) {
		s.grace = d
	}
}

// WithStoreLogger sets the logger used by the store.
func WithStoreLogger(l zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.log = l
	}
}

// WithStoreClock sets the clock used for UpdatedAt.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		records: make(map[Key]*record),
		grace:   DefaultGracePeriod,
		now:     time.Now,
		stats:   &counters{},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a snapshot of the entry for key. Reading an entry without subscribers restarts its grace period.
func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	if !ok {
		return Entry{}, false
	}
	if r.evict != nil {
		r.evict.Reset(s.grace)
	}
	return r.snapshot(), true
}

// Put replaces the data of key, marks it fulfilled and notifies its subscribers.
func (s *Store) Put(key Key, data any) {
	s.mu.Lock()
	r := s.recordFor(key)
	r.entry.Generation = s.nextGen()
	s.fulfil(r, data)
	e, fns := r.snapshot(), r.fns()
	s.scheduleEvict(key, r)
	s.mu.Unlock()

	notify(fns, e)
}

/* Invalidate marks every entry carrying one of the tags as stale.
 * Data is kept for stale-while-revalidate. The generation moves forward, so
 * fetches started before the invalidation cannot commit. The returned keys have
 * active subscribers and need a background refetch.
 */
func (s *Store) Invalidate(tags ...Tag) []Key {
	set := make(map[Tag]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}

	type pending struct {
		entry Entry
		fns   []Listener
	}
	var (
		active  []Key
		updates []pending
	)

	s.mu.Lock()
	for key, r := range s.records {
		if !set[key.Tag] {
			continue
		}
		r.entry.Stale = true
		r.entry.Generation = s.nextGen()
		s.changed(r)
		if len(r.listeners) > 0 {
			active = append(active, key)
			updates = append(updates, pending{entry: r.snapshot(), fns: r.fns()})
		}
	}
	s.mu.Unlock()

	for _, u := range updates {
		notify(u.fns, u.entry)
	}
	return active
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	store *Store
	key   Key
	id    uint64
	once  sync.Once
}

// Key returns the key the subscription is attached to.
func (sub *Subscription) Key() Key {
	return sub.key
}

// Unsubscribe releases interest in the key. Calling it more than once is a no-op.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.store.unsubscribe(sub.key, sub.id)
	})
}

// Subscribe registers fn for changes of key and creates a pending entry when needed.
func (s *Store) Subscribe(key Key, fn Listener) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.recordFor(key)
	if r.evict != nil {
		r.evict.Stop()
		r.evict = nil
	}
	s.seq++
	r.listeners = append(r.listeners, listener{id: s.seq, fn: fn})
	return &Subscription{store: s, key: key, id: s.seq}
}

func (s *Store) unsubscribe(key Key, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	if !ok {
		return
	}
	for i, l := range r.listeners {
		if l.id == id {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			break
		}
	}
	s.scheduleEvict(key, r)
}

// Entries returns a snapshot of every entry.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.snapshot())
	}
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// begin prepares key for a fetch and returns the generation the fetch must commit against.
func (s *Store) begin(key Key) uint64 {
	s.mu.Lock()
	r := s.recordFor(key)
	changed := false
	if r.entry.Status == Errored {
		r.entry.Status = Pending
		s.changed(r)
		changed = true
	}
	gen := r.entry.Generation
	e, fns := r.snapshot(), r.fns()
	s.mu.Unlock()

	if changed {
		notify(fns, e)
	}
	return gen
}

// commit stores data if no write happened since begin returned gen.
func (s *Store) commit(key Key, gen uint64, data any) bool {
	s.mu.Lock()
	r, ok := s.records[key]
	if !ok || r.entry.Generation != gen {
		if ok {
			s.scheduleEvict(key, r)
		}
		s.mu.Unlock()
		s.stats.discarded.Add(1)
		s.log.Debug().Str("key", key.String()).Msg("discarding superseded response")
		return false
	}
	s.fulfil(r, data)
	e, fns := r.snapshot(), r.fns()
	s.scheduleEvict(key, r)
	s.mu.Unlock()

	notify(fns, e)
	return true
}

// fail records err on key, keeping the last known data.
func (s *Store) fail(key Key, gen uint64, err error) bool {
	s.mu.Lock()
	r, ok := s.records[key]
	if !ok || r.entry.Generation != gen {
		if ok {
			s.scheduleEvict(key, r)
		}
		s.mu.Unlock()
		s.stats.discarded.Add(1)
		return false
	}
	r.entry.Status = Errored
	r.entry.Err = err
	r.entry.UpdatedAt = s.now()
	s.changed(r)
	e, fns := r.snapshot(), r.fns()
	s.scheduleEvict(key, r)
	s.mu.Unlock()

	notify(fns, e)
	return true
}

// recordFor returns the record for key, creating a pending one. Callers hold s.mu.
func (s *Store) recordFor(key Key) *record {
	r, ok := s.records[key]
	if !ok {
		r = &record{entry: Entry{Key: key, Status: Pending, Generation: s.nextGen()}}
		s.changed(r)
		s.records[key] = r
	}
	return r
}

func (s *Store) nextGen() uint64 {
	s.seq++
	return s.seq
}

func (s *Store) fulfil(r *record, data any) {
	r.entry.Data = data
	r.entry.Status = Fulfilled
	r.entry.Err = nil
	r.entry.Stale = false
	r.entry.UpdatedAt = s.now()
	s.changed(r)
}

// changed gives the entry a new version. Callers hold s.mu.
func (s *Store) changed(r *record) {
	s.seq++
	r.entry.Version = s.seq
}

// scheduleEvict starts the grace period of an entry without subscribers. Callers hold s.mu.
func (s *Store) scheduleEvict(key Key, r *record) {
	if len(r.listeners) > 0 || r.evict != nil {
		return
	}
	if s.grace <= 0 {
		s.remove(key, r)
		return
	}
	r.evict = time.AfterFunc(s.grace, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.records[key]; ok && cur == r && len(r.listeners) == 0 {
			s.remove(key, r)
		}
	})
}

// remove drops the record. onEvict runs under the store lock and must not call back into the store.
func (s *Store) remove(key Key, r *record) {
	if r.evict != nil {
		r.evict.Stop()
		r.evict = nil
	}
	delete(s.records, key)
	s.stats.evictions.Add(1)
	if s.onEvict != nil {
		s.onEvict(key)
	}
}

func (r *record) snapshot() Entry {
	e := r.entry
	e.Subscribers = len(r.listeners)
	return e
}

func (r *record) fns() []Listener {
	fns := make([]Listener, len(r.listeners))
	for i, l := range r.listeners {
		fns[i] = l.fn
	}
	return fns
}

func notify(fns []Listener, e Entry) {
	for _, fn := range fns {
		fn(e)
	}
}
