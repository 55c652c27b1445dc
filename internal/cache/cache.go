package cache

import (
	"container/list"
	"context"
	"fmt"
	"iter"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache is a concurrency-safe, size-bounded least-recently-used cache.
// K must be comparable so it can key a Go map; V must implement
// Resource so the cache can size and release whatever it stores.
//
// A single sync.RWMutex protects the key index, the recency list, and
// the cumulative size. Lookup takes the write lock throughout, because
// promotion mutates the recency list, and a plain RLock would let two
// concurrent promotions corrupt list pointers.
type Cache[K comparable, V Resource] struct {
	mu sync.RWMutex

	capacity         int64
	currentSize      int64
	cleanupThreshold float64
	scavengePeriod   time.Duration
	items            map[K]*list.Element
	order            *list.List
	disposed         bool

	settings settings
	metrics  *Metrics
	log      *logger
	sf       singleflight.Group

	stopScavenger context.CancelFunc
	scavengerDone chan struct{}
}

// New constructs a Cache with the given byte capacity, timer-driven
// scavenge period, and cleanup threshold (the fill ratio, in (0, 1],
// above which a timer-driven scavenge pass eagerly trims unexpired
// tail entries). Every other constructor parameter is optional and
// defaults as documented on its Option.
//
// New starts the background scavenger before returning; callers must
// call Dispose to stop it and release every resident payload.
func New[K comparable, V Resource](capacity int64, scavengePeriod time.Duration, cleanupThreshold float64, opts ...Option) (*Cache[K, V], error) {
	if err := validateCapacity(capacity); err != nil {
		return nil, err
	}
	if err := validateThreshold(cleanupThreshold); err != nil {
		return nil, err
	}

	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}

	c := &Cache[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element, s.expectedElementCount),
		order:    list.New(),
		settings: s,
		metrics:  NewMetrics(),
		log:      newLogger(s.logger),
	}
	c.cleanupThreshold = cleanupThreshold
	c.scavengePeriod = clampDuration(scavengePeriod)

	ctx, cancel := context.WithCancel(context.Background())
	c.stopScavenger = cancel
	c.scavengerDone = make(chan struct{})
	go c.scavengeLoop(ctx)

	return c, nil
}

// Insert stores value under key. It fails with ErrDuplicateKey if key is
// already present, and with ErrDisposed if the cache has been disposed.
// Otherwise it samples value's size and creation time, evicts from the
// tail of the recency list if admitting value would push the cumulative
// size over capacity, then links the new entry at the front.
//
// A failed Insert has no observable effect on cache state; the caller
// retains ownership of value and must release it itself.
func (c *Cache[K, V]) Insert(key K, value V) error {
	size := value.Size()
	deadline := time.Now().Add(c.settings.scavengeTimeBound)

	for {
		c.mu.Lock()
		if c.disposed {
			c.mu.Unlock()
			return fmt.Errorf("cache: insert %v: %w", key, ErrDisposed)
		}
		if _, exists := c.items[key]; exists {
			c.mu.Unlock()
			return fmt.Errorf("cache: insert %v: %w", key, ErrDuplicateKey)
		}

		fits := c.currentSize+size <= c.capacity
		canEvictMore := c.order.Len() > 0
		outOfTime := time.Now().After(deadline)

		if fits || !canEvictMore || outOfTime {
			rec := &entry[K, V]{key: key, value: value, size: size, createdAt: time.Now()}
			el := c.order.PushFront(rec)
			c.items[key] = el
			c.currentSize += size
			oversize := size > c.capacity
			c.mu.Unlock()

			c.metrics.recordInsert()
			if oversize {
				c.metrics.recordOversizeAdmission()
				c.log.oversizeAdmitted(fmt.Sprint(key), size, c.capacity)
			}
			return nil
		}
		c.mu.Unlock()

		// Room is needed and time remains: run, or piggyback on, a
		// single shared eviction pass via the single-scavenger gate,
		// then loop to recheck. Distinct concurrent insertions that
		// all need room collapse into as few passes as possible.
		c.sf.Do(scavengeGateKey, func() (interface{}, error) {
			c.evictForBudget(size, deadline)
			return nil, nil
		})
	}
}

// Lookup returns the value stored under key, if present, and promotes
// it to the front of the recency list as a side effect. It fails with
// ErrDisposed if the cache has been disposed.
func (c *Cache[K, V]) Lookup(key K) (V, bool, error) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return zero, false, fmt.Errorf("cache: lookup %v: %w", key, ErrDisposed)
	}

	el, ok := c.items[key]
	if !ok {
		c.metrics.recordMiss()
		return zero, false, nil
	}

	c.order.MoveToFront(el)
	c.metrics.recordHit()
	rec := el.Value.(*entry[K, V])
	return rec.value, true, nil
}

// Contains reports whether key is present. It is semantically
// lookup(key).is_some() and therefore promotes key to the front of the
// recency list on a hit, exactly as Lookup does; this is an intentional,
// documented side effect, not an oversight.
func (c *Cache[K, V]) Contains(key K) (bool, error) {
	_, ok, err := c.Lookup(key)
	return ok, err
}

// Remove deletes key if present, releasing its payload exactly once. It
// returns true iff the key was present. The second call on an already
// removed key returns false; Remove is idempotent.
func (c *Cache[K, V]) Remove(key K) (bool, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return false, fmt.Errorf("cache: remove %v: %w", key, ErrDisposed)
	}

	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	rec := c.unlinkLocked(el)
	c.mu.Unlock()

	c.metrics.recordRemoval()
	if err := rec.value.Release(); err != nil {
		c.metrics.recordError()
		return true, fmt.Errorf("cache: release %v: %w", key, err)
	}
	return true, nil
}

// RemovePair removes key only if its current value equals value (by
// reflect.DeepEqual, since Resource implementations are not required to
// be comparable). It returns true iff a removal occurred.
func (c *Cache[K, V]) RemovePair(key K, value V) (bool, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return false, fmt.Errorf("cache: remove_pair %v: %w", key, ErrDisposed)
	}

	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	rec := el.Value.(*entry[K, V])
	if !reflect.DeepEqual(rec.value, value) {
		c.mu.Unlock()
		return false, nil
	}
	c.unlinkLocked(el)
	c.mu.Unlock()

	c.metrics.recordRemoval()
	if err := rec.value.Release(); err != nil {
		c.metrics.recordError()
		return true, fmt.Errorf("cache: release %v: %w", key, err)
	}
	return true, nil
}

// Replace substitutes the entry stored under key with value, releasing
// the displaced payload. Unlike Insert, Replace fails with ErrAbsentKey
// if key is not already present.
func (c *Cache[K, V]) Replace(key K, value V) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return fmt.Errorf("cache: replace %v: %w", key, ErrDisposed)
	}

	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("cache: replace %v: %w", key, ErrAbsentKey)
	}

	old := el.Value.(*entry[K, V])
	size := value.Size()
	c.currentSize += size - old.size
	el.Value = &entry[K, V]{key: key, value: value, size: size, createdAt: time.Now()}
	c.order.MoveToFront(el)
	c.mu.Unlock()

	if err := old.value.Release(); err != nil {
		c.metrics.recordError()
		return fmt.Errorf("cache: release displaced %v: %w", key, err)
	}
	return nil
}

// Clear removes every entry, releasing each payload exactly once, and
// resets the cumulative size to zero.
func (c *Cache[K, V]) Clear() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return fmt.Errorf("cache: clear: %w", ErrDisposed)
	}

	recs := make([]*entry[K, V], 0, len(c.items))
	for _, el := range c.items {
		recs = append(recs, el.Value.(*entry[K, V]))
	}
	c.items = make(map[K]*list.Element, c.settings.expectedElementCount)
	c.order = list.New()
	c.currentSize = 0
	c.mu.Unlock()

	return releaseAll(recs, c.metrics)
}

// Dispose stops the background scavenger, releases every resident
// payload, and marks the cache disposed. It is idempotent: the second
// and subsequent calls are a no-op. After Dispose returns, every other
// operation that returns an error fails with ErrDisposed; Count and
// CurrentSize report 0.
func (c *Cache[K, V]) Dispose() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	stop := c.stopScavenger
	c.mu.Unlock()

	// Signal the scavenger and join it before clearing, so a final,
	// in-flight scavenge pass can never race the clear below over the
	// same list and index.
	stop()
	<-c.scavengerDone

	c.mu.Lock()
	recs := make([]*entry[K, V], 0, len(c.items))
	for _, el := range c.items {
		recs = append(recs, el.Value.(*entry[K, V]))
	}
	c.items = nil
	c.order = list.New()
	c.currentSize = 0
	c.mu.Unlock()

	err := releaseAll(recs, c.metrics)
	c.log.disposed()
	return err
}

// Count returns the number of entries currently resident.
func (c *Cache[K, V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// CurrentSize returns the cumulative byte size of resident entries.
func (c *Cache[K, V]) CurrentSize() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentSize
}

// Capacity returns the configured byte budget.
func (c *Cache[K, V]) Capacity() int64 {
	return c.capacity
}

// Metrics returns a point-in-time snapshot of cache activity counters.
func (c *Cache[K, V]) Metrics() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// Keys returns every resident key in current recency order, front
// (most recently used) first.
func (c *Cache[K, V]) Keys() ([]K, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.disposed {
		return nil, fmt.Errorf("cache: keys: %w", ErrDisposed)
	}
	out := make([]K, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry[K, V]).key)
	}
	return out, nil
}

// Values returns every resident value in current recency order, front
// (most recently used) first.
func (c *Cache[K, V]) Values() ([]V, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.disposed {
		return nil, fmt.Errorf("cache: values: %w", ErrDisposed)
	}
	out := make([]V, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry[K, V]).value)
	}
	return out, nil
}

// Pair is a single (key, value) held in Enumerate's snapshot.
type Pair[K comparable, V Resource] struct {
	Key   K
	Value V
}

// Enumerate returns a lazy sequence over a snapshot of the cache taken
// under the read lock, in current recency order, front first. Because
// the snapshot is copied before the lock is released, the caller can
// never observe a partially-linked list regardless of how slowly it
// consumes the sequence.
func (c *Cache[K, V]) Enumerate() (iter.Seq2[K, V], error) {
	c.mu.RLock()
	if c.disposed {
		c.mu.RUnlock()
		return nil, fmt.Errorf("cache: enumerate: %w", ErrDisposed)
	}
	snapshot := make([]Pair[K, V], 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		rec := el.Value.(*entry[K, V])
		snapshot = append(snapshot, Pair[K, V]{Key: rec.key, Value: rec.value})
	}
	c.mu.RUnlock()

	return func(yield func(K, V) bool) {
		for _, p := range snapshot {
			if !yield(p.Key, p.Value) {
				return
			}
		}
	}, nil
}

// unlinkLocked removes el from both the recency list and the key index.
// The caller must hold c.mu for writing and must not use el afterward.
// It returns the entry so the caller can release its payload outside
// the lock.
func (c *Cache[K, V]) unlinkLocked(el *list.Element) *entry[K, V] {
	rec := el.Value.(*entry[K, V])
	c.order.Remove(el)
	delete(c.items, rec.key)
	c.currentSize -= rec.size
	return rec
}

// releaseAll releases every entry's payload exactly once, continuing
// past individual release errors so one misbehaving resource cannot
// prevent the rest from being released. It returns the first error
// encountered, if any.
func releaseAll[K comparable, V Resource](recs []*entry[K, V], m *Metrics) error {
	var first error
	for _, rec := range recs {
		if err := rec.value.Release(); err != nil {
			m.recordError()
			if first == nil {
				first = fmt.Errorf("cache: release %v: %w", rec.key, err)
			}
		}
	}
	return first
}
