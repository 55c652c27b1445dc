package cache

import "time"

// Resource is the capability a payload must expose to be stored in the
// cache: a byte size, sampled once at insertion, and a release hook that
// is safe to call exactly once. The cache never inspects or interprets
// the payload beyond these two capabilities.
type Resource interface {
	// Size reports the payload's size in bytes. It must be stable for
	// the lifetime of the value; the cache samples it once, at
	// insertion, and never re-queries it.
	Size() int64

	// Release surrenders the payload's external resources. The cache
	// guarantees it is called exactly once per stored value, on every
	// exit path: explicit removal, eviction, expiry, clear, dispose, or
	// replacement.
	Release() error
}

// entry is the internal record wrapping a stored value together with
// its key, its sampled size, and its creation timestamp. It is the node
// payload of the recency list; the key index never holds an entry
// directly, only the *list.Element that wraps one.
type entry[K comparable, V Resource] struct {
	key       K
	value     V
	size      int64
	createdAt time.Time
}

// expired reports whether this entry's lifetime has elapsed as of now,
// given the configured element lifetime. When expirationEnabled is
// false, entries never expire regardless of age.
func (e *entry[K, V]) expired(now time.Time, lifetime time.Duration, expirationEnabled bool) bool {
	if !expirationEnabled {
		return false
	}
	return e.createdAt.Add(lifetime).Before(now)
}
