package cache

import "errors"

// ErrDisposed is returned by any operation on a cache other than Dispose
// itself once that cache has been disposed.
var ErrDisposed = errors.New("cache: disposed")

// ErrDuplicateKey is returned by Insert when the key is already present.
var ErrDuplicateKey = errors.New("cache: duplicate key")

// ErrAbsentKey is returned by Replace when the key is not present.
// RemovePair reports an absent key or a value mismatch by returning
// false, not with this error.
var ErrAbsentKey = errors.New("cache: absent key")

// ErrInternal indicates a budget or lock invariant was violated. It is
// not expected to be reachable in normal operation and indicates a
// defect in the cache itself rather than caller misuse.
var ErrInternal = errors.New("cache: internal invariant violated")

// ErrResourceReleased is returned by a Resource implementation when it is
// used after Release has already been called on it. It is specific to
// the payload, not to the cache engine.
var ErrResourceReleased = errors.New("cache: resource already released")
