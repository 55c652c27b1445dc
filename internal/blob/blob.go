// Package blob provides a concrete cache payload: a network-sourced
// byte stream wrapped as a cache.Resource. It exists to exercise the
// cache engine against something closer to its intended client than a
// bare []byte — a handle over an io.ReadCloser that must be closed
// exactly once, and that fails loudly if used after release.
package blob

import (
	"fmt"
	"io"
	"sync"
)

// Blob is a cache.Resource wrapping an io.ReadCloser sourced from an
// upstream fetch (in production, a network response body or an open
// file handle; in tests and the demo, an in-memory reader standing in
// for one). Its declared size is fixed at construction and never
// revised; the cache samples size exactly once, at insertion.
type Blob struct {
	mu       sync.Mutex
	size     int64
	source   io.ReadCloser
	released bool
}

// New wraps source as a Blob of the given declared size. The caller
// must not read from or close source after handing it to New; ownership
// transfers immediately.
func New(source io.ReadCloser, size int64) *Blob {
	return &Blob{size: size, source: source}
}

// Size implements cache.Resource.
func (b *Blob) Size() int64 { return b.size }

// Read implements io.Reader, forwarding to the wrapped source. It
// returns ErrResourceReleased once Release has been called, regardless
// of the underlying reader's own state.
func (b *Blob) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return 0, ErrResourceReleased
	}
	return b.source.Read(p)
}

// Release implements cache.Resource. It is safe to call exactly once;
// the cache guarantees it never calls Release twice for the same Blob,
// but Release itself also tolerates being called redundantly, matching
// the "safe to call exactly once" contract without requiring every
// caller to track whether they already released it.
func (b *Blob) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil
	}
	b.released = true
	return b.source.Close()
}

// ErrResourceReleased is returned by Read after Release has been
// called. It is specific to Blob, not to the cache engine that stored
// it — the cache's own exactly-once release guarantee is independent
// of how a given Resource implementation reacts to post-release use.
var ErrResourceReleased = fmt.Errorf("blob: read after release")
