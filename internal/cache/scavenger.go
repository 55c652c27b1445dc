package cache

import (
	"context"
	"fmt"
	"time"
)

// scavengeGateKey is the single key every caller — the timer loop and
// every insertion that needs room — shares on the singleflight.Group.
// Using one constant key across both call sites is what makes them
// mutually exclusive: whichever call arrives first runs a pass to
// completion; every other concurrent call waits for and shares that
// same pass's outcome instead of starting a second, overlapping one.
// This keeps timer-driven and insertion-driven eviction mutually
// exclusive without a bespoke try-lock type, the way
// golang.org/x/sync/singleflight is used to collapse concurrent
// duplicate lookups elsewhere (see DESIGN.md).
const scavengeGateKey = "scavenge"

// scavengeLoop is the scavenger's dedicated background worker. It
// fires first after initialScavengeDelay, then every scavengePeriod,
// and exits as soon as ctx is canceled — Dispose cancels ctx and waits
// on scavengerDone before clearing the cache, so the final scavenge
// pass and dispose's own clear can never race.
func (c *Cache[K, V]) scavengeLoop(ctx context.Context) {
	defer close(c.scavengerDone)

	timer := time.NewTimer(c.settings.initialScavengeDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			c.sf.Do(scavengeGateKey, func() (interface{}, error) {
				c.runTimerPass()
				return nil, nil
			})
			timer.Reset(c.scavengePeriod)
		}
	}
}

// runTimerPass walks the recency list from the back, removing any
// entry whose lifetime has elapsed as of the pass's start time,
// bounded by scavengeTimeBound. Once the expiry walk completes (or
// aborts on the deadline), it additionally trims unexpired tail
// entries down to the cleanup threshold if the cache is still over
// that fill ratio.
func (c *Cache[K, V]) runTimerPass() {
	c.mu.Lock()

	if c.disposed {
		c.mu.Unlock()
		return
	}

	scavengeStart := time.Now()
	deadline := scavengeStart.Add(c.settings.scavengeTimeBound)
	c.log.scavengeStarted("timer")

	var expired, trimmed []*entry[K, V]
	aborted := false

	el := c.order.Back()
	for el != nil {
		if time.Now().After(deadline) {
			aborted = true
			break
		}
		prev := el.Prev()
		rec := el.Value.(*entry[K, V])
		if rec.expired(scavengeStart, c.settings.elementLifetime, c.settings.itemsHaveExpirationDates) {
			c.unlinkLocked(el)
			c.log.evicted(fmt.Sprint(rec.key), rec.size, "expired")
			expired = append(expired, rec)
		}
		el = prev
	}

	if !aborted && c.capacity > 0 {
		trimmed = c.trimToThresholdLocked(deadline, &aborted)
	}

	c.mu.Unlock()

	c.metrics.recordScavengePass()
	if len(expired) > 0 {
		c.metrics.recordExpiration(int64(len(expired)))
	}
	if len(trimmed) > 0 {
		c.metrics.recordEviction(int64(len(trimmed)))
	}
	c.log.scavengeCompleted("timer", int64(len(expired)+len(trimmed)), aborted)

	if err := releaseAll(append(expired, trimmed...), c.metrics); err != nil {
		c.log.releaseFailed("timer-pass", err)
	}
}

// trimToThresholdLocked evicts unexpired tail entries, oldest access
// first, until the cumulative size is at or below
// capacity*cleanupThreshold or the deadline is reached, returning the
// unlinked entries so the caller can release their payloads outside
// the lock. The caller must hold c.mu for writing.
func (c *Cache[K, V]) trimToThresholdLocked(deadline time.Time, aborted *bool) []*entry[K, V] {
	threshold := float64(c.capacity) * c.cleanupThreshold
	var trimmed []*entry[K, V]
	for float64(c.currentSize) > threshold {
		if time.Now().After(deadline) {
			*aborted = true
			return trimmed
		}
		el := c.order.Back()
		if el == nil {
			return trimmed
		}
		rec := c.unlinkLocked(el)
		c.log.evicted(fmt.Sprint(rec.key), rec.size, "cleanup_threshold")
		trimmed = append(trimmed, rec)
	}
	return trimmed
}

// evictForBudget is the inline, insertion-driven eviction pass: walk
// the recency list from the back unconditionally, regardless of
// expiry, until admitting size bytes would no longer exceed capacity,
// the list is empty, or the deadline is reached. Runs under the same
// singleflight gate as the timer pass so the two never overlap.
// Evicted payloads are released outside the lock, the same way Remove
// releases the payload it unlinks.
func (c *Cache[K, V]) evictForBudget(size int64, deadline time.Time) {
	c.mu.Lock()

	if c.disposed {
		c.mu.Unlock()
		return
	}

	var evicted []*entry[K, V]
	for c.currentSize+size > c.capacity {
		if time.Now().After(deadline) {
			break
		}
		el := c.order.Back()
		if el == nil {
			break
		}
		rec := c.unlinkLocked(el)
		c.log.evicted(fmt.Sprint(rec.key), rec.size, "budget")
		evicted = append(evicted, rec)
	}
	c.mu.Unlock()

	if len(evicted) > 0 {
		c.metrics.recordEviction(int64(len(evicted)))
	}
	if err := releaseAll(evicted, c.metrics); err != nil {
		c.log.releaseFailed("budget-eviction", err)
	}
}
