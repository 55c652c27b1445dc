package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// newDisabledTimerCache builds a cache whose background timer effectively
// never fires, so tests that only care about inline (capacity-driven)
// behavior aren't racing the scavenger.
func newDisabledTimerCache(t *testing.T, capacity int64) *Cache[int, *testResource] {
	t.Helper()
	c, err := New[int, *testResource](capacity, time.Hour, 1.0,
		WithInitialScavengeDelay(time.Hour),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Dispose() })
	return c
}

// Scenario 1: basic round-trip.
func TestBasicRoundTrip(t *testing.T) {
	c := newDisabledTimerCache(t, 1000)

	require.NoError(t, c.Insert(1, newTestResource(100)))

	v, ok, err := c.Lookup(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 100, v.Size())

	require.Equal(t, 1, c.Count())
	require.EqualValues(t, 100, c.CurrentSize())
}

// Scenario 2: capacity-driven eviction.
func TestCapacityDrivenEviction(t *testing.T) {
	c, err := New[int, *testResource](5, 100*time.Second, 1.0,
		WithInitialScavengeDelay(2000*time.Second),
		WithElementLifetime(100*time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Dispose() })

	resources := make([]*testResource, 6)
	for i := 0; i <= 5; i++ {
		resources[i] = newTestResource(1)
		require.NoError(t, c.Insert(i, resources[i]))
	}

	require.Equal(t, 5, c.Count())

	_, ok, err := c.Lookup(0)
	require.NoError(t, err)
	require.False(t, ok, "key 0 should have been evicted as LRU")
	require.EqualValues(t, 1, resources[0].releaseCount(), "evicted payload must be released exactly once")

	for i := 1; i <= 5; i++ {
		_, ok, err := c.Lookup(i)
		require.NoError(t, err)
		require.True(t, ok, "key %d should still be present", i)
		require.EqualValues(t, 0, resources[i].releaseCount(), "resident payload must not be released")
	}
}

// Budget eviction must release the evicted payload exactly once, the
// same way Remove does.
func TestBudgetEvictionReleasesExactlyOnce(t *testing.T) {
	c := newDisabledTimerCache(t, 2)

	evicted := newTestResource(1)
	require.NoError(t, c.Insert(1, evicted))

	survivor := newTestResource(1)
	require.NoError(t, c.Insert(2, survivor))

	require.NoError(t, c.Insert(3, newTestResource(1)))

	_, ok, err := c.Lookup(1)
	require.NoError(t, err)
	require.False(t, ok, "oldest key should have been evicted to make room")
	require.EqualValues(t, 1, evicted.releaseCount())

	_, ok, err = c.Lookup(2)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 0, survivor.releaseCount())

	snap := c.Metrics()
	require.EqualValues(t, 1, snap.Evictions)
}

// Scenario 3: recency ordering under random access.
func TestRecencyOrderingUnderAccess(t *testing.T) {
	c := newDisabledTimerCache(t, 1000)

	for i := 0; i < 1000; i++ {
		require.NoError(t, c.Insert(i, newTestResource(1)))
	}

	accessOrder := make([]int, 500)
	for i := range accessOrder {
		accessOrder[i] = i
	}
	for _, k := range accessOrder {
		_, ok, err := c.Lookup(k)
		require.NoError(t, err)
		require.True(t, ok)
	}

	keys, err := c.Keys()
	require.NoError(t, err)
	require.Len(t, keys, 1000)

	for i := 0; i < 500; i++ {
		require.Equal(t, accessOrder[len(accessOrder)-1-i], keys[i])
	}
}

// Scenario 5: partial expiry (and, transitively, timer-driven expiry
// for scenario 4's spirit — see scavenger_test.go for the dedicated
// all-expired variant).
func TestPartialExpiry(t *testing.T) {
	c, err := New[int, *testResource](1000, 50*time.Millisecond, 1.0,
		WithInitialScavengeDelay(10*time.Millisecond),
		WithElementLifetime(500*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Dispose() })

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Insert(i, newTestResource(1)))
	}
	time.Sleep(200 * time.Millisecond)
	for i := 10; i < 30; i++ {
		require.NoError(t, c.Insert(i, newTestResource(1)))
	}
	time.Sleep(400 * time.Millisecond)

	require.Eventually(t, func() bool {
		return c.Count() == 20
	}, time.Second, 10*time.Millisecond)

	for i := 10; i < 30; i++ {
		_, ok, err := c.Lookup(i)
		require.NoError(t, err)
		require.True(t, ok, "survivor key %d should remain", i)
	}
}

// Scenario 6: concurrent inserts.
func TestConcurrentInserts(t *testing.T) {
	c := newDisabledTimerCache(t, 1000)

	var g errgroup.Group
	for i := 0; i < 1000; i++ {
		i := i
		g.Go(func() error {
			return c.Insert(i, newTestResource(1))
		})
	}
	require.NoError(t, g.Wait())

	for i := 0; i < 1000; i++ {
		_, ok, err := c.Lookup(i)
		require.NoError(t, err)
		require.True(t, ok, "key %d should be retrievable", i)
	}
}

// Scenario 7: concurrent removes.
func TestConcurrentRemoves(t *testing.T) {
	c := newDisabledTimerCache(t, 2000)

	for i := 0; i < 1000; i++ {
		require.NoError(t, c.Insert(i, newTestResource(1)))
	}

	var g errgroup.Group
	for i := 0; i < 1000; i += 2 {
		i := i
		g.Go(func() error {
			_, err := c.Remove(i)
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i := 0; i < 1000; i++ {
		_, ok, err := c.Lookup(i)
		require.NoError(t, err)
		if i%2 == 0 {
			require.False(t, ok, "even key %d should have been removed", i)
		} else {
			require.True(t, ok, "odd key %d should remain", i)
		}
	}
}

// Scenario 8: dispose during active use.
func TestDisposeDuringActiveUse(t *testing.T) {
	c, err := New[int, *testResource](1000, time.Hour, 1.0, WithInitialScavengeDelay(time.Hour))
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.NoError(t, c.Insert(i, newTestResource(1)))
	}

	require.NoError(t, c.Dispose())
	require.EqualValues(t, 0, c.CurrentSize())
	require.Equal(t, 0, c.Count())

	err = c.Insert(1000, newTestResource(1))
	require.ErrorIs(t, err, ErrDisposed)

	require.NoError(t, c.Dispose(), "second dispose must be a no-op")
}

// Scenario 9: eviction releases resources exactly once.
func TestRemoveReleasesExactlyOnce(t *testing.T) {
	c := newDisabledTimerCache(t, 1000)

	res := newTestResource(10)
	require.NoError(t, c.Insert(1, res))

	ok, err := c.Remove(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, res.releaseCount())

	ok, err = c.Remove(1)
	require.NoError(t, err)
	require.False(t, ok, "second remove of the same key is a no-op")
	require.EqualValues(t, 1, res.releaseCount(), "release must not be called a second time")
}

func TestInsertRejectsDuplicateKey(t *testing.T) {
	c := newDisabledTimerCache(t, 1000)

	require.NoError(t, c.Insert(1, newTestResource(1)))
	err := c.Insert(1, newTestResource(1))
	require.ErrorIs(t, err, ErrDuplicateKey)
}

func TestInsertFailureRetainsCallerOwnership(t *testing.T) {
	c := newDisabledTimerCache(t, 1000)
	res := newTestResource(1)

	require.NoError(t, c.Insert(1, res))
	err := c.Insert(1, res)
	require.ErrorIs(t, err, ErrDuplicateKey)
	require.EqualValues(t, 0, res.releaseCount(), "a failed insert must not release the candidate payload")
}

func TestLookupPromotesOnHit(t *testing.T) {
	c := newDisabledTimerCache(t, 1000)

	require.NoError(t, c.Insert(1, newTestResource(1)))
	require.NoError(t, c.Insert(2, newTestResource(1)))

	_, ok, err := c.Lookup(1)
	require.NoError(t, err)
	require.True(t, ok)

	keys, err := c.Keys()
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, keys)
}

func TestContainsPromotesLikeLookup(t *testing.T) {
	c := newDisabledTimerCache(t, 1000)

	require.NoError(t, c.Insert(1, newTestResource(1)))
	require.NoError(t, c.Insert(2, newTestResource(1)))

	ok, err := c.Contains(1)
	require.NoError(t, err)
	require.True(t, ok)

	keys, err := c.Keys()
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, keys, "Contains must promote on hit, like Lookup")
}

func TestReplaceSwapsAndReleasesDisplaced(t *testing.T) {
	c := newDisabledTimerCache(t, 1000)

	old := newTestResource(10)
	require.NoError(t, c.Insert(1, old))

	next := newTestResource(20)
	require.NoError(t, c.Replace(1, next))

	require.EqualValues(t, 1, old.releaseCount())
	v, ok, err := c.Lookup(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Same(t, next, v)
	require.EqualValues(t, 20, c.CurrentSize())
}

func TestReplaceFailsOnAbsentKey(t *testing.T) {
	c := newDisabledTimerCache(t, 1000)
	err := c.Replace(1, newTestResource(1))
	require.ErrorIs(t, err, ErrAbsentKey)
}

func TestRemovePairOnlyRemovesMatchingValue(t *testing.T) {
	c := newDisabledTimerCache(t, 1000)

	a := newTestResource(1)
	// b differs from a in size, so the two are not deeply equal.
	b := newTestResource(2)
	require.NoError(t, c.Insert(1, a))

	ok, err := c.RemovePair(1, b)
	require.NoError(t, err)
	require.False(t, ok, "RemovePair must not remove on value mismatch")

	ok, err = c.RemovePair(1, a)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, a.releaseCount())
}

func TestClearReleasesEveryPayload(t *testing.T) {
	c := newDisabledTimerCache(t, 1000)

	resources := make([]*testResource, 10)
	for i := range resources {
		resources[i] = newTestResource(1)
		require.NoError(t, c.Insert(i, resources[i]))
	}

	require.NoError(t, c.Clear())
	require.Equal(t, 0, c.Count())
	require.EqualValues(t, 0, c.CurrentSize())

	for _, r := range resources {
		require.EqualValues(t, 1, r.releaseCount())
	}
}

func TestEnumerateYieldsRecencyOrderSnapshot(t *testing.T) {
	c := newDisabledTimerCache(t, 1000)

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Insert(i, newTestResource(1)))
	}

	seq, err := c.Enumerate()
	require.NoError(t, err)

	var got []int
	for k, v := range seq {
		got = append(got, k)
		require.NotNil(t, v)
	}
	require.Equal(t, []int{4, 3, 2, 1, 0}, got)
}

func TestEnumerateStopsEarlyOnFalseYield(t *testing.T) {
	c := newDisabledTimerCache(t, 1000)
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Insert(i, newTestResource(1)))
	}

	seq, err := c.Enumerate()
	require.NoError(t, err)

	var got []int
	for k := range seq {
		got = append(got, k)
		if len(got) == 2 {
			break
		}
	}
	require.Equal(t, []int{4, 3}, got)
}

func TestOperationsFailAfterDispose(t *testing.T) {
	c, err := New[int, *testResource](1000, time.Hour, 1.0, WithInitialScavengeDelay(time.Hour))
	require.NoError(t, err)
	require.NoError(t, c.Dispose())

	_, _, err = c.Lookup(1)
	require.ErrorIs(t, err, ErrDisposed)

	_, err = c.Remove(1)
	require.ErrorIs(t, err, ErrDisposed)

	err = c.Clear()
	require.ErrorIs(t, err, ErrDisposed)

	err = c.Replace(1, newTestResource(1))
	require.ErrorIs(t, err, ErrDisposed)

	_, err = c.Keys()
	require.ErrorIs(t, err, ErrDisposed)

	_, err = c.Enumerate()
	require.ErrorIs(t, err, ErrDisposed)
}

func TestOversizeEntryIsAdmittedAndOverflowsBudget(t *testing.T) {
	c := newDisabledTimerCache(t, 10)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Insert(i, newTestResource(1)))
	}

	require.NoError(t, c.Insert(100, newTestResource(50)))

	require.Equal(t, 1, c.Count(), "evicting everything still wasn't enough, so only the oversize entry remains")
	require.EqualValues(t, 50, c.CurrentSize())

	snap := c.Metrics()
	require.EqualValues(t, 1, snap.OversizeAdmissions)
}

func TestMetricsTrackHitsAndMisses(t *testing.T) {
	c := newDisabledTimerCache(t, 1000)
	require.NoError(t, c.Insert(1, newTestResource(1)))

	_, _, _ = c.Lookup(1)
	_, _, _ = c.Lookup(2)
	_, _, _ = c.Lookup(2)

	snap := c.Metrics()
	require.EqualValues(t, 1, snap.Hits)
	require.EqualValues(t, 2, snap.Misses)
	require.InDelta(t, 1.0/3.0, snap.HitRate(), 1e-9)
}

func TestReleaseErrorIsSurfacedAndCounted(t *testing.T) {
	c := newDisabledTimerCache(t, 1000)

	res := newTestResource(1)
	boom := errors.New("boom")
	res.failWith = boom
	require.NoError(t, c.Insert(1, res))

	_, err := c.Remove(1)
	require.Error(t, err)
	require.True(t, errors.Is(err, boom))
	require.EqualValues(t, 1, c.Metrics().Errors)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New[int, *testResource](0, time.Second, 1.0)
	require.ErrorIs(t, err, ErrInternal)

	_, err = New[int, *testResource](100, time.Second, 0)
	require.ErrorIs(t, err, ErrInternal)

	_, err = New[int, *testResource](100, time.Second, 1.5)
	require.ErrorIs(t, err, ErrInternal)
}

func TestConcurrentInsertsAndLookupsMaintainInvariants(t *testing.T) {
	c, err := New[int, *testResource](200, time.Hour, 1.0, WithInitialScavengeDelay(time.Hour))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Dispose() })

	var wg sync.WaitGroup
	for i := 0; i < 500; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Insert(i, newTestResource(1))
			_, _, _ = c.Lookup(i % 50)
		}()
	}
	wg.Wait()

	keys, err := c.Keys()
	require.NoError(t, err)
	require.Equal(t, c.Count(), len(keys))
	require.LessOrEqual(t, int64(len(keys)), c.Capacity())
	require.Equal(t, c.CurrentSize(), int64(len(keys)))
}

func ExampleCache_roundTrip() {
	c, _ := New[string, *testResource](1024, time.Hour, 1.0, WithInitialScavengeDelay(time.Hour))
	defer c.Dispose()

	_ = c.Insert("greeting", newTestResource(5))
	v, ok, _ := c.Lookup("greeting")
	fmt.Println(ok, v.Size())
	// Output: true 5
}
