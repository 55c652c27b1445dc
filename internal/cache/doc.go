// Package cache implements an in-process, concurrency-safe, size-bounded
// least-recently-used cache specialized for entries that own heavyweight
// external resources: open file handles, memory-mapped buffers,
// network-sourced byte streams.
//
// The core data structure couples a key index (map[K]*list.Element) with
// a recency-ordered doubly-linked list (container/list). Admission and
// eviction are driven by a cumulative byte budget rather than an entry
// count: inserting an entry that would push the cumulative size over
// capacity triggers an inline eviction pass from the tail of the recency
// list before the new entry is linked. A background scavenger walks the
// same list on a timer, removing entries whose lifetime has elapsed.
//
// Goals for this package:
//   - Bound memory by bytes, not by entry count.
//   - Release every stored payload exactly once, no matter which path
//     removed it: explicit removal, eviction, expiry, clear, or dispose.
//   - Allow many concurrent readers and writers to make progress without
//     ever observing a partially-linked list or a stale index entry.
//   - Guarantee at most one scavenging pass — inline or timer-driven —
//     runs at any instant.
//
// The payload type is abstracted behind the Resource interface (size and
// release only); this package never interprets the bytes it holds.
package cache
