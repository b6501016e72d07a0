// Package store implements tiered store-and-forward caching for messages
// addressed to peers that are temporarily unreachable.
//
// Two retention tiers exist: regular entries expire after hours, favorite
// entries after days, with larger per-recipient queue caps. This tiering is
// the system's only differentiated quality-of-service mechanism. Queues are
// FIFO-evicted at their cap; delivery is retried a bounded number of times
// when the recipient reconnects, after which entries are dropped.
package store
