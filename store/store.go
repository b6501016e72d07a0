package store

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshwire/crypto"
	"github.com/opd-ai/meshwire/wire"
)

const (
	// RegularTTL is how long a regular-tier entry stays cached.
	RegularTTL = 12 * time.Hour

	// FavoriteTTL is how long a favorite-tier entry stays cached.
	FavoriteTTL = 7 * 24 * time.Hour

	// RegularQueueCap bounds the regular queue per recipient.
	RegularQueueCap = 100

	// FavoriteQueueCap bounds the favorite queue per recipient.
	FavoriteQueueCap = 1000

	// MaxDeliveryAttempts bounds retries before an entry is dropped.
	MaxDeliveryAttempts = 3

	// CleanupInterval is how often the expiry sweep runs.
	CleanupInterval = 1 * time.Minute
)

// Tier identifies the retention class of a cached message.
type Tier uint8

const (
	// TierRegular is the default short-retention tier.
	TierRegular Tier = iota
	// TierFavorite is the long-retention tier for favorite peers.
	TierFavorite
)

// String returns the tier name used in log fields.
func (t Tier) String() string {
	if t == TierFavorite {
		return "favorite"
	}
	return "regular"
}

// ttl returns the retention window for the tier.
func (t Tier) ttl() time.Duration {
	if t == TierFavorite {
		return FavoriteTTL
	}
	return RegularTTL
}

// cap returns the per-recipient queue bound for the tier.
func (t Tier) cap() int {
	if t == TierFavorite {
		return FavoriteQueueCap
	}
	return RegularQueueCap
}

// CachedMessage wraps an undeliverable packet with its retention metadata.
type CachedMessage struct {
	ID       uuid.UUID
	Packet   *wire.Packet
	Tier     Tier
	CachedAt time.Time
	Attempts int
}

// expired reports whether the entry's tier TTL has elapsed.
func (m *CachedMessage) expired(now time.Time) bool {
	return now.Sub(m.CachedAt) > m.Tier.ttl()
}

// SendFunc attempts delivery of a cached packet; a nil error removes the
// entry from the cache.
type SendFunc func(*wire.Packet) error

// Cache is the store-and-forward message cache, keyed by recipient. All
// mutation runs under one mutex; the cache owns its queues independently of
// the session store.
type Cache struct {
	mu     sync.Mutex
	queues map[crypto.PeerID][]*CachedMessage
	clock  clock.Clock
}

// NewCache creates an empty store-and-forward cache.
func NewCache(clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.New()
	}
	return &Cache{
		queues: make(map[crypto.PeerID][]*CachedMessage),
		clock:  clk,
	}
}

// Cache appends a packet to the recipient's queue in the tier selected by
// isFavorite. When the tier's queue is full the oldest entry of that tier
// is evicted first.
func (c *Cache) Cache(packet *wire.Packet, recipientID crypto.PeerID, isFavorite bool) uuid.UUID {
	tier := TierRegular
	if isFavorite {
		tier = TierFavorite
	}

	entry := &CachedMessage{
		ID:       uuid.New(),
		Packet:   packet,
		Tier:     tier,
		CachedAt: c.clock.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	queue := c.queues[recipientID]
	if n := countTier(queue, tier); n >= tier.cap() {
		queue = evictOldest(queue, tier)
		logrus.WithFields(logrus.Fields{
			"function":  "Cache",
			"recipient": recipientID,
			"tier":      tier.String(),
		}).Debug("Queue at capacity, evicted oldest entry")
	}
	c.queues[recipientID] = append(queue, entry)

	logrus.WithFields(logrus.Fields{
		"function":  "Cache",
		"recipient": recipientID,
		"tier":      tier.String(),
		"queued":    len(c.queues[recipientID]),
	}).Debug("Message cached for offline peer")

	return entry.ID
}

// Flush attempts delivery of every non-expired entry for a recipient,
// removing entries that succeed and rescheduling failures up to
// MaxDeliveryAttempts. Returns the number delivered.
func (c *Cache) Flush(recipientID crypto.PeerID, send SendFunc) int {
	c.mu.Lock()
	queue := c.queues[recipientID]
	delete(c.queues, recipientID)
	c.mu.Unlock()

	if len(queue) == 0 {
		return 0
	}

	now := c.clock.Now()
	delivered := 0
	var remaining []*CachedMessage

	for _, entry := range queue {
		if entry.expired(now) {
			continue
		}
		if err := send(entry.Packet); err != nil {
			entry.Attempts++
			if entry.Attempts >= MaxDeliveryAttempts {
				logrus.WithFields(logrus.Fields{
					"function":  "Flush",
					"recipient": recipientID,
					"attempts":  entry.Attempts,
				}).Warn("Delivery retries exhausted, dropping message")
				continue
			}
			remaining = append(remaining, entry)
			continue
		}
		delivered++
	}

	if len(remaining) > 0 {
		c.mu.Lock()
		c.queues[recipientID] = append(remaining, c.queues[recipientID]...)
		c.mu.Unlock()
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Flush",
		"recipient": recipientID,
		"delivered": delivered,
		"remaining": len(remaining),
	}).Info("Store-and-forward flush complete")

	return delivered
}

// Sweep purges expired entries across all recipients. Safe to re-enter from
// a periodic timer.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	purged := 0
	for recipient, queue := range c.queues {
		kept := queue[:0]
		for _, entry := range queue {
			if entry.expired(now) {
				purged++
				continue
			}
			kept = append(kept, entry)
		}
		if len(kept) == 0 {
			delete(c.queues, recipient)
		} else {
			c.queues[recipient] = kept
		}
	}

	if purged > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Sweep",
			"purged":   purged,
		}).Debug("Expired cached messages purged")
	}
}

// Len returns the number of entries queued for a recipient.
func (c *Cache) Len(recipientID crypto.PeerID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queues[recipientID])
}

// StartMaintenance runs Sweep on CleanupInterval until stop is closed.
func (c *Cache) StartMaintenance(stop <-chan struct{}) {
	ticker := c.clock.Ticker(CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

func countTier(queue []*CachedMessage, tier Tier) int {
	n := 0
	for _, e := range queue {
		if e.Tier == tier {
			n++
		}
	}
	return n
}

// evictOldest removes the first (oldest) entry of the tier from the queue.
func evictOldest(queue []*CachedMessage, tier Tier) []*CachedMessage {
	for i, e := range queue {
		if e.Tier == tier {
			return append(queue[:i], queue[i+1:]...)
		}
	}
	return queue
}
