package limits

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

const (
	// HandshakeRateCap is the maximum handshake attempts per peer per window.
	HandshakeRateCap = 10

	// MessageRateCap is the maximum messages per peer per window.
	MessageRateCap = 100

	// RateWindow is the sliding window over which request counts apply.
	RateWindow = 1 * time.Minute
)

// ErrRateLimited indicates a peer exceeded its per-window request budget.
var ErrRateLimited = errors.New("rate limited")

// OpClass distinguishes the operation classes that are rate limited
// independently per peer.
type OpClass uint8

const (
	// ClassHandshake covers handshake initiation and response messages.
	ClassHandshake OpClass = iota
	// ClassMessage covers encrypted application messages and relays.
	ClassMessage
)

// String returns the class name used in log fields.
func (c OpClass) String() string {
	switch c {
	case ClassHandshake:
		return "handshake"
	case ClassMessage:
		return "message"
	default:
		return "unknown"
	}
}

// rateWindow holds the request timestamps for one peer and class, bounded to
// the sliding window. Entries outside the window are pruned on access.
type rateWindow struct {
	stamps []time.Time
}

// RateLimiter enforces per-peer, per-class sliding-window limits. A single
// shared instance gates both the handshake layer and the router; all state
// is guarded by one mutex.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]map[OpClass]*rateWindow
	clock   clock.Clock
	window  time.Duration
	caps    map[OpClass]int
}

// NewRateLimiter creates a limiter with the default caps and window.
func NewRateLimiter(clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{
		windows: make(map[string]map[OpClass]*rateWindow),
		clock:   clk,
		window:  RateWindow,
		caps: map[OpClass]int{
			ClassHandshake: HandshakeRateCap,
			ClassMessage:   MessageRateCap,
		},
	}
}

// Allow records an operation attempt for the peer and reports whether it is
// within budget. A rejected attempt is not recorded, so a flooding peer
// regains service as soon as its earlier requests age out of the window.
func (rl *RateLimiter) Allow(peerID string, class OpClass) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()

	perClass, ok := rl.windows[peerID]
	if !ok {
		perClass = make(map[OpClass]*rateWindow)
		rl.windows[peerID] = perClass
	}
	win, ok := perClass[class]
	if !ok {
		win = &rateWindow{}
		perClass[class] = win
	}

	win.prune(now, rl.window)

	if len(win.stamps) >= rl.caps[class] {
		logrus.WithFields(logrus.Fields{
			"function": "Allow",
			"peer_id":  peerID,
			"class":    class.String(),
			"count":    len(win.stamps),
			"cap":      rl.caps[class],
		}).Warn("Rate limit exceeded, dropping request")
		return false
	}

	win.stamps = append(win.stamps, now)
	return true
}

// Sweep prunes all windows and forgets peers with no recent activity.
// Intended to run from a periodic timer; safe to re-enter.
func (rl *RateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for peerID, perClass := range rl.windows {
		active := false
		for class, win := range perClass {
			win.prune(now, rl.window)
			if len(win.stamps) == 0 {
				delete(perClass, class)
			} else {
				active = true
			}
		}
		if !active {
			delete(rl.windows, peerID)
		}
	}
}

// Reset clears all recorded state for a peer, for use when a peer is
// explicitly removed.
func (rl *RateLimiter) Reset(peerID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.windows, peerID)
}

func (w *rateWindow) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(w.stamps); i++ {
		if w.stamps[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
