package mesh

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshwire/crypto"
	"github.com/opd-ai/meshwire/handshake"
	"github.com/opd-ai/meshwire/limits"
	"github.com/opd-ai/meshwire/power"
	"github.com/opd-ai/meshwire/proof"
	"github.com/opd-ai/meshwire/session"
	"github.com/opd-ai/meshwire/store"
	"github.com/opd-ai/meshwire/wire"
)

const (
	// MaxSeenPackets bounds the recently-seen set; the set is cleared
	// wholesale when it grows past this size.
	MaxSeenPackets = 1000

	// eventBuffer sizes the delivery/announce/ack channels. Emission never
	// blocks; overflow is dropped with a log event.
	eventBuffer = 64
)

var (
	// ErrRouterClosed indicates an operation on a closed router.
	ErrRouterClosed = errors.New("router closed")
	// ErrConnectionLimit indicates admission was refused by the active
	// power profile.
	ErrConnectionLimit = errors.New("connection limit reached")
)

// LinkState tracks a discovered peer through connection and authentication.
type LinkState uint8

const (
	// LinkDiscovered means the peer was seen but not admitted.
	LinkDiscovered LinkState = iota
	// LinkConnecting means admission passed and the link is being raised.
	LinkConnecting
	// LinkConnected means bytes can flow but no handshake has completed.
	LinkConnected
	// LinkAuthenticating means a handshake is in flight.
	LinkAuthenticating
	// LinkAuthenticated means the session is established.
	LinkAuthenticated
)

// String returns the state name used in log fields.
func (s LinkState) String() string {
	switch s {
	case LinkDiscovered:
		return "discovered"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkAuthenticating:
		return "authenticating"
	case LinkAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Delivery is a decrypted application payload handed to the app boundary.
type Delivery struct {
	From      crypto.PeerID
	Payload   []byte
	Broadcast bool
	Timestamp time.Time
}

// Announce is a peer presence event.
type Announce struct {
	From    crypto.PeerID
	Payload []byte
}

// Config wires the router's collaborators. Transport, Sessions, Cipher,
// Limiter and Cache are required; Verifier and Favorites are optional.
type Config struct {
	LocalID   crypto.PeerID
	Transport wire.Transport
	Sessions  *session.Store
	Cipher    *session.Cipher
	Limiter   *limits.RateLimiter
	Cache     *store.Cache
	Power     power.Provider
	Verifier  proof.Verifier
	Favorites func(crypto.PeerID) bool
	Clock     clock.Clock
}

// Router is the mesh delivery engine.
type Router struct {
	mu    sync.Mutex
	links map[crypto.PeerID]LinkState
	seen  map[string]struct{}

	maxConnections int

	localID   crypto.PeerID
	transport wire.Transport
	sessions  *session.Store
	cipher    *session.Cipher
	limiter   *limits.RateLimiter
	cache     *store.Cache
	verifier  proof.Verifier
	favorites func(crypto.PeerID) bool
	clock     clock.Clock

	deliveries chan Delivery
	announces  chan Announce
	acks       chan crypto.PeerID

	closed bool
}

// NewRouter creates a router and registers itself as the transport's packet
// handler.
func NewRouter(cfg Config) (*Router, error) {
	if cfg.Transport == nil || cfg.Sessions == nil || cfg.Cipher == nil ||
		cfg.Limiter == nil || cfg.Cache == nil {
		return nil, errors.New("transport, sessions, cipher, limiter and cache are required")
	}
	if err := limits.ValidatePeerID(string(cfg.LocalID)); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	maxConns := power.ProfileFor(power.ModeBalanced).MaxConnections
	if cfg.Power != nil {
		maxConns = cfg.Power.Current().MaxConnections
	}

	r := &Router{
		links:          make(map[crypto.PeerID]LinkState),
		seen:           make(map[string]struct{}),
		maxConnections: maxConns,
		localID:        cfg.LocalID,
		transport:      cfg.Transport,
		sessions:       cfg.Sessions,
		cipher:         cfg.Cipher,
		limiter:        cfg.Limiter,
		cache:          cfg.Cache,
		verifier:       cfg.Verifier,
		favorites:      cfg.Favorites,
		clock:          cfg.Clock,
		deliveries:     make(chan Delivery, eventBuffer),
		announces:      make(chan Announce, eventBuffer),
		acks:           make(chan crypto.PeerID, eventBuffer),
	}
	cfg.Transport.SetPacketHandler(r.handleInbound)

	logrus.WithFields(logrus.Fields{
		"function":        "NewRouter",
		"local_id":        cfg.LocalID,
		"max_connections": maxConns,
	}).Info("Mesh router started")

	return r, nil
}

// Messages returns the channel of decrypted application payloads.
func (r *Router) Messages() <-chan Delivery { return r.deliveries }

// Announces returns the channel of peer presence events.
func (r *Router) Announces() <-chan Announce { return r.announces }

// Acks returns the channel of delivery confirmations, carrying the peer
// that acknowledged.
func (r *Router) Acks() <-chan crypto.PeerID { return r.acks }

// ApplyProfile adjusts admission and duty-cycle parameters to a new power
// profile. Existing links are not torn down; the limit applies to future
// admissions.
func (r *Router) ApplyProfile(p power.Profile) {
	r.mu.Lock()
	r.maxConnections = p.MaxConnections
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":        "ApplyProfile",
		"mode":            p.Mode.String(),
		"max_connections": p.MaxConnections,
	}).Info("Power profile applied")
}

// HandlePeerDiscovered admits a newly discovered peer and, when this side
// wins the initiator tie-break, drives the handshake. Returns
// ErrConnectionLimit when the active profile's admission limit is reached.
func (r *Router) HandlePeerDiscovered(peerID crypto.PeerID) error {
	if err := limits.ValidatePeerID(string(peerID)); err != nil {
		return err
	}
	if peerID == r.localID {
		return nil
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRouterClosed
	}
	if state, known := r.links[peerID]; known && state != LinkDiscovered {
		r.mu.Unlock()
		return nil
	}
	if r.admittedLocked() >= r.maxConnections {
		r.links[peerID] = LinkDiscovered
		r.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "HandlePeerDiscovered",
			"peer_id":  peerID,
			"limit":    r.maxConnections,
		}).Info("Peer ignored, connection limit reached")
		return ErrConnectionLimit
	}
	r.links[peerID] = LinkConnected
	r.mu.Unlock()

	// A session that survived a disconnect still has valid keys; skip the
	// handshake and drain anything cached while the peer was away.
	if s, err := r.sessions.Get(peerID); err == nil && s.Established() {
		r.setLink(peerID, LinkAuthenticated)
		r.flushCached(peerID)
		return nil
	}

	// Both sides discover each other; the lexicographically smaller ID
	// initiates so exactly one handshake runs per pair.
	if r.localID < peerID {
		return r.initiateHandshake(peerID)
	}
	return nil
}

// HandlePeerDisconnected drops the link state for a peer. The session
// survives so cached traffic can resume after a reconnect without a fresh
// handshake, until the rekey scan retires it.
func (r *Router) HandlePeerDisconnected(peerID crypto.PeerID) {
	r.mu.Lock()
	delete(r.links, peerID)
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "HandlePeerDisconnected",
		"peer_id":  peerID,
	}).Debug("Peer link dropped")
}

// LinkStateOf reports the current link state for a peer.
func (r *Router) LinkStateOf(peerID crypto.PeerID) (LinkState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.links[peerID]
	return s, ok
}

// initiateHandshake starts the key agreement with a connected peer.
func (r *Router) initiateHandshake(peerID crypto.PeerID) error {
	s, err := r.sessions.GetOrCreate(peerID, true)
	if err != nil {
		return err
	}
	msg, err := s.Initiate()
	if err != nil {
		// Already in progress or established; nothing to drive.
		if errors.Is(err, handshake.ErrHandshakeInProgress) || errors.Is(err, handshake.ErrHandshakeComplete) {
			return nil
		}
		return err
	}

	r.setLink(peerID, LinkAuthenticating)
	return r.sendOrFlood(wire.NewPacket(wire.PacketHandshake, r.localID, peerID, msg), peerID)
}

// handleInbound is the transport callback: validate, rate-limit, dispatch.
func (r *Router) handleInbound(from crypto.PeerID, data []byte) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}

	pkt, err := wire.ParsePacket(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleInbound",
			"from":     from,
			"size":     len(data),
		}).Warn("Malformed packet dropped")
		return
	}

	if err := limits.ValidatePeerID(string(pkt.Sender)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleInbound",
			"from":     from,
		}).Warn("Packet with invalid sender ID dropped")
		return
	}
	if err := limits.ValidateTimestamp(pkt.Timestamp, r.clock); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleInbound",
			"from":     from,
			"sender":   pkt.Sender,
		}).Warn("Packet with stale timestamp dropped")
		return
	}

	// Bound encrypted frames before any further work: the largest legal
	// frame is a maximum-size plaintext plus nonce and tag overhead.
	if pkt.Type == wire.PacketMessage && len(pkt.Payload) > limits.MaxMessageSize+session.MinCiphertextSize {
		logrus.WithFields(logrus.Fields{
			"function": "handleInbound",
			"sender":   pkt.Sender,
			"size":     len(pkt.Payload),
		}).Warn("Oversized message dropped")
		return
	}

	class := limits.ClassMessage
	if pkt.Type == wire.PacketHandshake {
		class = limits.ClassHandshake
	}
	if !r.limiter.Allow(string(pkt.Sender), class) {
		return
	}
	if !r.markSeen(pkt) {
		// Another copy already arrived over a different link.
		return
	}

	switch pkt.Type {
	case wire.PacketHandshake:
		r.handleHandshake(from, pkt)
	case wire.PacketMessage:
		r.handleMessage(from, pkt)
	case wire.PacketAnnounce:
		r.handleAnnounce(from, pkt)
	case wire.PacketDeliveryAck:
		r.handleAck(from, pkt)
	}
}

// handleHandshake consumes a handshake addressed to us or relays it onward.
func (r *Router) handleHandshake(from crypto.PeerID, pkt *wire.Packet) {
	if pkt.Recipient != "" && pkt.Recipient != r.localID {
		r.relay(from, pkt)
		return
	}

	if err := limits.ValidateHandshake(pkt.Payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleHandshake",
			"sender":   pkt.Sender,
		}).Warn("Handshake payload rejected")
		return
	}

	s, err := r.sessions.GetOrCreate(pkt.Sender, false)
	if err != nil {
		return
	}
	response, err := s.ProcessHandshake(pkt.Payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleHandshake",
			"sender":   pkt.Sender,
			"error":    err,
		}).Warn("Handshake processing failed")
		return
	}

	if response != nil {
		resp := wire.NewPacket(wire.PacketHandshake, r.localID, pkt.Sender, response)
		if err := r.sendOrFlood(resp, from); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleHandshake",
				"sender":   pkt.Sender,
				"error":    err,
			}).Warn("Failed to send handshake response")
			return
		}
	}

	if s.Established() {
		r.setLink(pkt.Sender, LinkAuthenticated)
		logrus.WithFields(logrus.Fields{
			"function": "handleHandshake",
			"peer_id":  pkt.Sender,
		}).Info("Peer authenticated")

		// The peer is reachable again; drain anything cached for it.
		r.flushCached(pkt.Sender)
	}
}

// handleMessage delivers packets addressed to us and relays the rest.
func (r *Router) handleMessage(from crypto.PeerID, pkt *wire.Packet) {
	addressedToUs := pkt.Recipient == r.localID
	broadcast := pkt.Recipient == ""

	if addressedToUs || broadcast {
		r.deliverLocal(pkt, broadcast)
	}
	if !addressedToUs {
		// Broadcasts and foreign-addressed packets continue through the
		// mesh; packets addressed to us terminate here.
		r.relay(from, pkt)
	}
}

// deliverLocal decrypts and emits a payload destined for this peer.
func (r *Router) deliverLocal(pkt *wire.Packet, broadcast bool) {
	plaintext, err := r.cipher.Decrypt(pkt.Sender, pkt.Payload)
	if err != nil {
		// Indistinguishable decrypt failures: one log line, no detail that
		// would separate parse errors from authentication failures.
		logrus.WithFields(logrus.Fields{
			"function": "deliverLocal",
			"sender":   pkt.Sender,
		}).Debug("Undecryptable message dropped")
		return
	}

	r.emitDelivery(Delivery{
		From:      pkt.Sender,
		Payload:   plaintext,
		Broadcast: broadcast,
		Timestamp: pkt.Timestamp,
	})

	if !broadcast {
		ack := wire.NewPacket(wire.PacketDeliveryAck, r.localID, pkt.Sender, packetIdentity(pkt))
		if err := r.sendOrFlood(ack, pkt.Sender); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "deliverLocal",
				"sender":   pkt.Sender,
			}).Debug("Delivery ack not sent")
		}
	}
}

// handleAnnounce verifies (when configured) and emits presence events, then
// relays them onward.
func (r *Router) handleAnnounce(from crypto.PeerID, pkt *wire.Packet) {
	payload := pkt.Payload
	if r.verifier != nil {
		const proofSize = sha256.Size
		if len(payload) < proofSize {
			logrus.WithFields(logrus.Fields{
				"function": "handleAnnounce",
				"sender":   pkt.Sender,
			}).Warn("Announce missing membership proof")
			return
		}
		ok, err := r.verifier.VerifyProof(proof.KindMembership, payload[:proofSize], payload[proofSize:])
		if err != nil || !ok {
			logrus.WithFields(logrus.Fields{
				"function": "handleAnnounce",
				"sender":   pkt.Sender,
			}).Warn("Announce proof rejected")
			return
		}
		payload = payload[proofSize:]
	}

	r.emitAnnounce(Announce{From: pkt.Sender, Payload: payload})

	r.relay(from, pkt)
}

// handleAck emits delivery confirmations addressed to us, relaying others.
func (r *Router) handleAck(from crypto.PeerID, pkt *wire.Packet) {
	if pkt.Recipient != "" && pkt.Recipient != r.localID {
		r.relay(from, pkt)
		return
	}
	r.emitAck(pkt.Sender)
}

// relay forwards a packet to all authenticated links except its arrival
// link, decrementing TTL. Loop suppression happens at ingress: every
// processed packet identity is in the recently-seen set, so a copy bouncing
// back is dropped before dispatch.
func (r *Router) relay(from crypto.PeerID, pkt *wire.Packet) {
	if pkt.TTL == 0 {
		return
	}

	r.mu.Lock()
	targets := make([]crypto.PeerID, 0, len(r.links))
	for peerID, state := range r.links {
		if state == LinkAuthenticated && peerID != from {
			targets = append(targets, peerID)
		}
	}
	r.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	forwarded := *pkt
	forwarded.TTL--
	data, err := forwarded.Serialize()
	if err != nil {
		return
	}

	for _, target := range targets {
		if err := r.transport.Send(target, data); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "relay",
				"target":   target,
			}).Debug("Relay send failed")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "relay",
		"sender":   pkt.Sender,
		"ttl":      forwarded.TTL,
		"targets":  len(targets),
	}).Debug("Packet relayed")
}

// SendMessage encrypts plaintext for a recipient and sends it when the peer
// is authenticated, caching it for store-and-forward delivery otherwise.
func (r *Router) SendMessage(recipient crypto.PeerID, plaintext []byte) error {
	if err := limits.ValidateMessage(plaintext); err != nil {
		return err
	}
	if err := limits.ValidatePeerID(string(recipient)); err != nil {
		return err
	}

	frame, err := r.cipher.Encrypt(recipient, plaintext)
	if err != nil {
		return err
	}
	pkt := wire.NewPacket(wire.PacketMessage, r.localID, recipient, frame)

	if err := r.sendOrFlood(pkt, recipient); err == nil {
		return nil
	}

	favorite := r.favorites != nil && r.favorites(recipient)
	r.cache.Cache(pkt, recipient, favorite)

	logrus.WithFields(logrus.Fields{
		"function":  "SendMessage",
		"recipient": recipient,
		"favorite":  favorite,
	}).Info("Recipient unreachable, message cached")

	return nil
}

// SendAnnounce broadcasts a presence payload, attaching a membership proof
// when a generator is supplied.
func (r *Router) SendAnnounce(payload []byte, gen proof.Generator) error {
	body := payload
	if gen != nil {
		p, err := gen.GenerateProof(proof.KindMembership, nil, payload)
		if err != nil {
			return fmt.Errorf("failed to generate announce proof: %w", err)
		}
		body = append(append([]byte{}, p...), payload...)
	}

	pkt := wire.NewPacket(wire.PacketAnnounce, r.localID, "", body)
	data, err := pkt.Serialize()
	if err != nil {
		return err
	}
	r.markSeen(pkt)
	return r.transport.Broadcast(data)
}

// flushCached drains the store-and-forward queue for a reconnected peer.
func (r *Router) flushCached(peerID crypto.PeerID) {
	r.cache.Flush(peerID, func(pkt *wire.Packet) error {
		// Cached envelopes still carry their original send time, which the
		// recipient's freshness check would reject once it is minutes old.
		// Re-stamp each attempt so only the retention TTL bounds delivery.
		fresh := *pkt
		fresh.Timestamp = r.clock.Now()
		fresh.TTL = wire.MaxTTL
		return r.sendOrFlood(&fresh, peerID)
	})
}

// Close shuts the router down and closes the event channels. Every emission
// checks the closed flag under the same lock, so a transport callback racing
// Close can never send on a closed channel.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.deliveries)
	close(r.announces)
	close(r.acks)
	r.mu.Unlock()

	return r.transport.Close()
}

// sendOrFlood delivers an addressed packet to its preferred next hop,
// falling back to flooding every authenticated link when the preferred peer
// is not directly reachable. TTL relay carries it the rest of the way.
func (r *Router) sendOrFlood(pkt *wire.Packet, preferred crypto.PeerID) error {
	data, err := pkt.Serialize()
	if err != nil {
		return err
	}
	if err := r.transport.Send(preferred, data); err == nil {
		return nil
	}

	// Record our own packet identity so a flooded copy looping back through
	// a neighbor is dropped at ingress.
	r.markSeen(pkt)

	r.mu.Lock()
	targets := make([]crypto.PeerID, 0, len(r.links))
	for peerID, state := range r.links {
		if state == LinkAuthenticated && peerID != preferred {
			targets = append(targets, peerID)
		}
	}
	r.mu.Unlock()

	sent := 0
	for _, target := range targets {
		if err := r.transport.Send(target, data); err == nil {
			sent++
		}
	}
	if sent == 0 {
		return wire.ErrPeerUnreachable
	}
	return nil
}

// markSeen records a packet identity, reporting false when it was already
// present. The set is cleared wholesale once it grows past MaxSeenPackets.
func (r *Router) markSeen(pkt *wire.Packet) bool {
	id := string(packetIdentity(pkt))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[id]; dup {
		return false
	}
	if len(r.seen) >= MaxSeenPackets {
		r.seen = make(map[string]struct{})
	}
	r.seen[id] = struct{}{}
	return true
}

// setLink updates a peer's link state.
func (r *Router) setLink(peerID crypto.PeerID, state LinkState) {
	r.mu.Lock()
	r.links[peerID] = state
	r.mu.Unlock()
}

// admittedLocked counts links past admission. Caller holds r.mu.
func (r *Router) admittedLocked() int {
	n := 0
	for _, state := range r.links {
		if state != LinkDiscovered {
			n++
		}
	}
	return n
}

// emitDelivery hands a decrypted payload to the application without
// blocking.
func (r *Router) emitDelivery(d Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.deliveries <- d:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "emitDelivery",
			"from":     d.From,
		}).Warn("Delivery channel full, message dropped")
	}
}

// emitAnnounce hands a presence event to the application without blocking.
func (r *Router) emitAnnounce(a Announce) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.announces <- a:
	default:
		logrus.WithFields(logrus.Fields{"function": "emitAnnounce"}).Warn("Announce channel full, event dropped")
	}
}

// emitAck hands a delivery confirmation to the application without blocking.
func (r *Router) emitAck(peerID crypto.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.acks <- peerID:
	default:
		logrus.WithFields(logrus.Fields{"function": "emitAck"}).Warn("Ack channel full, event dropped")
	}
}

// packetIdentity computes the loop-suppression identity: a hash over the
// sender ID, the packet timestamp and the payload. TTL is excluded so the
// identity stays stable across hops.
func packetIdentity(pkt *wire.Packet) []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(pkt.Timestamp.UnixMilli()))
	h := sha256.New()
	h.Write([]byte(pkt.Sender))
	h.Write(ts[:])
	h.Write(pkt.Payload)
	sum := h.Sum(nil)
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum)
	return out
}
