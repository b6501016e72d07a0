package session

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshwire/crypto"
	"github.com/opd-ai/meshwire/handshake"
)

const (
	// RekeyInterval is the maximum age of an established session before the
	// scan forces a fresh handshake.
	RekeyInterval = 1 * time.Hour

	// RekeyCheckInterval is how often the maintenance scan runs.
	RekeyCheckInterval = 1 * time.Minute

	// HandshakeTimeout is the maximum time a session may sit in
	// waiting-for-response before the scan resets it. A lost response on a
	// lossy radio link would otherwise pin the session forever.
	HandshakeTimeout = 1 * time.Minute
)

// ErrSessionNotFound indicates no session exists for the peer.
var ErrSessionNotFound = errors.New("session not found")

// Session is the per-peer protocol state. The embedded mutex serializes
// handshake steps and nonce updates for this peer; the store's lock guards
// only the map itself.
type Session struct {
	mu sync.Mutex

	PeerID    crypto.PeerID
	Handshake *handshake.Peer

	sendNonce uint64
	// recvNonce counts decrypted frames for statistics only. Decryption
	// trusts the nonce embedded in the incoming frame, so a replayed
	// ciphertext is not rejected here; duplicate suppression happens at the
	// mesh layer.
	recvNonce uint64

	createdAt time.Time
}

// State returns the handshake state for this session.
func (s *Session) State() handshake.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Handshake.State()
}

// Established reports whether transport keys exist.
func (s *Session) Established() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Handshake.Established()
}

// Initiate starts the handshake for this session.
func (s *Session) Initiate() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Handshake.Initiate()
}

// ProcessHandshake consumes an inbound handshake message, returning the
// response to send back when acting as responder.
func (s *Session) ProcessHandshake(message []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Handshake.ProcessMessage(message)
}

// reset wipes key material and restarts the session lifecycle. Caller holds
// no lock.
func (s *Session) reset(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Handshake.Reset()
	s.sendNonce = 0
	s.recvNonce = 0
	s.createdAt = now
}

// Store is the concurrent map of peer ID to session. All map mutation is
// serialized by one lock; reads may run concurrently with other reads.
type Store struct {
	mu          sync.RWMutex
	sessions    map[crypto.PeerID]*Session
	localStatic *crypto.KeyPair
	clock       clock.Clock
}

// NewStore creates a session store bound to the device identity.
func NewStore(localStatic *crypto.KeyPair, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		sessions:    make(map[crypto.PeerID]*Session),
		localStatic: localStatic,
		clock:       clk,
	}
}

// Get returns the session for a peer, or ErrSessionNotFound.
func (st *Store) Get(peerID crypto.PeerID) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[peerID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// GetOrCreate returns the existing session for a peer or creates one in the
// initial state. asInitiator records which side is expected to drive the
// handshake; the role is fixed when Initiate or ProcessHandshake runs.
func (st *Store) GetOrCreate(peerID crypto.PeerID, asInitiator bool) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[peerID]
	st.mu.RUnlock()
	if ok {
		return s, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[peerID]; ok {
		return s, nil
	}

	hs, err := handshake.NewPeer(peerID, st.localStatic)
	if err != nil {
		return nil, err
	}
	s = &Session{
		PeerID:    peerID,
		Handshake: hs,
		createdAt: st.clock.Now(),
	}
	st.sessions[peerID] = s

	logrus.WithFields(logrus.Fields{
		"function":  "GetOrCreate",
		"peer_id":   peerID,
		"initiator": asInitiator,
	}).Debug("Session created")

	return s, nil
}

// Remove destroys a peer's session, wiping key material.
func (st *Store) Remove(peerID crypto.PeerID) {
	st.mu.Lock()
	s, ok := st.sessions[peerID]
	if ok {
		delete(st.sessions, peerID)
	}
	st.mu.Unlock()

	if ok {
		s.reset(st.clock.Now())
		logrus.WithFields(logrus.Fields{
			"function": "Remove",
			"peer_id":  peerID,
		}).Debug("Session removed")
	}
}

// Snapshot returns the current sessions for scanning. The slice is a copy;
// the sessions are shared.
func (st *Store) Snapshot() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Scan walks all sessions once, resetting those due for rekey and those
// stuck mid-handshake. Safe to re-enter from a periodic timer.
func (st *Store) Scan() {
	now := st.clock.Now()
	for _, s := range st.Snapshot() {
		s.mu.Lock()
		state := s.Handshake.State()
		age := now.Sub(s.createdAt)
		s.mu.Unlock()

		switch {
		case state == handshake.StateEstablished && age > RekeyInterval:
			logrus.WithFields(logrus.Fields{
				"function": "Scan",
				"peer_id":  s.PeerID,
				"age":      age.String(),
			}).Info("Session due for rekey, restarting handshake")
			s.reset(now)
		case state == handshake.StateWaitingForResponse && age > HandshakeTimeout:
			logrus.WithFields(logrus.Fields{
				"function": "Scan",
				"peer_id":  s.PeerID,
				"age":      age.String(),
			}).Warn("Handshake timed out, resetting session")
			s.reset(now)
		}
	}
}

// StartMaintenance runs Scan on RekeyCheckInterval until stop is closed.
func (st *Store) StartMaintenance(stop <-chan struct{}) {
	ticker := st.clock.Ticker(RekeyCheckInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				st.Scan()
			case <-stop:
				return
			}
		}
	}()
}
