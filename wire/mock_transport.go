package wire

import (
	"fmt"
	"sync"

	"github.com/opd-ai/meshwire/crypto"
)

// MockTransport is an in-process Transport used by tests and the CLI
// loopback demo. Linked transports deliver synchronously on the caller's
// goroutine, which keeps test ordering deterministic.
type MockTransport struct {
	mu      sync.RWMutex
	localID crypto.PeerID
	links   map[crypto.PeerID]*MockTransport
	handler PacketHandler
	closed  bool

	// SendErrors, when set, makes Send fail for the listed peers. Used to
	// exercise delivery-retry paths.
	SendErrors map[crypto.PeerID]error
}

// NewMockTransport creates an unlinked mock transport for the given peer.
func NewMockTransport(localID crypto.PeerID) *MockTransport {
	return &MockTransport{
		localID:    localID,
		links:      make(map[crypto.PeerID]*MockTransport),
		SendErrors: make(map[crypto.PeerID]error),
	}
}

// Link connects two mock transports bidirectionally.
func Link(a, b *MockTransport) {
	a.mu.Lock()
	a.links[b.localID] = b
	a.mu.Unlock()

	b.mu.Lock()
	b.links[a.localID] = a
	b.mu.Unlock()
}

// Unlink removes the bidirectional link between two mock transports.
func Unlink(a, b *MockTransport) {
	a.mu.Lock()
	delete(a.links, b.localID)
	a.mu.Unlock()

	b.mu.Lock()
	delete(b.links, a.localID)
	b.mu.Unlock()
}

// Send delivers data to one linked peer.
func (m *MockTransport) Send(to crypto.PeerID, data []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("transport closed")
	}
	if err, ok := m.SendErrors[to]; ok && err != nil {
		m.mu.RUnlock()
		return err
	}
	peer, ok := m.links[to]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerUnreachable, to)
	}
	peer.deliver(m.localID, data)
	return nil
}

// Broadcast delivers data to every linked peer.
func (m *MockTransport) Broadcast(data []byte) error {
	m.mu.RLock()
	peers := make([]*MockTransport, 0, len(m.links))
	for _, p := range m.links {
		peers = append(peers, p)
	}
	m.mu.RUnlock()

	for _, p := range peers {
		p.deliver(m.localID, data)
	}
	return nil
}

// SetPacketHandler registers the inbound callback.
func (m *MockTransport) SetPacketHandler(handler PacketHandler) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

// Close marks the transport closed and drops all links.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.links = make(map[crypto.PeerID]*MockTransport)
	m.mu.Unlock()
	return nil
}

// LocalID returns the identifier this transport was created with.
func (m *MockTransport) LocalID() crypto.PeerID {
	return m.localID
}

func (m *MockTransport) deliver(from crypto.PeerID, data []byte) {
	m.mu.RLock()
	handler := m.handler
	closed := m.closed
	m.mu.RUnlock()

	if closed || handler == nil {
		return
	}
	// Copy so a relaying handler cannot mutate the sender's buffer.
	buf := make([]byte, len(data))
	copy(buf, data)
	handler(from, buf)
}
