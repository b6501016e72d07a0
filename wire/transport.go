package wire

import (
	"errors"
	"fmt"

	"github.com/opd-ai/meshwire/crypto"
)

const (
	// ServiceID is the fixed identifier advertised on the radio so peers of
	// this protocol can recognize each other.
	ServiceID = "net.meshwire.chat.v1"

	// deviceNamePrefix is the human-visible prefix for advertised names.
	deviceNamePrefix = "mw-"
)

// ErrPeerUnreachable indicates the transport has no link to the peer.
var ErrPeerUnreachable = errors.New("peer unreachable")

// DeviceName returns the advertised device name embedding the short peer
// identifier, so scanners can associate a radio device with a protocol peer.
func DeviceName(id crypto.PeerID) string {
	return fmt.Sprintf("%s%s", deviceNamePrefix, id)
}

// PacketHandler receives raw inbound bytes from the radio along with the
// identifier of the link-level peer they arrived from.
type PacketHandler func(from crypto.PeerID, data []byte)

// Transport is the boundary to the physical radio binding. Implementations
// live outside this module; the router only requires byte delivery to
// directly connected peers and a callback for inbound data. Send and
// Broadcast must not block on radio I/O completion.
type Transport interface {
	// Send delivers data to one directly connected peer.
	Send(to crypto.PeerID, data []byte) error
	// Broadcast delivers data to every directly connected peer.
	Broadcast(data []byte) error
	// SetPacketHandler registers the inbound callback. Only one handler is
	// active at a time.
	SetPacketHandler(handler PacketHandler)
	// Close tears down all links.
	Close() error
}
