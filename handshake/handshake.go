package handshake

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"

	"github.com/opd-ai/meshwire/crypto"
	"github.com/opd-ai/meshwire/limits"
)

var (
	// ErrHandshakeInProgress indicates an initiation while a handshake for
	// the peer is already under way.
	ErrHandshakeInProgress = errors.New("handshake already in progress")
	// ErrHandshakeComplete indicates a handshake message arrived for an
	// already established session.
	ErrHandshakeComplete = errors.New("handshake already complete")
	// ErrHandshakeFailed indicates the peer's handshake previously failed
	// and needs explicit re-initiation.
	ErrHandshakeFailed = errors.New("handshake failed")
	// ErrInvalidHandshake indicates a malformed handshake message.
	ErrInvalidHandshake = errors.New("invalid handshake message")
)

// State tracks the per-peer handshake progress.
type State uint8

const (
	// StateInitial means no handshake has started (or the session was reset).
	StateInitial State = iota
	// StateWaitingForResponse means we initiated and await the reply.
	StateWaitingForResponse
	// StateEstablished means transport keys are derived on both sides.
	StateEstablished
	// StateFailed means the exchange failed; the application must
	// explicitly re-initiate.
	StateFailed
)

// String returns the state name used in log fields.
func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateWaitingForResponse:
		return "waiting-for-response"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	// MessageSize is the exact size of a handshake message: the local
	// ephemeral public key followed by the local static public key.
	MessageSize = 64

	// keyMaterialSize is the HKDF output split into two 32-byte keys.
	keyMaterialSize = 64
)

// Fixed HKDF parameters identifying the protocol. Changing either breaks
// interoperability with every deployed peer.
var (
	hkdfSalt = []byte("meshwire/1 handshake")
	hkdfInfo = []byte("session keys")
)

// Peer is the handshake state machine for a single remote peer. It is not
// safe for concurrent use; the session store serializes access so no two
// handshake steps for the same peer interleave.
type Peer struct {
	peerID      crypto.PeerID
	state       State
	initiator   bool
	localStatic *crypto.KeyPair

	localEphemeral  *crypto.KeyPair
	remoteEphemeral [32]byte
	remoteStatic    [32]byte

	sendKey [32]byte
	recvKey [32]byte
	hasKeys bool
}

// NewPeer creates a handshake state machine in StateInitial.
// localStatic is the device's long-lived identity key pair.
func NewPeer(peerID crypto.PeerID, localStatic *crypto.KeyPair) (*Peer, error) {
	if localStatic == nil {
		return nil, errors.New("local static key pair required")
	}
	return &Peer{
		peerID:      peerID,
		state:       StateInitial,
		localStatic: localStatic,
	}, nil
}

// State returns the current handshake state.
func (p *Peer) State() State {
	return p.state
}

// Established reports whether transport keys have been derived.
func (p *Peer) Established() bool {
	return p.state == StateEstablished
}

// Initiate starts a handshake as initiator: generates a fresh ephemeral key
// pair, moves to StateWaitingForResponse, and returns the 64-byte message
// to send. Fails if a handshake is already in progress or complete.
func (p *Peer) Initiate() ([]byte, error) {
	switch p.state {
	case StateWaitingForResponse:
		return nil, fmt.Errorf("%w: peer %s", ErrHandshakeInProgress, p.peerID)
	case StateEstablished:
		return nil, fmt.Errorf("%w: peer %s", ErrHandshakeComplete, p.peerID)
	case StateFailed:
		return nil, fmt.Errorf("%w: peer %s", ErrHandshakeFailed, p.peerID)
	}

	ephemeral, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	p.localEphemeral = ephemeral
	p.initiator = true
	p.state = StateWaitingForResponse

	logrus.WithFields(logrus.Fields{
		"function": "Initiate",
		"peer_id":  p.peerID,
	}).Debug("Handshake initiated")

	return p.buildMessage(), nil
}

// ProcessMessage consumes an inbound handshake message. Acting as responder
// (StateInitial) it derives keys, establishes, and returns the 64-byte
// response to send back. Acting as initiator (StateWaitingForResponse) it
// derives keys, establishes, and returns nil. Any malformed input marks the
// session failed.
func (p *Peer) ProcessMessage(message []byte) ([]byte, error) {
	switch p.state {
	case StateEstablished:
		return nil, fmt.Errorf("%w: peer %s", ErrHandshakeComplete, p.peerID)
	case StateFailed:
		return nil, fmt.Errorf("%w: peer %s", ErrHandshakeFailed, p.peerID)
	}

	if err := limits.ValidateHandshake(message); err != nil {
		p.fail()
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}

	copy(p.remoteEphemeral[:], message[:32])
	copy(p.remoteStatic[:], message[32:64])

	if p.state == StateInitial {
		return p.respond()
	}
	return nil, p.finishAsInitiator()
}

// respond handles the responder path: generate our own ephemeral pair,
// derive keys, and emit a response of identical shape.
func (p *Peer) respond() ([]byte, error) {
	ephemeral, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	p.localEphemeral = ephemeral
	p.initiator = false

	response := p.buildMessage()

	if err := p.deriveKeys(); err != nil {
		p.fail()
		return nil, err
	}
	p.state = StateEstablished

	logrus.WithFields(logrus.Fields{
		"function": "ProcessMessage",
		"peer_id":  p.peerID,
		"role":     "responder",
	}).Info("Handshake established")

	return response, nil
}

// finishAsInitiator handles the initiator path once the response arrives.
func (p *Peer) finishAsInitiator() error {
	if err := p.deriveKeys(); err != nil {
		p.fail()
		return err
	}
	p.state = StateEstablished

	logrus.WithFields(logrus.Fields{
		"function": "ProcessMessage",
		"peer_id":  p.peerID,
		"role":     "initiator",
	}).Info("Handshake established")

	return nil
}

// buildMessage assembles ephemeral pub ‖ static pub.
func (p *Peer) buildMessage() []byte {
	msg := make([]byte, MessageSize)
	copy(msg[:32], p.localEphemeral.Public[:])
	copy(msg[32:], p.localStatic.Public[:])
	return msg
}

// deriveKeys computes the four shared secrets, canonicalizes their order by
// role, and expands them into the two transport keys. The transcript order
// is: ephemeral/ephemeral, initiator-static/responder-ephemeral,
// initiator-ephemeral/responder-static, static/static. The initiator sends
// with the first derived half, the responder with the second.
func (p *Peer) deriveKeys() error {
	dhEE, err := crypto.SharedSecret(p.localEphemeral.Private, p.remoteEphemeral)
	if err != nil {
		return fmt.Errorf("%w: ephemeral exchange: %v", ErrInvalidHandshake, err)
	}

	var slot2, slot3 [32]byte
	if p.initiator {
		slot2, err = crypto.SharedSecret(p.localStatic.Private, p.remoteEphemeral)
		if err == nil {
			slot3, err = crypto.SharedSecret(p.localEphemeral.Private, p.remoteStatic)
		}
	} else {
		slot2, err = crypto.SharedSecret(p.localEphemeral.Private, p.remoteStatic)
		if err == nil {
			slot3, err = crypto.SharedSecret(p.localStatic.Private, p.remoteEphemeral)
		}
	}
	if err != nil {
		return fmt.Errorf("%w: static-ephemeral exchange: %v", ErrInvalidHandshake, err)
	}

	dhSS, err := crypto.SharedSecret(p.localStatic.Private, p.remoteStatic)
	if err != nil {
		return fmt.Errorf("%w: static exchange: %v", ErrInvalidHandshake, err)
	}

	combined := make([]byte, 0, 128)
	combined = append(combined, dhEE[:]...)
	combined = append(combined, slot2[:]...)
	combined = append(combined, slot3[:]...)
	combined = append(combined, dhSS[:]...)

	material := make([]byte, keyMaterialSize)
	kdf := hkdf.New(sha256.New, combined, hkdfSalt, hkdfInfo)
	if _, err := io.ReadFull(kdf, material); err != nil {
		crypto.ZeroBytes(combined)
		return fmt.Errorf("key derivation failed: %w", err)
	}

	if p.initiator {
		copy(p.sendKey[:], material[:32])
		copy(p.recvKey[:], material[32:])
	} else {
		copy(p.sendKey[:], material[32:])
		copy(p.recvKey[:], material[:32])
	}
	p.hasKeys = true

	// The ephemeral private key and intermediate secrets are not needed
	// once transport keys exist.
	crypto.ZeroBytes(combined)
	crypto.ZeroBytes(material)
	crypto.ZeroKey(&dhEE)
	crypto.ZeroKey(&slot2)
	crypto.ZeroKey(&slot3)
	crypto.ZeroKey(&dhSS)
	crypto.WipeKeyPair(p.localEphemeral)
	p.localEphemeral = nil

	return nil
}

// SendKey returns the derived sending key. Valid only once established.
func (p *Peer) SendKey() ([32]byte, error) {
	if !p.hasKeys || p.state != StateEstablished {
		return [32]byte{}, ErrHandshakeFailed
	}
	return p.sendKey, nil
}

// ReceiveKey returns the derived receiving key. Valid only once established.
func (p *Peer) ReceiveKey() ([32]byte, error) {
	if !p.hasKeys || p.state != StateEstablished {
		return [32]byte{}, ErrHandshakeFailed
	}
	return p.recvKey, nil
}

// RemoteStatic returns the peer's static public key once known.
func (p *Peer) RemoteStatic() [32]byte {
	return p.remoteStatic
}

// Reset wipes all derived key material and returns the machine to
// StateInitial. Used for rekeying, which restarts the full handshake rather
// than ratcheting.
func (p *Peer) Reset() {
	if p.localEphemeral != nil {
		crypto.WipeKeyPair(p.localEphemeral)
		p.localEphemeral = nil
	}
	crypto.ZeroKey(&p.sendKey)
	crypto.ZeroKey(&p.recvKey)
	p.remoteEphemeral = [32]byte{}
	p.remoteStatic = [32]byte{}
	p.hasKeys = false
	p.initiator = false
	p.state = StateInitial
}

// fail marks the handshake failed and wipes any partial state.
func (p *Peer) fail() {
	if p.localEphemeral != nil {
		crypto.WipeKeyPair(p.localEphemeral)
		p.localEphemeral = nil
	}
	crypto.ZeroKey(&p.sendKey)
	crypto.ZeroKey(&p.recvKey)
	p.hasKeys = false
	p.state = StateFailed

	logrus.WithFields(logrus.Fields{
		"function": "fail",
		"peer_id":  p.peerID,
	}).Warn("Handshake failed")
}
