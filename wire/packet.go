package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/meshwire/crypto"
)

// PacketType identifies the type of a meshwire packet.
type PacketType byte

const (
	// PacketHandshake carries a 64-byte handshake message.
	PacketHandshake PacketType = iota + 1
	// PacketMessage carries an encrypted application payload.
	PacketMessage
	// PacketAnnounce carries peer presence and nickname information.
	PacketAnnounce
	// PacketDeliveryAck confirms local delivery of an addressed message.
	PacketDeliveryAck
)

const (
	// ProtocolVersion is the envelope format version.
	ProtocolVersion = 1

	// MaxTTL is the hop budget assigned to freshly created packets.
	MaxTTL = 7

	// flagHasRecipient marks an envelope carrying a recipient identifier.
	flagHasRecipient = 0x01

	// headerLen is the fixed portion of the envelope: version, type, ttl,
	// flags, timestamp, sender ID and payload length.
	headerLen = 1 + 1 + 1 + 1 + 8 + crypto.PeerIDBytes + 2

	// MaxPayloadSize bounds the envelope payload field.
	MaxPayloadSize = 65535
)

var (
	// ErrPacketTooShort indicates a buffer smaller than the envelope header.
	ErrPacketTooShort = errors.New("packet too short")
	// ErrPacketMalformed indicates an envelope that fails structural checks.
	ErrPacketMalformed = errors.New("packet malformed")
)

// Packet is the meshwire envelope. Recipient is empty for broadcasts.
// TTL is decremented by each relaying hop; a packet with TTL zero is
// delivered if addressed to the local peer but never forwarded.
type Packet struct {
	Type      PacketType
	Sender    crypto.PeerID
	Recipient crypto.PeerID
	TTL       uint8
	Payload   []byte
	Timestamp time.Time
}

// NewPacket builds an envelope with the full hop budget and the current time.
func NewPacket(pt PacketType, sender, recipient crypto.PeerID, payload []byte) *Packet {
	return &Packet{
		Type:      pt,
		Sender:    sender,
		Recipient: recipient,
		TTL:       MaxTTL,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Serialize converts a packet to its wire form.
func (p *Packet) Serialize() ([]byte, error) {
	if len(p.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload %d bytes exceeds %d", ErrPacketMalformed, len(p.Payload), MaxPayloadSize)
	}

	senderRaw, err := p.Sender.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: bad sender ID: %v", ErrPacketMalformed, err)
	}

	var flags byte
	var recipientRaw [crypto.PeerIDBytes]byte
	if p.Recipient != "" {
		recipientRaw, err = p.Recipient.Bytes()
		if err != nil {
			return nil, fmt.Errorf("%w: bad recipient ID: %v", ErrPacketMalformed, err)
		}
		flags |= flagHasRecipient
	}

	size := headerLen + len(p.Payload)
	if flags&flagHasRecipient != 0 {
		size += crypto.PeerIDBytes
	}

	buf := make([]byte, 0, size)
	buf = append(buf, ProtocolVersion, byte(p.Type), p.TTL, flags)
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.Timestamp.UnixMilli()))
	buf = append(buf, senderRaw[:]...)
	if flags&flagHasRecipient != 0 {
		buf = append(buf, recipientRaw[:]...)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Payload)))
	buf = append(buf, p.Payload...)

	return buf, nil
}

// ParsePacket converts a byte slice back to a Packet, rejecting anything
// that does not match the envelope layout exactly.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < headerLen {
		return nil, ErrPacketTooShort
	}
	if data[0] != ProtocolVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrPacketMalformed, data[0])
	}

	pt := PacketType(data[1])
	if pt < PacketHandshake || pt > PacketDeliveryAck {
		return nil, fmt.Errorf("%w: unknown packet type %d", ErrPacketMalformed, data[1])
	}

	ttl := data[2]
	if ttl > MaxTTL {
		return nil, fmt.Errorf("%w: ttl %d exceeds hop budget %d", ErrPacketMalformed, ttl, MaxTTL)
	}
	flags := data[3]

	ts := time.UnixMilli(int64(binary.BigEndian.Uint64(data[4:12])))

	off := 12
	var senderRaw [crypto.PeerIDBytes]byte
	copy(senderRaw[:], data[off:off+crypto.PeerIDBytes])
	off += crypto.PeerIDBytes

	var recipient crypto.PeerID
	if flags&flagHasRecipient != 0 {
		if len(data) < off+crypto.PeerIDBytes+2 {
			return nil, ErrPacketTooShort
		}
		var recipientRaw [crypto.PeerIDBytes]byte
		copy(recipientRaw[:], data[off:off+crypto.PeerIDBytes])
		recipient = crypto.PeerIDFromBytes(recipientRaw)
		off += crypto.PeerIDBytes
	}

	if len(data) < off+2 {
		return nil, ErrPacketTooShort
	}
	payloadLen := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2

	if len(data) != off+payloadLen {
		return nil, fmt.Errorf("%w: payload length %d does not match remaining %d", ErrPacketMalformed, payloadLen, len(data)-off)
	}

	payload := make([]byte, payloadLen)
	copy(payload, data[off:])

	return &Packet{
		Type:      pt,
		Sender:    crypto.PeerIDFromBytes(senderRaw),
		Recipient: recipient,
		TTL:       ttl,
		Payload:   payload,
		Timestamp: ts,
	}, nil
}
