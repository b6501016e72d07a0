package limits

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// MaxMessageSize is the maximum plaintext payload accepted from a peer.
	MaxMessageSize = 4096

	// MinHandshakeSize is the fixed size of a well-formed handshake message:
	// a 32-byte ephemeral public key followed by a 32-byte static public key.
	MinHandshakeSize = 64

	// MaxHandshakeSize bounds handshake input so malformed peers cannot feed
	// arbitrarily large buffers into key parsing.
	MaxHandshakeSize = 256

	// PeerIDLength is the length of a peer identifier in hex characters.
	PeerIDLength = 16

	// MaxChannelNameLength bounds channel names, including the leading '#'.
	MaxChannelNameLength = 32

	// MaxTimestampAge is how far in the past a packet timestamp may lie.
	MaxTimestampAge = 5 * time.Minute

	// MaxTimestampDrift is how far in the future a packet timestamp may lie,
	// allowing for clock skew between devices.
	MaxTimestampDrift = 1 * time.Minute
)

var (
	// ErrInputRejected is the base error for any bounds or format violation.
	ErrInputRejected = errors.New("input rejected")

	// ErrMessageEmpty indicates an empty message was provided.
	ErrMessageEmpty = errors.New("empty message")
)

// ValidatePeerID checks that an identifier is exactly PeerIDLength lowercase
// hex characters.
func ValidatePeerID(peerID string) error {
	if len(peerID) != PeerIDLength {
		return fmt.Errorf("%w: peer ID length %d, want %d", ErrInputRejected, len(peerID), PeerIDLength)
	}
	for _, c := range peerID {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("%w: peer ID contains non-hex character %q", ErrInputRejected, c)
		}
	}
	return nil
}

// ValidateMessage checks a message payload against MaxMessageSize.
func ValidateMessage(message []byte) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > MaxMessageSize {
		return fmt.Errorf("%w: message size %d exceeds limit %d", ErrInputRejected, len(message), MaxMessageSize)
	}
	return nil
}

// ValidateHandshake checks a handshake message against the fixed size window.
func ValidateHandshake(message []byte) error {
	if len(message) < MinHandshakeSize {
		return fmt.Errorf("%w: handshake size %d below minimum %d", ErrInputRejected, len(message), MinHandshakeSize)
	}
	if len(message) > MaxHandshakeSize {
		return fmt.Errorf("%w: handshake size %d exceeds limit %d", ErrInputRejected, len(message), MaxHandshakeSize)
	}
	return nil
}

// ValidateChannelName checks the channel naming convention: a leading '#'
// followed by ASCII letters, digits, '-' or '_', within the length bound.
func ValidateChannelName(name string) error {
	if len(name) < 2 || len(name) > MaxChannelNameLength {
		return fmt.Errorf("%w: channel name length %d out of range", ErrInputRejected, len(name))
	}
	if name[0] != '#' {
		return fmt.Errorf("%w: channel name must start with '#'", ErrInputRejected)
	}
	for _, c := range name[1:] {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return fmt.Errorf("%w: channel name contains invalid character %q", ErrInputRejected, c)
		}
	}
	return nil
}

// ValidateTimestamp checks a packet timestamp against the local clock,
// rejecting entries older than MaxTimestampAge or more than
// MaxTimestampDrift in the future.
func ValidateTimestamp(ts time.Time, clk clock.Clock) error {
	now := clk.Now()
	if now.Sub(ts) > MaxTimestampAge {
		return fmt.Errorf("%w: timestamp %s too old", ErrInputRejected, ts.UTC().Format(time.RFC3339))
	}
	if ts.Sub(now) > MaxTimestampDrift {
		return fmt.Errorf("%w: timestamp %s from the future", ErrInputRejected, ts.UTC().Format(time.RFC3339))
	}
	return nil
}
