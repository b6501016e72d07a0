package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// PeerIDBytes is the number of raw bytes in a peer identifier.
const PeerIDBytes = 8

// ErrInvalidPeerID indicates a peer identifier that is not 16 lowercase hex
// characters.
var ErrInvalidPeerID = errors.New("invalid peer ID")

// PeerID is the short device identifier derived from a static public key:
// the first 8 bytes of SHA-256 of the key, lowercase hex encoded.
type PeerID string

// DeriveID computes the peer identifier for a static public key.
func DeriveID(publicKey [32]byte) PeerID {
	sum := sha256.Sum256(publicKey[:])
	return PeerID(hex.EncodeToString(sum[:PeerIDBytes]))
}

// Bytes returns the raw 8-byte form of the identifier for wire encoding.
func (id PeerID) Bytes() ([PeerIDBytes]byte, error) {
	var raw [PeerIDBytes]byte
	decoded, err := hex.DecodeString(string(id))
	if err != nil || len(decoded) != PeerIDBytes {
		return raw, ErrInvalidPeerID
	}
	copy(raw[:], decoded)
	return raw, nil
}

// PeerIDFromBytes converts a raw 8-byte identifier back to its hex form.
func PeerIDFromBytes(raw [PeerIDBytes]byte) PeerID {
	return PeerID(hex.EncodeToString(raw[:]))
}
