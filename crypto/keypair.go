package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// ErrInvalidSecretKey indicates a secret key that cannot produce a key pair.
var ErrInvalidSecretKey = errors.New("invalid secret key")

// KeyPair represents an X25519 key pair used for meshwire handshakes.
// The static pair is the device's long-lived identity; ephemeral pairs are
// generated per handshake and discarded once transport keys are derived.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	var private [32]byte
	if _, err := rand.Read(private[:]); err != nil {
		return nil, fmt.Errorf("failed to read random key material: %w", err)
	}

	public, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		ZeroBytes(private[:])
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	kp := &KeyPair{Private: private}
	copy(kp.Public[:], public)
	return kp, nil
}

// FromSecretKey reconstructs a key pair from an existing private key,
// deriving the matching public key.
func FromSecretKey(secretKey [32]byte) (*KeyPair, error) {
	if isZeroKey(secretKey) {
		return nil, fmt.Errorf("%w: all zeros", ErrInvalidSecretKey)
	}

	public, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecretKey, err)
	}

	kp := &KeyPair{Private: secretKey}
	copy(kp.Public[:], public)
	return kp, nil
}

// SharedSecret computes the X25519 shared secret between a local private key
// and a remote public key. Low-order public keys produce an error from the
// underlying curve implementation and are surfaced, never silently accepted.
func SharedSecret(private, public [32]byte) ([32]byte, error) {
	var secret [32]byte
	out, err := curve25519.X25519(private[:], public[:])
	if err != nil {
		return secret, fmt.Errorf("diffie-hellman failed: %w", err)
	}
	copy(secret[:], out)
	return secret, nil
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
