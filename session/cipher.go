package session

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshwire/crypto"
	"github.com/opd-ai/meshwire/limits"
)

const (
	// NonceSize is the AES-GCM nonce length carried on the wire.
	NonceSize = 12

	// TagSize is the AES-GCM authentication tag length.
	TagSize = 16

	// MinCiphertextSize is the smallest valid encrypted frame: nonce plus
	// tag with an empty plaintext.
	MinCiphertextSize = NonceSize + TagSize
)

var (
	// ErrSessionNotEstablished indicates encrypt/decrypt before the
	// handshake completed. The caller may trigger a fresh handshake.
	ErrSessionNotEstablished = errors.New("session not established")

	// ErrInvalidMessage is returned for every decrypt failure. Parse errors
	// and authentication failures are deliberately indistinguishable so the
	// transport leaks nothing about why a frame was rejected.
	ErrInvalidMessage = errors.New("invalid message")
)

// Cipher performs authenticated encryption of application payloads under the
// keys held in the session store. Encryption is a synchronous, CPU-bound
// transform; it never touches the radio.
type Cipher struct {
	store *Store
}

// NewCipher creates a transport cipher backed by the given store.
func NewCipher(store *Store) *Cipher {
	return &Cipher{store: store}
}

// Encrypt seals plaintext for a peer. The output is nonce ‖ ciphertext ‖
// tag; the 96-bit nonce carries the session send counter in its trailing
// eight bytes and is incremented per frame.
func (c *Cipher) Encrypt(peerID crypto.PeerID, plaintext []byte) ([]byte, error) {
	if err := limits.ValidateMessage(plaintext); err != nil {
		return nil, err
	}

	s, err := c.store.Get(peerID)
	if err != nil {
		return nil, fmt.Errorf("%w: peer %s", ErrSessionNotEstablished, peerID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.Handshake.SendKey()
	if err != nil {
		return nil, fmt.Errorf("%w: peer %s", ErrSessionNotEstablished, peerID)
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	var nonce [NonceSize]byte
	binary.BigEndian.PutUint64(nonce[4:], s.sendNonce)
	s.sendNonce++

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	copy(out, nonce[:])
	out = aead.Seal(out, nonce[:], plaintext, nil)

	return out, nil
}

// Decrypt opens an encrypted frame from a peer. The nonce is taken directly
// from the wire data rather than a locally tracked counter.
func (c *Cipher) Decrypt(peerID crypto.PeerID, data []byte) ([]byte, error) {
	if len(data) < MinCiphertextSize {
		return nil, ErrInvalidMessage
	}

	s, err := c.store.Get(peerID)
	if err != nil {
		return nil, fmt.Errorf("%w: peer %s", ErrSessionNotEstablished, peerID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.Handshake.ReceiveKey()
	if err != nil {
		return nil, fmt.Errorf("%w: peer %s", ErrSessionNotEstablished, peerID)
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, ErrInvalidMessage
	}

	plaintext, err := aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Decrypt",
			"peer_id":  peerID,
			"size":     len(data),
		}).Debug("Frame rejected")
		return nil, ErrInvalidMessage
	}

	s.recvNonce++
	return plaintext, nil
}

func newGCM(key [32]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
