package keystore

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshwire/crypto"
)

// IdentityKey is the store entry name for the static identity private key.
const IdentityKey = "static-identity"

// LoadIdentity returns the stored static key pair, or ErrNotFound when no
// identity has been generated yet.
func LoadIdentity(store Store) (*crypto.KeyPair, error) {
	data, err := store.Get(IdentityKey)
	if err != nil {
		return nil, err
	}
	if len(data) != 32 {
		return nil, fmt.Errorf("stored identity key corrupted: %d bytes", len(data))
	}
	var secret [32]byte
	copy(secret[:], data)
	crypto.ZeroBytes(data)
	kp, err := crypto.FromSecretKey(secret)
	if err != nil {
		return nil, fmt.Errorf("stored identity key invalid: %w", err)
	}
	return kp, nil
}

// LoadOrCreateIdentity returns the device's static key pair from the secret
// store, generating and persisting a fresh one on first run.
func LoadOrCreateIdentity(store Store) (*crypto.KeyPair, error) {
	kp, err := LoadIdentity(store)
	switch {
	case err == nil:
		return kp, nil

	case errors.Is(err, ErrNotFound):
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		if err := store.Save(IdentityKey, kp.Private[:]); err != nil {
			return nil, fmt.Errorf("failed to persist identity key: %w", err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "LoadOrCreateIdentity",
			"peer_id":  crypto.DeriveID(kp.Public),
		}).Info("Generated new static identity")
		return kp, nil

	default:
		return nil, err
	}
}
