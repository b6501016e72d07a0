package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"

	"github.com/opd-ai/meshwire/crypto"
)

const (
	// PBKDF2Iterations is the key-derivation work factor for the master key.
	PBKDF2Iterations = 100000
	// SaltSize is the size of the persisted PBKDF2 salt.
	SaltSize = 32
	// gcmNonceSize is the AES-GCM nonce prepended to each stored entry.
	gcmNonceSize = 12
)

// EncryptedFileStore persists secrets as individual AES-GCM encrypted files
// under a private directory, with the encryption key derived from a master
// passphrase via PBKDF2. The salt is stored alongside the entries so the
// same passphrase reopens the store.
type EncryptedFileStore struct {
	encryptionKey [32]byte
	dataDir       string
	saltFile      string
}

// NewEncryptedFileStore opens or creates an encrypted store in dataDir.
// masterPassword is wiped before returning.
func NewEncryptedFileStore(dataDir string, masterPassword []byte) (*EncryptedFileStore, error) {
	if len(masterPassword) == 0 {
		return nil, fmt.Errorf("master password cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	ks := &EncryptedFileStore{
		dataDir:  dataDir,
		saltFile: filepath.Join(dataDir, ".salt"),
	}

	salt, err := ks.loadOrGenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize salt: %w", err)
	}

	derived := pbkdf2.Key(masterPassword, salt, PBKDF2Iterations, 32, sha256.New)
	copy(ks.encryptionKey[:], derived)

	crypto.ZeroBytes(derived)
	crypto.ZeroBytes(masterPassword)

	logrus.WithFields(logrus.Fields{
		"function": "NewEncryptedFileStore",
		"data_dir": dataDir,
	}).Info("Encrypted secret store opened")

	return ks, nil
}

// loadOrGenerateSalt loads the existing salt or generates a new one.
func (ks *EncryptedFileStore) loadOrGenerateSalt() ([]byte, error) {
	data, err := os.ReadFile(ks.saltFile)
	if err == nil {
		if len(data) != SaltSize {
			return nil, fmt.Errorf("salt file corrupted: %d bytes", len(data))
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read salt file: %w", err)
	}

	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := os.WriteFile(ks.saltFile, salt, 0o600); err != nil {
		return nil, fmt.Errorf("failed to persist salt: %w", err)
	}
	return salt, nil
}

// entryPath maps a secret name to its file, hex-encoding the name so
// arbitrary keys cannot escape the data directory.
func (ks *EncryptedFileStore) entryPath(key string) string {
	return filepath.Join(ks.dataDir, hex.EncodeToString([]byte(key))+".sec")
}

// Save encrypts and persists data under key.
func (ks *EncryptedFileStore) Save(key string, data []byte) error {
	aead, err := ks.aead()
	if err != nil {
		return err
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, data, []byte(key))
	if err := os.WriteFile(ks.entryPath(key), sealed, 0o600); err != nil {
		return fmt.Errorf("failed to write secret: %w", err)
	}
	return nil
}

// Get reads and decrypts the value for key.
func (ks *EncryptedFileStore) Get(key string) ([]byte, error) {
	sealed, err := os.ReadFile(ks.entryPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	if len(sealed) < gcmNonceSize {
		return nil, fmt.Errorf("secret file corrupted")
	}

	aead, err := ks.aead()
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, sealed[:gcmNonceSize], sealed[gcmNonceSize:], []byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return plaintext, nil
}

// Delete removes the entry for key. Missing entries are not an error.
func (ks *EncryptedFileStore) Delete(key string) error {
	err := os.Remove(ks.entryPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

func (ks *EncryptedFileStore) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(ks.encryptionKey[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
