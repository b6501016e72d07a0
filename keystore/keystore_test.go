package keystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshwire/crypto"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.Save("channel-key", []byte("secret")))
	got, err := s.Get("channel-key")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), got)

	// Returned value is a copy.
	got[0] = 'X'
	again, err := s.Get("channel-key")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), again)

	require.NoError(t, s.Delete("channel-key"))
	_, err = s.Get("channel-key")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing key is not an error.
	assert.NoError(t, s.Delete("never-existed"))
}

func TestEncryptedFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewEncryptedFileStore(dir, []byte("correct horse"))
	require.NoError(t, err)

	require.NoError(t, s.Save("identity", []byte("key material")))
	got, err := s.Get("identity")
	require.NoError(t, err)
	assert.Equal(t, []byte("key material"), got)

	require.NoError(t, s.Delete("identity"))
	_, err = s.Get("identity")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEncryptedFileStoreReopen(t *testing.T) {
	dir := t.TempDir()

	s1, err := NewEncryptedFileStore(dir, []byte("passphrase"))
	require.NoError(t, err)
	require.NoError(t, s1.Save("identity", []byte("persisted")))

	// Same passphrase reopens the store and decrypts existing entries.
	s2, err := NewEncryptedFileStore(dir, []byte("passphrase"))
	require.NoError(t, err)
	got, err := s2.Get("identity")
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), got)
}

func TestEncryptedFileStoreWrongPassphrase(t *testing.T) {
	dir := t.TempDir()

	s1, err := NewEncryptedFileStore(dir, []byte("right"))
	require.NoError(t, err)
	require.NoError(t, s1.Save("identity", []byte("sealed")))

	s2, err := NewEncryptedFileStore(dir, []byte("wrong"))
	require.NoError(t, err)
	_, err = s2.Get("identity")
	assert.Error(t, err, "wrong passphrase must not decrypt")
}

func TestEncryptedFileStoreEmptyPassword(t *testing.T) {
	_, err := NewEncryptedFileStore(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestLoadOrCreateIdentity(t *testing.T) {
	s := NewMemoryStore()

	first, err := LoadOrCreateIdentity(s)
	require.NoError(t, err)

	// A second load returns the same identity.
	second, err := LoadOrCreateIdentity(s)
	require.NoError(t, err)
	assert.Equal(t, first.Public, second.Public)
	assert.Equal(t, crypto.DeriveID(first.Public), crypto.DeriveID(second.Public))
}

func TestLoadOrCreateIdentityRejectsCorruptEntry(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Save(IdentityKey, []byte("too short")))

	_, err := LoadOrCreateIdentity(s)
	assert.Error(t, err)
}
