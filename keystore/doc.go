// Package keystore defines the secret-store collaborator used to persist
// long-lived key material (the static identity and per-channel secrets), and
// ships two implementations: an AES-GCM encrypted-at-rest file store with a
// PBKDF2-derived master key, and an in-memory store for tests.
package keystore
