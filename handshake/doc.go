// Package handshake implements the meshwire key-agreement protocol: a fixed
// two-message exchange in which each side sends its ephemeral and static
// X25519 public keys, and both derive a pair of AES-256 transport keys from
// four Diffie-Hellman shared secrets via HKDF-SHA256.
//
// The pattern is fixed and non-negotiable. There is no version negotiation,
// no fallback cipher suite, and no identity hiding; both static public keys
// travel in the clear inside the 64-byte handshake messages.
package handshake
