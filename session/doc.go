// Package session owns all per-peer protocol state: the concurrent session
// store, the authenticated-encryption transport cipher, and the periodic
// scan that expires stale sessions.
//
// Sessions hold the handshake state machine, the derived AES-256-GCM keys
// and the send nonce counter. Rekeying is a restart: the scan resets an aged
// session to its initial state and the next contact runs a full handshake
// again. There is no key ratchet.
package session
