// Package mesh implements the meshwire router: connection admission under
// the active power profile, handshake driving against the session store,
// TTL-bounded flood relay with loop suppression, local delivery of decrypted
// payloads, and hand-off of undeliverable messages to the store-and-forward
// cache.
//
// The router is event-driven. Inbound radio callbacks, application sends and
// profile changes all execute as independent tasks synchronizing on the
// router's own lock plus the locks of the stores it composes; nothing in the
// router blocks on radio I/O. Decrypted payloads reach the application over
// channels rather than callbacks.
package mesh
