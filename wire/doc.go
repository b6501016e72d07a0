// Package wire defines the meshwire packet envelope and the radio-facing
// transport boundary.
//
// A single envelope carries handshake, message, announce and delivery-ack
// payloads over whatever short-range link the Transport implementation
// binds to. The envelope is deliberately small: one byte each for version,
// type, TTL and flags, a millisecond timestamp, raw 8-byte peer
// identifiers, and a length-prefixed payload.
//
// The Transport interface is the seam to the physical radio binding, which
// lives outside this module. MockTransport provides an in-process
// implementation for tests and the CLI loopback demo.
package wire
