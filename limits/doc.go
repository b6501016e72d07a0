// Package limits provides centralized input validation for the meshwire
// protocol: size and charset bounds for peer identifiers, messages,
// handshakes and channel names, timestamp-skew checks, and the per-peer
// sliding-window rate limiter that gates inbound handshakes and messages.
// Keeping the bounds in one place ensures consistent validation across the
// router and the handshake layer.
package limits
