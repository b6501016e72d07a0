// Package crypto implements the key-material primitives for the meshwire
// protocol: X25519 key pairs, peer identifier derivation, and secure wiping
// of sensitive buffers.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Peer ID:", crypto.DeriveID(keys.Public))
package crypto
