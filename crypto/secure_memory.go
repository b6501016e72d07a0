package crypto

import (
	"crypto/subtle"
	"runtime"
)

// ZeroBytes overwrites a sensitive byte slice with zeros. Nil and empty
// slices are no-ops. The ConstantTimeCompare call keeps the compiler from
// eliding the overwrite as a dead store.
func ZeroBytes(data []byte) {
	if len(data) == 0 {
		return
	}
	zeros := make([]byte, len(data))
	subtle.ConstantTimeCompare(data, zeros)
	copy(data, zeros)
	runtime.KeepAlive(data)
}

// ZeroKey overwrites a 32-byte key in place. Most key material in this
// package lives in [32]byte values rather than slices.
func ZeroKey(key *[32]byte) {
	if key == nil {
		return
	}
	ZeroBytes(key[:])
}

// WipeKeyPair erases the private half of a key pair once it is no longer
// needed. The public half is not sensitive and is left intact.
func WipeKeyPair(kp *KeyPair) {
	if kp == nil {
		return
	}
	ZeroKey(&kp.Private)
}
