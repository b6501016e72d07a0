package proof

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
)

// Kind names the statement a proof attests to, e.g. channel membership.
type Kind string

// KindMembership attests that the sender belongs to a channel without
// revealing which credential it holds.
const KindMembership Kind = "membership"

// Proof is an opaque blob produced by a Generator and checked by a Verifier.
type Proof []byte

// ErrUnsupportedKind indicates the service cannot handle the proof kind.
var ErrUnsupportedKind = errors.New("unsupported proof kind")

// Generator produces proofs from private and public inputs.
type Generator interface {
	GenerateProof(kind Kind, privateInputs, publicInputs []byte) (Proof, error)
}

// Verifier checks a proof against its public inputs.
type Verifier interface {
	VerifyProof(kind Kind, p Proof, publicInputs []byte) (bool, error)
}

// Service is a full proof collaborator.
type Service interface {
	Generator
	Verifier
}

// HMACService implements the proof boundary with an HMAC-SHA256 over the
// public inputs, keyed by a shared channel secret. It proves possession of
// the secret rather than zero-knowledge membership; it exists so the
// boundary is exercisable without an external proving backend.
type HMACService struct {
	secret []byte
}

// NewHMACService creates a proof service holding the shared secret.
func NewHMACService(secret []byte) *HMACService {
	buf := make([]byte, len(secret))
	copy(buf, secret)
	return &HMACService{secret: buf}
}

// GenerateProof produces HMAC-SHA256(secret, kind ‖ publicInputs). The
// privateInputs argument is accepted for interface compatibility; this
// backend derives everything from its construction-time secret.
func (s *HMACService) GenerateProof(kind Kind, privateInputs, publicInputs []byte) (Proof, error) {
	if kind != KindMembership {
		return nil, ErrUnsupportedKind
	}
	key := s.secret
	if len(privateInputs) > 0 {
		key = privateInputs
	}
	if len(key) == 0 {
		return nil, errors.New("no proving secret available")
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(kind))
	mac.Write(publicInputs)
	return mac.Sum(nil), nil
}

// VerifyProof recomputes the HMAC and compares in constant time.
func (s *HMACService) VerifyProof(kind Kind, p Proof, publicInputs []byte) (bool, error) {
	if kind != KindMembership {
		return false, ErrUnsupportedKind
	}
	if len(s.secret) == 0 {
		return false, errors.New("no verification secret available")
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(kind))
	mac.Write(publicInputs)
	return hmac.Equal(p, mac.Sum(nil)), nil
}
