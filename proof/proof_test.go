package proof

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACServiceRoundTrip(t *testing.T) {
	svc := NewHMACService([]byte("channel secret"))

	p, err := svc.GenerateProof(KindMembership, nil, []byte("announce:alice"))
	require.NoError(t, err)
	require.NotEmpty(t, p)

	ok, err := svc.VerifyProof(KindMembership, p, []byte("announce:alice"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHMACServiceRejectsTamperedProof(t *testing.T) {
	svc := NewHMACService([]byte("channel secret"))

	p, err := svc.GenerateProof(KindMembership, nil, []byte("announce:alice"))
	require.NoError(t, err)

	p[0] ^= 0x01
	ok, err := svc.VerifyProof(KindMembership, p, []byte("announce:alice"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHMACServiceRejectsWrongPublicInputs(t *testing.T) {
	svc := NewHMACService([]byte("channel secret"))

	p, err := svc.GenerateProof(KindMembership, nil, []byte("announce:alice"))
	require.NoError(t, err)

	ok, err := svc.VerifyProof(KindMembership, p, []byte("announce:mallory"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHMACServiceDifferentSecretsDisagree(t *testing.T) {
	a := NewHMACService([]byte("secret A"))
	b := NewHMACService([]byte("secret B"))

	p, err := a.GenerateProof(KindMembership, nil, []byte("public"))
	require.NoError(t, err)

	ok, err := b.VerifyProof(KindMembership, p, []byte("public"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHMACServiceUnsupportedKind(t *testing.T) {
	svc := NewHMACService([]byte("s"))

	_, err := svc.GenerateProof(Kind("range"), nil, nil)
	assert.ErrorIs(t, err, ErrUnsupportedKind)

	_, err = svc.VerifyProof(Kind("range"), nil, nil)
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}
