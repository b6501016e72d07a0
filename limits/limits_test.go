package limits

import (
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestValidatePeerID(t *testing.T) {
	assert.NoError(t, ValidatePeerID("0123456789abcdef"))

	// Wrong lengths
	assert.Error(t, ValidatePeerID(""))
	assert.Error(t, ValidatePeerID("abcd"))
	assert.Error(t, ValidatePeerID("0123456789abcdef00"))

	// Uppercase and non-hex characters
	assert.Error(t, ValidatePeerID("0123456789ABCDEF"))
	assert.Error(t, ValidatePeerID("0123456789abcdeg"))
	assert.Error(t, ValidatePeerID("0123456789abcde "))
}

func TestValidateMessage(t *testing.T) {
	assert.ErrorIs(t, ValidateMessage(nil), ErrMessageEmpty)
	assert.NoError(t, ValidateMessage(make([]byte, 1)))
	assert.NoError(t, ValidateMessage(make([]byte, MaxMessageSize)))

	err := ValidateMessage(make([]byte, MaxMessageSize+1))
	assert.ErrorIs(t, err, ErrInputRejected)
}

func TestValidateHandshake(t *testing.T) {
	assert.Error(t, ValidateHandshake(make([]byte, MinHandshakeSize-1)))
	assert.NoError(t, ValidateHandshake(make([]byte, MinHandshakeSize)))
	assert.NoError(t, ValidateHandshake(make([]byte, MaxHandshakeSize)))
	assert.ErrorIs(t, ValidateHandshake(make([]byte, MaxHandshakeSize+1)), ErrInputRejected)
}

func TestValidateChannelName(t *testing.T) {
	assert.NoError(t, ValidateChannelName("#general"))
	assert.NoError(t, ValidateChannelName("#Mesh-Test_01"))

	assert.Error(t, ValidateChannelName(""))
	assert.Error(t, ValidateChannelName("#"))
	assert.Error(t, ValidateChannelName("general"))
	assert.Error(t, ValidateChannelName("#bad channel"))
	assert.Error(t, ValidateChannelName("#"+strings.Repeat("a", MaxChannelNameLength)))
}

func TestValidateTimestamp(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	now := mock.Now()

	assert.NoError(t, ValidateTimestamp(now, mock))
	assert.NoError(t, ValidateTimestamp(now.Add(-MaxTimestampAge), mock))
	assert.NoError(t, ValidateTimestamp(now.Add(MaxTimestampDrift), mock))

	assert.ErrorIs(t, ValidateTimestamp(now.Add(-MaxTimestampAge-time.Second), mock), ErrInputRejected)
	assert.ErrorIs(t, ValidateTimestamp(now.Add(MaxTimestampDrift+time.Second), mock), ErrInputRejected)
}
