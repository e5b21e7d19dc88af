package localnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionPairRoundTrip(t *testing.T) {
	client, hub, err := newSessionPair()
	require.NoError(t, err)

	// Hub to client.
	sealed, err := hub.Seal([]byte("frame from hub"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("frame from hub"), sealed, "payload should be encrypted on the wire")

	opened, err := client.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("frame from hub"), opened)

	// Client to hub.
	sealed, err = client.Seal([]byte("frame from client"))
	require.NoError(t, err)
	opened, err = hub.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("frame from client"), opened)
}

func TestSessionOrderedDelivery(t *testing.T) {
	client, hub, err := newSessionPair()
	require.NoError(t, err)

	// Noise cipher states advance a nonce per message; sealing and opening
	// in the same order must keep working across many frames.
	for i := 0; i < 50; i++ {
		payload := []byte{byte(i)}
		sealed, err := hub.Seal(payload)
		require.NoError(t, err)
		opened, err := client.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, payload, opened)
	}
}

func TestSessionTamperedCiphertext(t *testing.T) {
	client, hub, err := newSessionPair()
	require.NoError(t, err)

	sealed, err := hub.Seal([]byte("payload"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = client.Open(sealed)
	assert.Error(t, err)
}

func TestSessionClose(t *testing.T) {
	client, hub, err := newSessionPair()
	require.NoError(t, err)

	client.Close()
	client.Close() // idempotent

	_, err = client.Seal([]byte("x"))
	assert.ErrorIs(t, err, ErrSessionClosed)

	sealed, err := hub.Seal([]byte("x"))
	require.NoError(t, err)
	_, err = client.Open(sealed)
	assert.ErrorIs(t, err, ErrSessionClosed)
}
