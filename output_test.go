package processproxy

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niik/process-proxy/internal/wire"
)

func TestOutputZeroLengthWriteSucceeds(t *testing.T) {
	conn, ep := newTestConnection(t)

	go func() {
		ep.expectOp(t, wire.OpWriteErr)
		data, err := wire.ReadBytes(ep.conn)
		require.NoError(t, err)
		assert.Empty(t, data)
		ep.ok(t)
	}()

	n, err := conn.Stderr().Write(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestOutputCloseIsIdempotent(t *testing.T) {
	conn, ep := newTestConnection(t)

	go func() {
		ep.expectOp(t, wire.OpCloseOut)
		ep.ok(t)
	}()

	require.NoError(t, conn.Stdout().Close())
	// Second call must not touch the socket — the goroutine above only
	// answers one CLOSE_OUT, so a real second send would hang the test.
	assert.NoError(t, conn.Stdout().Close())
}

func TestOutputStderrRoundTrip(t *testing.T) {
	conn, ep := newTestConnection(t)

	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = 0x42
	}

	var received []byte
	go func() {
		ep.expectOp(t, wire.OpWriteErr)
		data, err := wire.ReadBytes(ep.conn)
		require.NoError(t, err)
		received = data
		ep.ok(t)
	}()

	n, err := conn.Stderr().Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, received)
}
