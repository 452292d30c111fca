package processproxy

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niik/process-proxy/internal/wire"
)

// fakeEndpoint drives the native side of a net.Pipe pair in tests,
// standing in for a real compiled proxy process.
type fakeEndpoint struct {
	conn net.Conn
}

func (f *fakeEndpoint) expectOp(t *testing.T, want wire.Op) {
	t.Helper()
	op, err := wire.ReadOp(f.conn)
	require.NoError(t, err)
	require.Equal(t, want, op)
}

func (f *fakeEndpoint) ok(t *testing.T) {
	t.Helper()
	require.NoError(t, wire.WriteStatus(f.conn, wire.StatusOK))
}

func (f *fakeEndpoint) fail(t *testing.T, msg string) {
	t.Helper()
	require.NoError(t, wire.WriteStatus(f.conn, wire.StatusError))
	require.NoError(t, wire.WriteString(f.conn, msg))
}

func newTestConnection(t *testing.T) (*Connection, *fakeEndpoint) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })
	return newConnection(server, "tok"), &fakeEndpoint{conn: client}
}

func TestConnectionGetArgs(t *testing.T) {
	conn, ep := newTestConnection(t)

	go func() {
		ep.expectOp(t, wire.OpGetArgs)
		ep.ok(t)
		require.NoError(t, wire.WriteStringSlice(ep.conn, []string{"proxy", "arg1", "arg2", "arg3"}))
	}()

	args, err := conn.GetArgs()
	require.NoError(t, err)
	assert.Equal(t, []string{"proxy", "arg1", "arg2", "arg3"}, args)
}

func TestConnectionExitReachesExitCode42(t *testing.T) {
	conn, ep := newTestConnection(t)

	done := make(chan int32, 1)
	go func() {
		// Exit destroys the three stream facades first, so their close
		// commands reach the endpoint ahead of EXIT.
		for _, op := range []wire.Op{wire.OpCloseInput, wire.OpCloseOut, wire.OpCloseErr} {
			ep.expectOp(t, op)
			ep.ok(t)
		}
		ep.expectOp(t, wire.OpExit)
		code, err := wire.ReadI32(ep.conn)
		require.NoError(t, err)
		ep.ok(t)
		done <- code
	}()

	require.NoError(t, conn.Exit(42))
	assert.EqualValues(t, 42, <-done)
}

func TestConnectionTokenCapturedLength19(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	token := "my-test-token-12345"
	require.Len(t, token, 19)
	conn := newConnection(server, token)
	assert.Equal(t, token, conn.Token())
}

func TestConnectionGetEnvDropsEntriesWithoutEquals(t *testing.T) {
	conn, ep := newTestConnection(t)

	go func() {
		ep.expectOp(t, wire.OpGetEnv)
		ep.ok(t)
		require.NoError(t, wire.WriteStringSlice(ep.conn, []string{"FOO=bar", "MALFORMED", "BAZ=qux"}))
	}()

	env, err := conn.GetEnv()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"FOO": "bar", "BAZ": "qux"}, env)
}

func TestConnectionGetCwd(t *testing.T) {
	conn, ep := newTestConnection(t)

	go func() {
		ep.expectOp(t, wire.OpGetCwd)
		ep.ok(t)
		require.NoError(t, wire.WriteString(ep.conn, "/srv/app"))
	}()

	dir, err := conn.GetCwd()
	require.NoError(t, err)
	assert.Equal(t, "/srv/app", dir)
}

func TestConnectionIsInputConnected(t *testing.T) {
	conn, ep := newTestConnection(t)

	go func() {
		ep.expectOp(t, wire.OpIsInputConnected)
		ep.ok(t)
		require.NoError(t, wire.WriteI32(ep.conn, 1))
	}()

	connected, err := conn.IsInputConnected()
	require.NoError(t, err)
	assert.True(t, connected)
}

func TestConnectionExitAlreadyClosedRejectsLocally(t *testing.T) {
	conn, ep := newTestConnection(t)

	go func() {
		for _, op := range []wire.Op{wire.OpCloseInput, wire.OpCloseOut, wire.OpCloseErr} {
			ep.expectOp(t, op)
			ep.ok(t)
		}
		ep.expectOp(t, wire.OpExit)
		_, _ = wire.ReadI32(ep.conn)
		ep.ok(t)
	}()
	require.NoError(t, conn.Exit(0))

	_, err := conn.GetArgs()
	assert.EqualError(t, err, "process-proxy: connection closed")

	err = conn.Exit(1)
	assert.EqualError(t, err, "process-proxy: connection already closed")
}

func TestConnectionProtocolErrorDoesNotCloseConnection(t *testing.T) {
	conn, ep := newTestConnection(t)

	go func() {
		ep.expectOp(t, wire.OpGetCwd)
		ep.fail(t, "getwd: permission denied")
		ep.expectOp(t, wire.OpGetCwd)
		ep.ok(t)
		require.NoError(t, wire.WriteString(ep.conn, "/ok"))
	}()

	_, err := conn.GetCwd()
	assert.EqualError(t, err, "getwd: permission denied")
	assert.False(t, conn.Closed(), "a protocol-level error must not tear down the connection")

	dir, err := conn.GetCwd()
	require.NoError(t, err)
	assert.Equal(t, "/ok", dir)
}

func TestConnectionOnCloseFiresOnceOnTransportFailure(t *testing.T) {
	conn, ep := newTestConnection(t)

	var fired int
	conn.OnClose(func() { fired++ })

	ep.conn.Close()

	_, err := conn.GetArgs()
	assert.Error(t, err)
	assert.Equal(t, 1, fired)
	assert.True(t, conn.Closed())

	_, err = conn.GetArgs()
	assert.Error(t, err)
	assert.Equal(t, 1, fired, "close must fire exactly once")
}

func TestConnectionOutputLargePayloadRoundTrip(t *testing.T) {
	conn, ep := newTestConnection(t)

	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = 0x41
	}

	var received []byte
	go func() {
		ep.expectOp(t, wire.OpWriteOut)
		data, err := wire.ReadBytes(ep.conn)
		require.NoError(t, err)
		received = data
		ep.ok(t)
	}()

	n, err := conn.Stdout().Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, received)
}

func TestQueueForwardsCloseInputErrorOnSecondAttempt(t *testing.T) {
	// The facade's own Close is idempotent (§4.6), so this exercises the
	// queue's raw forwarding of two distinct CLOSE_INPUT submissions —
	// the shape the native endpoint's double-close rejection takes on
	// the controller side (§8 scenario 6).
	conn, ep := newTestConnection(t)

	go func() {
		ep.expectOp(t, wire.OpCloseInput)
		ep.ok(t)
		ep.expectOp(t, wire.OpCloseInput)
		ep.fail(t, "close input: already closed")
	}()

	require.NoError(t, conn.queue.submit(wire.OpCloseInput, nil, nil))
	err := conn.queue.submit(wire.OpCloseInput, nil, nil)
	assert.ErrorContains(t, err, "already closed")
}

func TestInputFacadeCloseIsIdempotent(t *testing.T) {
	conn, ep := newTestConnection(t)

	go func() {
		ep.expectOp(t, wire.OpCloseInput)
		ep.ok(t)
	}()

	require.NoError(t, conn.Input().Close())
	// A second Close must not touch the socket at all; if it did, the
	// goroutine above (which only expects one CLOSE_INPUT) would block
	// forever on the read and this test would time out.
	assert.NoError(t, conn.Input().Close())
}

func TestHandshakeRejectionKeepsConsumerSilent(t *testing.T) {
	var consumerCalled bool
	server, err := NewServer("127.0.0.1:0", func(c *Connection) {
		consumerCalled = true
	}, nil, 200*time.Millisecond)
	require.NoError(t, err)
	defer server.Close()
	go server.Serve()

	client, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write(make([]byte, wire.HandshakeSize))
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, err = client.Read(buf)
	assert.Error(t, err, "acceptor must close the socket on a bad prefix")
	assert.False(t, consumerCalled)
}
