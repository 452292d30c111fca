//go:build integration

// Integration tests for the process-proxy protocol end to end: a real
// compiled proxy binary is spawned as a child process, dials back to an
// in-process Server, and the test drives it through the public
// processproxy API.
//
// Run with:
//
//	go test -tags=integration -v ./test/
package integration_test

import (
	"bytes"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	processproxy "github.com/niik/process-proxy"
)

var proxyBin string

func TestMain(m *testing.M) {
	tmpBin, err := os.MkdirTemp("", "process-proxy-inttest-bin-*")
	if err != nil {
		panic("MkdirTemp: " + err.Error())
	}
	defer os.RemoveAll(tmpBin)

	proxyBin = filepath.Join(tmpBin, "proxy")
	cmd := exec.Command("go", "build", "-o", proxyBin, "./cmd/proxy")
	cmd.Dir = moduleRoot()
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		panic("build ./cmd/proxy: " + err.Error())
	}

	os.Exit(m.Run())
}

func moduleRoot() string {
	abs, err := filepath.Abs("..")
	if err != nil {
		panic(err)
	}
	return abs
}

// spawnProxy starts a Server, launches a real proxy child pointed at it
// via env vars, and returns the accepted Connection along with the
// running *exec.Cmd for the caller to wait on.
func spawnProxy(t *testing.T, extraArgs ...string) (*processproxy.Connection, *exec.Cmd) {
	t.Helper()

	accepted := make(chan *processproxy.Connection, 1)
	server, err := processproxy.NewServer("127.0.0.1:0", func(c *processproxy.Connection) {
		accepted <- c
	}, nil, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })
	go server.Serve()

	_, port, err := net.SplitHostPort(server.Addr().String())
	require.NoError(t, err)

	cmd := exec.Command(proxyBin, extraArgs...)
	cmd.Env = append(os.Environ(),
		"PROCESS_PROXY_PORT="+port,
		"PROCESS_PROXY_TOKEN=my-test-token-12345",
	)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	select {
	case c := <-accepted:
		return c, cmd
	case <-time.After(5 * time.Second):
		t.Fatal("proxy never connected back")
		return nil, nil
	}
}

func TestBasicRoundTripAndExit(t *testing.T) {
	conn, cmd := spawnProxy(t, "arg1", "arg2", "arg3")

	assert.Equal(t, "my-test-token-12345", conn.Token())

	args, err := conn.GetArgs()
	require.NoError(t, err)
	require.Len(t, args, 4)
	assert.Equal(t, []string{"arg1", "arg2", "arg3"}, args[1:])

	require.NoError(t, conn.Exit(42))

	err = cmd.Wait()
	require.Error(t, err)
	exitErr, ok := err.(*exec.ExitError)
	require.True(t, ok)
	assert.Equal(t, 42, exitErr.ExitCode())
}

func TestLargePayloadRoundTrip(t *testing.T) {
	conn, cmd := spawnProxy(t)
	defer cmd.Wait()
	defer conn.Exit(0)

	out := bytes.Repeat([]byte{0x41}, 1<<20)
	n, err := conn.Stdout().Write(out)
	require.NoError(t, err)
	assert.Equal(t, len(out), n)

	errBuf := bytes.Repeat([]byte{0x42}, 1<<20)
	n, err = conn.Stderr().Write(errBuf)
	require.NoError(t, err)
	assert.Equal(t, len(errBuf), n)
}

func TestGetCwdAndEnv(t *testing.T) {
	conn, cmd := spawnProxy(t)
	defer cmd.Wait()
	defer conn.Exit(0)

	wd, err := conn.GetCwd()
	require.NoError(t, err)
	assert.NotEmpty(t, wd)

	env, err := conn.GetEnv()
	require.NoError(t, err)
	assert.Contains(t, env, "PROCESS_PROXY_PORT")
}
