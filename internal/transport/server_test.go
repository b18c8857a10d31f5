package transport

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/browserd/browserd/internal/browrpc"
	"github.com/browserd/browserd/internal/state"
)

func startTestServer(t *testing.T, handler Handler) (addr string, stop func()) {
	t.Helper()
	base := t.TempDir()
	t.Setenv(state.BaseDirEnv, base)
	_, err := state.EnsureInstanceDir(state.DefaultInstanceID)
	require.NoError(t, err)

	token, err := state.GenerateToken()
	require.NoError(t, err)
	require.NoError(t, state.WriteToken(state.DefaultInstanceID, token))

	srv := New(state.DefaultInstanceID, handler, nil)
	port, err := srv.Start(0)
	require.NoError(t, err)

	return fmt.Sprintf("127.0.0.1:%d", port), func() { _ = srv.Stop() }
}

func sendLine(t *testing.T, conn net.Conn, line string) string {
	t.Helper()
	_, err := conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
	resp, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return resp
}

func TestUnauthorizedRequestNeverInvokesHandler(t *testing.T) {
	invoked := false
	addr, stop := startTestServer(t, func(req browrpc.Request) browrpc.Response {
		invoked = true
		return browrpc.OK(nil)
	})
	defer stop()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	resp := sendLine(t, conn, `{"cmd":"status"}`)
	require.JSONEq(t, `{"status":"error","message":"Unauthorized - invalid or missing token","code":"auth"}`, resp)
	require.False(t, invoked, "handler must not run on auth failure")
}

func TestMalformedJSONReturnsParseErrorAndKeepsConnectionOpen(t *testing.T) {
	addr, stop := startTestServer(t, func(req browrpc.Request) browrpc.Response {
		return browrpc.OK(map[string]any{"ok": true})
	})
	defer stop()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	reader := bufio.NewReader(conn)

	_, err = conn.Write([]byte("{not json}\n"))
	require.NoError(t, err)
	resp, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, resp, `"status":"error"`)
	require.Contains(t, resp, `"code":"parse"`)

	// Connection stays open: a subsequent valid-but-unauthenticated message
	// still gets an in-band reply rather than a closed socket.
	_, err = conn.Write([]byte(`{"cmd":"status"}` + "\n"))
	require.NoError(t, err)
	resp, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, resp, `"code":"auth"`)
}

func TestAuthorizedRequestDispatchesAndRespondsOK(t *testing.T) {
	token, addr, stop := "", "", func() {}
	addr, stop = startTestServer(t, func(req browrpc.Request) browrpc.Response {
		require.Equal(t, "status", req.Cmd)
		return browrpc.OK(map[string]any{"running": false})
	})
	defer stop()

	tok, err := state.ReadToken(state.DefaultInstanceID)
	require.NoError(t, err)
	token = tok

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	resp := sendLine(t, conn, fmt.Sprintf(`{"token":%q,"cmd":"status"}`, token))
	require.JSONEq(t, `{"status":"ok","data":{"running":false}}`, resp)
}

func TestPerConnectionResponsesAreSequential(t *testing.T) {
	addr, stop := startTestServer(t, func(req browrpc.Request) browrpc.Response {
		var n int
		req.Field("n", &n)
		return browrpc.OK(map[string]any{"echo": n})
	})
	defer stop()

	token, err := state.ReadToken(state.DefaultInstanceID)
	require.NoError(t, err)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for i := 0; i < 5; i++ {
		_, err := conn.Write([]byte(fmt.Sprintf(`{"token":%q,"cmd":"echo","n":%d}`+"\n", token, i)))
		require.NoError(t, err)
		resp, err := reader.ReadString('\n')
		require.NoError(t, err)
		require.Contains(t, resp, fmt.Sprintf(`"echo":%d`, i))
	}
}
