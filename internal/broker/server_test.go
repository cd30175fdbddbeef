package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outrider-term/outrider/internal/diag"
	"github.com/outrider-term/outrider/internal/handler"
	"github.com/outrider-term/outrider/internal/protocol"
)

// startServer brings up a server on an ephemeral port, connects as the
// host, and returns the connection plus Run's eventual result.
func startServer(t *testing.T, opts Options, handlers ...handler.Handler) (net.Conn, *bufio.Reader, <-chan error) {
	t.Helper()
	reg := handler.NewRegistry()
	for _, h := range handlers {
		reg.Add(h)
	}
	srv := NewServer(reg, opts)
	require.NoError(t, srv.Listen())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(context.Background()) }()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, bufio.NewReader(conn), errCh
}

func sendLine(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	_, err := conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func readResponse(t *testing.T, conn net.Conn, r *bufio.Reader) *protocol.Response {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := r.ReadBytes('\n')
	require.NoError(t, err, "reading response line")
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(line, &resp), "response line: %s", line)
	return &resp
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop in time")
		return nil
	}
}

func echoHandler() handler.Handler {
	return handler.NewFunc("echo", func(_ context.Context, req *protocol.Request) (*protocol.Response, error) {
		return protocol.OKText("echo:" + req.Action), nil
	})
}

func TestServerRequestResponse(t *testing.T) {
	conn, r, _ := startServer(t, Options{}, echoHandler())

	sendLine(t, conn, `{"id":1,"action":"greet"}`)
	resp := readResponse(t, conn, r)

	assert.Equal(t, "1", string(resp.ID))
	assert.Equal(t, protocol.StatusOK, resp.Status)
	assert.Equal(t, "echo:greet", resp.TextValue())
}

func TestServerPreservesOpaqueIDs(t *testing.T) {
	conn, r, _ := startServer(t, Options{}, echoHandler())

	// Ids are echoed raw: strings, large numbers, and structures all
	// survive byte for byte.
	for _, id := range []string{`"req-7"`, `9007199254740993`, `{"seq":4}`} {
		sendLine(t, conn, `{"id":`+id+`,"action":"x"}`)
		resp := readResponse(t, conn, r)
		assert.Equal(t, id, string(resp.ID))
	}
}

func TestServerOutOfOrderResponses(t *testing.T) {
	gate := make(chan struct{})
	slow := handler.NewFunc("slow", func(_ context.Context, req *protocol.Request) (*protocol.Response, error) {
		if req.Action == "slow" {
			<-gate
		}
		return protocol.OKText(req.Action), nil
	})
	conn, r, _ := startServer(t, Options{}, slow)

	sendLine(t, conn, `{"id":1,"action":"slow"}`)
	sendLine(t, conn, `{"id":2,"action":"fast"}`)

	// The fast request answers first even though it arrived second.
	resp := readResponse(t, conn, r)
	assert.Equal(t, "2", string(resp.ID))
	assert.Equal(t, "fast", resp.TextValue())

	close(gate)
	resp = readResponse(t, conn, r)
	assert.Equal(t, "1", string(resp.ID))
	assert.Equal(t, "slow", resp.TextValue())
}

func TestServerShutdown(t *testing.T) {
	conn, r, errCh := startServer(t, Options{}, echoHandler())

	sendLine(t, conn, `{"id":"q","action":"shutdown"}`)
	resp := readResponse(t, conn, r)
	assert.Equal(t, `"q"`, string(resp.ID))
	assert.Equal(t, protocol.StatusOK, resp.Status)

	require.NoError(t, waitErr(t, errCh))

	// The connection is gone afterwards.
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := r.ReadBytes('\n'); err == nil {
		t.Error("connection still delivering data after shutdown")
	}
}

func TestServerMalformedRequests(t *testing.T) {
	conn, r, _ := startServer(t, Options{}, echoHandler())

	// Valid JSON but no action: the id is salvaged for correlation.
	sendLine(t, conn, `{"id":77}`)
	resp := readResponse(t, conn, r)
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, "77", string(resp.ID))
	assert.NotEmpty(t, resp.Message)

	// Not JSON at all: an error response with no id.
	sendLine(t, conn, `this is not json`)
	resp = readResponse(t, conn, r)
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Empty(t, resp.ID)

	// The server survives both and keeps answering.
	sendLine(t, conn, `{"id":3,"action":"still-alive"}`)
	resp = readResponse(t, conn, r)
	assert.Equal(t, protocol.StatusOK, resp.Status)
	assert.Equal(t, "echo:still-alive", resp.TextValue())
}

func TestServerSkipsBlankLines(t *testing.T) {
	conn, r, _ := startServer(t, Options{}, echoHandler())

	_, err := conn.Write([]byte("\n\n  \n"))
	require.NoError(t, err)
	sendLine(t, conn, `{"id":1,"action":"after-blanks"}`)

	resp := readResponse(t, conn, r)
	assert.Equal(t, "echo:after-blanks", resp.TextValue())
}

func TestServerConfigRoute(t *testing.T) {
	a := respondWith("a", protocol.OKPayload(map[string]any{"x": 1, "y": 1}))
	b := respondWith("b", protocol.OKPayload(map[string]any{"y": 2}))
	conn, r, _ := startServer(t, Options{}, a, b)

	sendLine(t, conn, `{"id":1,"action":"config"}`)
	resp := readResponse(t, conn, r)

	require.Equal(t, protocol.StatusOK, resp.Status)
	assert.Equal(t, map[string]any{"x": float64(1), "y": float64(2)}, resp.Payload)
}

func TestServerNotifyRoute(t *testing.T) {
	called := make(chan string, 1)
	probe := handler.NewFunc("probe", func(_ context.Context, req *protocol.Request) (*protocol.Response, error) {
		if name, ok := req.Payload["type"].(string); ok {
			select {
			case called <- name:
			default:
			}
		}
		return protocol.OK(), nil
	})
	conn, r, _ := startServer(t, Options{}, probe)

	sendLine(t, conn, `{"id":1,"action":"notify","payload":{"type":"turn-complete"}}`)
	resp := readResponse(t, conn, r)
	assert.Equal(t, protocol.StatusOK, resp.Status)

	select {
	case name := <-called:
		assert.Equal(t, "turn-complete", name)
	case <-time.After(5 * time.Second):
		t.Fatal("notification never reached the handler")
	}
}

func TestServerUnhandledActionSkips(t *testing.T) {
	conn, r, _ := startServer(t, Options{})

	sendLine(t, conn, `{"id":1,"action":"nobody-home"}`)
	resp := readResponse(t, conn, r)
	assert.Equal(t, protocol.StatusSkip, resp.Status)
}

func TestServerLogPathRetargetsDiagnostics(t *testing.T) {
	t.Cleanup(func() { diag.SetPath("") })
	conn, r, _ := startServer(t, Options{}, echoHandler())

	logPath := filepath.Join(t.TempDir(), "outrider.log")
	payload, err := json.Marshal(map[string]any{
		"id":       1,
		"action":   "anything",
		"log_path": logPath,
	})
	require.NoError(t, err)
	sendLine(t, conn, string(payload))
	readResponse(t, conn, r)

	assert.Equal(t, logPath, diag.Path())
}

func TestServerHostDisconnectEndsRun(t *testing.T) {
	conn, _, errCh := startServer(t, Options{}, echoHandler())
	require.NoError(t, conn.Close())
	require.NoError(t, waitErr(t, errCh))
}

func TestServerContextCancelEndsRun(t *testing.T) {
	reg := handler.NewRegistry()
	srv := NewServer(reg, Options{})
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Make sure the connection is served before canceling.
	sendLine(t, conn, `{"id":1,"action":"ping"}`)
	r := bufio.NewReader(conn)
	readResponse(t, conn, r)

	cancel()
	require.NoError(t, waitErr(t, errCh))
}

func TestServerContextCancelBeforeConnect(t *testing.T) {
	reg := handler.NewRegistry()
	srv := NewServer(reg, Options{})
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	// Cancel while Run is still waiting for the host to dial.
	cancel()
	require.NoError(t, waitErr(t, errCh))
}

func TestServerRefusesSecondConnection(t *testing.T) {
	conn, r, _ := startServer(t, Options{}, echoHandler())

	// One round trip guarantees the accept completed and the listener is
	// closed.
	sendLine(t, conn, `{"id":1,"action":"ping"}`)
	readResponse(t, conn, r)

	_, err := net.DialTimeout("tcp", conn.RemoteAddr().String(), time.Second)
	assert.Error(t, err, "second connection must be refused")
}
