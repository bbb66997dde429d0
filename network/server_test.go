package network

import (
	"bufio"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	f := &Frame{
		Type:     FrameProgress,
		DeviceID: "dev-a",
		Payload:  json.RawMessage(`{"command_id":"cmd_1","level":"info","message":"hi"}`),
	}
	b, err := EncodeFrame(f)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), b[len(b)-1])

	got, err := DecodeFrame(b[:len(b)-1])
	require.NoError(t, err)
	assert.Equal(t, f.Type, got.Type)
	assert.Equal(t, f.DeviceID, got.DeviceID)
	assert.JSONEq(t, string(f.Payload), string(got.Payload))
}

func TestDecodeMalformed(t *testing.T) {
	_, err := DecodeFrame([]byte("{not json"))
	assert.Error(t, err)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestServerEchoAndDisconnect(t *testing.T) {
	port := freePort(t)

	var mu sync.Mutex
	var received []*Frame
	disconnected := make(chan struct{})

	handler := func(c *Conn, f *Frame) {
		mu.Lock()
		received = append(received, f)
		mu.Unlock()
		_ = c.SendAck(200, "ok")
	}
	srv, err := ListenProtocol("127.0.0.1", port, handler, func(*Conn) { close(disconnected) })
	require.NoError(t, err)
	defer srv.Close()

	client, err := DialTCP("127.0.0.1", port)
	require.NoError(t, err)

	require.NoError(t, client.SendHeartbeat("dev-a"))
	ack, err := client.Recv()
	require.NoError(t, err)
	assert.Equal(t, FrameAck, ack.Type)
	assert.Equal(t, 200, ack.Code)

	mu.Lock()
	require.Len(t, received, 1)
	assert.Equal(t, FrameHeartbeat, received[0].Type)
	assert.Equal(t, "dev-a", received[0].DeviceID)
	mu.Unlock()

	client.Close()
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect handler never fired")
	}
}

func TestServerSurvivesMalformedFrame(t *testing.T) {
	port := freePort(t)

	srv, err := ListenProtocol("127.0.0.1", port, func(c *Conn, f *Frame) {
		_ = c.SendAck(200, "ok")
	}, nil)
	require.NoError(t, err)
	defer srv.Close()

	raw, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer raw.Close()

	_, err = raw.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	// The server answers with an error frame and keeps the connection.
	client := &Client{conn: raw, r: bufio.NewReader(raw)}
	errFrame, err := client.Recv()
	require.NoError(t, err)
	assert.Equal(t, FrameError, errFrame.Type)
	assert.Equal(t, 400, errFrame.Code)

	require.NoError(t, client.SendHeartbeat("dev-a"))
	ack, err := client.Recv()
	require.NoError(t, err)
	assert.Equal(t, FrameAck, ack.Type)
}

func TestConnSendAfterClose(t *testing.T) {
	port := freePort(t)

	connCh := make(chan *Conn, 1)
	srv, err := ListenProtocol("127.0.0.1", port, func(c *Conn, f *Frame) {
		connCh <- c
	}, nil)
	require.NoError(t, err)
	defer srv.Close()

	client, err := DialTCP("127.0.0.1", port)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.SendHeartbeat("dev-a"))

	var c *Conn
	select {
	case c = <-connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the frame")
	}

	require.NoError(t, c.Close())
	err = c.Send([]byte("late\n"))
	assert.ErrorIs(t, err, ErrConnClosed)
	assert.False(t, c.IsOpen())
}
