package controllers

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"autonova-rmm/backend/app/dispatch"
	jwtutil "autonova-rmm/backend/app/jwt"
	"autonova-rmm/backend/app/ledger"
	"autonova-rmm/backend/app/relay"
	"autonova-rmm/backend/app/session"
	"autonova-rmm/network"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBackend is a full in-memory stack: protocol listener, registry,
// ledger, relay and dispatcher. No database; persistence is optional by
// design.
type testBackend struct {
	signer *jwtutil.Signer
	reg    *session.Registry
	led    *ledger.Ledger
	rel    *relay.Relay
	disp   *dispatch.Dispatcher
	cmds   *CommandController
	srv    *network.Server
	host   string
	port   int
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()

	signer := &jwtutil.Signer{Secret: []byte("test-secret"), Issuer: "test", ExpMin: 5}
	reg := session.NewRegistry(time.Minute, time.Minute)
	t.Cleanup(reg.Stop)
	led := ledger.New(0)
	rel := relay.New(led, reg, nil, 32)
	disp := dispatch.New(reg, led, rel, nil, 1)
	reg.SetOnInvalidate(disp.OnInvalidate)

	proto := NewProtocolController(reg, rel, led, nil, nil, signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	require.NoError(t, ln.Close())

	srv, err := network.ListenProtocol("127.0.0.1", port, proto.HandleMessage, proto.HandleDisconnect)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	return &testBackend{
		signer: signer,
		reg:    reg,
		led:    led,
		rel:    rel,
		disp:   disp,
		cmds:   NewCommandController(disp, rel, nil),
		srv:    srv,
		host:   "127.0.0.1",
		port:   port,
	}
}

func (b *testBackend) connectAgent(t *testing.T, deviceID string) *network.Client {
	t.Helper()
	token, err := b.signer.SignDevice(deviceID)
	require.NoError(t, err)

	client, err := network.DialTCP(b.host, b.port)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.SendLogin(deviceID, token, &network.LoginPayload{Hostname: "test-host"}))
	ack := recvFrame(t, client)
	require.Equal(t, network.FrameAck, ack.Type)
	require.Equal(t, 200, ack.Code)
	return client
}

func (b *testBackend) connectObserver(t *testing.T) *network.Client {
	t.Helper()
	token, err := b.signer.Sign(1, "admin", "admin")
	require.NoError(t, err)

	client, err := network.DialTCP(b.host, b.port)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.SendSubscribe(token))
	ack := recvFrame(t, client)
	require.Equal(t, network.FrameAck, ack.Type)
	require.Equal(t, 200, ack.Code)
	return client
}

func (b *testBackend) submit(t *testing.T, deviceID, commandType string, params string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	body := map[string]any{"device_id": deviceID, "command_type": commandType}
	if params != "" {
		body["params"] = json.RawMessage(params)
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/command", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	b.cmds.Submit(w, req)
	if w.Code != http.StatusOK {
		return w, ""
	}
	var resp struct {
		CommandID string `json:"command_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp.CommandID
}

func recvFrame(t *testing.T, c *network.Client) *network.Frame {
	t.Helper()
	type result struct {
		f   *network.Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := c.Recv()
		ch <- result{f, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func recvEvent(t *testing.T, c *network.Client) network.EventPayload {
	t.Helper()
	for {
		f := recvFrame(t, c)
		if f.Type != network.FrameEvent {
			continue
		}
		var ev network.EventPayload
		require.NoError(t, json.Unmarshal(f.Payload, &ev))
		return ev
	}
}

func TestCommandRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	agent := b.connectAgent(t, "dev-a")
	observer := b.connectObserver(t)

	w, cmdID := b.submit(t, "dev-a", "health_check", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, cmdID)

	// Agent receives the envelope.
	f := recvFrame(t, agent)
	require.Equal(t, network.FrameCommand, f.Type)
	var env network.CommandEnvelope
	require.NoError(t, json.Unmarshal(f.Payload, &env))
	assert.Equal(t, cmdID, env.CommandID)
	assert.Equal(t, "health_check", env.CommandType)

	// Agent streams progress, then the result.
	require.NoError(t, agent.SendProgress("dev-a", cmdID, "info", "checking"))
	require.NoError(t, agent.SendProgress("dev-a", cmdID, "info", "almost done"))
	require.NoError(t, agent.SendResult("dev-a", cmdID, true, json.RawMessage(`{"healthy":true}`), ""))

	// Observer sees the three events in order.
	ev := recvEvent(t, observer)
	assert.Equal(t, "command_progress", ev.Event)
	assert.Equal(t, 1, ev.Seq)
	assert.Equal(t, "checking", ev.Message)

	ev = recvEvent(t, observer)
	assert.Equal(t, 2, ev.Seq)

	ev = recvEvent(t, observer)
	assert.Equal(t, "command_result", ev.Event)
	require.NotNil(t, ev.Success)
	assert.True(t, *ev.Success)

	// Ledger reflects the terminal state.
	assert.Eventually(t, func() bool {
		cmd, ok := b.led.Get(cmdID)
		return ok && cmd.Status == ledger.StatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitWhileBusyAndAfterCompletion(t *testing.T) {
	b := newTestBackend(t)
	agent := b.connectAgent(t, "dev-a")

	_, cmdID := b.submit(t, "dev-a", "deep_clean", "")
	require.NotEmpty(t, cmdID)

	// Second submission hits the inflight bound.
	w, _ := b.submit(t, "dev-a", "health_check", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// Finish the first command; the slot frees up.
	recvFrame(t, agent)
	require.NoError(t, agent.SendResult("dev-a", cmdID, true, nil, ""))
	assert.Eventually(t, func() bool {
		w, _ := b.submit(t, "dev-a", "health_check", "")
		return w.Code == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSubmitValidation(t *testing.T) {
	b := newTestBackend(t)
	b.connectAgent(t, "dev-a")

	w, _ := b.submit(t, "dev-a", "format_disk", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = b.submit(t, "dev-offline", "health_check", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = b.submit(t, "dev-a", "self_destruct", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSelfDestructDropsSession(t *testing.T) {
	b := newTestBackend(t)
	agent := b.connectAgent(t, "dev-a")

	w, cmdID := b.submit(t, "dev-a", "self_destruct", `{"confirm":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	f := recvFrame(t, agent)
	require.Equal(t, network.FrameCommand, f.Type)
	require.NoError(t, agent.SendResult("dev-a", cmdID, true, json.RawMessage(`{"destroyed":true}`), ""))

	// The session is unregistered once the wipe is confirmed.
	assert.Eventually(t, func() bool {
		s, ok := b.reg.Get("dev-a")
		return ok && !s.Online()
	}, 2*time.Second, 10*time.Millisecond)

	// And the device is no longer routable.
	assert.Eventually(t, func() bool {
		w, _ := b.submit(t, "dev-a", "health_check", "")
		return w.Code == http.StatusNotFound
	}, 2*time.Second, 20*time.Millisecond)

	cmd, ok := b.led.Get(cmdID)
	require.True(t, ok)
	assert.Equal(t, ledger.StatusSucceeded, cmd.Status)
}

func TestDisconnectOrphansInflight(t *testing.T) {
	b := newTestBackend(t)
	agent := b.connectAgent(t, "dev-a")
	observer := b.connectObserver(t)

	_, cmdID := b.submit(t, "dev-a", "scan_threats", "")
	require.NotEmpty(t, cmdID)
	recvFrame(t, agent)

	// Agent vanishes mid-command.
	agent.Close()

	ev := recvEvent(t, observer)
	assert.Equal(t, "command_result", ev.Event)
	assert.Equal(t, cmdID, ev.CommandID)
	assert.Contains(t, ev.Error, "connection lost")

	cmd, _ := b.led.Get(cmdID)
	assert.Equal(t, ledger.StatusLost, cmd.Status)
}

func TestReplayEndpoint(t *testing.T) {
	b := newTestBackend(t)
	agent := b.connectAgent(t, "dev-a")

	_, cmdID := b.submit(t, "dev-a", "generate_report", "")
	recvFrame(t, agent)
	require.NoError(t, agent.SendProgress("dev-a", cmdID, "info", "collecting"))
	require.NoError(t, agent.SendResult("dev-a", cmdID, true, json.RawMessage(`{"ok":true}`), ""))

	require.Eventually(t, func() bool {
		cmd, ok := b.led.Get(cmdID)
		return ok && cmd.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/admin/command/replay?commandid="+cmdID, nil)
	w := httptest.NewRecorder()
	b.cmds.Replay(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		CommandID string        `json:"command_id"`
		Status    string        `json:"status"`
		Events    []relay.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, cmdID, resp.CommandID)
	assert.Equal(t, string(ledger.StatusSucceeded), resp.Status)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, relay.KindProgress, resp.Events[0].Kind)
	assert.Equal(t, relay.KindResult, resp.Events[1].Kind)

	req = httptest.NewRequest(http.MethodGet, "/admin/command/replay?commandid=cmd_missing", nil)
	w = httptest.NewRecorder()
	b.cmds.Replay(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSupersessionReroutesCommands(t *testing.T) {
	b := newTestBackend(t)
	b.connectAgent(t, "dev-a")
	newAgent := b.connectAgent(t, "dev-a")

	_, cmdID := b.submit(t, "dev-a", "health_check", "")
	require.NotEmpty(t, cmdID)

	// Only the new connection receives the envelope.
	f := recvFrame(t, newAgent)
	require.Equal(t, network.FrameCommand, f.Type)
	var env network.CommandEnvelope
	require.NoError(t, json.Unmarshal(f.Payload, &env))
	assert.Equal(t, cmdID, env.CommandID)
}

func TestDeviceLoginRejected(t *testing.T) {
	b := newTestBackend(t)

	client, err := network.DialTCP(b.host, b.port)
	require.NoError(t, err)
	defer client.Close()

	// Token minted for another device must not authenticate dev-b.
	token, err := b.signer.SignDevice("dev-a")
	require.NoError(t, err)
	require.NoError(t, client.SendLogin("dev-b", token, nil))
	f := recvFrame(t, client)
	assert.Equal(t, network.FrameError, f.Type)
	assert.Equal(t, 401, f.Code)

	_, ok := b.reg.Get("dev-b")
	assert.False(t, ok)
}

func TestObserverRequiresAdminToken(t *testing.T) {
	b := newTestBackend(t)

	client, err := network.DialTCP(b.host, b.port)
	require.NoError(t, err)
	defer client.Close()

	deviceToken, err := b.signer.SignDevice("dev-a")
	require.NoError(t, err)
	require.NoError(t, client.SendSubscribe(deviceToken))
	f := recvFrame(t, client)
	assert.Equal(t, network.FrameError, f.Type)
	assert.Equal(t, 401, f.Code)
}
