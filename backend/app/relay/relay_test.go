package relay

import (
	"encoding/json"
	"testing"
	"time"

	"autonova-rmm/backend/app/ledger"
	"autonova-rmm/backend/app/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{}

func (nopConn) Send([]byte) error { return nil }
func (nopConn) Close() error      { return nil }

func newTestRelay(t *testing.T, bufSize int) (*session.Registry, *ledger.Ledger, *Relay) {
	t.Helper()
	reg := session.NewRegistry(time.Minute, time.Minute)
	t.Cleanup(reg.Stop)
	led := ledger.New(0)
	return reg, led, New(led, reg, nil, bufSize)
}

func seedCommand(t *testing.T, led *ledger.Ledger, id, deviceID string) {
	t.Helper()
	require.NoError(t, led.Create(id, deviceID, "health_check", nil, 0))
	require.NoError(t, led.MarkDispatched(id))
}

func drain(t *testing.T, sub *Subscription, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	for len(out) < n {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestProgressBroadcastOrder(t *testing.T) {
	reg, led, r := newTestRelay(t, 16)
	reg.Register("dev-a", nopConn{})
	seedCommand(t, led, "cmd_1", "dev-a")

	sub := r.Subscribe()
	defer sub.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, r.PostProgress("dev-a", "cmd_1", "info", "step"))
	}
	events := drain(t, sub, 5)
	for i, ev := range events {
		assert.Equal(t, KindProgress, ev.Kind)
		assert.Equal(t, i+1, ev.Seq)
		assert.Equal(t, "cmd_1", ev.CommandID)
	}
}

func TestResultBroadcastAndFreeze(t *testing.T) {
	reg, led, r := newTestRelay(t, 16)
	reg.Register("dev-a", nopConn{})
	seedCommand(t, led, "cmd_1", "dev-a")

	sub := r.Subscribe()
	defer sub.Close()

	data := json.RawMessage(`{"cpu":12}`)
	require.NoError(t, r.PostResult("dev-a", "cmd_1", true, data, ""))

	ev := drain(t, sub, 1)[0]
	assert.Equal(t, KindResult, ev.Kind)
	assert.True(t, ev.Success)
	assert.Equal(t, ledger.StatusSucceeded, ev.Status)
	assert.JSONEq(t, string(data), string(ev.Data))

	// Late progress on a terminal command is rejected and not broadcast.
	err := r.PostProgress("dev-a", "cmd_1", "info", "late")
	assert.ErrorIs(t, err, ledger.ErrStaleEvent)
	select {
	case extra := <-sub.Events():
		t.Fatalf("unexpected event after terminal: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOwnershipEnforced(t *testing.T) {
	reg, led, r := newTestRelay(t, 16)
	reg.Register("dev-a", nopConn{})
	reg.Register("dev-b", nopConn{})
	seedCommand(t, led, "cmd_1", "dev-a")

	err := r.PostProgress("dev-b", "cmd_1", "info", "spoof")
	assert.ErrorIs(t, err, ledger.ErrStaleEvent)

	err = r.PostResult("dev-b", "cmd_1", true, nil, "")
	assert.ErrorIs(t, err, ledger.ErrStaleEvent)

	cmd, _ := led.Get("cmd_1")
	assert.Equal(t, ledger.StatusDispatched, cmd.Status)
}

func TestUnknownCommandDropped(t *testing.T) {
	reg, _, r := newTestRelay(t, 16)
	reg.Register("dev-a", nopConn{})

	assert.ErrorIs(t, r.PostProgress("dev-a", "cmd_missing", "info", "x"), ledger.ErrStaleEvent)
	assert.ErrorIs(t, r.PostResult("dev-a", "cmd_missing", true, nil, ""), ledger.ErrStaleEvent)
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	reg, led, r := newTestRelay(t, 2)
	reg.Register("dev-a", nopConn{})
	seedCommand(t, led, "cmd_1", "dev-a")

	sub := r.Subscribe()
	defer sub.Close()

	// Nobody reads; buffer of 2 overflows on the third event.
	for i := 0; i < 5; i++ {
		require.NoError(t, r.PostProgress("dev-a", "cmd_1", "info", "step"))
	}
	assert.EqualValues(t, 3, sub.Dropped())

	// The two newest events survived.
	events := drain(t, sub, 2)
	assert.Equal(t, 4, events[0].Seq)
	assert.Equal(t, 5, events[1].Seq)
}

func TestSubscriberIsolation(t *testing.T) {
	reg, led, r := newTestRelay(t, 2)
	reg.Register("dev-a", nopConn{})
	seedCommand(t, led, "cmd_1", "dev-a")

	slow := r.Subscribe()
	defer slow.Close()
	fast := r.Subscribe()
	defer fast.Close()

	done := make(chan []Event)
	go func() {
		var got []Event
		for ev := range fast.Events() {
			got = append(got, ev)
			if len(got) == 5 {
				break
			}
		}
		done <- got
	}()

	for i := 0; i < 5; i++ {
		require.NoError(t, r.PostProgress("dev-a", "cmd_1", "info", "step"))
	}

	select {
	case got := <-done:
		// The fast reader saw everything even though slow overflowed.
		assert.Len(t, got, 5)
		assert.Zero(t, fast.Dropped())
	case <-time.After(2 * time.Second):
		t.Fatal("fast subscriber starved")
	}
	assert.NotZero(t, slow.Dropped())
}

func TestReplay(t *testing.T) {
	reg, led, r := newTestRelay(t, 16)
	reg.Register("dev-a", nopConn{})
	seedCommand(t, led, "cmd_1", "dev-a")

	require.NoError(t, r.PostProgress("dev-a", "cmd_1", "info", "one"))
	require.NoError(t, r.PostProgress("dev-a", "cmd_1", "warn", "two"))

	cmd, events, ok := r.Replay("cmd_1")
	require.True(t, ok)
	assert.Equal(t, ledger.StatusRunning, cmd.Status)
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Seq)
	assert.Equal(t, 2, events[1].Seq)

	require.NoError(t, r.PostResult("dev-a", "cmd_1", false, nil, "broke"))
	_, events, ok = r.Replay("cmd_1")
	require.True(t, ok)
	require.Len(t, events, 3)
	last := events[2]
	assert.Equal(t, KindResult, last.Kind)
	assert.False(t, last.Success)
	assert.Equal(t, "broke", last.Error)

	_, _, ok = r.Replay("cmd_missing")
	assert.False(t, ok)
}

func TestPostLost(t *testing.T) {
	reg, led, r := newTestRelay(t, 16)
	reg.Register("dev-a", nopConn{})
	seedCommand(t, led, "cmd_1", "dev-a")

	sub := r.Subscribe()
	defer sub.Close()

	r.PostLost("cmd_1", "connection lost: heartbeat timeout")
	ev := drain(t, sub, 1)[0]
	assert.Equal(t, KindResult, ev.Kind)
	assert.Equal(t, ledger.StatusLost, ev.Status)
	assert.False(t, ev.Success)
	assert.Contains(t, ev.Error, "heartbeat timeout")

	// Idempotent on terminal entries.
	r.PostLost("cmd_1", "again")
	cmd, _ := led.Get("cmd_1")
	assert.Equal(t, "connection lost: heartbeat timeout", cmd.Error)
}

func TestClosedSubscriptionStopsReceiving(t *testing.T) {
	reg, led, r := newTestRelay(t, 16)
	reg.Register("dev-a", nopConn{})
	seedCommand(t, led, "cmd_1", "dev-a")

	sub := r.Subscribe()
	sub.Close()
	sub.Close() // double close is safe

	require.NoError(t, r.PostProgress("dev-a", "cmd_1", "info", "step"))
	select {
	case ev := <-sub.Events():
		t.Fatalf("closed subscription got event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
