package ledger

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleHappyPath(t *testing.T) {
	l := New(0)
	require.NoError(t, l.Create("cmd_1", "dev-a", "health_check", nil, 0))

	cmd, ok := l.Get("cmd_1")
	require.True(t, ok)
	assert.Equal(t, StatusQueued, cmd.Status)

	require.NoError(t, l.MarkDispatched("cmd_1"))
	cmd, _ = l.Get("cmd_1")
	assert.Equal(t, StatusDispatched, cmd.Status)

	// First progress flips dispatched -> running.
	require.NoError(t, l.AppendProgress("cmd_1", "info", "starting", nil))
	cmd, _ = l.Get("cmd_1")
	assert.Equal(t, StatusRunning, cmd.Status)

	require.NoError(t, l.Finalize("cmd_1", true, json.RawMessage(`{"ok":true}`), "", nil))
	cmd, _ = l.Get("cmd_1")
	assert.Equal(t, StatusSucceeded, cmd.Status)
	assert.False(t, cmd.CompletedAt.IsZero())
}

func TestTerminalIsFrozen(t *testing.T) {
	l := New(0)
	require.NoError(t, l.Create("cmd_2", "dev-a", "deep_clean", nil, 0))
	require.NoError(t, l.MarkDispatched("cmd_2"))
	require.NoError(t, l.Finalize("cmd_2", false, nil, "boom", nil))

	err := l.AppendProgress("cmd_2", "info", "late line", nil)
	assert.ErrorIs(t, err, ErrStaleEvent)

	err = l.Finalize("cmd_2", true, nil, "", nil)
	assert.ErrorIs(t, err, ErrStaleEvent)

	err = l.MarkLost("cmd_2", "gone", nil)
	assert.ErrorIs(t, err, ErrStaleEvent)

	cmd, _ := l.Get("cmd_2")
	assert.Equal(t, StatusFailed, cmd.Status)
	assert.Equal(t, "boom", cmd.Error)
}

func TestProgressSequenceAndEmitOrder(t *testing.T) {
	l := New(0)
	require.NoError(t, l.Create("cmd_3", "dev-a", "scan_threats", nil, 0))
	require.NoError(t, l.MarkDispatched("cmd_3"))

	var seqs []int
	emit := func(_ Command, ev ProgressEvent) { seqs = append(seqs, ev.Seq) }
	for i := 0; i < 5; i++ {
		require.NoError(t, l.AppendProgress("cmd_3", "info", "step", emit))
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seqs)

	cmd, _ := l.Get("cmd_3")
	require.Len(t, cmd.Events, 5)
	for i, ev := range cmd.Events {
		assert.Equal(t, i+1, ev.Seq)
	}
}

func TestOutstandingBound(t *testing.T) {
	l := New(0)
	require.NoError(t, l.Create("cmd_a", "dev-a", "health_check", nil, 1))

	err := l.Create("cmd_b", "dev-a", "health_check", nil, 1)
	assert.ErrorIs(t, err, ErrTooManyOutstanding)

	// Other devices are not affected by dev-a's backlog.
	assert.NoError(t, l.Create("cmd_c", "dev-b", "health_check", nil, 1))

	// A terminal command frees the slot.
	require.NoError(t, l.MarkDispatched("cmd_a"))
	require.NoError(t, l.Finalize("cmd_a", true, nil, "", nil))
	assert.NoError(t, l.Create("cmd_b", "dev-a", "health_check", nil, 1))
}

func TestDuplicateIDRejected(t *testing.T) {
	l := New(0)
	require.NoError(t, l.Create("cmd_dup", "dev-a", "health_check", nil, 0))
	err := l.Create("cmd_dup", "dev-b", "health_check", nil, 0)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestRemoveRollsBack(t *testing.T) {
	l := New(0)
	require.NoError(t, l.Create("cmd_rb", "dev-a", "health_check", nil, 1))
	l.Remove("cmd_rb")

	_, ok := l.Get("cmd_rb")
	assert.False(t, ok)
	assert.Zero(t, l.Outstanding("dev-a"))
}

func TestMarkLost(t *testing.T) {
	l := New(0)
	require.NoError(t, l.Create("cmd_l", "dev-a", "sys_fix", nil, 0))
	require.NoError(t, l.MarkDispatched("cmd_l"))

	var got Command
	require.NoError(t, l.MarkLost("cmd_l", "connection lost: disconnect", func(c Command) { got = c }))
	assert.Equal(t, StatusLost, got.Status)
	assert.Equal(t, "connection lost: disconnect", got.Error)
}

func TestNonTerminalByDevice(t *testing.T) {
	l := New(0)
	require.NoError(t, l.Create("cmd_x", "dev-a", "health_check", nil, 0))
	require.NoError(t, l.Create("cmd_y", "dev-a", "deep_clean", nil, 0))
	require.NoError(t, l.Create("cmd_z", "dev-b", "deep_clean", nil, 0))
	require.NoError(t, l.MarkDispatched("cmd_y"))
	require.NoError(t, l.Finalize("cmd_y", true, nil, "", nil))

	ids := l.NonTerminalByDevice("dev-a")
	assert.ElementsMatch(t, []string{"cmd_x"}, ids)
}

func TestPruneDropsOldTerminal(t *testing.T) {
	l := New(50 * time.Millisecond)
	defer l.Stop()
	require.NoError(t, l.Create("cmd_p", "dev-a", "health_check", nil, 0))
	require.NoError(t, l.MarkDispatched("cmd_p"))
	require.NoError(t, l.Finalize("cmd_p", true, nil, "", nil))

	assert.Eventually(t, func() bool {
		_, ok := l.Get("cmd_p")
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStaleOnUnknownID(t *testing.T) {
	l := New(0)
	assert.True(t, errors.Is(l.MarkDispatched("nope"), ErrStaleEvent))
	assert.True(t, errors.Is(l.AppendProgress("nope", "info", "x", nil), ErrStaleEvent))
	assert.True(t, errors.Is(l.Finalize("nope", true, nil, "", nil), ErrStaleEvent))
}
