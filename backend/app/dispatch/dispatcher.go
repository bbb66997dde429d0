package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"autonova-rmm/backend/app/ledger"
	"autonova-rmm/backend/app/relay"
	"autonova-rmm/backend/app/session"
	"autonova-rmm/backend/global"
	"autonova-rmm/network"

	"github.com/google/uuid"
)

var (
	// ErrAgentOffline means no live session existed at submission time.
	ErrAgentOffline = errors.New("agent offline")

	// ErrUnknownCommandType rejects types outside the fixed set.
	ErrUnknownCommandType = errors.New("unknown command type")

	// ErrDeviceBusy means the outstanding-command bound was hit.
	ErrDeviceBusy = errors.New("device busy")

	// ErrConfirmRequired guards destructive commands.
	ErrConfirmRequired = errors.New("confirmation required")
)

// commandTypes is the closed set of operations a device understands.
var commandTypes = map[string]struct{}{
	"health_check": {}, "deep_clean": {}, "sys_fix": {}, "full_optimize": {},
	"self_destruct": {}, "view_processes": {}, "analyze_disk": {},
	"force_delete": {}, "clean_registry": {}, "speed_up_boot": {},
	"network_reset": {}, "generate_report": {}, "list_programs": {},
	"force_uninstall": {}, "kill_process": {}, "browse_files": {},
	"view_downloads": {}, "view_recycle_bin": {}, "delete_file": {},
	"scan_browser_history": {}, "scan_threats": {}, "scan_network": {},
}

// KnownType reports whether t is a recognized command type.
func KnownType(t string) bool {
	_, ok := commandTypes[t]
	return ok
}

// CommandTypes lists the recognized types, sorted lexically.
func CommandTypes() []string {
	out := make([]string, 0, len(commandTypes))
	for t := range commandTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// NewCommandID allocates a fresh correlation identifier (cmd_ + 12 hex).
func NewCommandID() string {
	return "cmd_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Recorder mirrors submission lifecycle into durable storage. Implemented
// by services.CommandLogService; nil-safe at every call site.
type Recorder interface {
	CommandQueued(cmd ledger.Command)
	CommandDispatched(id string)
}

// Dispatcher validates submissions and routes envelopes to device sessions.
type Dispatcher struct {
	registry *session.Registry
	ledger   *ledger.Ledger
	relay    *relay.Relay
	recorder Recorder

	maxInflight atomic.Int32
}

func New(reg *session.Registry, led *ledger.Ledger, rel *relay.Relay, rec Recorder, maxInflight int) *Dispatcher {
	d := &Dispatcher{registry: reg, ledger: led, relay: rel, recorder: rec}
	if maxInflight <= 0 {
		maxInflight = 1
	}
	d.maxInflight.Store(int32(maxInflight))
	return d
}

// SetMaxInflight adjusts the per-device outstanding bound at runtime.
func (d *Dispatcher) SetMaxInflight(n int) {
	if n > 0 {
		d.maxInflight.Store(int32(n))
	}
}

// Submit validates and routes one command. It returns as soon as the
// envelope is queued on the device's outbound channel; execution progress
// arrives later through the relay. Submission errors leave no ledger entry.
func (d *Dispatcher) Submit(deviceID, commandType string, params json.RawMessage) (string, error) {
	if !KnownType(commandType) {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommandType, commandType)
	}
	if commandType == "self_destruct" && !confirmed(params) {
		return "", fmt.Errorf("%w: self_destruct requires params.confirm=true", ErrConfirmRequired)
	}

	sess, ok := d.registry.Get(deviceID)
	if !ok || !sess.Online() {
		return "", fmt.Errorf("%w: %s", ErrAgentOffline, deviceID)
	}

	id := NewCommandID()
	if err := d.ledger.Create(id, deviceID, commandType, params, int(d.maxInflight.Load())); err != nil {
		if errors.Is(err, ledger.ErrTooManyOutstanding) {
			return "", fmt.Errorf("%w: %s", ErrDeviceBusy, deviceID)
		}
		return "", err
	}

	envelope, err := json.Marshal(network.CommandEnvelope{
		CommandID:   id,
		CommandType: commandType,
		Params:      params,
	})
	if err != nil {
		d.ledger.Remove(id)
		return "", err
	}
	frame, err := network.EncodeFrame(&network.Frame{Type: network.FrameCommand, Payload: envelope})
	if err != nil {
		d.ledger.Remove(id)
		return "", err
	}

	if err := sess.Conn.Send(frame); err != nil {
		// The entry is rolled back so a failed submission is
		// indistinguishable from one that never happened.
		d.ledger.Remove(id)
		if errors.Is(err, network.ErrSendQueueFull) {
			return "", fmt.Errorf("%w: outbound queue full for %s", ErrDeviceBusy, deviceID)
		}
		return "", fmt.Errorf("%w: %s: %v", ErrAgentOffline, deviceID, err)
	}

	if err := d.ledger.MarkDispatched(id); err != nil {
		// The device session was invalidated between hand-off and the
		// status flip; the orphaner owns the entry now.
		global.Logger.Warn().Err(err).Str("command", id).Msg("dispatched mark skipped")
	}

	global.Logger.Info().
		Str("device", deviceID).
		Str("command", id).
		Str("type", commandType).
		Msg("command dispatched")

	if d.recorder != nil {
		if cmd, ok := d.ledger.Get(id); ok {
			d.recorder.CommandQueued(cmd)
			d.recorder.CommandDispatched(id)
		}
	}
	return id, nil
}

// OnInvalidate transitions every non-terminal command of an invalidated
// device to lost and reports each as a terminal result. This is the only
// path to the lost status.
func (d *Dispatcher) OnInvalidate(deviceID string, reason session.InvalidateReason) {
	ids := d.ledger.NonTerminalByDevice(deviceID)
	if len(ids) == 0 {
		return
	}
	global.Logger.Warn().
		Str("device", deviceID).
		Str("reason", string(reason)).
		Int("orphaned", len(ids)).
		Msg("orphaning in-flight commands")
	for _, id := range ids {
		d.relay.PostLost(id, "connection lost: "+string(reason))
	}
}

func confirmed(params json.RawMessage) bool {
	if len(params) == 0 {
		return false
	}
	var p struct {
		Confirm bool `json:"confirm"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return false
	}
	return p.Confirm
}
