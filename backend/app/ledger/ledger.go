package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"autonova-rmm/backend/global"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusDispatched Status = "dispatched"
	StatusRunning    Status = "running"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusLost       Status = "lost"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusLost
}

var (
	// ErrStaleEvent marks progress/results referencing an unknown or
	// already-terminal command. Logged and dropped, never fatal.
	ErrStaleEvent = errors.New("stale event: unknown or terminal command")

	// ErrDuplicateID rejects reuse of a command identifier.
	ErrDuplicateID = errors.New("duplicate command id")

	// ErrTooManyOutstanding rejects a create beyond the per-device bound.
	ErrTooManyOutstanding = errors.New("too many outstanding commands for device")
)

// ProgressEvent is one ordered log line for a command. Seq starts at 1 and
// is strictly increasing per command.
type ProgressEvent struct {
	Seq     int       `json:"seq"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Command is a snapshot of one ledger entry. Events are ordered by Seq.
type Command struct {
	ID          string          `json:"id"`
	DeviceID    string          `json:"device_id"`
	Type        string          `json:"type"`
	Params      json.RawMessage `json:"params,omitempty"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt time.Time       `json:"completed_at,omitzero"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Events      []ProgressEvent `json:"events,omitempty"`
}

type entry struct {
	mu  sync.Mutex
	cmd Command
}

func (e *entry) snapshot() Command {
	c := e.cmd
	c.Events = append([]ProgressEvent(nil), e.cmd.Events...)
	return c
}

// Ledger is the authoritative record of every submitted command. The map
// lock only guards lookups and inserts; each entry carries its own mutex so
// commands on different devices never contend.
type Ledger struct {
	mu   sync.RWMutex
	cmds map[string]*entry

	retention time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// New creates a ledger. Terminal entries are pruned once they are older
// than retention; retention <= 0 disables pruning.
func New(retention time.Duration) *Ledger {
	l := &Ledger{
		cmds:      make(map[string]*entry),
		retention: retention,
		stopCh:    make(chan struct{}),
	}
	if retention > 0 {
		go l.pruneLoop()
	}
	return l
}

// Create inserts a fresh entry in status queued. maxOutstanding bounds the
// device's concurrent non-terminal commands; 0 means unbounded. The check
// and the insert happen under one lock so concurrent submissions cannot
// overshoot the bound.
func (l *Ledger) Create(id, deviceID, cmdType string, params json.RawMessage, maxOutstanding int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.cmds[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if maxOutstanding > 0 && l.outstandingLocked(deviceID) >= maxOutstanding {
		return fmt.Errorf("%w: %s", ErrTooManyOutstanding, deviceID)
	}
	l.cmds[id] = &entry{cmd: Command{
		ID:        id,
		DeviceID:  deviceID,
		Type:      cmdType,
		Params:    params,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}}
	return nil
}

// Remove deletes an entry outright. Used to roll back a submission whose
// hand-off to the device failed, so failed submissions leave no record.
func (l *Ledger) Remove(id string) {
	l.mu.Lock()
	delete(l.cmds, id)
	l.mu.Unlock()
}

// Get returns a snapshot of the entry.
func (l *Ledger) Get(id string) (Command, bool) {
	e := l.lookup(id)
	if e == nil {
		return Command{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(), true
}

// MarkDispatched moves queued -> dispatched after the envelope was handed
// to the device's outbound channel.
func (l *Ledger) MarkDispatched(id string) error {
	e := l.lookup(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrStaleEvent, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd.Status != StatusQueued {
		return fmt.Errorf("cannot dispatch command %s in status %s", id, e.cmd.Status)
	}
	e.cmd.Status = StatusDispatched
	return nil
}

// AppendProgress appends one ordered event. The first progress event moves
// a dispatched command to running. If emit is non-nil it runs while the
// entry lock is held, which lets the relay broadcast in exact append order.
func (l *Ledger) AppendProgress(id, level, message string, emit func(Command, ProgressEvent)) error {
	e := l.lookup(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrStaleEvent, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrStaleEvent, id)
	}
	if e.cmd.Status == StatusDispatched {
		e.cmd.Status = StatusRunning
	}
	ev := ProgressEvent{
		Seq:     len(e.cmd.Events) + 1,
		Level:   level,
		Message: message,
		At:      time.Now(),
	}
	e.cmd.Events = append(e.cmd.Events, ev)
	if emit != nil {
		emit(e.snapshot(), ev)
	}
	return nil
}

// Finalize moves the command to succeeded or failed and freezes it.
func (l *Ledger) Finalize(id string, success bool, result json.RawMessage, errMsg string, emit func(Command)) error {
	status := StatusFailed
	if success {
		status = StatusSucceeded
	}
	return l.terminate(id, status, result, errMsg, emit)
}

// MarkLost moves the command to lost. Only session invalidation of the
// owning device reaches this; there is no cancellation path.
func (l *Ledger) MarkLost(id, errMsg string, emit func(Command)) error {
	return l.terminate(id, StatusLost, nil, errMsg, emit)
}

func (l *Ledger) terminate(id string, status Status, result json.RawMessage, errMsg string, emit func(Command)) error {
	e := l.lookup(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrStaleEvent, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrStaleEvent, id)
	}
	e.cmd.Status = status
	e.cmd.Result = result
	e.cmd.Error = errMsg
	e.cmd.CompletedAt = time.Now()
	if emit != nil {
		emit(e.snapshot())
	}
	return nil
}

// NonTerminalByDevice lists command ids still in flight for a device.
func (l *Ledger) NonTerminalByDevice(deviceID string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	for id, e := range l.cmds {
		e.mu.Lock()
		match := e.cmd.DeviceID == deviceID && !e.cmd.Status.Terminal()
		e.mu.Unlock()
		if match {
			out = append(out, id)
		}
	}
	return out
}

// Outstanding counts non-terminal commands for a device.
func (l *Ledger) Outstanding(deviceID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.outstandingLocked(deviceID)
}

func (l *Ledger) outstandingLocked(deviceID string) int {
	n := 0
	for _, e := range l.cmds {
		e.mu.Lock()
		if e.cmd.DeviceID == deviceID && !e.cmd.Status.Terminal() {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// Stop halts the retention janitor.
func (l *Ledger) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Ledger) lookup(id string) *entry {
	l.mu.RLock()
	e := l.cmds[id]
	l.mu.RUnlock()
	return e
}

func (l *Ledger) pruneLoop() {
	ticker := time.NewTicker(l.retention / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.prune()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Ledger) prune() {
	cutoff := time.Now().Add(-l.retention)
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, e := range l.cmds {
		e.mu.Lock()
		expired := e.cmd.Status.Terminal() && e.cmd.CompletedAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(l.cmds, id)
			global.Logger.Debug().Str("command", id).Msg("pruned terminal command from ledger")
		}
	}
}
