package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"autonova-rmm/backend/app/ledger"
	"autonova-rmm/backend/app/session"
	"autonova-rmm/backend/global"

	"github.com/redis/go-redis/v9"
)

// Kind tags the closed set of event variants.
type Kind string

const (
	KindProgress Kind = "command_progress"
	KindResult   Kind = "command_result"
)

// Event is one broadcast unit. Progress events carry Seq/Level/Message;
// result events carry Success/Data/Error/Status.
type Event struct {
	Kind      Kind            `json:"event"`
	CommandID string          `json:"command_id"`
	DeviceID  string          `json:"device_id"`
	Seq       int             `json:"seq,omitempty"`
	Level     string          `json:"level,omitempty"`
	Message   string          `json:"message,omitempty"`
	Success   bool            `json:"success,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Status    ledger.Status   `json:"status,omitempty"`
	At        time.Time       `json:"timestamp"`
}

// Subscription is one observer's bounded event feed. When the buffer is
// full the oldest queued event is dropped so a slow observer only hurts
// itself, never the relay or other observers.
type Subscription struct {
	id      uint64
	ch      chan Event
	relay   *Relay
	dropped atomic.Uint64
	once    sync.Once
}

// Events is the observer's receive channel.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped counts events lost to buffer overflow.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the observer.
func (s *Subscription) Close() {
	s.once.Do(func() { s.relay.unsubscribe(s.id) })
}

// Recorder mirrors relayed events into durable storage. Implemented by
// services.CommandLogService; nil disables persistence.
type Recorder interface {
	CommandEvent(cmd ledger.Command, ev ledger.ProgressEvent)
	CommandFinished(cmd ledger.Command)
}

// Relay validates device-origin events against the ledger, updates it and
// fans events out to all observers in per-command emission order.
type Relay struct {
	led *ledger.Ledger
	reg *session.Registry
	rec Recorder

	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextSub uint64
	bufSize int

	rdb     *redis.Client
	channel string
	pubCh   chan Event
	pubStop chan struct{}
	pubOnce sync.Once
}

func New(led *ledger.Ledger, reg *session.Registry, rec Recorder, bufSize int) *Relay {
	if bufSize <= 0 {
		bufSize = 128
	}
	return &Relay{
		led:     led,
		reg:     reg,
		rec:     rec,
		subs:    make(map[uint64]*Subscription),
		bufSize: bufSize,
	}
}

// EnableRedisMirror starts publishing every broadcast event to a redis
// channel for cross-instance observers. Best-effort: publish failures are
// logged, never propagated.
func (r *Relay) EnableRedisMirror(rdb *redis.Client, channel string) {
	if rdb == nil || channel == "" {
		return
	}
	r.rdb = rdb
	r.channel = channel
	r.pubCh = make(chan Event, 512)
	r.pubStop = make(chan struct{})
	go r.publishLoop()
}

// Stop shuts the redis publisher down.
func (r *Relay) Stop() {
	r.pubOnce.Do(func() {
		if r.pubStop != nil {
			close(r.pubStop)
		}
	})
}

// Subscribe attaches a new global observer.
func (r *Relay) Subscribe() *Subscription {
	r.mu.Lock()
	r.nextSub++
	sub := &Subscription{id: r.nextSub, ch: make(chan Event, r.bufSize), relay: r}
	r.subs[sub.id] = sub
	r.mu.Unlock()
	return sub
}

func (r *Relay) unsubscribe(id uint64) {
	r.mu.Lock()
	delete(r.subs, id)
	r.mu.Unlock()
}

// PostProgress records and broadcasts one progress event. Unknown or
// terminal command ids, or ids owned by an unregistered device, are
// dropped with a warning; devices cannot crash the relay with bad data.
// deviceID is the reporting connection's identity and must own the command.
func (r *Relay) PostProgress(deviceID, commandID, level, message string) error {
	cmd, ok := r.led.Get(commandID)
	if !ok {
		global.Logger.Warn().Str("command", commandID).Msg("progress for unknown command dropped")
		return fmt.Errorf("%w: %s", ledger.ErrStaleEvent, commandID)
	}
	if deviceID != "" && cmd.DeviceID != deviceID {
		global.Logger.Warn().
			Str("command", commandID).
			Str("claimed_device", deviceID).
			Str("owner", cmd.DeviceID).
			Msg("progress from non-owning device dropped")
		return fmt.Errorf("%w: %s", ledger.ErrStaleEvent, commandID)
	}
	if _, registered := r.reg.Get(cmd.DeviceID); !registered {
		global.Logger.Warn().Str("command", commandID).Str("device", cmd.DeviceID).Msg("progress for unregistered device dropped")
		return fmt.Errorf("%w: %s", ledger.ErrStaleEvent, commandID)
	}

	err := r.led.AppendProgress(commandID, level, message, func(snap ledger.Command, ev ledger.ProgressEvent) {
		// Runs under the command's entry lock: broadcast order is
		// exactly append order for this command.
		r.broadcast(Event{
			Kind:      KindProgress,
			CommandID: snap.ID,
			DeviceID:  snap.DeviceID,
			Seq:       ev.Seq,
			Level:     ev.Level,
			Message:   ev.Message,
			At:        ev.At,
		})
		if r.rec != nil {
			r.rec.CommandEvent(snap, ev)
		}
	})
	if err != nil {
		global.Logger.Warn().Err(err).Str("command", commandID).Msg("progress dropped")
		return err
	}
	return nil
}

// PostResult finalizes the command and broadcasts the terminal event.
// After this the ledger entry is immutable.
func (r *Relay) PostResult(deviceID, commandID string, success bool, data json.RawMessage, errMsg string) error {
	cmd, ok := r.led.Get(commandID)
	if !ok {
		global.Logger.Warn().Str("command", commandID).Msg("result for unknown command dropped")
		return fmt.Errorf("%w: %s", ledger.ErrStaleEvent, commandID)
	}
	if deviceID != "" && cmd.DeviceID != deviceID {
		global.Logger.Warn().
			Str("command", commandID).
			Str("claimed_device", deviceID).
			Str("owner", cmd.DeviceID).
			Msg("result from non-owning device dropped")
		return fmt.Errorf("%w: %s", ledger.ErrStaleEvent, commandID)
	}

	err := r.led.Finalize(commandID, success, data, errMsg, func(snap ledger.Command) {
		r.broadcast(resultEvent(snap))
		if r.rec != nil {
			r.rec.CommandFinished(snap)
		}
	})
	if err != nil {
		global.Logger.Warn().Err(err).Str("command", commandID).Msg("result dropped")
		return err
	}
	global.Logger.Info().
		Str("command", commandID).
		Bool("success", success).
		Msg("command completed")
	return nil
}

// PostLost terminates a command whose owning session was invalidated. It
// is reported to observers like any other terminal result, with an
// explicit connection-lost error, so nothing stays running forever.
func (r *Relay) PostLost(commandID, errMsg string) {
	err := r.led.MarkLost(commandID, errMsg, func(snap ledger.Command) {
		r.broadcast(resultEvent(snap))
		if r.rec != nil {
			r.rec.CommandFinished(snap)
		}
	})
	if err != nil {
		global.Logger.Warn().Err(err).Str("command", commandID).Msg("lost transition skipped")
		return
	}
	global.Logger.Warn().Str("command", commandID).Str("error", errMsg).Msg("command lost")
}

// Replay reconstructs the ordered event history plus current status for a
// late-joining observer.
func (r *Relay) Replay(commandID string) (ledger.Command, []Event, bool) {
	cmd, ok := r.led.Get(commandID)
	if !ok {
		return ledger.Command{}, nil, false
	}
	events := make([]Event, 0, len(cmd.Events)+1)
	for _, ev := range cmd.Events {
		events = append(events, Event{
			Kind:      KindProgress,
			CommandID: cmd.ID,
			DeviceID:  cmd.DeviceID,
			Seq:       ev.Seq,
			Level:     ev.Level,
			Message:   ev.Message,
			At:        ev.At,
		})
	}
	if cmd.Status.Terminal() {
		events = append(events, resultEvent(cmd))
	}
	return cmd, events, true
}

func resultEvent(cmd ledger.Command) Event {
	return Event{
		Kind:      KindResult,
		CommandID: cmd.ID,
		DeviceID:  cmd.DeviceID,
		Success:   cmd.Status == ledger.StatusSucceeded,
		Data:      cmd.Result,
		Error:     cmd.Error,
		Status:    cmd.Status,
		At:        cmd.CompletedAt,
	}
}

func (r *Relay) broadcast(ev Event) {
	r.mu.RLock()
	for _, sub := range r.subs {
		select {
		case sub.ch <- ev:
		default:
			// Buffer full: drop the oldest queued event to make room.
			select {
			case <-sub.ch:
				sub.dropped.Add(1)
			default:
			}
			select {
			case sub.ch <- ev:
			default:
				sub.dropped.Add(1)
			}
		}
	}
	r.mu.RUnlock()

	if r.pubCh != nil {
		select {
		case r.pubCh <- ev:
		default:
		}
	}
}

func (r *Relay) publishLoop() {
	for {
		select {
		case ev := <-r.pubCh:
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := r.rdb.Publish(ctx, r.channel, b).Err(); err != nil {
				global.Logger.Debug().Err(err).Str("channel", r.channel).Msg("redis event publish failed")
			}
			cancel()
		case <-r.pubStop:
			return
		}
	}
}
