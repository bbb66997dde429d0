package session

import (
	"sync"
	"sync/atomic"
	"time"

	"autonova-rmm/backend/global"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// InvalidateReason explains why a session stopped being routable.
type InvalidateReason string

const (
	ReasonDisconnect InvalidateReason = "disconnect"
	ReasonTimeout    InvalidateReason = "heartbeat timeout"
	ReasonSuperseded InvalidateReason = "superseded by new connection"
)

// Sender is the outbound half of a device connection.
type Sender interface {
	Send(b []byte) error
	Close() error
}

// Session is the live state for one connected device. Liveness fields are
// guarded by the session's own mutex so heartbeats on different devices
// never contend.
type Session struct {
	DeviceID string
	Conn     Sender

	mu            sync.Mutex
	status        Status
	connectedAt   time.Time
	lastHeartbeat time.Time
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Online() bool { return s.Status() == StatusOnline }

func (s *Session) ConnectedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedAt
}

func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.status = StatusOnline
	s.mu.Unlock()
}

func (s *Session) markOffline() {
	s.mu.Lock()
	s.status = StatusOffline
	s.mu.Unlock()
}

// Info is a point-in-time snapshot for listings.
type Info struct {
	DeviceID      string    `json:"device_id"`
	Status        Status    `json:"status"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Info snapshots the session's liveness state.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{DeviceID: s.DeviceID, Status: s.status, ConnectedAt: s.connectedAt, LastHeartbeat: s.lastHeartbeat}
}

// InvalidateFunc is invoked after a session loses its connection (explicit
// disconnect, heartbeat timeout, or supersession). The dispatcher hooks it
// to orphan the device's in-flight commands.
type InvalidateFunc func(deviceID string, reason InvalidateReason)

// Registry tracks the authoritative device id to live session mapping.
// A second registration for the same id supersedes the first: the old
// connection is closed and its session is invalidated.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	timeoutNs  atomic.Int64
	sweepEvery time.Duration

	hookMu       sync.RWMutex
	onInvalidate InvalidateFunc

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a registry and starts its liveness sweep.
func NewRegistry(heartbeatTimeout, sweepEvery time.Duration) *Registry {
	r := &Registry{
		sessions:   make(map[string]*Session),
		sweepEvery: sweepEvery,
		stopCh:     make(chan struct{}),
	}
	r.timeoutNs.Store(int64(heartbeatTimeout))
	go r.sweepLoop()
	return r
}

// SetOnInvalidate installs the invalidation hook.
func (r *Registry) SetOnInvalidate(fn InvalidateFunc) {
	r.hookMu.Lock()
	r.onInvalidate = fn
	r.hookMu.Unlock()
}

// SetHeartbeatTimeout adjusts the liveness window at runtime.
func (r *Registry) SetHeartbeatTimeout(d time.Duration) {
	if d > 0 {
		r.timeoutNs.Store(int64(d))
	}
}

func (r *Registry) heartbeatTimeout() time.Duration {
	return time.Duration(r.timeoutNs.Load())
}

// Register installs a live session for deviceID, superseding and closing
// any previous connection for the same id.
func (r *Registry) Register(deviceID string, conn Sender) *Session {
	now := time.Now()
	s := &Session{
		DeviceID:      deviceID,
		Conn:          conn,
		status:        StatusOnline,
		connectedAt:   now,
		lastHeartbeat: now,
	}

	r.mu.Lock()
	old := r.sessions[deviceID]
	r.sessions[deviceID] = s
	r.mu.Unlock()

	if old != nil && old.Online() {
		global.Logger.Warn().Str("device", deviceID).Msg("session superseded by new connection")
		old.markOffline()
		if old.Conn != nil {
			_ = old.Conn.Close()
		}
		r.invalidate(deviceID, ReasonSuperseded)
	}

	global.Logger.Info().Str("device", deviceID).Msg("device session registered")
	return s
}

// Heartbeat refreshes liveness. Unknown ids are logged and ignored.
func (r *Registry) Heartbeat(deviceID string) {
	r.mu.RLock()
	s := r.sessions[deviceID]
	r.mu.RUnlock()
	if s == nil {
		global.Logger.Warn().Str("device", deviceID).Msg("heartbeat for unknown device")
		return
	}
	s.touch()
}

// Unregister marks the session offline if conn still owns it. A nil conn
// forces the unregister regardless of ownership.
func (r *Registry) Unregister(deviceID string, conn Sender) {
	r.mu.Lock()
	s := r.sessions[deviceID]
	if s == nil || (conn != nil && s.Conn != conn) {
		// A superseded connection disconnecting later must not tear
		// down the session that replaced it.
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	wasOnline := s.Online()
	s.markOffline()
	if s.Conn != nil {
		_ = s.Conn.Close()
	}
	if wasOnline {
		global.Logger.Info().Str("device", deviceID).Msg("device session unregistered")
		r.invalidate(deviceID, ReasonDisconnect)
	}
}

// Get returns the session for deviceID, online or not.
func (r *Registry) Get(deviceID string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[deviceID]
	r.mu.RUnlock()
	return s, ok
}

// List snapshots every tracked session.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()
	return out
}

// Stop halts the liveness sweep.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweepStale()
		case <-r.stopCh:
			return
		}
	}
}

// sweepStale marks sessions offline when no heartbeat arrived within the
// timeout. This covers silent network failure where no disconnect is seen.
func (r *Registry) sweepStale() {
	timeout := r.heartbeatTimeout()
	now := time.Now()

	r.mu.RLock()
	var stale []*Session
	for _, s := range r.sessions {
		if s.Online() && now.Sub(s.LastHeartbeat()) > timeout {
			stale = append(stale, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range stale {
		global.Logger.Warn().
			Str("device", s.DeviceID).
			Time("last_heartbeat", s.LastHeartbeat()).
			Msg("session timed out, marking offline")
		s.markOffline()
		if s.Conn != nil {
			_ = s.Conn.Close()
		}
		r.invalidate(s.DeviceID, ReasonTimeout)
	}
}

func (r *Registry) invalidate(deviceID string, reason InvalidateReason) {
	r.hookMu.RLock()
	fn := r.onInvalidate
	r.hookMu.RUnlock()
	if fn != nil {
		fn(deviceID, reason)
	}
}
