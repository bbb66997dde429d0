package controllers

import (
	"sync"

	jwtutil "autonova-rmm/backend/app/jwt"
	"autonova-rmm/backend/app/ledger"
	"autonova-rmm/backend/app/relay"
	"autonova-rmm/backend/app/services"
	"autonova-rmm/backend/app/session"
	"autonova-rmm/backend/global"
	"autonova-rmm/network"
)

type connRole string

const (
	roleNone   connRole = ""
	roleDevice connRole = "device"
	roleAdmin  connRole = "admin"
)

// connState is what the protocol layer remembers about one connection
// after it authenticates.
type connState struct {
	role     connRole
	deviceID string
}

// ProtocolController terminates the TCP protocol. Devices log in, send
// heartbeats and report command output; admin observers subscribe to the
// event stream and request replays. Every frame is authenticated before
// it reaches the registry or the relay.
type ProtocolController struct {
	Registry *session.Registry
	Relay    *relay.Relay
	Ledger   *ledger.Ledger
	Devices  *services.DeviceService
	Logs     *services.AgentLogService
	Signer   *jwtutil.Signer

	mu     sync.Mutex
	states map[*network.Conn]*connState
}

func NewProtocolController(reg *session.Registry, rel *relay.Relay, led *ledger.Ledger, devices *services.DeviceService, logs *services.AgentLogService, signer *jwtutil.Signer) *ProtocolController {
	return &ProtocolController{
		Registry: reg,
		Relay:    rel,
		Ledger:   led,
		Devices:  devices,
		Logs:     logs,
		Signer:   signer,
		states:   make(map[*network.Conn]*connState),
	}
}

func (p *ProtocolController) state(c *network.Conn) *connState {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.states[c]
	if !ok {
		s = &connState{}
		p.states[c] = s
	}
	return s
}

func (p *ProtocolController) forget(c *network.Conn) *connState {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.states[c]
	delete(p.states, c)
	return s
}

// HandleMessage is the protocol server's frame handler. It runs on the
// connection's reader goroutine, so one slow device never stalls another.
func (p *ProtocolController) HandleMessage(c *network.Conn, f *network.Frame) {
	switch f.Type {
	case network.FrameLogin:
		p.handleLogin(c, f)
	case network.FrameHeartbeat:
		p.handleHeartbeat(c)
	case network.FrameProgress:
		p.handleProgress(c, f)
	case network.FrameResult:
		p.handleResult(c, f)
	case network.FrameLog:
		p.handleLog(c, f)
	case network.FrameSubscribe:
		p.handleSubscribe(c, f)
	case network.FrameReplay:
		p.handleReplay(c, f)
	default:
		global.Logger.Warn().Str("type", string(f.Type)).Str("remote", c.RemoteAddr()).Msg("unexpected frame type")
		_ = c.SendFrame(&network.Frame{Type: network.FrameError, Code: 400, Msg: "unexpected frame type"})
	}
}

// HandleDisconnect is the protocol server's disconnect hook. Only the
// connection that owns the session may tear it down; a superseded
// connection disconnecting later is a no-op inside the registry.
func (p *ProtocolController) HandleDisconnect(c *network.Conn) {
	s := p.forget(c)
	if s == nil || s.role != roleDevice {
		return
	}
	p.Registry.Unregister(s.deviceID, c)
}

func (p *ProtocolController) reject(c *network.Conn, code int, msg string) {
	_ = c.SendFrame(&network.Frame{Type: network.FrameError, Code: code, Msg: msg})
}
