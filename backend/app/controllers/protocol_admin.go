package controllers

import (
	"encoding/json"

	"autonova-rmm/backend/app/relay"
	"autonova-rmm/backend/global"
	"autonova-rmm/network"
)

// handleSubscribe turns an admin connection into a live event observer.
// A pump goroutine forwards relay events until either side goes away; the
// subscription's bounded buffer means a stalled observer drops its own
// oldest events instead of backing up the relay.
func (p *ProtocolController) handleSubscribe(c *network.Conn, f *network.Frame) {
	claims, err := p.Signer.Parse(f.Token)
	if err != nil || claims.Role != "admin" {
		p.reject(c, 401, "admin token required")
		return
	}

	st := p.state(c)
	if st.role == roleAdmin {
		_ = c.SendAck(200, "already subscribed")
		return
	}
	st.role = roleAdmin

	sub := p.Relay.Subscribe()
	go func() {
		defer sub.Close()
		for {
			select {
			case ev := <-sub.Events():
				if err := c.SendFrame(eventFrame(ev)); err != nil {
					return
				}
			case <-c.Done():
				return
			}
		}
	}()

	global.Logger.Info().Str("remote", c.RemoteAddr()).Str("user", claims.Username).Msg("event observer subscribed")
	_ = c.SendAck(200, "subscribed")
}

// handleReplay answers with the full ordered history of one command.
func (p *ProtocolController) handleReplay(c *network.Conn, f *network.Frame) {
	claims, err := p.Signer.Parse(f.Token)
	if err != nil || claims.Role != "admin" {
		p.reject(c, 401, "admin token required")
		return
	}
	var req network.ReplayRequest
	if err := json.Unmarshal(f.Payload, &req); err != nil || req.CommandID == "" {
		p.reject(c, 400, "missing command_id")
		return
	}

	cmd, events, ok := p.Relay.Replay(req.CommandID)
	if !ok {
		p.reject(c, 404, "command not found")
		return
	}

	resp := network.ReplayResponse{
		CommandID: cmd.ID,
		DeviceID:  cmd.DeviceID,
		Status:    string(cmd.Status),
		Events:    make([]network.EventPayload, 0, len(events)),
	}
	for _, ev := range events {
		resp.Events = append(resp.Events, eventPayload(ev))
	}
	b, err := json.Marshal(resp)
	if err != nil {
		p.reject(c, 500, "replay encode failed")
		return
	}
	_ = c.SendFrame(&network.Frame{Type: network.FrameReplay, Code: 200, Payload: b})
}

func eventPayload(ev relay.Event) network.EventPayload {
	out := network.EventPayload{
		Event:     string(ev.Kind),
		CommandID: ev.CommandID,
		DeviceID:  ev.DeviceID,
		Seq:       ev.Seq,
		Level:     ev.Level,
		Message:   ev.Message,
		Data:      ev.Data,
		Error:     ev.Error,
		Timestamp: ev.At.Unix(),
	}
	if ev.Kind == relay.KindResult {
		success := ev.Success
		out.Success = &success
	}
	return out
}

func eventFrame(ev relay.Event) *network.Frame {
	pl := eventPayload(ev)
	b, _ := json.Marshal(pl)
	return &network.Frame{Type: network.FrameEvent, Payload: b}
}
