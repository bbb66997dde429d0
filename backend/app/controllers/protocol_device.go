package controllers

import (
	"encoding/json"

	"autonova-rmm/backend/app/models"
	"autonova-rmm/backend/global"
	"autonova-rmm/network"
)

// handleLogin authenticates a device connection. The token must carry the
// device role and the same device id the frame claims; anything else is
// rejected before the registry sees it.
func (p *ProtocolController) handleLogin(c *network.Conn, f *network.Frame) {
	if f.DeviceID == "" || f.Token == "" {
		p.reject(c, 400, "missing device_id or token")
		return
	}
	claims, err := p.Signer.Parse(f.Token)
	if err != nil || claims.Role != "device" || claims.DeviceID != f.DeviceID {
		global.Logger.Warn().Str("device", f.DeviceID).Str("remote", c.RemoteAddr()).Msg("device login rejected")
		p.reject(c, 401, "invalid device token")
		return
	}

	p.Registry.Register(f.DeviceID, c)

	st := p.state(c)
	st.role = roleDevice
	st.deviceID = f.DeviceID

	if p.Devices != nil {
		d := models.Device{DeviceID: f.DeviceID}
		if len(f.Payload) > 0 {
			var meta network.LoginPayload
			if err := json.Unmarshal(f.Payload, &meta); err == nil {
				d.Hostname = meta.Hostname
				d.Username = meta.Username
				d.OSName = meta.OSName
				d.OSVersion = meta.OSVersion
				d.Arch = meta.Arch
			}
		}
		if err := p.Devices.UpsertDevice(&d); err != nil {
			global.Logger.Error().Err(err).Str("device", f.DeviceID).Msg("device upsert failed")
		}
		if err := p.Devices.TouchLastSeen(f.DeviceID); err != nil {
			global.Logger.Debug().Err(err).Str("device", f.DeviceID).Msg("touch last seen failed")
		}
	}

	_ = c.SendAck(200, "login ok")
}

func (p *ProtocolController) handleHeartbeat(c *network.Conn) {
	st := p.state(c)
	if st.role != roleDevice {
		p.reject(c, 401, "not logged in")
		return
	}
	p.Registry.Heartbeat(st.deviceID)
}

func (p *ProtocolController) handleProgress(c *network.Conn, f *network.Frame) {
	st := p.state(c)
	if st.role != roleDevice {
		p.reject(c, 401, "not logged in")
		return
	}
	var pl network.ProgressPayload
	if err := json.Unmarshal(f.Payload, &pl); err != nil || pl.CommandID == "" {
		p.reject(c, 400, "malformed progress payload")
		return
	}
	// The relay validates ownership and lifecycle; a bad event is logged
	// and dropped without feedback to the device.
	_ = p.Relay.PostProgress(st.deviceID, pl.CommandID, pl.Level, pl.Message)
}

func (p *ProtocolController) handleResult(c *network.Conn, f *network.Frame) {
	st := p.state(c)
	if st.role != roleDevice {
		p.reject(c, 401, "not logged in")
		return
	}
	var pl network.ResultPayload
	if err := json.Unmarshal(f.Payload, &pl); err != nil || pl.CommandID == "" {
		p.reject(c, 400, "malformed result payload")
		return
	}

	// Check the command type before finalizing; the ledger entry is
	// immutable afterwards but the snapshot must be taken while it is
	// still this device's command.
	selfDestruct := false
	if cmd, ok := p.Ledger.Get(pl.CommandID); ok && cmd.Type == "self_destruct" {
		selfDestruct = true
	}

	if err := p.Relay.PostResult(st.deviceID, pl.CommandID, pl.Success, pl.Data, pl.Error); err != nil {
		return
	}

	if selfDestruct && pl.Success {
		// The agent wiped itself; the session is gone no matter what the
		// socket does next.
		global.Logger.Warn().Str("device", st.deviceID).Msg("self destruct confirmed, dropping session")
		p.Registry.Unregister(st.deviceID, nil)
	}
}

func (p *ProtocolController) handleLog(c *network.Conn, f *network.Frame) {
	st := p.state(c)
	if st.role != roleDevice {
		p.reject(c, 401, "not logged in")
		return
	}
	var pl network.LogPayload
	if err := json.Unmarshal(f.Payload, &pl); err != nil || pl.Lines == "" {
		p.reject(c, 400, "malformed log payload")
		return
	}
	if p.Logs == nil {
		return
	}
	if err := p.Logs.Create(st.deviceID, pl.Lines); err != nil {
		global.Logger.Error().Err(err).Str("device", st.deviceID).Msg("agent log persist failed")
	}
}
