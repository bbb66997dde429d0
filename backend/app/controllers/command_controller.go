package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"autonova-rmm/backend/app/dispatch"
	"autonova-rmm/backend/app/dto"
	"autonova-rmm/backend/app/relay"
	"autonova-rmm/backend/app/services"
)

type CommandController struct {
	Dispatcher *dispatch.Dispatcher
	Relay      *relay.Relay
	CmdLog     *services.CommandLogService
}

func NewCommandController(d *dispatch.Dispatcher, r *relay.Relay, cmdLog *services.CommandLogService) *CommandController {
	return &CommandController{Dispatcher: d, Relay: r, CmdLog: cmdLog}
}

// Submit routes one command to a device. The response returns as soon as
// the envelope is queued; progress arrives via the event stream.
func (c *CommandController) Submit(w http.ResponseWriter, r *http.Request) {
	var req dto.SubmitCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" || req.CommandType == "" {
		writeError(w, http.StatusBadRequest, "missing device_id or command_type")
		return
	}
	id, err := c.Dispatcher.Submit(req.DeviceID, req.CommandType, req.Params)
	if err != nil {
		writeError(w, submitStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dto.SubmitCommandResponse{CommandID: id})
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrUnknownCommandType), errors.Is(err, dispatch.ErrConfirmRequired):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrAgentOffline):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrDeviceBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Log returns the persisted command history for one device.
func (c *CommandController) Log(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("deviceid")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing deviceid")
		return
	}
	if c.CmdLog == nil {
		writeJSON(w, http.StatusOK, dto.CommandLogResponse{DeviceID: id})
		return
	}
	cmds, events, err := c.CmdLog.History(id, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "command log failed")
		return
	}
	out := dto.CommandLogResponse{DeviceID: id, Commands: make([]dto.CommandLogEntry, 0, len(cmds))}
	for _, cmd := range cmds {
		entry := dto.CommandLogEntry{
			CommandID: cmd.CommandID,
			Type:      cmd.Type,
			Status:    cmd.Status,
			Error:     cmd.LastError,
			CreatedAt: cmd.CreatedAt.Unix(),
		}
		if cmd.Result != "" {
			entry.Result = json.RawMessage(cmd.Result)
		}
		if cmd.CompletedAt != nil {
			entry.CompletedAt = cmd.CompletedAt.Unix()
		}
		for _, ev := range events[cmd.CommandID] {
			entry.Events = append(entry.Events, dto.CommandLogEvent{
				Seq: ev.Seq, Level: ev.Level, Message: ev.Message, At: ev.At.Unix(),
			})
		}
		out.Commands = append(out.Commands, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

// Replay reconstructs one command's ordered events plus current status
// from the live ledger, for observers that missed the push window.
func (c *CommandController) Replay(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("commandid")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing commandid")
		return
	}
	cmd, events, ok := c.Relay.Replay(id)
	if !ok {
		writeError(w, http.StatusNotFound, "command not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"command_id": cmd.ID,
		"device_id":  cmd.DeviceID,
		"status":     cmd.Status,
		"events":     events,
	})
}
