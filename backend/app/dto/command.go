package dto

import "encoding/json"

type SubmitCommandRequest struct {
	DeviceID    string          `json:"device_id"`
	CommandType string          `json:"command_type"`
	Params      json.RawMessage `json:"params,omitempty"`
}

type SubmitCommandResponse struct {
	CommandID string `json:"command_id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// CommandLogEntry is one row of the persisted command history.
type CommandLogEntry struct {
	CommandID   string            `json:"command_id"`
	Type        string            `json:"command_type"`
	Status      string            `json:"status"`
	Result      json.RawMessage   `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   int64             `json:"created_at"`
	CompletedAt int64             `json:"completed_at,omitempty"`
	Events      []CommandLogEvent `json:"events,omitempty"`
}

type CommandLogEvent struct {
	Seq     int    `json:"seq"`
	Level   string `json:"level"`
	Message string `json:"message"`
	At      int64  `json:"at"`
}

type CommandLogResponse struct {
	DeviceID string            `json:"device_id"`
	Commands []CommandLogEntry `json:"commands"`
}
