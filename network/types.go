package network

import "encoding/json"

// FrameType identifies a protocol frame.
type FrameType string

const (
	FrameLogin     FrameType = "login"
	FrameHeartbeat FrameType = "heartbeat"
	FrameCommand   FrameType = "command"
	FrameProgress  FrameType = "progress"
	FrameResult    FrameType = "result"
	FrameSubscribe FrameType = "subscribe"
	FrameReplay    FrameType = "replay"
	FrameLog       FrameType = "log"
	FrameEvent     FrameType = "event"
	FrameAck       FrameType = "ack"
	FrameError     FrameType = "error"
)

// Frame is one newline-delimited JSON protocol message.
// DeviceID and Token ride on the frame itself; everything else is in Payload.
type Frame struct {
	Type     FrameType       `json:"type"`
	DeviceID string          `json:"device_id,omitempty"`
	Token    string          `json:"token,omitempty"`
	Code     int             `json:"code,omitempty"`
	Msg      string          `json:"msg,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// LoginPayload carries device metadata sent with the login frame.
type LoginPayload struct {
	Hostname  string `json:"hostname,omitempty"`
	Username  string `json:"username,omitempty"`
	OSName    string `json:"os_name,omitempty"`
	OSVersion string `json:"os_version,omitempty"`
	Arch      string `json:"arch,omitempty"`
}

// CommandEnvelope is pushed to a device when a command is dispatched.
type CommandEnvelope struct {
	CommandID   string          `json:"command_id"`
	CommandType string          `json:"command_type"`
	Params      json.RawMessage `json:"params,omitempty"`
}

// ProgressPayload is emitted by a device while a command is executing.
type ProgressPayload struct {
	CommandID string `json:"command_id"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// ResultPayload is the terminal report for a command.
type ResultPayload struct {
	CommandID string          `json:"command_id"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// EventPayload is broadcast to admin observers. Event is either
// "command_progress" or "command_result".
type EventPayload struct {
	Event     string          `json:"event"`
	CommandID string          `json:"command_id"`
	DeviceID  string          `json:"device_id"`
	Seq       int             `json:"seq,omitempty"`
	Level     string          `json:"level,omitempty"`
	Message   string          `json:"message,omitempty"`
	Success   *bool           `json:"success,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ReplayRequest asks for the full event history of one command.
type ReplayRequest struct {
	CommandID string `json:"command_id"`
}

// ReplayResponse carries the ordered history plus the current status.
type ReplayResponse struct {
	CommandID string         `json:"command_id"`
	DeviceID  string         `json:"device_id"`
	Status    string         `json:"status"`
	Events    []EventPayload `json:"events"`
}

// LogPayload carries raw agent log lines for ingestion.
type LogPayload struct {
	Lines string `json:"lines"`
}

// EncodeFrame marshals a frame and appends the trailing newline.
func EncodeFrame(f *Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// DecodeFrame parses one line into a frame.
func DecodeFrame(line []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
