package command

import "encoding/json"

// Progress lets a handler stream output lines while it runs.
type Progress func(level, message string)

// Handler executes one command type. It returns the result payload or an
// error; the dispatcher turns either into the terminal report.
type Handler func(params json.RawMessage, progress Progress) (json.RawMessage, error)

// Reporter is the outbound half the dispatcher reports through. The
// connection manager implements it.
type Reporter interface {
	Progress(commandID, level, message string) error
	Result(commandID string, success bool, data json.RawMessage, errMsg string) error
}

// registry maps command type to handler
var registry = map[string]Handler{}

func Register(name string, h Handler) { registry[name] = h }

func Get(name string) (Handler, bool) { h, ok := registry[name]; return h, ok }
