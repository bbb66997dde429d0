package command

import (
	"encoding/json"
	"fmt"
	"sync"

	"autonova-rmm/agent/internal/logger"
	"autonova-rmm/network"
)

// Dispatcher runs incoming command envelopes one at a time. The backend
// already bounds how many commands a device has outstanding, but a queue
// here keeps a burst from racing each other on the same machine.
type Dispatcher struct {
	reporter Reporter

	mu      sync.Mutex
	queue   chan network.CommandEnvelope
	started bool
	stopCh  chan struct{}

	// OnSelfDestruct fires after a successful self_destruct result has
	// been reported. The connection manager hooks it to drop the link.
	OnSelfDestruct func()
}

func NewDispatcher(reporter Reporter) *Dispatcher {
	return &Dispatcher{
		reporter: reporter,
		queue:    make(chan network.CommandEnvelope, 16),
		stopCh:   make(chan struct{}),
	}
}

// Dispatch queues one envelope for execution, starting the worker lazily.
func (d *Dispatcher) Dispatch(env network.CommandEnvelope) {
	d.mu.Lock()
	if !d.started {
		d.started = true
		go d.worker()
	}
	d.mu.Unlock()

	select {
	case d.queue <- env:
	default:
		logger.Warnf("Command queue full, rejecting %s", env.CommandID)
		_ = d.reporter.Result(env.CommandID, false, nil, "agent busy")
	}
}

// Stop ends the worker. Queued commands are abandoned; the backend will
// mark them lost when the session drops.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
}

func (d *Dispatcher) worker() {
	for {
		select {
		case env := <-d.queue:
			d.run(env)
		case <-d.stopCh:
			return
		}
	}
}

func (d *Dispatcher) run(env network.CommandEnvelope) {
	logger.Infof("Executing command=%s type=%s", env.CommandID, env.CommandType)

	h, ok := Get(env.CommandType)
	if !ok {
		_ = d.reporter.Result(env.CommandID, false, nil, fmt.Sprintf("unsupported command type %q", env.CommandType))
		return
	}

	progress := func(level, message string) {
		if err := d.reporter.Progress(env.CommandID, level, message); err != nil {
			logger.Warnf("Progress report failed for %s: %v", env.CommandID, err)
		}
	}

	data, err := h(env.Params, progress)
	if err != nil {
		logger.Errorf("Command %s failed: %v", env.CommandID, err)
		_ = d.reporter.Result(env.CommandID, false, nil, err.Error())
		return
	}
	if data == nil {
		data = json.RawMessage(`{}`)
	}
	if err := d.reporter.Result(env.CommandID, true, data, ""); err != nil {
		logger.Warnf("Result report failed for %s: %v", env.CommandID, err)
		return
	}
	logger.Infof("Command %s completed", env.CommandID)

	if env.CommandType == "self_destruct" && d.OnSelfDestruct != nil {
		d.OnSelfDestruct()
	}
}
