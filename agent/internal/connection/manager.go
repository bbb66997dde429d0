package connection

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"runtime"
	"sync"
	"time"

	"autonova-rmm/agent/internal/command"
	"autonova-rmm/agent/internal/logger"
	"autonova-rmm/network"
)

// Manager manages a single persistent TCP connection to the backend. It
// logs in, keeps heartbeats flowing, hands command frames to the
// dispatcher and reconnects with backoff when the link drops.
type Manager struct {
	host     string
	port     int
	deviceID string
	token    string

	heartbeatEvery time.Duration

	mu     sync.Mutex
	client *network.Client

	dispatcher *command.Dispatcher

	stopCh   chan struct{}
	stopOnce sync.Once
}

func New(host string, port int, deviceID, token string, heartbeatEvery time.Duration) *Manager {
	m := &Manager{
		host:           host,
		port:           port,
		deviceID:       deviceID,
		token:          token,
		heartbeatEvery: heartbeatEvery,
		stopCh:         make(chan struct{}),
	}
	m.dispatcher = command.NewDispatcher(m)
	m.dispatcher.OnSelfDestruct = m.selfDestruct
	return m
}

// Connect establishes the persistent connection with retry logic.
func (m *Manager) Connect(maxRetries int, baseDelay time.Duration) error {
	const (
		maxDelay      = 30 * time.Second
		backoffFactor = 1.5
	)

	var retryCount int
	delay := baseDelay

	for {
		logger.Infof("Agent is trying to connect to backend %s:%d (attempt #%d)...", m.host, m.port, retryCount+1)

		client, err := m.dialAndLogin()
		if err == nil {
			m.mu.Lock()
			m.client = client
			m.mu.Unlock()
			logger.Infof("Agent connected to backend %s:%d", m.host, m.port)
			return nil
		}

		logger.Errorf("Agent cannot connect to backend (attempt #%d): %v", retryCount+1, err)
		retryCount++
		if maxRetries > 0 && retryCount >= maxRetries {
			return fmt.Errorf("max retries reached: %w", err)
		}

		logger.Infof("Agent will retry in %v...", delay)
		select {
		case <-time.After(delay):
		case <-m.stopCh:
			return fmt.Errorf("agent stopping")
		}
		delay = time.Duration(float64(delay) * backoffFactor)
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (m *Manager) dialAndLogin() (*network.Client, error) {
	client, err := network.DialTCP(m.host, m.port)
	if err != nil {
		return nil, err
	}
	if err := client.SendLogin(m.deviceID, m.token, loginInfo()); err != nil {
		client.Close()
		return nil, fmt.Errorf("send login: %w", err)
	}
	f, err := client.Recv()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("await login ack: %w", err)
	}
	if f.Type != network.FrameAck || f.Code != 200 {
		client.Close()
		return nil, fmt.Errorf("login rejected: %s", f.Msg)
	}
	return client, nil
}

func loginInfo() *network.LoginPayload {
	hostname, _ := os.Hostname()
	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	return &network.LoginPayload{
		Hostname: hostname,
		Username: username,
		OSName:   runtime.GOOS,
		Arch:     runtime.GOARCH,
	}
}

// Run drives the receive and heartbeat loops until Stop. A dropped link
// is re-established with the same backoff as the initial connect.
func (m *Manager) Run() {
	go m.heartbeatLoop()

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		client := m.currentClient()
		if client == nil {
			if err := m.Connect(0, time.Second); err != nil {
				return
			}
			continue
		}

		f, err := client.Recv()
		if err != nil {
			select {
			case <-m.stopCh:
				return
			default:
			}
			logger.Warnf("Connection lost: %v, reconnecting...", err)
			client.Close()
			m.mu.Lock()
			m.client = nil
			m.mu.Unlock()
			continue
		}
		m.handleFrame(f)
	}
}

func (m *Manager) handleFrame(f *network.Frame) {
	switch f.Type {
	case network.FrameCommand:
		var env network.CommandEnvelope
		if err := json.Unmarshal(f.Payload, &env); err != nil {
			logger.Errorf("Malformed command frame: %v", err)
			return
		}
		m.dispatcher.Dispatch(env)
	case network.FrameAck:
		// heartbeat acks and the like
	case network.FrameError:
		logger.Warnf("Backend error frame: code=%d msg=%s", f.Code, f.Msg)
	default:
		logger.Warnf("Unexpected frame type from backend: %s", f.Type)
	}
}

func (m *Manager) heartbeatLoop() {
	ticker := time.NewTicker(m.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if client := m.currentClient(); client != nil {
				if err := client.SendHeartbeat(m.deviceID); err != nil {
					logger.Warnf("Heartbeat failed: %v", err)
				}
			}
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) currentClient() *network.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// Progress implements command.Reporter.
func (m *Manager) Progress(commandID, level, message string) error {
	client := m.currentClient()
	if client == nil {
		return network.ErrConnClosed
	}
	return client.SendProgress(m.deviceID, commandID, level, message)
}

// Result implements command.Reporter.
func (m *Manager) Result(commandID string, success bool, data json.RawMessage, errMsg string) error {
	client := m.currentClient()
	if client == nil {
		return network.ErrConnClosed
	}
	return client.SendResult(m.deviceID, commandID, success, data, errMsg)
}

// SendLog ships agent log lines upstream for ingestion.
func (m *Manager) SendLog(lines string) error {
	client := m.currentClient()
	if client == nil {
		return network.ErrConnClosed
	}
	return client.SendLog(m.deviceID, lines)
}

// selfDestruct tears the agent down after a confirmed wipe. No reconnect.
func (m *Manager) selfDestruct() {
	logger.Warn("Self destruct confirmed, shutting agent down")
	m.Close()
}

// Close stops the loops and drops the connection.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.dispatcher.Stop()
	m.mu.Lock()
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	m.mu.Unlock()
}

// Done is closed once the manager has been stopped.
func (m *Manager) Done() <-chan struct{} { return m.stopCh }
