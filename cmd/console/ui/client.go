package ui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"autonova-rmm/network"

	tea "github.com/charmbracelet/bubbletea"
)

// Session holds the console's two links to the backend: the HTTP API for
// queries and submissions, and a protocol connection subscribed to the
// live event stream.
type Session struct {
	Host     string
	HTTPPort int
	TCPPort  int
	Token    string

	http *http.Client

	mu          sync.Mutex
	events      *network.Client
	loopRunning bool

	MsgChan  chan tea.Msg
	StopChan chan struct{}
}

func NewSession() *Session {
	return &Session{
		http:     &http.Client{Timeout: 10 * time.Second},
		MsgChan:  make(chan tea.Msg, 64),
		StopChan: make(chan struct{}),
	}
}

func (s *Session) apiURL(path string) string {
	return fmt.Sprintf("http://%s:%d%s", s.Host, s.HTTPPort, path)
}

func (s *Session) doJSON(method, path string, body any, out any) error {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.apiURL(path), buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s", e.Error)
		}
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

// Login authenticates against the HTTP API and stores the bearer token.
func (s *Session) Login(username, password string) error {
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	err := s.doJSON(http.MethodPost, "/login", map[string]string{
		"username": username, "password": password,
	}, &resp)
	if err != nil {
		return err
	}
	s.Token = resp.AccessToken
	return nil
}

// DeviceRow is one line of the dashboard table.
type DeviceRow struct {
	DeviceID      string `json:"device_id"`
	Status        string `json:"status"`
	Hostname      string `json:"hostname"`
	OSName        string `json:"os_name"`
	LastHeartbeat int64  `json:"last_heartbeat"`
}

// FetchDevices lists known devices, live or not.
func (s *Session) FetchDevices() ([]DeviceRow, error) {
	var resp struct {
		Devices []DeviceRow `json:"devices"`
	}
	if err := s.doJSON(http.MethodGet, "/devices", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// Submit routes one command and returns its id.
func (s *Session) Submit(deviceID, commandType string, params json.RawMessage) (string, error) {
	var resp struct {
		CommandID string `json:"command_id"`
	}
	err := s.doJSON(http.MethodPost, "/admin/command", map[string]any{
		"device_id": deviceID, "command_type": commandType, "params": params,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.CommandID, nil
}

// EventMsg wraps one relayed event for the UI.
type EventMsg struct {
	Event network.EventPayload
}

// StreamErrMsg reports a dead event stream.
type StreamErrMsg struct{ Err error }

// ConnectEvents opens the protocol connection and subscribes to the live
// event stream. Must be called after Login.
func (s *Session) ConnectEvents() error {
	client, err := network.DialTCP(s.Host, s.TCPPort)
	if err != nil {
		return err
	}
	if err := client.SendSubscribe(s.Token); err != nil {
		client.Close()
		return err
	}

	s.mu.Lock()
	s.events = client
	if !s.loopRunning {
		s.loopRunning = true
		go s.receiveLoop(client)
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) receiveLoop(client *network.Client) {
	for {
		f, err := client.Recv()
		if err != nil {
			select {
			case s.MsgChan <- StreamErrMsg{Err: fmt.Errorf("event stream lost: %v", err)}:
			case <-s.StopChan:
			}
			return
		}
		if f.Type != network.FrameEvent {
			continue
		}
		var ev network.EventPayload
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			continue
		}
		select {
		case s.MsgChan <- EventMsg{Event: ev}:
		case <-s.StopChan:
			return
		}
	}
}

// WaitForMsg is a tea.Cmd that waits for the next stream message.
func (s *Session) WaitForMsg() tea.Msg {
	select {
	case msg := <-s.MsgChan:
		return msg
	case <-s.StopChan:
		return nil
	}
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events != nil {
		s.events.Close()
		s.events = nil
	}
	if s.loopRunning {
		close(s.StopChan)
		s.loopRunning = false
	}
}
