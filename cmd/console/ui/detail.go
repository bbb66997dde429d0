package ui

import (
	"encoding/json"
	"fmt"
	"strings"

	"autonova-rmm/backend/app/dispatch"
	"autonova-rmm/network"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// BackToDashboardMsg signals transition back to the device table.
type BackToDashboardMsg struct{}

type submitOKMsg struct{ CommandID string }

// DeviceDetailModel drives one device: pick a command type, edit params,
// submit, and watch the live event tail for that device.
type DeviceDetailModel struct {
	Session  *Session
	DeviceID string

	Types    []string
	TypeIdx  int
	Params   textinput.Model
	EventLog viewport.Model
	lines    []string

	LastCommandID string
	Status        string
	Err           error
}

func NewDeviceDetailModel(s *Session, deviceID string, width, height int) DeviceDetailModel {
	params := textinput.New()
	params.Prompt = "Params (JSON): "
	params.Placeholder = "{}"

	if width < 40 {
		width = 80
	}
	if height < 16 {
		height = 24
	}
	vp := viewport.New(width-4, height-14)

	return DeviceDetailModel{
		Session:  s,
		DeviceID: deviceID,
		Types:    dispatch.CommandTypes(),
		Params:   params,
		EventLog: vp,
	}
}

func (m DeviceDetailModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m DeviceDetailModel) Update(msg tea.Msg) (DeviceDetailModel, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			return m, func() tea.Msg { return BackToDashboardMsg{} }
		case "left":
			if !m.Params.Focused() {
				m.TypeIdx--
				if m.TypeIdx < 0 {
					m.TypeIdx = len(m.Types) - 1
				}
				return m, nil
			}
		case "right":
			if !m.Params.Focused() {
				m.TypeIdx = (m.TypeIdx + 1) % len(m.Types)
				return m, nil
			}
		case "tab":
			if m.Params.Focused() {
				m.Params.Blur()
			} else {
				m.Params.Focus()
			}
			return m, nil
		case "enter":
			return m, m.submitCmd
		}

	case submitOKMsg:
		m.LastCommandID = msg.CommandID
		m.Status = fmt.Sprintf("submitted %s", msg.CommandID)
		m.Err = nil
		m.appendLine(statusMessageStyle(fmt.Sprintf(">> %s %s", m.Types[m.TypeIdx], msg.CommandID)))

	case errMsg:
		m.Err = msg

	case EventMsg:
		if msg.Event.DeviceID == m.DeviceID {
			m.appendLine(renderEvent(msg.Event))
		}
	}

	var cmd tea.Cmd
	m.Params, cmd = m.Params.Update(msg)
	cmds = append(cmds, cmd)
	m.EventLog, cmd = m.EventLog.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *DeviceDetailModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > 500 {
		m.lines = m.lines[len(m.lines)-500:]
	}
	m.EventLog.SetContent(strings.Join(m.lines, "\n"))
	m.EventLog.GotoBottom()
}

func (m DeviceDetailModel) submitCmd() tea.Msg {
	raw := strings.TrimSpace(m.Params.Value())
	var params json.RawMessage
	if raw != "" {
		if !json.Valid([]byte(raw)) {
			return errMsg(fmt.Errorf("params must be valid JSON"))
		}
		params = json.RawMessage(raw)
	}
	id, err := m.Session.Submit(m.DeviceID, m.Types[m.TypeIdx], params)
	if err != nil {
		return errMsg(err)
	}
	return submitOKMsg{CommandID: id}
}

func renderEvent(ev network.EventPayload) string {
	if ev.Event == "command_result" {
		outcome := "failed"
		if ev.Success != nil && *ev.Success {
			outcome = "succeeded"
		}
		line := fmt.Sprintf("<< %s %s", ev.CommandID, outcome)
		if ev.Error != "" {
			line += ": " + ev.Error
		}
		return statusMessageStyle(line)
	}
	style, ok := eventLevelStyle[ev.Level]
	if !ok {
		style = eventLevelStyle["info"]
	}
	return style.Render(fmt.Sprintf("   %s [%s] %s", ev.CommandID, ev.Level, ev.Message))
}

func (m DeviceDetailModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Device "+m.DeviceID) + "\n\n")

	typeLine := fmt.Sprintf("Command: < %s >  (%d/%d)", m.Types[m.TypeIdx], m.TypeIdx+1, len(m.Types))
	if m.Params.Focused() {
		b.WriteString(blurredStyle.Render(typeLine))
	} else {
		b.WriteString(focusedStyle.Render(typeLine))
	}
	b.WriteString("\n")
	b.WriteString(m.Params.View())
	b.WriteString("\n\n")
	b.WriteString(m.EventLog.View())
	b.WriteString("\n\n")
	b.WriteString(blurredStyle.Render("left/right pick command, Tab edit params, Enter submit, Esc back"))
	if m.Status != "" {
		b.WriteString("\n" + statusMessageStyle(m.Status))
	}
	if m.Err != nil {
		b.WriteString("\n" + errorMessageStyle(m.Err.Error()))
	}
	return b.String()
}
