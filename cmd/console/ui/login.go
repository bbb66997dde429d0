package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type errMsg error

type loginOKMsg struct{}

type LoginModel struct {
	Session  *Session
	Inputs   []textinput.Model
	FocusIdx int
	Err      error
}

const (
	inputHost = iota
	inputHTTPPort
	inputTCPPort
	inputUsername
	inputPassword
)

func NewLoginModel(s *Session) LoginModel {
	inputs := make([]textinput.Model, 5)

	inputs[inputHost] = textinput.New()
	inputs[inputHost].Prompt = "Host: "
	inputs[inputHost].SetValue("127.0.0.1")
	inputs[inputHost].Focus()

	inputs[inputHTTPPort] = textinput.New()
	inputs[inputHTTPPort].Prompt = "API Port: "
	inputs[inputHTTPPort].SetValue("9400")

	inputs[inputTCPPort] = textinput.New()
	inputs[inputTCPPort].Prompt = "Event Port: "
	inputs[inputTCPPort].SetValue("9200")

	inputs[inputUsername] = textinput.New()
	inputs[inputUsername].Prompt = "Username: "
	inputs[inputUsername].Placeholder = "admin"

	inputs[inputPassword] = textinput.New()
	inputs[inputPassword].Prompt = "Password: "
	inputs[inputPassword].EchoMode = textinput.EchoPassword

	return LoginModel{Session: s, Inputs: inputs}
}

func (m LoginModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m LoginModel) Update(msg tea.Msg) (LoginModel, tea.Cmd) {
	cmds := make([]tea.Cmd, len(m.Inputs))

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			if m.FocusIdx == len(m.Inputs)-1 {
				return m, m.LoginCmd
			}
			m.nextInput()
		case tea.KeyTab, tea.KeyDown:
			m.nextInput()
		case tea.KeyShiftTab, tea.KeyUp:
			m.prevInput()
		}
	case errMsg:
		m.Err = msg
	}

	for i := range m.Inputs {
		m.Inputs[i], cmds[i] = m.Inputs[i].Update(msg)
	}
	return m, tea.Batch(cmds...)
}

func (m *LoginModel) nextInput() {
	m.Inputs[m.FocusIdx].Blur()
	m.FocusIdx = (m.FocusIdx + 1) % len(m.Inputs)
	m.Inputs[m.FocusIdx].Focus()
}

func (m *LoginModel) prevInput() {
	m.Inputs[m.FocusIdx].Blur()
	m.FocusIdx--
	if m.FocusIdx < 0 {
		m.FocusIdx = len(m.Inputs) - 1
	}
	m.Inputs[m.FocusIdx].Focus()
}

func (m LoginModel) LoginCmd() tea.Msg {
	host := m.Inputs[inputHost].Value()
	httpPort, err := strconv.Atoi(m.Inputs[inputHTTPPort].Value())
	if err != nil {
		return errMsg(fmt.Errorf("invalid api port"))
	}
	tcpPort, err := strconv.Atoi(m.Inputs[inputTCPPort].Value())
	if err != nil {
		return errMsg(fmt.Errorf("invalid event port"))
	}

	m.Session.Host = host
	m.Session.HTTPPort = httpPort
	m.Session.TCPPort = tcpPort

	username := m.Inputs[inputUsername].Value()
	password := m.Inputs[inputPassword].Value()
	if err := m.Session.Login(username, password); err != nil {
		return errMsg(fmt.Errorf("login failed: %v", err))
	}
	if err := m.Session.ConnectEvents(); err != nil {
		return errMsg(fmt.Errorf("event stream failed: %v", err))
	}
	return loginOKMsg{}
}

func (m LoginModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Autonova RMM - Admin Console") + "\n\n")
	for i := range m.Inputs {
		b.WriteString(m.Inputs[i].View())
		if i < len(m.Inputs)-1 {
			b.WriteRune('\n')
		}
	}
	b.WriteString("\n\n")
	b.WriteString(blurredStyle.Render("Tab to change fields, Enter to submit"))
	if m.Err != nil {
		b.WriteString("\n\n" + errorMessageStyle(m.Err.Error()))
	}
	return b.String()
}
