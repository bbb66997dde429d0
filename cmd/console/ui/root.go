package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

type state int

const (
	stateLogin state = iota
	stateDashboard
	stateDeviceDetail
)

type RootModel struct {
	State     state
	Session   *Session
	Login     LoginModel
	Dashboard DashboardModel
	Detail    DeviceDetailModel
	Quitting  bool
	width     int
	height    int
}

func NewRootModel() RootModel {
	s := NewSession()
	return RootModel{
		State:   stateLogin,
		Session: s,
		Login:   NewLoginModel(s),
	}
}

func (m RootModel) Init() tea.Cmd {
	return m.Login.Init()
}

func (m RootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.State == stateDashboard {
			m.Dashboard.Table.SetHeight(msg.Height - 10)
		}
		if m.State == stateDeviceDetail {
			m.Detail.EventLog.Width = msg.Width - 4
			m.Detail.EventLog.Height = msg.Height - 14
		}

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.Quitting = true
			m.Session.Close()
			return m, tea.Quit
		}

	case loginOKMsg:
		m.State = stateDashboard
		m.Dashboard = NewDashboardModel(m.Session, m.width, m.height)
		return m, tea.Batch(m.Dashboard.Init(), m.Session.WaitForMsg)

	case DeviceSelectedMsg:
		m.State = stateDeviceDetail
		m.Detail = NewDeviceDetailModel(m.Session, msg.DeviceID, m.width, m.height)
		return m, m.Detail.Init()

	case BackToDashboardMsg:
		m.State = stateDashboard
		return m, m.Dashboard.Init()

	case StreamErrMsg:
		// Dead event stream; keep the UI alive, surface the error.
		switch m.State {
		case stateDashboard:
			m.Dashboard.Err = msg.Err
		case stateDeviceDetail:
			m.Detail.Err = msg.Err
		}
		return m, nil
	}

	switch m.State {
	case stateLogin:
		newLogin, cmd := m.Login.Update(msg)
		m.Login = newLogin
		cmds = append(cmds, cmd)

	case stateDashboard:
		newDash, cmd := m.Dashboard.Update(msg)
		m.Dashboard = newDash
		cmds = append(cmds, cmd)
		if _, ok := msg.(EventMsg); ok {
			cmds = append(cmds, m.Session.WaitForMsg)
		}

	case stateDeviceDetail:
		newDetail, cmd := m.Detail.Update(msg)
		m.Detail = newDetail
		cmds = append(cmds, cmd)
		if _, ok := msg.(EventMsg); ok {
			cmds = append(cmds, m.Session.WaitForMsg)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m RootModel) View() string {
	if m.Quitting {
		return "Bye!\n"
	}
	switch m.State {
	case stateLogin:
		return m.Login.View()
	case stateDashboard:
		return m.Dashboard.View()
	case stateDeviceDetail:
		return m.Detail.View()
	}
	return "Unknown state"
}
