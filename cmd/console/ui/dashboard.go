package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type DashboardModel struct {
	Session *Session
	Table   table.Model
	Err     error
}

type devicesMsg []DeviceRow

type DeviceSelectedMsg struct {
	DeviceID string
}

func NewDashboardModel(s *Session, width, height int) DashboardModel {
	columns := []table.Column{
		{Title: "Device ID", Width: 28},
		{Title: "Status", Width: 10},
		{Title: "Hostname", Width: 20},
		{Title: "OS", Width: 10},
		{Title: "Last Heartbeat", Width: 20},
	}
	if height < 12 {
		height = 12
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(height-10),
	)

	sStyle := table.DefaultStyles()
	sStyle.Header = sStyle.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	sStyle.Selected = sStyle.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(sStyle)

	return DashboardModel{Session: s, Table: t}
}

func (m DashboardModel) Init() tea.Cmd {
	return m.refreshCmd
}

func (m DashboardModel) refreshCmd() tea.Msg {
	rows, err := m.Session.FetchDevices()
	if err != nil {
		return errMsg(err)
	}
	return devicesMsg(rows)
}

func (m DashboardModel) Update(msg tea.Msg) (DashboardModel, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "r":
			return m, m.refreshCmd
		case "enter":
			selected := m.Table.SelectedRow()
			if len(selected) > 0 {
				id := selected[0]
				return m, func() tea.Msg { return DeviceSelectedMsg{DeviceID: id} }
			}
		case "q":
			return m, tea.Quit
		}

	case devicesMsg:
		rows := make([]table.Row, 0, len(msg))
		for _, d := range msg {
			hb := "-"
			if d.LastHeartbeat > 0 {
				hb = time.Unix(d.LastHeartbeat, 0).Format("15:04:05 Jan 02")
			}
			rows = append(rows, table.Row{d.DeviceID, d.Status, d.Hostname, d.OSName, hb})
		}
		m.Table.SetRows(rows)
		m.Err = nil

	case errMsg:
		m.Err = msg

	case EventMsg:
		// A result event usually means device state changed; refresh.
		if msg.Event.Event == "command_result" {
			return m, m.refreshCmd
		}
	}

	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m DashboardModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Devices") + "\n\n")
	b.WriteString(m.Table.View())
	b.WriteString("\n\n")
	b.WriteString(blurredStyle.Render(fmt.Sprintf("%d devices | 'r' refresh, Enter select, 'q' quit", len(m.Table.Rows()))))
	if m.Err != nil {
		b.WriteString("\n" + errorMessageStyle(m.Err.Error()))
	}
	return b.String()
}
