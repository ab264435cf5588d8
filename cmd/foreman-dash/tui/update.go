package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const helpText = `
foreman-dash keys:
  j/k or arrows  - navigate workers
  /              - fuzzy-filter workers by id or task
  esc            - clear filter
  g              - run one planner tick now (force-sync)
  s              - start the orchestrator
  S              - stop the orchestrator
  G              - jump log view to bottom
  q / ctrl+c     - quit
`

// statusPollInterval paces /status refreshes between websocket pushes.
const statusPollInterval = 2 * time.Second

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		textinput.Blink,
		m.fetchStatus(),
		pollTick(),
	}
	if m.LocalLogPath != "" {
		cmds = append(cmds, startLocalTail(m.LocalLogPath, m.streamCh))
	} else {
		cmds = append(cmds, connectStream(m.Client, m.streamCh))
	}
	return tea.Batch(cmds...)
}

func pollTick() tea.Cmd {
	return tea.Tick(statusPollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetchStatus() tea.Cmd {
	client := m.Client
	return func() tea.Msg {
		snap, err := client.Status()
		if err != nil {
			return StatusErrMsg{Error: err}
		}
		return StatusMsg{Snapshot: snap}
	}
}

func (m Model) runAction(name string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return ActionDoneMsg{Action: name, Error: fn()}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Ready = true
		m.updateLayout()
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetchStatus(), pollTick())

	case StatusMsg:
		m.Snapshot = msg.Snapshot
		m.Err = nil
		m.AllItems = workerItems(msg.Snapshot)
		m.applyFilter()
		return m, nil

	case StatusErrMsg:
		m.Err = msg.Error
		return m, nil

	case StreamOpenedMsg:
		return m, waitForChunk(m.streamCh)

	case LogChunkMsg:
		atBottom := m.LogView.AtBottom()
		m.LogBuf += msg.Chunk
		m.LogBuf = trimLogBuf(m.LogBuf)
		m.LogView.SetContent(m.LogBuf)
		if atBottom {
			m.LogView.GotoBottom()
		}
		return m, waitForChunk(m.streamCh)

	case StreamClosedMsg:
		// Websocket streams reconnect on a delay; a dead local tail stays
		// dead (the file is gone or unreadable, retrying won't help).
		if m.LocalLogPath != "" {
			m.Flash = "log tail stopped"
			return m, nil
		}
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, connectStream(m.Client, m.streamCh)

	case ActionDoneMsg:
		if msg.Error != nil {
			m.Flash = msg.Action + " failed: " + msg.Error.Error()
		} else {
			m.Flash = msg.Action + " ok"
		}
		return m, m.fetchStatus()
	}

	var cmd tea.Cmd
	if m.Mode == ModeFilter {
		m.Filter, cmd = m.Filter.Update(msg)
		return m, cmd
	}
	m.WorkerList, cmd = m.WorkerList.Update(msg)
	return m, cmd
}

type reconnectMsg struct{}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	if m.Mode == ModeFilter {
		switch msg.String() {
		case "esc":
			m.Mode = ModeNormal
			m.Filter.Blur()
			m.Filter.SetValue("")
			m.FilterText = ""
			m.applyFilter()
			return m, nil
		case "enter":
			m.Mode = ModeNormal
			m.Filter.Blur()
			return m, nil
		default:
			var cmd tea.Cmd
			m.Filter, cmd = m.Filter.Update(msg)
			m.FilterText = m.Filter.Value()
			m.applyFilter()
			return m, cmd
		}
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "/":
		m.Mode = ModeFilter
		m.Filter.Focus()
		return m, textinput.Blink
	case "esc":
		if m.FilterText != "" {
			m.Filter.SetValue("")
			m.FilterText = ""
			m.applyFilter()
		}
		return m, nil
	case "g":
		return m, m.runAction("force-sync", m.Client.ForceSync)
	case "s":
		return m, m.runAction("start", m.Client.Start)
	case "S":
		return m, m.runAction("stop", m.Client.Stop)
	case "G":
		m.LogView.GotoBottom()
		return m, nil
	case "?":
		// The next log chunk restores the pane.
		m.LogView.SetContent(helpText)
		return m, nil
	}

	var cmd tea.Cmd
	m.WorkerList, cmd = m.WorkerList.Update(msg)
	return m, cmd
}

// maxLogBuf bounds the in-memory log scrollback.
const maxLogBuf = 256 * 1024

func trimLogBuf(buf string) string {
	if len(buf) <= maxLogBuf {
		return buf
	}
	return buf[len(buf)-maxLogBuf:]
}

func (m *Model) updateLayout() {
	sidebarWidth := m.Width / 3
	if sidebarWidth < 32 {
		sidebarWidth = 32
	}
	if sidebarWidth > m.Width/2 {
		sidebarWidth = m.Width / 2
	}

	footerHeight := 1
	contentHeight := m.Height - footerHeight - 2
	if contentHeight < 3 {
		contentHeight = 3
	}

	m.WorkerList.SetSize(sidebarWidth-4, contentHeight-2)
	m.LogView.Width = m.Width - sidebarWidth - 4
	m.LogView.Height = contentHeight - 1
	m.LogView.SetContent(m.LogBuf)
}
