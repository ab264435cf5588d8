package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (m Model) View() string {
	if m.Width == 0 || !m.Ready {
		return "Connecting to foremand..."
	}

	footer := m.viewFooter()
	footerHeight := lipgloss.Height(footer)
	contentHeight := m.Height - footerHeight
	if contentHeight < 0 {
		contentHeight = 0
	}

	sidebarWidth := m.Width / 3
	if sidebarWidth < 32 {
		sidebarWidth = 32
	}
	if sidebarWidth > m.Width/2 {
		sidebarWidth = m.Width / 2
	}

	header := StyleTitle.Render(" WORKERS ")
	if m.Mode == ModeFilter || m.FilterText != "" {
		header = StyleTitle.Render(" WORKERS ") + " " + m.Filter.View()
	}

	sidebar := StylePaneBorderFocus.Width(sidebarWidth - 2).Height(contentHeight - 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, header, m.WorkerList.View()),
	)

	logTitle := StyleDimmed.Render(" SYSTEM LOG ")
	logPane := StylePaneBorder.Width(m.Width - sidebarWidth - 2).Height(contentHeight - 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, logTitle, m.LogView.View()),
	)

	main := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, logPane)
	return lipgloss.JoinVertical(lipgloss.Left, main, footer)
}

func (m Model) viewFooter() string {
	w := lipgloss.Width

	state := StyleStopped.Render(" STOPPED ")
	if m.Snapshot.Running {
		state = StyleRunning.Render(" RUNNING ")
	}

	pool := m.Snapshot.Pool
	counts := StyleFooterSegment.Render(fmt.Sprintf(
		"workers %d  idle %d  active %d  stopped %d  error %d",
		pool.Total, pool.Idle, pool.Active, pool.Stopped, pool.Error,
	))

	addr := StyleFooterSegment.Render(m.DaemonAddr)

	right := ""
	switch {
	case m.Err != nil:
		right = StyleError.Render(" " + truncate(m.Err.Error(), 48) + " ")
	case m.Flash != "":
		right = StyleDimmed.Render(" " + truncate(m.Flash, 48) + " ")
	}

	left := state + counts + addr
	gap := m.Width - w(left) - w(right)
	if gap < 0 {
		gap = 0
	}
	return left + strings.Repeat(" ", gap) + right
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
