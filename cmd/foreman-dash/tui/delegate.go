package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
)

type WorkerDelegate struct{}

func (d WorkerDelegate) Height() int                               { return 1 }
func (d WorkerDelegate) Spacing() int                              { return 0 }
func (d WorkerDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d WorkerDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	it, ok := listItem.(WorkerItem)
	if !ok {
		return
	}

	line := fmt.Sprintf("[%s] %s", shortID(it.ID), statusStyle(string(it.Status)).Render(string(it.Status)))
	if it.TaskID != "" {
		line += " " + it.TaskID
	}
	if it.Stage != "" {
		line += StyleDimmed.Render(fmt.Sprintf(" (%s)", it.Stage))
	}

	if index == m.Index() {
		fmt.Fprint(w, StyleSelected.Render("> ")+line)
	} else {
		fmt.Fprint(w, "  "+line)
	}
}
