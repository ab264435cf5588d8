package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/sahilm/fuzzy"

	"github.com/corvidwave/foreman/internal/worker"
)

type ViewMode int

const (
	ModeNormal ViewMode = iota
	ModeFilter
)

type Model struct {
	Client     *Client
	DaemonAddr string

	// UI components
	WorkerList list.Model
	LogView    viewport.Model
	Filter     textinput.Model

	// State
	Snapshot   StatusSnapshot
	AllItems   []WorkerItem
	FilterText string
	LogBuf     string
	Width      int
	Height     int
	Mode       ViewMode
	Ready      bool
	Err        error
	Flash      string

	// Local-tail mode: when LocalLogPath is set the dashboard tails that
	// file with fsnotify instead of the daemon's websocket stream.
	LocalLogPath string

	streamCh chan streamEvent
}

// NewModel assembles the dashboard model around a logged-in client. When
// localLogPath is non-empty the log pane tails that file directly instead
// of the daemon's websocket stream.
func NewModel(client *Client, daemonAddr, localLogPath string, workerList list.Model, filter textinput.Model, logView viewport.Model) Model {
	return Model{
		Client:       client,
		DaemonAddr:   daemonAddr,
		LocalLogPath: localLogPath,
		WorkerList:   workerList,
		Filter:       filter,
		LogView:      logView,
		streamCh:     make(chan streamEvent, 16),
	}
}

// WorkerItem implements list.Item for one pool worker.
type WorkerItem struct {
	ID     string
	Status worker.Status
	Stage  worker.Stage
	TaskID string
}

func (i WorkerItem) FilterValue() string { return i.ID + " " + i.TaskID }

func (i WorkerItem) TitleString() string {
	if i.TaskID == "" {
		return fmt.Sprintf("%s  %s", shortID(i.ID), i.Status)
	}
	return fmt.Sprintf("%s  %s  %s", shortID(i.ID), i.Status, i.TaskID)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// workerItems converts a status snapshot's workers to list items.
func workerItems(snap StatusSnapshot) []WorkerItem {
	items := make([]WorkerItem, len(snap.Workers))
	for i, p := range snap.Workers {
		items[i] = WorkerItem{ID: p.ID, Status: p.Status, Stage: p.Stage, TaskID: p.TaskID}
	}
	return items
}

// applyFilter fuzzy-matches the filter text against worker and task ids and
// replaces the visible list with the matches, best score first. An empty
// filter shows everything.
func (m *Model) applyFilter() {
	if m.FilterText == "" {
		items := make([]list.Item, len(m.AllItems))
		for i, it := range m.AllItems {
			items[i] = it
		}
		m.WorkerList.SetItems(items)
		return
	}

	haystack := make([]string, len(m.AllItems))
	for i, it := range m.AllItems {
		haystack[i] = it.FilterValue()
	}
	matches := fuzzy.Find(m.FilterText, haystack)

	items := make([]list.Item, len(matches))
	for i, match := range matches {
		items[i] = m.AllItems[match.Index]
	}
	m.WorkerList.SetItems(items)
}
