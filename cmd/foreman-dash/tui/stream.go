package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// streamEvent is what the log pump goroutine hands the update loop.
type streamEvent struct {
	chunk string
	err   error
}

// StreamOpenedMsg signals that the websocket log tail connected.
type StreamOpenedMsg struct{}

// connectStream dials the daemon's websocket log tail and starts a reader
// goroutine that feeds ch until the connection dies.
func connectStream(c *Client, ch chan streamEvent) tea.Cmd {
	return func() tea.Msg {
		conn, err := c.DialLogStream()
		if err != nil {
			return StreamClosedMsg{Error: err}
		}

		go func() {
			defer conn.Close()
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					ch <- streamEvent{err: err}
					return
				}
				ch <- streamEvent{chunk: string(data)}
			}
		}()

		return StreamOpenedMsg{}
	}
}

// waitForChunk blocks until the pump produces the next event.
func waitForChunk(ch chan streamEvent) tea.Cmd {
	return func() tea.Msg {
		ev := <-ch
		if ev.err != nil {
			return StreamClosedMsg{Error: ev.err}
		}
		return LogChunkMsg{Chunk: ev.chunk}
	}
}
