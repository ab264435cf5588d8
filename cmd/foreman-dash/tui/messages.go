// Package tui provides the terminal dashboard over a running foremand's
// control surface.
package tui

import "time"

type tickMsg time.Time

// StatusMsg carries a fresh /status snapshot from the daemon.
type StatusMsg struct {
	Snapshot StatusSnapshot
}

// StatusErrMsg signals that the status poll failed. The dashboard keeps the
// last good snapshot and surfaces the error in the footer.
type StatusErrMsg struct {
	Error error
}

// LogChunkMsg carries newly appended system-log bytes, from the websocket
// stream or the local file tail.
type LogChunkMsg struct {
	Chunk string
}

// StreamClosedMsg signals that the log stream ended. A websocket stream is
// reopened after a short delay; a local file tail is not restarted.
type StreamClosedMsg struct {
	Error error
}

// ActionDoneMsg reports the outcome of an operator action (start, stop,
// force-sync) for the footer flash line.
type ActionDoneMsg struct {
	Action string
	Error  error
}
