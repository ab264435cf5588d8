package tui

import (
	"io"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
)

// startLocalTail watches a log file on the local filesystem and feeds
// appended bytes to ch. Used when the dashboard runs on the same host as
// the daemon and is pointed straight at its log file instead of the
// websocket stream.
func startLocalTail(path string, ch chan streamEvent) tea.Cmd {
	return func() tea.Msg {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return StreamClosedMsg{Error: err}
		}
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			watcher.Close()
			return StreamClosedMsg{Error: err}
		}

		offset := int64(0)
		if info, err := os.Stat(path); err == nil {
			offset = info.Size()
		}

		go func() {
			defer watcher.Close()
			// Poll alongside fsnotify; some filesystems coalesce rapid
			// appends into a single missed event.
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()

			emit := func() bool {
				chunk, newOffset, err := readFrom(path, offset)
				if err != nil {
					return true
				}
				offset = newOffset
				if chunk != "" {
					ch <- streamEvent{chunk: chunk}
				}
				return true
			}

			for {
				select {
				case event, ok := <-watcher.Events:
					if !ok {
						ch <- streamEvent{err: io.EOF}
						return
					}
					if event.Name == path && event.Op&fsnotify.Write == fsnotify.Write {
						emit()
					}
				case <-ticker.C:
					emit()
				case err, ok := <-watcher.Errors:
					if !ok || err != nil {
						ch <- streamEvent{err: err}
						return
					}
				}
			}
		}()

		return StreamOpenedMsg{}
	}
}

// readFrom returns the bytes appended to path since offset, plus the new
// offset. A truncated file (rotation) resets the offset to zero.
func readFrom(path string, offset int64) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", offset, err
	}
	if info.Size() < offset {
		offset = 0
	}
	if info.Size() == offset {
		return "", offset, nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", offset, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", offset, err
	}
	return string(data), info.Size(), nil
}
