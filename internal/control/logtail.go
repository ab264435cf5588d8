package control

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"
)

const defaultLogTailBytes = 64 * 1024

// handleGetLogs is the plain-HTTP log read: the
// trailing bytes of the system log file, as a single response.
func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogTailBytes
	if raw := r.URL.Query().Get("bytes"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}

	data, err := tailBytes(s.logPath, n)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

func tailBytes(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	offset := int64(0)
	if size > int64(n) {
		offset = size - int64(n)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleLogStream upgrades to a websocket and pushes newly appended log
// bytes as they land, so foreman-dash can live-tail the system log without
// filesystem access to the daemon host.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("log stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("log stream watcher init failed", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.logPath)); err != nil {
		s.logger.Warn("log stream watch add failed", "error", err)
		return
	}

	offset := int64(0)
	if info, err := os.Stat(s.logPath); err == nil {
		offset = info.Size()
	}

	send := func() bool {
		f, err := os.Open(s.logPath)
		if err != nil {
			return true
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return true
		}
		if info.Size() <= offset {
			return true
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return true
		}
		chunk, err := io.ReadAll(f)
		if err != nil {
			return true
		}
		offset = info.Size()
		if err := conn.WriteMessage(websocket.TextMessage, chunk); err != nil {
			return false
		}
		return true
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name == s.logPath && (event.Op&fsnotify.Write == fsnotify.Write) {
				if !send() {
					return
				}
			}
		case <-ticker.C:
			// Belt-and-suspenders poll in case an fsnotify event is missed
			// (e.g. on filesystems that coalesce rapid writes).
			if !send() {
				return
			}
		case err, ok := <-watcher.Errors:
			if !ok || err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
