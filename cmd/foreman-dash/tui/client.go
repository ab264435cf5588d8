package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/corvidwave/foreman/internal/auth"
	"github.com/corvidwave/foreman/internal/manager"
	"github.com/corvidwave/foreman/internal/worker"
)

// StatusSnapshot mirrors the daemon's GET /status body.
type StatusSnapshot struct {
	Running bool              `json:"running"`
	Pool    manager.Summary   `json:"pool"`
	Workers []worker.Progress `json:"workers"`
}

// Client talks to a running foremand control surface. All methods are
// synchronous; the TUI wraps them in tea.Cmds.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// NewClient builds a Client for the daemon at baseURL (e.g.
// "http://127.0.0.1:8787"). Login must be called before any other method.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Login authenticates the operator and stores the access token for
// subsequent calls.
func (c *Client) Login(username, password string) error {
	body, _ := json.Marshal(auth.LoginRequest{Username: username, Password: password})
	resp, err := c.http.Post(c.baseURL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login: daemon returned %s", resp.Status)
	}

	var authResp auth.AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return fmt.Errorf("login: decode response: %w", err)
	}
	c.token = authResp.Token
	return nil
}

// Status fetches the pool + planner snapshot.
func (c *Client) Status() (StatusSnapshot, error) {
	var snap StatusSnapshot
	err := c.getJSON("/status", &snap)
	return snap, err
}

// ForceSync runs one Planner tick synchronously on the daemon.
func (c *Client) ForceSync() error {
	return c.post("/force-sync")
}

// Start begins the daemon's Planner/Manager run loops.
func (c *Client) Start() error {
	return c.post("/start")
}

// Stop cancels the daemon's run loops.
func (c *Client) Stop() error {
	return c.post("/stop")
}

// Logs fetches the trailing n bytes of the daemon's system log.
func (c *Client) Logs(n int) (string, error) {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/logs?bytes=%d", c.baseURL, n), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get logs: daemon returned %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DialLogStream opens the websocket log tail. The caller owns the returned
// connection and must Close it.
func (c *Client) DialLogStream() (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/logs/stream"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial log stream: %w", err)
	}
	return conn, nil
}

func (c *Client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: daemon returned %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(path string) error {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST %s: daemon returned %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
