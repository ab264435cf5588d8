package control

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/corvidwave/foreman/internal/auth"
	"github.com/corvidwave/foreman/internal/board"
	"github.com/corvidwave/foreman/internal/config"
	"github.com/corvidwave/foreman/internal/developer"
	"github.com/corvidwave/foreman/internal/git"
	"github.com/corvidwave/foreman/internal/gitlock"
	"github.com/corvidwave/foreman/internal/manager"
	"github.com/corvidwave/foreman/internal/planner"
	"github.com/corvidwave/foreman/internal/plannerstate"
	"github.com/corvidwave/foreman/internal/prompt"
	"github.com/corvidwave/foreman/internal/pullrequest"
	"github.com/corvidwave/foreman/internal/resultprocessor"
	"github.com/corvidwave/foreman/internal/worker"
	"github.com/corvidwave/foreman/internal/workspace"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runCmd(t *testing.T, dir, name string, args ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("%s %v: %v\n%s", name, args, err, out)
	}
}

func seedRemote(t *testing.T, dir string) string {
	t.Helper()
	remoteDir := filepath.Join(dir, "remote.git")
	runCmd(t, dir, "git", "init", "--bare", remoteDir)

	seedDir := filepath.Join(dir, "seed")
	runCmd(t, seedDir, "git", "init")
	runCmd(t, seedDir, "git", "config", "user.email", "test@example.com")
	runCmd(t, seedDir, "git", "config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(seedDir, "README.md"), []byte("hi\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runCmd(t, seedDir, "git", "add", ".")
	runCmd(t, seedDir, "git", "commit", "-m", "seed")
	runCmd(t, seedDir, "git", "remote", "add", "origin", remoteDir)
	runCmd(t, seedDir, "git", "push", "origin", "HEAD:main")
	return remoteDir
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	requireGit(t)
	tmp := t.TempDir()
	remote := seedRemote(t, tmp)

	gitLayer := git.New(gitlock.New(), filepath.Join(tmp, "cache"), "origin", 1, time.Hour, time.Minute)
	ws := workspace.New(gitLayer, filepath.Join(tmp, "workspaces"), "agent/task-", testLogger())
	promptGen := prompt.New(config.InstructionConfig{}, config.GitConfig{Remote: "origin", PRTitleFormat: "feat: %s", CommitMessageFormat: "feat: %s"})
	rp := resultprocessor.New(testLogger())
	restart := config.DeveloperConfig{MaxRestartAttempts: 3, RestartCooldownSeconds: []int{0, 0, 0}}
	dev := &developer.Mock{}

	factory := func(id string) *worker.Worker {
		return worker.New(id, ws, promptGen, dev, rp, func(string) string { return remote }, restart, nil, testLogger())
	}
	mgr := manager.New(factory, 0, 2, time.Hour, time.Hour, false, testLogger())

	state, err := plannerstate.NewStore(filepath.Join(tmp, "state.json"))
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	boardSvc := board.NewMockService()
	prSvc := pullrequest.NewMockService()
	p := planner.New(boardSvc, prSvc, mgr, state, config.PlannerConfig{BoardID: "b", MaxRetryAttempts: 3, RepositoryFilter: config.RepositoryFilter{Mode: "blacklist"}}, nil, testLogger())

	authCfg := config.ControlConfig{OperatorUsername: "operator", JWTSecret: "test-secret", AccessTokenMinutes: 15, RefreshTokenHours: 24}
	hash, err := auth.HashPassword("swordfish")
	if err != nil {
		t.Fatalf("HashPassword() failed: %v", err)
	}
	authCfg.OperatorPassword = hash
	authSvc := auth.NewService(authCfg)
	authHandler := auth.NewHandler(authSvc)

	logPath := filepath.Join(tmp, "orchestrator.log")
	if err := os.WriteFile(logPath, []byte("boot\n"), 0644); err != nil {
		t.Fatal(err)
	}

	return New(p, mgr, authHandler, time.Hour, logPath, testLogger()), logPath
}

func loginToken(t *testing.T, srv http.Handler) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": "operator", "password": "swordfish"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp auth.AuthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.Token
}

func TestStatusRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)
	srv := s.Routes()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}
}

func TestStatusReturnsPoolSummary(t *testing.T) {
	s, _ := newTestServer(t)
	srv := s.Routes()
	token := loginToken(t, srv)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode status response: %v", err)
	}
	if resp.Pool.Idle+resp.Pool.Active+resp.Pool.Stopped+resp.Pool.Error != resp.Pool.Total {
		t.Errorf("pool summary components don't sum to total: %+v", resp.Pool)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	srv := s.Routes()
	token := loginToken(t, srv)

	start := httptest.NewRequest(http.MethodPost, "/start", nil)
	start.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, start)
	if rec.Code != http.StatusOK {
		t.Fatalf("start failed: %d %s", rec.Code, rec.Body.String())
	}

	stop := httptest.NewRequest(http.MethodPost, "/stop", nil)
	stop.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	started := time.Now()
	srv.ServeHTTP(rec, stop)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop failed: %d %s", rec.Code, rec.Body.String())
	}
	if time.Since(started) >= shutdownWindow {
		t.Errorf("expected stop to return well before the shutdown window elapses")
	}
}

func TestForceSync(t *testing.T) {
	s, _ := newTestServer(t)
	srv := s.Routes()
	token := loginToken(t, srv)

	req := httptest.NewRequest(http.MethodPost, "/force-sync", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetLogsReturnsFileTail(t *testing.T) {
	s, logPath := newTestServer(t)
	srv := s.Routes()
	token := loginToken(t, srv)

	if err := os.WriteFile(logPath, []byte("line one\nline two\n"), 0644); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/logs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "line one\nline two\n" {
		t.Errorf("unexpected log tail body: %q", rec.Body.String())
	}
}
