package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/corvidwave/foreman/internal/config"
	"github.com/corvidwave/foreman/internal/developer"
	"github.com/corvidwave/foreman/internal/git"
	"github.com/corvidwave/foreman/internal/gitlock"
	"github.com/corvidwave/foreman/internal/prompt"
	"github.com/corvidwave/foreman/internal/resultprocessor"
	"github.com/corvidwave/foreman/internal/task"
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
	runCmd(t, dir, "git", "--git-dir="+remoteDir, "symbolic-ref", "HEAD", "refs/heads/main")
	return remoteDir
}

func newTestWorker(t *testing.T, dev developer.Developer) (*Worker, string) {
	t.Helper()
	tmp := t.TempDir()
	remote := seedRemote(t, tmp)

	gitLayer := git.New(gitlock.New(), filepath.Join(tmp, "cache"), "origin", 1, time.Hour, time.Minute)
	ws := workspace.New(gitLayer, filepath.Join(tmp, "workspaces"), "agent/task-", testLogger())
	promptGen := prompt.New(config.InstructionConfig{}, config.GitConfig{Remote: "origin", PRTitleFormat: "feat: %s", CommitMessageFormat: "feat: %s"})
	rp := resultprocessor.New(testLogger())

	restart := config.DeveloperConfig{MaxRestartAttempts: 3, RestartCooldownSeconds: []int{0, 0, 0}}
	w := New("w1", ws, promptGen, dev, rp, func(string) string { return remote }, restart, nil, testLogger())
	return w, tmp
}

func TestAssignTaskRejectsWhenAlreadyHoldingTask(t *testing.T) {
	w, _ := newTestWorker(t, &developer.Mock{})
	req := task.Request{TaskID: "t1", Action: task.ActionStartNewTask, RepositoryID: "o/r", BoardItem: &task.BoardItemRef{Title: "x"}}

	if err := w.AssignTask(req); err != nil {
		t.Fatalf("first AssignTask() failed: %v", err)
	}
	if err := w.AssignTask(task.Request{TaskID: "t2"}); err == nil {
		t.Fatal("expected CONCURRENCY_ERROR on second AssignTask")
	}
}

func TestExecuteHappyPathReturnsIdleAndSuccess(t *testing.T) {
	requireGit(t)
	w, _ := newTestWorker(t, &developer.Mock{})

	req := task.Request{
		TaskID:       "t1",
		Action:       task.ActionStartNewTask,
		RepositoryID: "o/r",
		BoardItem:    &task.BoardItemRef{Title: "Add feature", Description: "do it"},
	}
	if err := w.AssignTask(req); err != nil {
		t.Fatalf("AssignTask() failed: %v", err)
	}

	result := w.Execute(context.Background())
	if !result.Success {
		t.Errorf("expected success, got %+v", result)
	}
	if w.Status() != StatusIdle {
		t.Errorf("expected IDLE after success, got %s", w.Status())
	}
	if w.CurrentTaskID() != "" {
		t.Errorf("expected currentTask cleared after success, got %q", w.CurrentTaskID())
	}
}

func TestExecuteStageFailureForProcessFeedbackRetainsTaskAndGoesError(t *testing.T) {
	requireGit(t)
	dev := &developer.Mock{
		ExecutePromptFunc: func(ctx context.Context, prompt, cwd string) (developer.Transcript, error) {
			return developer.Transcript{}, errors.New("boom")
		},
	}
	w, _ := newTestWorker(t, dev)

	req := task.Request{
		TaskID:       "t2",
		Action:       task.ActionProcessFeedback,
		RepositoryID: "o/r",
		Comments:     []task.Comment{{Author: "alice", Body: "fix this"}},
	}
	if err := w.AssignTask(req); err != nil {
		t.Fatalf("AssignTask() failed: %v", err)
	}

	_ = w.Execute(context.Background())

	if w.Status() != StatusError {
		t.Errorf("expected ERROR status, got %s", w.Status())
	}
	if w.CurrentTaskID() != "t2" {
		t.Errorf("expected currentTask retained for retry, got %q", w.CurrentTaskID())
	}
}

func TestExecuteStageFailureForStartNewTaskClearsAndGoesIdle(t *testing.T) {
	requireGit(t)
	dev := &developer.Mock{
		ExecutePromptFunc: func(ctx context.Context, prompt, cwd string) (developer.Transcript, error) {
			return developer.Transcript{}, errors.New("boom")
		},
	}
	w, _ := newTestWorker(t, dev)

	req := task.Request{
		TaskID:       "t3",
		Action:       task.ActionStartNewTask,
		RepositoryID: "o/r",
		BoardItem:    &task.BoardItemRef{Title: "x"},
	}
	if err := w.AssignTask(req); err != nil {
		t.Fatalf("AssignTask() failed: %v", err)
	}

	_ = w.Execute(context.Background())

	if w.Status() != StatusIdle {
		t.Errorf("expected IDLE status, got %s", w.Status())
	}
	if w.CurrentTaskID() != "" {
		t.Errorf("expected currentTask cleared, got %q", w.CurrentTaskID())
	}
}

func TestCancelExecutionReturnsToIdle(t *testing.T) {
	w, _ := newTestWorker(t, &developer.Mock{})
	req := task.Request{TaskID: "t4", Action: task.ActionStartNewTask, RepositoryID: "o/r", BoardItem: &task.BoardItemRef{Title: "x"}}
	if err := w.AssignTask(req); err != nil {
		t.Fatalf("AssignTask() failed: %v", err)
	}

	w.CancelExecution()

	if w.Status() != StatusIdle {
		t.Errorf("expected IDLE after cancel, got %s", w.Status())
	}
	if w.CurrentTaskID() != "" {
		t.Errorf("expected currentTask cleared after cancel, got %q", w.CurrentTaskID())
	}
}

func TestPauseAndResumeExecution(t *testing.T) {
	w, _ := newTestWorker(t, &developer.Mock{})
	req := task.Request{TaskID: "t5", Action: task.ActionStartNewTask, RepositoryID: "o/r", BoardItem: &task.BoardItemRef{Title: "x"}}
	if err := w.AssignTask(req); err != nil {
		t.Fatalf("AssignTask() failed: %v", err)
	}

	if err := w.PauseExecution(); err != nil {
		t.Fatalf("PauseExecution() failed: %v", err)
	}
	if w.Status() != StatusStopped {
		t.Errorf("expected STOPPED, got %s", w.Status())
	}

	if err := w.ResumeExecution(); err != nil {
		t.Fatalf("ResumeExecution() failed: %v", err)
	}
	if w.Status() != StatusWaiting {
		t.Errorf("expected WAITING, got %s", w.Status())
	}
}
