package planner

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/corvidwave/foreman/internal/board"
	"github.com/corvidwave/foreman/internal/config"
	"github.com/corvidwave/foreman/internal/developer"
	"github.com/corvidwave/foreman/internal/git"
	"github.com/corvidwave/foreman/internal/gitlock"
	"github.com/corvidwave/foreman/internal/manager"
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
	runCmd(t, dir, "git", "--git-dir="+remoteDir, "symbolic-ref", "HEAD", "refs/heads/main")
	return remoteDir
}

// newTestPlanner wires a real Manager/Worker pool against a throwaway git remote,
// so the Planner exercises the whole stack down to a worktree on disk.
func newTestPlanner(t *testing.T, boardSvc board.Service, prSvc pullrequest.Service, dev developer.Developer, cfg config.PlannerConfig) *Planner {
	t.Helper()
	tmp := t.TempDir()
	remote := seedRemote(t, tmp)

	gitLayer := git.New(gitlock.New(), filepath.Join(tmp, "cache"), "origin", 1, time.Hour, time.Minute)
	ws := workspace.New(gitLayer, filepath.Join(tmp, "workspaces"), "agent/task-", testLogger())
	promptGen := prompt.New(config.InstructionConfig{}, config.GitConfig{Remote: "origin", PRTitleFormat: "feat: %s", CommitMessageFormat: "feat: %s"})
	rp := resultprocessor.New(testLogger())
	restart := config.DeveloperConfig{MaxRestartAttempts: 3, RestartCooldownSeconds: []int{0, 0, 0}}

	factory := func(id string) *worker.Worker {
		return worker.New(id, ws, promptGen, dev, rp, func(string) string { return remote }, restart, nil, testLogger())
	}
	mgr := manager.New(factory, 0, 3, time.Hour, time.Hour, false, testLogger())
	state, err := plannerstate.NewStore(filepath.Join(tmp, "planner-state.json"))
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}

	cleanupCalls := 0
	cleanup := func(repositoryID, taskID string) { cleanupCalls++ }

	return New(boardSvc, prSvc, mgr, state, cfg, cleanup, testLogger())
}

func testCfg() config.PlannerConfig {
	return config.PlannerConfig{
		BoardID:          "board1",
		MaxRetryAttempts: 3,
		RepositoryFilter: config.RepositoryFilter{Mode: "blacklist"},
		PullRequestFilter: config.PullRequestFilter{
			ExcludeAuthor: true,
			AllowedBots:   []string{"dependabot[bot]"},
		},
	}
}

func TestHappyPathTodoToInReviewToDone(t *testing.T) {
	requireGit(t)
	boardSvc := board.NewMockService(board.Item{
		ID: "t1", Status: board.StatusTODO, Repository: "o/r", Title: "do the thing",
	})
	dev := &developer.Mock{
		ExecutePromptFunc: func(ctx context.Context, prompt, cwd string) (developer.Transcript, error) {
			return developer.Transcript{RawOutput: "PR: https://forge.example/o/r/pull/10"}, nil
		},
	}
	prSvc := pullrequest.NewMockService()
	p := newTestPlanner(t, boardSvc, prSvc, dev, testCfg())

	if err := p.ForceSync(context.Background()); err != nil {
		t.Fatalf("ForceSync() failed: %v", err)
	}
	item := boardSvc.Items["t1"]
	if item.Status != board.StatusInProgress {
		t.Fatalf("expected IN_PROGRESS after first tick, got %s", item.Status)
	}

	waitForResult(t, p)

	prSvc.Set(pullrequest.PullRequest{ID: "10", URL: "https://forge.example/o/r/pull/10", State: pullrequest.StateOpen, Author: "bot"})

	if err := p.ForceSync(context.Background()); err != nil {
		t.Fatalf("ForceSync() failed: %v", err)
	}
	item = boardSvc.Items["t1"]
	if item.Status != board.StatusInReview {
		t.Fatalf("expected IN_REVIEW after second tick, got %s", item.Status)
	}
	if len(item.PullRequestURLs) != 1 || item.PullRequestURLs[0] != "https://forge.example/o/r/pull/10" {
		t.Fatalf("expected pull request url recorded, got %+v", item.PullRequestURLs)
	}

	prSvc.Set(pullrequest.PullRequest{ID: "10", URL: "https://forge.example/o/r/pull/10", State: pullrequest.StateOpen, Author: "bot", IsApproved: true})
	if err := p.ForceSync(context.Background()); err != nil {
		t.Fatalf("ForceSync() failed: %v", err)
	}
	waitForResult(t, p)

	prSvc.Set(pullrequest.PullRequest{ID: "10", URL: "https://forge.example/o/r/pull/10", State: pullrequest.StateMerged, Author: "bot", IsApproved: true})
	if err := p.ForceSync(context.Background()); err != nil {
		t.Fatalf("ForceSync() failed: %v", err)
	}
	item = boardSvc.Items["t1"]
	if item.Status != board.StatusDone {
		t.Fatalf("expected DONE after merge detected, got %s", item.Status)
	}

	summary := p.mgr.GetPoolSummary()
	if summary.Active != 0 {
		t.Errorf("expected no active workers once reconciled, got %+v", summary)
	}
}

func TestFeedbackLoopAdvancesBookmarkWithoutAmplification(t *testing.T) {
	requireGit(t)
	boardSvc := board.NewMockService(board.Item{
		ID: "t2", Status: board.StatusInReview, Repository: "o/r",
		PullRequestURLs: []string{"https://forge.example/o/r/pull/20"},
	})
	var promptCalls int
	dev := &developer.Mock{
		ExecutePromptFunc: func(ctx context.Context, prompt, cwd string) (developer.Transcript, error) {
			promptCalls++
			return developer.Transcript{RawOutput: "work done, no new url"}, nil
		},
	}
	commentTime := time.Now().Add(-time.Minute)
	prSvc := pullrequest.NewMockService(pullrequest.PullRequest{
		ID: "20", URL: "https://forge.example/o/r/pull/20", State: pullrequest.StateOpen, Author: "author",
		Comments: []pullrequest.Comment{{Author: "reviewer", Body: "please fix", CreatedAt: commentTime}},
	})
	p := newTestPlanner(t, boardSvc, prSvc, dev, testCfg())

	if err := p.ForceSync(context.Background()); err != nil {
		t.Fatalf("ForceSync() failed: %v", err)
	}
	waitForResult(t, p)
	if promptCalls == 0 {
		t.Fatalf("expected the developer to be invoked once for the new comment")
	}

	bookmark := p.state.LastSeenCommentAt("t2")
	if !bookmark.After(commentTime.Add(-time.Second)) {
		t.Fatalf("expected lastSeenCommentAt to advance past the comment, got %v", bookmark)
	}

	if err := p.ForceSync(context.Background()); err != nil {
		t.Fatalf("ForceSync() failed: %v", err)
	}
	waitForResult(t, p)
	if promptCalls != 1 {
		t.Errorf("expected no re-emission for the same comment on a second tick, got %d calls", promptCalls)
	}
}

func waitForResult(t *testing.T, p *Planner) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		allIdle := true
		for _, w := range p.mgr.GetAllWorkers() {
			if w.Status == worker.StatusWaiting || w.Status == worker.StatusWorking {
				allIdle = false
				break
			}
		}
		if allIdle {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for workers to settle")
}

func TestMergeRequestNotRedispatchedWhileForgeCatchesUp(t *testing.T) {
	requireGit(t)
	boardSvc := board.NewMockService(board.Item{
		ID: "t3", Status: board.StatusInReview, Repository: "o/r", Title: "ship it",
		PullRequestURLs: []string{"https://forge.example/o/r/pull/30"},
	})
	var promptCalls int
	dev := &developer.Mock{
		ExecutePromptFunc: func(ctx context.Context, prompt, cwd string) (developer.Transcript, error) {
			promptCalls++
			return developer.Transcript{RawOutput: "merged cleanly"}, nil
		},
	}
	prSvc := pullrequest.NewMockService(pullrequest.PullRequest{
		ID: "30", URL: "https://forge.example/o/r/pull/30", State: pullrequest.StateOpen, Author: "author", IsApproved: true,
	})
	p := newTestPlanner(t, boardSvc, prSvc, dev, testCfg())

	if err := p.ForceSync(context.Background()); err != nil {
		t.Fatalf("ForceSync() failed: %v", err)
	}
	waitForResult(t, p)
	if promptCalls != 1 {
		t.Fatalf("expected one merge prompt after first tick, got %d", promptCalls)
	}

	// Forge still reports the PR open: the finished merge result must keep
	// a second dispatch from happening.
	if err := p.ForceSync(context.Background()); err != nil {
		t.Fatalf("ForceSync() failed: %v", err)
	}
	waitForResult(t, p)
	if promptCalls != 1 {
		t.Errorf("expected no merge re-dispatch while the PR is still open, got %d calls", promptCalls)
	}

	prSvc.Set(pullrequest.PullRequest{ID: "30", URL: "https://forge.example/o/r/pull/30", State: pullrequest.StateMerged, Author: "author", IsApproved: true})
	if err := p.ForceSync(context.Background()); err != nil {
		t.Fatalf("ForceSync() failed: %v", err)
	}
	if got := boardSvc.Items["t3"].Status; got != board.StatusDone {
		t.Errorf("expected DONE once the forge reports the merge, got %s", got)
	}
}
