package workspace

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/corvidwave/foreman/internal/git"
	"github.com/corvidwave/foreman/internal/gitlock"
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

func TestPrepareWorkspaceIsIdempotent(t *testing.T) {
	requireGit(t)
	tmp := t.TempDir()
	remote := seedRemote(t, tmp)

	gitLayer := git.New(gitlock.New(), filepath.Join(tmp, "cache"), "origin", 1, time.Hour, time.Minute)
	mgr := New(gitLayer, filepath.Join(tmp, "workspaces"), "agent/task-", testLogger())

	first, err := mgr.PrepareWorkspace(context.Background(), "o/r", "t1", remote, "do the thing")
	if err != nil {
		t.Fatalf("PrepareWorkspace() failed: %v", err)
	}
	if !first.WorktreeCreated {
		t.Fatal("expected WorktreeCreated=true on first call")
	}

	second, err := mgr.PrepareWorkspace(context.Background(), "o/r", "t1", remote, "do the thing")
	if err != nil {
		t.Fatalf("second PrepareWorkspace() failed: %v", err)
	}
	if second.WorkspaceDir != first.WorkspaceDir || second.CreatedAt != first.CreatedAt {
		t.Errorf("expected identical WorkspaceInfo on repeat call, got %+v vs %+v", first, second)
	}
}

func TestValidateEnvironmentDetectsMissingInstructionFile(t *testing.T) {
	requireGit(t)
	tmp := t.TempDir()
	remote := seedRemote(t, tmp)

	gitLayer := git.New(gitlock.New(), filepath.Join(tmp, "cache"), "origin", 1, time.Hour, time.Minute)
	mgr := New(gitLayer, filepath.Join(tmp, "workspaces"), "agent/task-", testLogger())

	info, err := mgr.PrepareWorkspace(context.Background(), "o/r", "t1", remote, "brief")
	if err != nil {
		t.Fatalf("PrepareWorkspace() failed: %v", err)
	}

	if err := os.Remove(info.ClaudeLocalPath); err != nil {
		t.Fatal(err)
	}
	if mgr.ValidateEnvironment(info) {
		t.Error("expected ValidateEnvironment to report false after instruction file removed")
	}
}

func TestCleanupWorkspaceRemovesWorktreeAndPrunesCache(t *testing.T) {
	requireGit(t)
	tmp := t.TempDir()
	remote := seedRemote(t, tmp)

	gitLayer := git.New(gitlock.New(), filepath.Join(tmp, "cache"), "origin", 1, time.Hour, time.Minute)
	mgr := New(gitLayer, filepath.Join(tmp, "workspaces"), "agent/task-", testLogger())

	info, err := mgr.PrepareWorkspace(context.Background(), "o/r", "t1", remote, "brief")
	if err != nil {
		t.Fatalf("PrepareWorkspace() failed: %v", err)
	}

	// repoDir must be the cache clone, not the worktree: the prune step
	// runs inside it after the worktree directory is gone.
	repoDir := gitLayer.CacheDirFor("o/r")
	mgr.CleanupWorkspace(context.Background(), "o/r", "t1", repoDir)

	if _, err := os.Stat(info.WorkspaceDir); !os.IsNotExist(err) {
		t.Errorf("expected worktree directory removed, stat err = %v", err)
	}

	adminDir := filepath.Join(repoDir, ".git", "worktrees")
	entries, err := os.ReadDir(adminDir)
	if err == nil && len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("expected cache worktree admin entries pruned, still have %v", names)
	}
}
