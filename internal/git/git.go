// Package git implements the worktree-oriented Git plumbing:
// clone/fetch a cached bare-ish checkout per repository, and create/remove
// per-task worktrees against it. Every mutating operation runs under
// gitlock.Locker so at most one mutating Git op executes per repositoryId
// at a time, and every operation is bounded by the caller's context.
//
// Commands run through os/exec with bytes.Buffer capture, as free
// functions operating on explicit repo/worktree paths.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/corvidwave/foreman/internal/errs"
	"github.com/corvidwave/foreman/internal/gitlock"
)

// Layer drives git(1) against a shared cache directory, serialised per
// repository through a gitlock.Locker.
type Layer struct {
	cacheDir    string
	lock        *gitlock.Locker
	cloneDepth  int
	remote      string
	cacheMaxAge time.Duration
	opTimeout   time.Duration
}

// New builds a Layer. cloneDepth <= 0 means a full clone. opTimeout bounds
// every operation, lock acquisition included; <= 0 means no bound.
func New(lock *gitlock.Locker, cacheDir, remote string, cloneDepth int, cacheMaxAge, opTimeout time.Duration) *Layer {
	return &Layer{
		cacheDir:    cacheDir,
		lock:        lock,
		cloneDepth:  cloneDepth,
		remote:      remote,
		cacheMaxAge: cacheMaxAge,
		opTimeout:   opTimeout,
	}
}

// withOpTimeout derives the per-operation deadline. A hung subprocess (a
// clone against an unreachable remote, say) must fail within the budget
// and release the repository lock rather than starve every task queued on
// the same repositoryId.
func (l *Layer) withOpTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.opTimeout)
}

// CacheDirFor returns the canonical cache directory for a repositoryId of
// the form "owner/repo".
func (l *Layer) CacheDirFor(repoID string) string {
	return filepath.Join(l.cacheDir, sanitizeRepoID(repoID))
}

func sanitizeRepoID(repoID string) string {
	return strings.ReplaceAll(repoID, "/", "_")
}

// EnsureRepository guarantees a local cache of repoID exists and is
// reasonably fresh: clones if absent, fetches if older than cacheMaxAge.
// Returns the path to the cached checkout.
func (l *Layer) EnsureRepository(ctx context.Context, repoID, cloneURL string) (string, error) {
	ctx, cancel := l.withOpTimeout(ctx)
	defer cancel()
	repoDir := l.CacheDirFor(repoID)

	var result string
	err := l.lock.WithLock(ctx, repoID, "clone", func() error {
		if _, statErr := os.Stat(filepath.Join(repoDir, ".git")); statErr != nil {
			if !os.IsNotExist(statErr) {
				return statErr
			}
			if err := os.MkdirAll(filepath.Dir(repoDir), 0755); err != nil {
				return err
			}
			args := []string{"clone"}
			if l.cloneDepth > 0 {
				args = append(args, "--depth", fmt.Sprintf("%d", l.cloneDepth))
			}
			args = append(args, cloneURL, repoDir)
			if _, err := run(ctx, "", args...); err != nil {
				return err
			}
			result = repoDir
			return nil
		}

		if l.cacheMaxAge > 0 && cacheIsStale(repoDir, l.cacheMaxAge) {
			if _, err := run(ctx, repoDir, "fetch", l.remote); err != nil {
				return err
			}
		}
		result = repoDir
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ensure repository %s: %w: %w", repoID, errs.ErrGit, err)
	}
	return result, nil
}

func cacheIsStale(repoDir string, maxAge time.Duration) bool {
	info, err := os.Stat(filepath.Join(repoDir, ".git", "FETCH_HEAD"))
	if err != nil {
		// No prior fetch recorded; treat as stale so the first check refreshes it.
		return true
	}
	return time.Since(info.ModTime()) > maxAge
}

// CreateWorktree adds a new worktree at worktreeDir on a fresh branch
// rooted at repoDir's current default-branch head.
func (l *Layer) CreateWorktree(ctx context.Context, repoID, repoDir, branchName, worktreeDir string) error {
	ctx, cancel := l.withOpTimeout(ctx)
	defer cancel()
	err := l.lock.WithLock(ctx, repoID, "worktree", func() error {
		if err := os.MkdirAll(filepath.Dir(worktreeDir), 0755); err != nil {
			return err
		}
		_, err := run(ctx, repoDir, "worktree", "add", "-b", branchName, worktreeDir, "HEAD")
		return err
	})
	if err != nil {
		return fmt.Errorf("create worktree %s: %w: %w", worktreeDir, errs.ErrGit, err)
	}
	return nil
}

// RemoveWorktree prunes the worktree registration and deletes its
// directory on every exit path, including when the prune itself fails.
func (l *Layer) RemoveWorktree(ctx context.Context, repoID, repoDir, worktreeDir string) error {
	ctx, cancel := l.withOpTimeout(ctx)
	defer cancel()
	runErr := l.lock.WithLock(ctx, repoID, "worktree", func() error {
		_, err := run(ctx, repoDir, "worktree", "remove", "--force", worktreeDir)
		return err
	})

	if err := os.RemoveAll(worktreeDir); err != nil && runErr == nil {
		runErr = err
	}
	_ = l.lock.WithLock(ctx, repoID, "worktree", func() error {
		_, err := run(ctx, repoDir, "worktree", "prune")
		return err
	})

	if runErr != nil {
		return fmt.Errorf("remove worktree %s: %w: %w", worktreeDir, errs.ErrGit, runErr)
	}
	return nil
}

// PullMainBranch fast-forwards repoDir's checked-out branch from the
// configured remote, under a "pull" lock.
func (l *Layer) PullMainBranch(ctx context.Context, repoID, repoDir string) error {
	ctx, cancel := l.withOpTimeout(ctx)
	defer cancel()
	err := l.lock.WithLock(ctx, repoID, "pull", func() error {
		_, err := run(ctx, repoDir, "pull", "--ff-only", l.remote)
		return err
	})
	if err != nil {
		return fmt.Errorf("pull main branch for %s: %w: %w", repoID, errs.ErrGit, err)
	}
	return nil
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return "", fmt.Errorf("git %s (exit %d): %w (stderr: %s)", strings.Join(args, " "), exitCode, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
