// Package workspace maps (repositoryId, taskId) to a worktree directory
// plus a persisted metadata file, and renders the in-worktree instruction
// file the assistant reads on start.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/corvidwave/foreman/internal/git"
)

// Info is the persisted metadata for one task's worktree.
type Info struct {
	TaskID          string    `json:"task_id"`
	RepositoryID    string    `json:"repository_id"`
	WorkspaceDir    string    `json:"workspace_dir"`
	BranchName      string    `json:"branch_name"`
	WorktreeCreated bool      `json:"worktree_created"`
	ClaudeLocalPath string    `json:"claude_local_path"`
	CreatedAt       time.Time `json:"created_at"`
}

const metadataFile = ".workspace.json"
const instructionFile = "CLAUDE.local.md"

var branchSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Manager maps (repositoryId, taskId) pairs to worktree directories.
type Manager struct {
	root         string
	git          *git.Layer
	branchPrefix string
	logger       *slog.Logger
}

// New builds a workspace Manager rooted at workspaceRoot.
func New(git *git.Layer, workspaceRoot, branchPrefix string, logger *slog.Logger) *Manager {
	return &Manager{root: workspaceRoot, git: git, branchPrefix: branchPrefix, logger: logger}
}

// DirFor returns the canonical worktree directory for (repositoryId, taskId).
func (m *Manager) DirFor(repositoryID, taskID string) string {
	return filepath.Join(m.root, fmt.Sprintf("%s_%s", sanitize(repositoryID), sanitize(taskID)))
}

func sanitize(s string) string {
	return branchSanitizer.ReplaceAllString(strings.ReplaceAll(s, "/", "_"), "_")
}

// PrepareWorkspace is idempotent: if metadata already exists for this task
// and its worktree is still present, it's returned as-is. Otherwise a fresh
// worktree is created via the git layer, the instruction file is rendered
// from brief, and metadata is persisted.
func (m *Manager) PrepareWorkspace(ctx context.Context, repoID, taskID, cloneURL, brief string) (*Info, error) {
	workspaceDir := m.DirFor(repoID, taskID)

	if info, err := m.readMetadata(workspaceDir); err == nil {
		if m.validateEnvironment(info) {
			return info, nil
		}
	}

	repoDir, err := m.git.EnsureRepository(ctx, repoID, cloneURL)
	if err != nil {
		return nil, err
	}

	branchName := m.branchPrefix + sanitize(taskID)
	if err := m.git.CreateWorktree(ctx, repoID, repoDir, branchName, workspaceDir); err != nil {
		return nil, err
	}

	claudeLocalPath := filepath.Join(workspaceDir, instructionFile)
	if err := os.WriteFile(claudeLocalPath, []byte(brief), 0644); err != nil {
		return nil, fmt.Errorf("write instruction file: %w", err)
	}

	info := &Info{
		TaskID:          taskID,
		RepositoryID:    repoID,
		WorkspaceDir:    workspaceDir,
		BranchName:      branchName,
		WorktreeCreated: true,
		ClaudeLocalPath: claudeLocalPath,
		CreatedAt:       time.Now().UTC(),
	}

	if err := m.writeMetadata(workspaceDir, info); err != nil {
		return nil, err
	}

	return info, nil
}

// validateEnvironment reports whether the worktree directory and
// instruction file named in info both still exist on disk.
func (m *Manager) validateEnvironment(info *Info) bool {
	if _, err := os.Stat(info.WorkspaceDir); err != nil {
		return false
	}
	if _, err := os.Stat(info.ClaudeLocalPath); err != nil {
		return false
	}
	return true
}

// ValidateEnvironment is the exported form, usable by callers that already
// hold an Info (e.g. Worker re-checking before RESUME_TASK).
func (m *Manager) ValidateEnvironment(info *Info) bool {
	return m.validateEnvironment(info)
}

// CleanupWorkspace best-effort removes the worktree and its directory for
// taskID. Failures are logged and swallowed, never returned.
func (m *Manager) CleanupWorkspace(ctx context.Context, repoID, taskID, repoDir string) {
	workspaceDir := m.DirFor(repoID, taskID)
	if err := m.git.RemoveWorktree(ctx, repoID, repoDir, workspaceDir); err != nil {
		m.logger.Warn("cleanup workspace failed", "task_id", taskID, "repository_id", repoID, "error", err)
	}
}

func (m *Manager) readMetadata(workspaceDir string) (*Info, error) {
	data, err := os.ReadFile(filepath.Join(workspaceDir, metadataFile))
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (m *Manager) writeMetadata(workspaceDir string, info *Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workspace metadata: %w", err)
	}
	tmp := filepath.Join(workspaceDir, metadataFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write workspace metadata: %w", err)
	}
	return os.Rename(tmp, filepath.Join(workspaceDir, metadataFile))
}
