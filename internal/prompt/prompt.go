// Package prompt renders prompts for the assistant: a pure
// function from (task, workspace info, role) to a text prompt, one
// rendering per task.Action.
package prompt

import (
	"fmt"
	"strings"

	"github.com/corvidwave/foreman/internal/config"
	"github.com/corvidwave/foreman/internal/errs"
	"github.com/corvidwave/foreman/internal/task"
	"github.com/corvidwave/foreman/internal/workspace"
)

// Generator renders action-specific prompts. Role-scoped instruction
// blocks and the forge git config shape every rendering.
type Generator struct {
	instructions config.InstructionConfig
	git          config.GitConfig
}

// New builds a Generator bound to the daemon's instruction and git config.
func New(instructions config.InstructionConfig, git config.GitConfig) *Generator {
	return &Generator{instructions: instructions, git: git}
}

// Generate renders the prompt for req given its prepared workspace. role
// is the board item's role label, used for instruction lookup.
func (g *Generator) Generate(req task.Request, info *workspace.Info, role string) (string, error) {
	if req.TaskID == "" {
		return "", fmt.Errorf("generate prompt: task id is required: %w", errs.ErrValidation)
	}

	var b strings.Builder
	g.writeGlobalRules(&b)
	g.writeRoleInstructions(&b, role)

	switch req.Action {
	case task.ActionStartNewTask:
		if req.BoardItem == nil {
			return "", fmt.Errorf("generate prompt for %s: board item is required: %w", req.Action, errs.ErrValidation)
		}
		g.writeStartNewTask(&b, req, info)
	case task.ActionResumeTask:
		if req.BoardItem == nil || info == nil {
			return "", fmt.Errorf("generate prompt for %s: board item and workspace are required: %w", req.Action, errs.ErrValidation)
		}
		g.writeResumeTask(&b, req, info)
	case task.ActionProcessFeedback:
		if len(req.Comments) == 0 {
			return "", fmt.Errorf("generate prompt for %s: at least one comment is required: %w", req.Action, errs.ErrValidation)
		}
		g.writeProcessFeedback(&b, req)
	case task.ActionMergeRequest:
		g.writeMergeRequest(&b, req)
	default:
		return "", fmt.Errorf("generate prompt: unsupported action %q: %w", req.Action, errs.ErrValidation)
	}

	return b.String(), nil
}

func (g *Generator) writeGlobalRules(b *strings.Builder) {
	for _, rule := range g.instructions.GlobalRules {
		fmt.Fprintf(b, "- %s\n", rule)
	}
	if len(g.instructions.GlobalRules) > 0 {
		b.WriteString("\n")
	}
}

func (g *Generator) writeRoleInstructions(b *strings.Builder, role string) {
	if role == "" {
		return
	}
	if instr, ok := g.instructions.RoleInstructions[role]; ok {
		b.WriteString(instr)
		b.WriteString("\n\n")
	}
}

func (g *Generator) writeStartNewTask(b *strings.Builder, req task.Request, info *workspace.Info) {
	fmt.Fprintf(b, "## Task: %s\n\n", req.BoardItem.Title)
	if req.BoardItem.Description != "" {
		fmt.Fprintf(b, "%s\n\n", req.BoardItem.Description)
	}
	if info != nil {
		fmt.Fprintf(b, "Workspace: %s\n", info.WorkspaceDir)
		fmt.Fprintf(b, "Instructions file: %s\n\n", info.ClaudeLocalPath)
	}
	b.WriteString("Work entirely inside the workspace above.\n")
	fmt.Fprintf(b, "When ready, commit with message %q, push to %q, and open a pull request titled %q.\n",
		g.git.CommitMessageFormat, g.git.Remote, g.git.PRTitleFormat)
	b.WriteString("When the pull request is open, emit a line of the exact form `PR: <url>` as the last line of your output.\n")
}

func (g *Generator) writeResumeTask(b *strings.Builder, req task.Request, info *workspace.Info) {
	fmt.Fprintf(b, "## Resume task: %s\n\n", req.BoardItem.Title)
	fmt.Fprintf(b, "Workspace: %s\n\n", info.WorkspaceDir)
	b.WriteString("Inspect the current branch and working tree before continuing; do not discard existing work.\n")
	b.WriteString("When ready, commit, push, and open a pull request as before, emitting `PR: <url>` as the last line.\n")
}

func (g *Generator) writeProcessFeedback(b *strings.Builder, req task.Request) {
	fmt.Fprintf(b, "## Reviewer feedback (%d comment(s))\n\n", len(req.Comments))
	for i, c := range req.Comments {
		fmt.Fprintf(b, "%d. %s", i+1, c.Author)
		if c.FilePath != "" {
			fmt.Fprintf(b, " (%s:%d)", c.FilePath, c.Line)
		}
		b.WriteString(":\n")
		fmt.Fprintf(b, "   %s\n", c.Body)
		if c.URL != "" {
			fmt.Fprintf(b, "   source: %s\n", c.URL)
		}
	}
	b.WriteString("\nAddress each comment, then reply to it on the pull request using the forge CLI.\n")
	b.WriteString("Push your changes once done; do not open a new pull request.\n")
}

func (g *Generator) writeMergeRequest(b *strings.Builder, req task.Request) {
	b.WriteString("## Merge the pull request\n\n")
	b.WriteString("Confirm the pull request is approved, then merge it using the forge CLI.\n")
	fmt.Fprintf(b, "After a successful merge, delete the %q-prefixed branch.\n", g.git.BranchPrefix)
	b.WriteString("If conflicts block the merge, rebase onto the target branch and resolve them before retrying.\n")
}
