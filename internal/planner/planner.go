// Package planner implements the reconciler: a periodic tick
// that snapshots the board, decides at most one action per item against the
// per-tick decision table, submits the result to the Manager, and advances
// each item's status in response to what the Manager (and, transitively,
// the pull-request backend) reports back. Per-item failures are logged
// without aborting the pass; two ticks never overlap.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/corvidwave/foreman/internal/board"
	"github.com/corvidwave/foreman/internal/config"
	"github.com/corvidwave/foreman/internal/errs"
	"github.com/corvidwave/foreman/internal/manager"
	"github.com/corvidwave/foreman/internal/plannerstate"
	"github.com/corvidwave/foreman/internal/pullrequest"
	"github.com/corvidwave/foreman/internal/task"
)

// CleanupFunc is invoked once per DONE item to reclaim its workspace.
// Supplied by the caller so the
// Planner never has to know about git cache paths directly.
type CleanupFunc func(repositoryID, taskID string)

// Planner owns the periodic reconciliation loop tying the board, the
// pull-request backend, and the Manager together.
type Planner struct {
	board   board.Service
	prs     pullrequest.Service
	mgr     *manager.Manager
	state   *plannerstate.Store
	cfg     config.PlannerConfig
	cleanup CleanupFunc
	logger  *slog.Logger

	// tickMu ensures two ticks never overlap; a tick still running
	// when the timer fires defers the next tick.
	tickMu sync.Mutex

	// lastErrSignature coalesces repeated identical whole-tick failures in
	// the log.
	lastErrSignature string
}

// New builds a Planner. cleanup may be nil, in which case DONE items are
// only forgotten from plannerstate without a filesystem side effect.
func New(boardSvc board.Service, prSvc pullrequest.Service, mgr *manager.Manager, state *plannerstate.Store, cfg config.PlannerConfig, cleanup CleanupFunc, logger *slog.Logger) *Planner {
	return &Planner{
		board:   boardSvc,
		prs:     prSvc,
		mgr:     mgr,
		state:   state,
		cfg:     cfg,
		cleanup: cleanup,
		logger:  logger,
	}
}

// Run drives Tick on a timer until ctx is cancelled. A tick still in flight
// when the ticker fires is simply skipped for that firing (TryLock), which
// is how overlap is prevented without blocking the ticker goroutine.
func (p *Planner) Run(ctx context.Context) {
	interval := time.Duration(p.cfg.MonitoringIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.tickMu.TryLock() {
				p.logger.Debug("skipping tick: previous tick still running")
				continue
			}
			p.runTick(ctx)
			p.tickMu.Unlock()
		}
	}
}

// ForceSync runs exactly one reconciliation cycle synchronously, for the
// control surface's forceSync operation. It blocks if a
// timer-driven tick is already in progress.
func (p *Planner) ForceSync(ctx context.Context) error {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()
	return p.runTick(ctx)
}

// runTick is the body of one reconciliation cycle.
// Must be called with tickMu held.
func (p *Planner) runTick(ctx context.Context) error {
	items, err := p.board.GetItems(ctx, p.cfg.BoardID, nil)
	if err != nil {
		sig := err.Error()
		if sig != p.lastErrSignature {
			p.logger.Error("board snapshot failed", "error", err)
			p.lastErrSignature = sig
		}
		return fmt.Errorf("board snapshot: %w: %w", errs.ErrBackend, err)
	}
	p.lastErrSignature = ""

	filter := board.RepositoryFilter{
		Mode:         board.FilterMode(p.cfg.RepositoryFilter.Mode),
		Repositories: p.cfg.RepositoryFilter.AllowedRepositories,
	}
	items = board.FilterItems(items, filter)

	// Each item is reconciled independently; a panic or error in one must
	// never abort the pass for the rest.
	for _, item := range items {
		p.reconcileItem(ctx, item)
	}
	return nil
}

func (p *Planner) reconcileItem(ctx context.Context, item board.Item) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic reconciling item", "task_id", item.ID, "panic", r)
		}
	}()

	switch item.Status {
	case board.StatusTODO:
		p.handleTodo(ctx, item)
	case board.StatusInProgress:
		p.handleInProgress(ctx, item)
	case board.StatusInReview:
		p.handleInReview(ctx, item)
	case board.StatusDone:
		p.handleDone(ctx, item)
	}
}

func refFromItem(item board.Item) *task.BoardItemRef {
	return &task.BoardItemRef{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Repository:  item.Repository,
		Labels:      item.Labels,
	}
}

// handleTodo emits START_NEW_TASK for every TODO item that is not marked
// stuck; stuck items are skipped.
func (p *Planner) handleTodo(ctx context.Context, item board.Item) {
	if p.state.IsStuck(item.ID) {
		return
	}

	req := task.Request{
		TaskID:       item.ID,
		Action:       task.ActionStartNewTask,
		RepositoryID: item.Repository,
		BoardItem:    refFromItem(item),
	}
	resp, ok := p.submit(ctx, item.ID, req)
	if !ok || resp.Status != task.ResponseAccepted {
		return
	}

	if _, err := p.board.UpdateItemStatus(ctx, item.ID, board.StatusInProgress); err != nil {
		p.logger.Error("move item to IN_PROGRESS failed", "task_id", item.ID, "error", err)
		return
	}
	if resp.PullRequestURL != "" {
		if err := p.board.AddPullRequestToItem(ctx, item.ID, resp.PullRequestURL); err != nil {
			p.logger.Error("record pull request url failed", "task_id", item.ID, "error", err)
		}
	}
}

// handleInProgress implements the two IN_PROGRESS rows: resume a task with
// no known in-flight worker, or process a just-completed result.
func (p *Planner) handleInProgress(ctx context.Context, item board.Item) {
	if p.state.IsStuck(item.ID) {
		return
	}

	if result, ok := p.mgr.TakeResult(item.ID); ok {
		p.handleCompletedInProgress(ctx, item, result)
		return
	}

	if p.inFlight(item.ID) {
		return
	}

	req := task.Request{
		TaskID:       item.ID,
		Action:       task.ActionResumeTask,
		RepositoryID: item.Repository,
		BoardItem:    refFromItem(item),
	}
	p.submit(ctx, item.ID, req)
}

func (p *Planner) handleCompletedInProgress(ctx context.Context, item board.Item, result task.Result) {
	if !result.Success {
		sig := result.ErrorMessage
		if sig == "" {
			sig = "unknown_error"
		}
		stuck, err := p.state.RecordError(item.ID, sig, p.cfg.MaxRetryAttempts)
		if err != nil {
			p.logger.Error("record planner error state failed", "task_id", item.ID, "error", err)
		}
		if stuck {
			p.logger.Error("item marked stuck after repeated failures", "task_id", item.ID, "error", sig)
		}
		return
	}

	prURL := result.PullRequestURL
	if prURL == "" && len(item.PullRequestURLs) > 0 {
		// A PROCESS_FEEDBACK re-entry into IN_PROGRESS completes against the
		// PR it already had; only a first-time START_NEW_TASK completion
		// must itself carry the new PR url.
		prURL = item.PullRequestURLs[len(item.PullRequestURLs)-1]
	}
	if prURL == "" {
		p.logger.Warn("task completed successfully without a pull request url", "task_id", item.ID)
		if _, err := p.state.RecordError(item.ID, "missing_pr_url", p.cfg.MaxRetryAttempts); err != nil {
			p.logger.Error("record planner error state failed", "task_id", item.ID, "error", err)
		}
		return
	}

	if result.PullRequestURL != "" {
		if err := p.board.AddPullRequestToItem(ctx, item.ID, result.PullRequestURL); err != nil {
			p.logger.Error("record pull request url failed", "task_id", item.ID, "error", err)
		}
	}
	if _, err := p.board.UpdateItemStatus(ctx, item.ID, board.StatusInReview); err != nil {
		p.logger.Error("move item to IN_REVIEW failed", "task_id", item.ID, "error", err)
		return
	}
	if err := p.state.RecordSuccess(item.ID); err != nil {
		p.logger.Error("record planner success state failed", "task_id", item.ID, "error", err)
	}
}

// handleInReview implements the three IN_REVIEW rows: new actionable
// feedback, approved-with-no-new-comments, and already-merged.
func (p *Planner) handleInReview(ctx context.Context, item board.Item) {
	if p.state.IsStuck(item.ID) {
		return
	}
	if len(item.PullRequestURLs) == 0 {
		p.logger.Warn("in-review item has no pull request url", "task_id", item.ID)
		return
	}
	url := item.PullRequestURLs[len(item.PullRequestURLs)-1]
	prID := extractPRID(url)

	pr, err := p.prs.GetPullRequest(ctx, item.Repository, prID)
	if err != nil {
		p.logger.Warn("fetch pull request failed", "task_id", item.ID, "error", err)
		return
	}

	if pr.State == pullrequest.StateMerged {
		if _, err := p.board.UpdateItemStatus(ctx, item.ID, board.StatusDone); err != nil {
			p.logger.Error("move item to DONE failed", "task_id", item.ID, "error", err)
			return
		}
		if err := p.state.RecordSuccess(item.ID); err != nil {
			p.logger.Error("record planner success state failed", "task_id", item.ID, "error", err)
		}
		return
	}
	if pr.State != pullrequest.StateOpen {
		// CLOSED without merge: nothing automatic to do, leave for an operator.
		return
	}

	filter := pullrequest.CommentFilter{
		ExcludeAuthor: p.cfg.PullRequestFilter.ExcludeAuthor,
		AllowedBots:   p.cfg.PullRequestFilter.AllowedBots,
	}
	since := p.state.LastSeenCommentAt(item.ID)
	comments, err := p.prs.GetNewComments(ctx, item.Repository, prID, since)
	if err != nil {
		p.logger.Warn("fetch new comments failed", "task_id", item.ID, "error", err)
		return
	}

	actionable := make([]pullrequest.Comment, 0, len(comments))
	maxSeen := since
	for _, c := range comments {
		if c.CreatedAt.After(maxSeen) {
			maxSeen = c.CreatedAt
		}
		if filter.Passes(c.Author, pr.Author) {
			actionable = append(actionable, c)
		}
	}

	if len(actionable) > 0 {
		if p.inFlight(item.ID) {
			return
		}
		req := task.Request{
			TaskID:         item.ID,
			Action:         task.ActionProcessFeedback,
			RepositoryID:   item.Repository,
			BoardItem:      refFromItem(item),
			Comments:       toTaskComments(actionable),
			PullRequestURL: url,
		}
		resp, ok := p.submit(ctx, item.ID, req)
		// Advance the bookmark even on rejection, so a REJECTED/POOL_FULL
		// tick doesn't re-surface the same comments forever.
		if maxSeen.After(since) {
			if err := p.state.AdvanceLastSeenCommentAt(item.ID, maxSeen); err != nil {
				p.logger.Error("advance comment bookmark failed", "task_id", item.ID, "error", err)
			}
		}
		if ok && resp.Status == task.ResponseAccepted {
			if _, err := p.board.UpdateItemStatus(ctx, item.ID, board.StatusInProgress); err != nil {
				p.logger.Error("move item back to IN_PROGRESS failed", "task_id", item.ID, "error", err)
			}
		}
		return
	}
	if maxSeen.After(since) {
		if err := p.state.AdvanceLastSeenCommentAt(item.ID, maxSeen); err != nil {
			p.logger.Error("advance comment bookmark failed", "task_id", item.ID, "error", err)
		}
	}

	if pr.IsApproved {
		if p.inFlight(item.ID) {
			return
		}
		// A merge Worker that already finished leaves its result in the
		// pool's result map; without this check the idempotent-rematch in
		// admission no longer sees the task (the Worker is IDLE again) and
		// a second merge prompt would be dispatched while the forge is
		// still catching up. A successful result is left in place (peeked,
		// not taken) until State == MERGED lands; a failed one is drained
		// and counted toward maxRetryAttempts so the next tick can retry.
		if result, ok := p.mgr.GetResult(item.ID); ok {
			if !result.Success {
				p.mgr.TakeResult(item.ID)
				sig := result.ErrorMessage
				if sig == "" {
					sig = "merge_failed"
				}
				stuck, err := p.state.RecordError(item.ID, sig, p.cfg.MaxRetryAttempts)
				if err != nil {
					p.logger.Error("record planner error state failed", "task_id", item.ID, "error", err)
				}
				if stuck {
					p.logger.Error("item marked stuck after repeated merge failures", "task_id", item.ID)
				}
			}
			return
		}
		req := task.Request{
			TaskID:         item.ID,
			Action:         task.ActionMergeRequest,
			RepositoryID:   item.Repository,
			BoardItem:      refFromItem(item),
			PullRequestURL: url,
		}
		p.submit(ctx, item.ID, req)
		// The resulting DONE transition is observed on a later tick once
		// the pull-request backend reports State == MERGED, not from this
		// request's (async) TaskResponse.
	}
}

// handleDone schedules workspace cleanup and forgets the item's planner
// bookkeeping, draining any leftover merge result still parked in the pool.
func (p *Planner) handleDone(ctx context.Context, item board.Item) {
	hasPR := len(item.PullRequestURLs) > 0
	p.logger.Info("item reached DONE", "task_id", item.ID, "has_pr_url", hasPR)

	p.mgr.TakeResult(item.ID)

	if p.cleanup != nil {
		p.cleanup(item.Repository, item.ID)
	}
	if err := p.state.Forget(item.ID); err != nil {
		p.logger.Error("forget planner state failed", "task_id", item.ID, "error", err)
	}
}

// submit sends req to the Manager and applies the shared REJECTED/ERROR
// bookkeeping every call site needs.
func (p *Planner) submit(ctx context.Context, taskID string, req task.Request) (task.Response, bool) {
	resp, err := p.mgr.RequestWork(ctx, req)
	if err != nil {
		p.logger.Error("submit task request failed", "task_id", taskID, "action", req.Action, "error", err)
		return task.Response{}, false
	}

	switch resp.Status {
	case task.ResponseRejected:
		p.logger.Debug("task request deferred", "task_id", taskID, "action", req.Action, "reason", resp.Message)
	case task.ResponseError:
		stuck, stateErr := p.state.RecordError(taskID, resp.Message, p.cfg.MaxRetryAttempts)
		if stateErr != nil {
			p.logger.Error("record planner error state failed", "task_id", taskID, "error", stateErr)
		}
		if stuck {
			p.logger.Error("item marked stuck after repeated admission errors", "task_id", taskID)
		}
	}
	return resp, true
}

// inFlight reports whether some Worker currently holds taskID as its
// currentTask (WAITING, WORKING, or ERROR-with-retained-task).
func (p *Planner) inFlight(taskID string) bool {
	for _, progress := range p.mgr.GetAllWorkers() {
		if progress.TaskID == taskID {
			return true
		}
	}
	return false
}

func toTaskComments(comments []pullrequest.Comment) []task.Comment {
	out := make([]task.Comment, 0, len(comments))
	for _, c := range comments {
		out = append(out, task.Comment{
			Author:    c.Author,
			Body:      c.Body,
			FilePath:  c.FilePath,
			Line:      c.Line,
			URL:       c.URL,
			CreatedAt: c.CreatedAt,
		})
	}
	return out
}

// extractPRID returns the trailing numeric path segment of a forge pull
// request URL ("https://forge/o/r/pull/10" -> "10"), or the whole string if
// the URL doesn't look like one (callers treat backend lookup failure as a
// transient per-item error regardless).
func extractPRID(url string) string {
	parts := strings.Split(strings.TrimRight(url, "/"), "/")
	if len(parts) == 0 {
		return url
	}
	return parts[len(parts)-1]
}
