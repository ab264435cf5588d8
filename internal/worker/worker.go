// Package worker implements the per-task staged state machine: prepare a
// workspace, generate a prompt, drive the external assistant, and parse
// its transcript into a result. A Worker holds at most one task at a time;
// the pool runs Execute in its own goroutine and observes progress through
// GetProgress.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/corvidwave/foreman/internal/config"
	"github.com/corvidwave/foreman/internal/developer"
	"github.com/corvidwave/foreman/internal/errs"
	"github.com/corvidwave/foreman/internal/prompt"
	"github.com/corvidwave/foreman/internal/resultprocessor"
	"github.com/corvidwave/foreman/internal/task"
	"github.com/corvidwave/foreman/internal/workspace"
)

// Status is one of the five states a Worker moves through.
type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusWaiting Status = "WAITING"
	StatusWorking Status = "WORKING"
	StatusStopped Status = "STOPPED"
	StatusError   Status = "ERROR"
)

// Stage is one of the five steps a WORKING Worker passes through, each
// observable via GetProgress.
type Stage string

const (
	StagePreparingWorkspace    Stage = "PREPARING_WORKSPACE"
	StageGeneratingPrompt      Stage = "GENERATING_PROMPT"
	StageInitialisingDeveloper Stage = "INITIALISING_DEVELOPER"
	StageExecutingTask         Stage = "EXECUTING_TASK"
	StageProcessingResult      Stage = "PROCESSING_RESULT"
)

// Progress is a point-in-time snapshot returned by GetProgress.
type Progress struct {
	ID     string
	Status Status
	Stage  Stage
	TaskID string
}

// CloneURLResolver maps a repositoryId to the URL the git layer should
// clone/fetch from (board/forge-specific; injected rather than hardcoded).
type CloneURLResolver func(repositoryID string) string

// TaskLoggerFactory opens a logger scoped to one task (logger.NewTaskLogger
// in the daemon); the returned func closes its file. May be nil, in which
// case stage logs go to the Worker's own logger.
type TaskLoggerFactory func(taskID string) (*slog.Logger, func(), error)

// Worker executes one task at a time end-to-end through stages 1-5.
type Worker struct {
	ID            string
	DeveloperType string

	mu           sync.Mutex
	status       Status
	stage        Stage
	currentTask  *task.Request
	workspaceDir string
	createdAt    time.Time
	lastActiveAt time.Time
	cancel       context.CancelFunc

	workspace       *workspace.Manager
	promptGen       *prompt.Generator
	developer       developer.Developer
	resultProcessor *resultprocessor.Processor
	cloneURL        CloneURLResolver
	restart         config.DeveloperConfig
	taskLogs        TaskLoggerFactory
	logger          *slog.Logger
}

// New builds an IDLE Worker. restart carries the Developer init retry
// policy (max attempts + per-attempt cooldown).
func New(id string, ws *workspace.Manager, promptGen *prompt.Generator, dev developer.Developer, rp *resultprocessor.Processor, cloneURL CloneURLResolver, restart config.DeveloperConfig, taskLogs TaskLoggerFactory, logger *slog.Logger) *Worker {
	now := time.Now()
	return &Worker{
		ID:              id,
		status:          StatusIdle,
		createdAt:       now,
		lastActiveAt:    now,
		workspace:       ws,
		promptGen:       promptGen,
		developer:       dev,
		resultProcessor: rp,
		cloneURL:        cloneURL,
		restart:         restart,
		taskLogs:        taskLogs,
		logger:          logger,
	}
}

// Status returns the Worker's current status.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// CurrentTaskID returns the taskId this Worker currently holds, or "" if none.
func (w *Worker) CurrentTaskID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentTask == nil {
		return ""
	}
	return w.currentTask.TaskID
}

// LastActiveAt returns the timestamp of the Worker's last state transition.
func (w *Worker) LastActiveAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActiveAt
}

// GetProgress returns a snapshot of the Worker's current stage.
func (w *Worker) GetProgress() Progress {
	w.mu.Lock()
	defer w.mu.Unlock()
	taskID := ""
	if w.currentTask != nil {
		taskID = w.currentTask.TaskID
	}
	return Progress{ID: w.ID, Status: w.status, Stage: w.stage, TaskID: taskID}
}

// AssignTask binds req to this Worker and moves it IDLE -> WAITING. Fails
// with CONCURRENCY_ERROR if the Worker already holds a task.
func (w *Worker) AssignTask(req task.Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentTask != nil {
		return fmt.Errorf("assign task %s to worker %s: already holds task %s: %w", req.TaskID, w.ID, w.currentTask.TaskID, errs.ErrConcurrency)
	}

	w.currentTask = &req
	w.status = StatusWaiting
	w.lastActiveAt = time.Now()
	return nil
}

// Retry re-assigns req to a Worker currently in ERROR holding the same
// taskId, moving it back to WAITING so the Manager can redispatch Execute.
// A failed PROCESS_FEEDBACK retains currentTask precisely so this path
// exists; the new request's comments overwrite rather than queue behind
// the failed attempt.
func (w *Worker) Retry(req task.Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status != StatusError {
		return fmt.Errorf("retry worker %s: not in error (status=%s)", w.ID, w.status)
	}
	if w.currentTask == nil || w.currentTask.TaskID != req.TaskID {
		return fmt.Errorf("retry worker %s: task mismatch", w.ID)
	}
	w.currentTask = &req
	w.status = StatusWaiting
	w.lastActiveAt = time.Now()
	return nil
}

// PauseExecution moves WAITING|WORKING -> STOPPED.
func (w *Worker) PauseExecution() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status != StatusWaiting && w.status != StatusWorking {
		return fmt.Errorf("pause worker %s: not waiting or working (status=%s)", w.ID, w.status)
	}
	w.status = StatusStopped
	return nil
}

// ResumeExecution moves STOPPED|ERROR -> WAITING, so the Manager can
// re-dispatch Execute for the same currentTask.
func (w *Worker) ResumeExecution() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status != StatusStopped && w.status != StatusError {
		return fmt.Errorf("resume worker %s: not stopped or in error (status=%s)", w.ID, w.status)
	}
	w.status = StatusWaiting
	w.lastActiveAt = time.Now()
	return nil
}

// CancelExecution moves any state -> IDLE, best-effort interrupting an
// in-flight Execute via its cancellation context. Cleanup failures are
// swallowed; the Worker is always returned to IDLE.
func (w *Worker) CancelExecution() {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.status = StatusIdle
	w.currentTask = nil
	w.stage = ""
	w.mu.Unlock()

	if err := w.developer.Cleanup(); err != nil && w.logger != nil {
		w.logger.Warn("developer cleanup failed during cancel", "worker_id", w.ID, "error", err)
	}
}

func (w *Worker) setStage(stage Stage) {
	w.mu.Lock()
	w.stage = stage
	w.mu.Unlock()
}

// Execute runs the Worker's currently assigned task through stages 1-5,
// moving WAITING -> WORKING for the duration. It always returns a
// task.Result, even on failure; a stage failure never escapes as a bare
// error, it is recorded as an unsuccessful result.
func (w *Worker) Execute(ctx context.Context) task.Result {
	w.mu.Lock()
	req := w.currentTask
	if req == nil {
		w.mu.Unlock()
		return task.Result{Success: false, ErrorMessage: "execute called with no assigned task"}
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.status = StatusWorking
	w.lastActiveAt = time.Now()
	w.mu.Unlock()
	defer cancel()

	result, execErr := w.run(ctx, *req)

	w.mu.Lock()
	w.lastActiveAt = time.Now()
	w.stage = ""
	w.cancel = nil
	if execErr != nil {
		w.logger.Error("worker stage failed", "worker_id", w.ID, "task_id", req.TaskID, "error", execErr)
		if req.Action == task.ActionProcessFeedback {
			w.status = StatusError
			// currentTask is retained so Retry can re-run it.
		} else {
			w.status = StatusIdle
			w.currentTask = nil
		}
	} else {
		w.status = StatusIdle
		w.currentTask = nil
	}
	w.mu.Unlock()

	return result
}

func (w *Worker) run(ctx context.Context, req task.Request) (task.Result, error) {
	log := w.logger
	if w.taskLogs != nil {
		if taskLog, closeLog, err := w.taskLogs(req.TaskID); err == nil {
			log = taskLog
			defer closeLog()
		} else {
			w.logger.Warn("task logger unavailable", "task_id", req.TaskID, "error", err)
		}
	}
	log.Info("task execution started", "worker_id", w.ID, "action", req.Action)

	failure := func(stage Stage, err error) (task.Result, error) {
		log.Error("stage failed", "stage", stage, "error", err)
		return task.Result{
			TaskID:       req.TaskID,
			Success:      false,
			ErrorMessage: err.Error(),
			CompletedAt:  time.Now(),
		}, fmt.Errorf("stage %s: %w", stage, err)
	}

	stage := func(s Stage) {
		w.setStage(s)
		log.Info("stage started", "stage", s)
	}

	stage(StagePreparingWorkspace)
	brief := ""
	if req.BoardItem != nil {
		brief = fmt.Sprintf("# %s\n\n%s\n", req.BoardItem.Title, req.BoardItem.Description)
	}
	cloneURL := w.cloneURL(req.RepositoryID)
	info, err := w.workspace.PrepareWorkspace(ctx, req.RepositoryID, req.TaskID, cloneURL, brief)
	if err != nil {
		return failure(StagePreparingWorkspace, err)
	}
	w.mu.Lock()
	w.workspaceDir = info.WorkspaceDir
	w.mu.Unlock()

	stage(StageGeneratingPrompt)
	role := extractRole(req)
	promptText, err := w.promptGen.Generate(req, info, role)
	if err != nil {
		return failure(StageGeneratingPrompt, err)
	}

	stage(StageInitialisingDeveloper)
	if err := w.initialiseDeveloperWithRetry(ctx); err != nil {
		return failure(StageInitialisingDeveloper, err)
	}

	stage(StageExecutingTask)
	transcript, err := w.developer.ExecutePrompt(ctx, promptText, info.WorkspaceDir)
	if err != nil {
		return failure(StageExecutingTask, err)
	}

	stage(StageProcessingResult)
	result, err := w.resultProcessor.ProcessOutput(transcript.RawOutput, req)
	if err != nil {
		return failure(StageProcessingResult, err)
	}

	log.Info("task execution finished", "success", result.Success, "pull_request_url", result.PullRequestURL)
	return result, nil
}

// initialiseDeveloperWithRetry retries Developer.Initialize up to
// restart.MaxRestartAttempts times, sleeping the
// matching restart.RestartCooldownSeconds entry between attempts, and
// declares DEVELOPER_INIT_FAILED only once every attempt is exhausted.
func (w *Worker) initialiseDeveloperWithRetry(ctx context.Context) error {
	maxAttempts := w.restart.MaxRestartAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := w.developer.Initialize(ctx); err == nil {
			return nil
		} else {
			lastErr = err
			w.logger.Warn("developer initialize failed", "worker_id", w.ID, "attempt", attempt, "error", err)
		}

		if attempt == maxAttempts {
			break
		}
		cooldown := cooldownFor(w.restart.RestartCooldownSeconds, attempt)
		if cooldown <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("developer initialize cancelled during cooldown: %w", ctx.Err())
		case <-time.After(cooldown):
		}
	}
	return fmt.Errorf("developer failed to initialize after %d attempts: %w: %w", maxAttempts, errs.ErrDeveloperInitFailed, lastErr)
}

// cooldownFor returns the backoff delay before the (1-indexed) attempt'th
// retry, clamping to the last configured entry once attempts exceed the
// table's length.
func cooldownFor(seconds []int, attempt int) time.Duration {
	if len(seconds) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx >= len(seconds) {
		idx = len(seconds) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return time.Duration(seconds[idx]) * time.Second
}

func extractRole(req task.Request) string {
	if req.BoardItem == nil {
		return ""
	}
	for _, label := range req.BoardItem.Labels {
		if len(label) > len("role:") && label[:len("role:")] == "role:" {
			return label[len("role:"):]
		}
	}
	return ""
}
