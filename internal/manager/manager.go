// Package manager implements the worker pool: admission
// of TaskRequests onto a bounded pool of Workers, repository-level
// concurrency back-pressure, a bounded+TTL'd result map, and the pool's
// status APIs. The pool owns the worker registry, the active-task map and
// the completed-result map; all mutation goes through a single pool lock,
// which is never held across a Worker's Execute.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corvidwave/foreman/internal/errs"
	"github.com/corvidwave/foreman/internal/task"
	"github.com/corvidwave/foreman/internal/worker"
)

// WorkerFactory builds a fresh IDLE Worker with a given id. Supplied by the
// caller (cmd/foremand) so the Manager never has to know about workspace,
// git, prompt, or developer wiring directly.
type WorkerFactory func(id string) *worker.Worker

// Summary is the result of getPoolSummary; its fields always
// sum to Total.
type Summary struct {
	Total   int
	Idle    int
	Active  int
	Stopped int
	Error   int
}

type resultEntry struct {
	result    task.Result
	expiresAt time.Time
}

// Manager maintains a collection of Workers sized between Min and Max,
// admitting TaskRequests and tracking their eventual WorkerResults.
type Manager struct {
	mu      sync.Mutex
	workers map[string]*worker.Worker
	results map[string]resultEntry

	// busyRepo tracks the workerId currently WORKING a given repositoryId,
	// enforced only when enableConcurrencyLock is set.
	busyRepo map[string]string

	newWorker             WorkerFactory
	min, max              int
	workerTimeout         time.Duration
	resultTTL             time.Duration
	enableConcurrencyLock bool
	logger                *slog.Logger
}

// New builds a Manager with min IDLE workers already spawned.
func New(factory WorkerFactory, min, max int, workerTimeout, resultTTL time.Duration, enableConcurrencyLock bool, logger *slog.Logger) *Manager {
	m := &Manager{
		workers:               make(map[string]*worker.Worker),
		results:               make(map[string]resultEntry),
		busyRepo:              make(map[string]string),
		newWorker:             factory,
		min:                   min,
		max:                   max,
		workerTimeout:         workerTimeout,
		resultTTL:             resultTTL,
		enableConcurrencyLock: enableConcurrencyLock,
		logger:                logger,
	}
	for i := 0; i < min; i++ {
		m.spawnLocked()
	}
	return m
}

func (m *Manager) spawnLocked() *worker.Worker {
	id := "worker-" + uuid.NewString()[:8]
	w := m.newWorker(id)
	m.workers[id] = w
	return w
}

// RequestWork decides whether the pool takes on req.
func (m *Manager) RequestWork(ctx context.Context, req task.Request) (task.Response, error) {
	if req.TaskID == "" || req.RepositoryID == "" {
		return task.Response{}, fmt.Errorf("requestWork: taskId and repositoryId are required: %w", errs.ErrValidation)
	}

	m.mu.Lock()

	// Step 2: idempotent re-admission of a task a Worker already holds. A
	// Worker left in ERROR by a failed PROCESS_FEEDBACK retains
	// currentTask for exactly this: re-admission overwrites it with the
	// fresh request and redispatches, rather than queuing a second attempt
	// behind the first (DESIGN.md open-question decision).
	for id, w := range m.workers {
		if w.CurrentTaskID() != req.TaskID {
			continue
		}
		if w.Status() == worker.StatusError {
			if err := w.Retry(req); err != nil {
				m.mu.Unlock()
				return task.Response{}, err
			}
			m.mu.Unlock()
			m.dispatch(ctx, id, w, req)
			return task.Response{TaskID: req.TaskID, Status: task.ResponseAccepted, WorkerID: id}, nil
		}
		m.mu.Unlock()
		return task.Response{TaskID: req.TaskID, Status: task.ResponseAccepted, WorkerID: id}, nil
	}

	// Repository concurrency: at most one WORKING worker per repositoryId.
	if m.enableConcurrencyLock {
		if _, busy := m.busyRepo[req.RepositoryID]; busy {
			m.mu.Unlock()
			return task.Response{TaskID: req.TaskID, Status: task.ResponseRejected, Message: errs.ErrRepoBusy.Error()}, nil
		}
	}

	// Step 3/4: find an IDLE worker (oldest lastActiveAt first), or spawn one.
	var chosen *worker.Worker
	for _, w := range m.workers {
		if w.Status() != worker.StatusIdle {
			continue
		}
		if chosen == nil || w.LastActiveAt().Before(chosen.LastActiveAt()) {
			chosen = w
		}
	}
	if chosen == nil && len(m.workers) < m.max {
		chosen = m.spawnLocked()
	}
	if chosen == nil {
		m.mu.Unlock()
		return task.Response{TaskID: req.TaskID, Status: task.ResponseRejected, Message: errs.ErrPoolFull.Error()}, nil
	}

	if err := chosen.AssignTask(req); err != nil {
		m.mu.Unlock()
		return task.Response{}, err
	}
	workerID := chosen.ID
	m.mu.Unlock()

	m.dispatch(ctx, workerID, chosen, req)

	return task.Response{TaskID: req.TaskID, Status: task.ResponseAccepted, WorkerID: workerID}, nil
}

// dispatch runs startExecution asynchronously and records the eventual
// WorkerResult in the bounded result map.
func (m *Manager) dispatch(ctx context.Context, workerID string, w *worker.Worker, req task.Request) {
	if m.enableConcurrencyLock {
		m.mu.Lock()
		m.busyRepo[req.RepositoryID] = workerID
		m.mu.Unlock()
	}

	go func() {
		result := w.Execute(ctx)

		m.mu.Lock()
		if m.enableConcurrencyLock && m.busyRepo[req.RepositoryID] == workerID {
			delete(m.busyRepo, req.RepositoryID)
		}
		m.results[req.TaskID] = resultEntry{result: result, expiresAt: time.Now().Add(m.resultTTL)}
		m.mu.Unlock()
	}()
}

// GetResult returns the WorkerResult for taskId if it has been recorded and
// has not yet expired.
func (m *Manager) GetResult(taskID string) (task.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.results[taskID]
	if !ok || time.Now().After(entry.expiresAt) {
		return task.Result{}, false
	}
	return entry.result, true
}

// TakeResult returns and removes the WorkerResult for taskId if present and
// not yet expired, so the Planner processes each completion exactly once.
func (m *Manager) TakeResult(taskID string) (task.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.results[taskID]
	delete(m.results, taskID)
	if !ok || time.Now().After(entry.expiresAt) {
		return task.Result{}, false
	}
	return entry.result, true
}

// GetWorkerStatus returns the Progress for a single worker.
func (m *Manager) GetWorkerStatus(workerID string) (worker.Progress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return worker.Progress{}, false
	}
	return w.GetProgress(), true
}

// GetAllWorkers returns a Progress snapshot for every worker in the pool.
func (m *Manager) GetAllWorkers() []worker.Progress {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]worker.Progress, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w.GetProgress())
	}
	return out
}

// GetPoolSummary returns the pool-wide status breakdown; its fields always
// sum to Total.
func (m *Manager) GetPoolSummary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{Total: len(m.workers)}
	for _, w := range m.workers {
		switch w.Status() {
		case worker.StatusIdle:
			s.Idle++
		case worker.StatusWorking, worker.StatusWaiting:
			s.Active++
		case worker.StatusStopped:
			s.Stopped++
		case worker.StatusError:
			s.Error++
		}
	}
	return s
}

// RetireIdleWorkers removes IDLE workers whose lastActiveAt exceeds
// workerTimeout, never dropping the pool below min. Workers holding a
// task are never retired regardless of status.
func (m *Manager) RetireIdleWorkers(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.workers) <= m.min {
		return
	}
	for id, w := range m.workers {
		if len(m.workers) <= m.min {
			return
		}
		if w.Status() != worker.StatusIdle {
			continue
		}
		if w.CurrentTaskID() != "" {
			continue
		}
		if now.Sub(w.LastActiveAt()) < m.workerTimeout {
			continue
		}
		delete(m.workers, id)
		if m.logger != nil {
			m.logger.Info("retired idle worker", "worker_id", id)
		}
	}
}

// Run drives RetireIdleWorkers on a ticker until ctx is cancelled. Intended
// to be started once by cmd/foremand alongside the Planner's own loop.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.RetireIdleWorkers(now)
		}
	}
}
