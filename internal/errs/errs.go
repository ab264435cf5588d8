// Package errs defines the stable error taxonomy shared across the
// orchestrator. Every package wraps one of these sentinels with
// fmt.Errorf("...: %w", errs.X) so callers can branch with errors.Is
// without importing the package that produced the error.
package errs

import "errors"

var (
	// ErrValidation marks a bad input. Never retried.
	ErrValidation = errors.New("VALIDATION_ERROR")

	// ErrConfig marks a startup misconfiguration. Fatal.
	ErrConfig = errors.New("CONFIG_ERROR")

	// ErrGit marks a Git subprocess failure.
	ErrGit = errors.New("GIT_ERROR")

	// ErrLockTimeout marks a GitLock acquisition timeout.
	ErrLockTimeout = errors.New("LOCK_TIMEOUT")

	// ErrDeveloperInitFailed marks a Developer that could not be initialized:
	// a failed probe, a prompt sent before initialization, or the Worker's
	// initialize retries exhausted.
	ErrDeveloperInitFailed = errors.New("DEVELOPER_INIT_FAILED")

	// ErrExecution marks a transcript line starting with "Error:".
	ErrExecution = errors.New("EXECUTION_ERROR")

	// ErrTypeScript marks a TypeScript compilation failure in the transcript.
	ErrTypeScript = errors.New("TYPESCRIPT_ERROR")

	// ErrTestFailure marks a failed-test-count line in the transcript.
	ErrTestFailure = errors.New("TEST_FAILURE")

	// ErrPoolFull is admission back-pressure, not a true error.
	ErrPoolFull = errors.New("POOL_FULL")

	// ErrRepoBusy is admission back-pressure, not a true error.
	ErrRepoBusy = errors.New("REPO_BUSY")

	// ErrBackend marks a board/PR service failure.
	ErrBackend = errors.New("BACKEND_ERROR")

	// ErrCancelled marks cooperative shutdown.
	ErrCancelled = errors.New("CANCELLED")

	// ErrConcurrency marks an attempt to assign a task to a Worker that
	// already holds one.
	ErrConcurrency = errors.New("CONCURRENCY_ERROR")
)
