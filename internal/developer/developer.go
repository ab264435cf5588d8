// Package developer drives the external code-generating assistant as a
// child process. It's deliberately agnostic to which concrete
// assistant binary runs: Config.Developer.Paths lists candidates in
// preference order, and the first one found on PATH is used for the
// lifetime of the driver.
//
// Each ExecutePrompt is one child process: prompt over a stdin pipe,
// stdout/stderr buffered into a transcript, the whole invocation bounded
// by a context-cancellable exec.Command. There is no persistent
// interactive session.
package developer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/corvidwave/foreman/internal/config"
	"github.com/corvidwave/foreman/internal/errs"
)

// Transcript is the raw output and a little metadata from one
// ExecutePrompt call.
type Transcript struct {
	RawOutput string
	Metadata  map[string]any
}

// Developer is the contract a Worker drives.
type Developer interface {
	Initialize(ctx context.Context) error
	ExecutePrompt(ctx context.Context, prompt, cwd string) (Transcript, error)
	Cleanup() error
	IsAvailable() bool
}

var _ Developer = (*ProcessDriver)(nil)

// ProcessDriver spawns one of Config.Developer.Paths as a child process
// per ExecutePrompt call: one invocation per prompt, not a long-lived
// session.
type ProcessDriver struct {
	cfg    config.DeveloperConfig
	logger *slog.Logger

	mu         sync.Mutex
	binaryPath string
}

// New builds a ProcessDriver. Initialize must be called before ExecutePrompt.
func New(cfg config.DeveloperConfig, logger *slog.Logger) *ProcessDriver {
	return &ProcessDriver{cfg: cfg, logger: logger}
}

// Initialize probes Config.Developer.Paths in order and binds the driver to
// the first one resolvable via exec.LookPath. Initialize itself is a single
// probe; the retry loop and restart-cooldown backoff between attempts
// belong to the Worker.
func (d *ProcessDriver) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, candidate := range d.cfg.Paths {
		if path, err := exec.LookPath(candidate); err == nil {
			d.binaryPath = path
			d.logger.Info("developer process bound", "binary", path)
			return nil
		}
	}

	return fmt.Errorf("initialize developer: none of %v found on PATH: %w", d.cfg.Paths, errs.ErrDeveloperInitFailed)
}

// IsAvailable reports whether Initialize has successfully bound a binary.
func (d *ProcessDriver) IsAvailable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.binaryPath != ""
}

// Cleanup releases any driver-held state. ProcessDriver holds none beyond
// the resolved binary path, so this is a no-op kept for interface symmetry.
func (d *ProcessDriver) Cleanup() error {
	return nil
}

func (d *ProcessDriver) timeout() time.Duration {
	name := strings.ToLower(filepath.Base(d.binaryPath))
	ms := d.cfg.ClaudeCodeTimeoutMs
	if strings.Contains(name, "gemini") {
		ms = d.cfg.GeminiCliTimeoutMs
	}
	if ms <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(ms) * time.Millisecond
}

// ExecutePrompt spawns the bound binary with cwd as its working directory,
// writes prompt to its stdin, and waits up to the binary's configured
// timeout for it to exit, returning the combined stdout+stderr transcript.
func (d *ProcessDriver) ExecutePrompt(ctx context.Context, prompt, cwd string) (Transcript, error) {
	d.mu.Lock()
	binary := d.binaryPath
	d.mu.Unlock()

	if binary == "" {
		return Transcript{}, fmt.Errorf("execute prompt: developer not initialized: %w", errs.ErrDeveloperInitFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, binary)
	cmd.Dir = cwd
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Transcript{}, fmt.Errorf("execute prompt: stdin pipe: %w", err)
	}

	d.logger.Info("executing developer prompt", "binary", binary, "cwd", cwd)

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return Transcript{}, fmt.Errorf("execute prompt: start: %w: %w", errs.ErrExecution, err)
	}

	go func() {
		defer stdin.Close()
		io.WriteString(stdin, prompt)
	}()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		d.logger.Warn("developer prompt cancelled", "cwd", cwd)
		return Transcript{RawOutput: stdout.String() + stderr.String()}, fmt.Errorf("execute prompt: %w", errs.ErrCancelled)

	case waitErr := <-done:
		raw := stdout.String() + stderr.String()
		if waitErr != nil {
			d.logger.Warn("developer process exited with error", "error", waitErr)
		}
		return Transcript{
			RawOutput: raw,
			Metadata: map[string]any{
				"binary":    binary,
				"exit_code": exitCode(waitErr),
			},
		}, nil
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
