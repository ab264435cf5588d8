// Package resultprocessor parses the assistant's free-form transcript
// into a structured task.Result. The PR-URL sentinel
// and the ordered error-pattern grammar are the only contract between the
// orchestrator and the assistant's free-form output.
package resultprocessor

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/corvidwave/foreman/internal/errs"
	"github.com/corvidwave/foreman/internal/task"
)

var (
	prURLPattern     = regexp.MustCompile(`https://[a-zA-Z0-9.-]+/[\w.-]+/[\w.-]+/pull/\d+`)
	prLinePrefixes   = []string{"PR:", "생성된 PR", "Pull Request 링크"}
	tsCompileFailed  = "TypeScript compilation failed"
	tsErrorLine      = regexp.MustCompile(`(?m)^(\S+\.tsx?:\d+:\d+ - error.*)$`)
	testsFailedCount = regexp.MustCompile(`(\d+) tests failed`)
	testsPassedCount = regexp.MustCompile(`(\d+) tests passed`)
	executionErrLine = regexp.MustCompile(`(?m)^Error:.*$`)
	summaryHeadings  = []string{"## 작업 진행 상황 요약", "## 테스트 결과"}
)

// Processor turns a raw transcript into a task.Result.
type Processor struct {
	logger *slog.Logger
}

// New builds a Processor.
func New(logger *slog.Logger) *Processor {
	return &Processor{logger: logger}
}

// ExtractPullRequestURL finds every https://.../pull/<n> URL in
// transcript, preferring the first occurrence on a line beginning with one
// of prLinePrefixes, and returns "" if none match. Extraction is
// idempotent: running it over its own output returns the same URL.
func ExtractPullRequestURL(transcript string) string {
	lines := strings.Split(transcript, "\n")

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		for _, prefix := range prLinePrefixes {
			if strings.HasPrefix(trimmed, prefix) {
				if url := prURLPattern.FindString(trimmed); url != "" {
					return url
				}
			}
		}
	}

	return prURLPattern.FindString(transcript)
}

// extractedError is the result of the ordered error grammar; the first
// matching pattern wins.
type extractedError struct {
	sentinel error
	message  string
	context  map[string]any
}

func extractError(transcript string) *extractedError {
	if strings.Contains(transcript, tsCompileFailed) {
		matches := tsErrorLine.FindAllString(transcript, -1)
		return &extractedError{
			sentinel: errs.ErrTypeScript,
			message:  tsCompileFailed,
			context:  map[string]any{"errors": matches},
		}
	}

	if m := testsFailedCount.FindStringSubmatch(transcript); m != nil {
		failed, _ := strconv.Atoi(m[1])
		ctx := map[string]any{"failedTests": failed}
		if pm := testsPassedCount.FindStringSubmatch(transcript); pm != nil {
			passed, _ := strconv.Atoi(pm[1])
			ctx["passedTests"] = passed
		}
		return &extractedError{
			sentinel: errs.ErrTestFailure,
			message:  fmt.Sprintf("%s tests failed", m[1]),
			context:  ctx,
		}
	}

	if loc := executionErrLine.FindStringIndex(transcript); loc != nil {
		line := transcript[loc[0]:loc[1]]
		rest := transcript[loc[1]:]
		nextLine := ""
		if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
			nextLine = strings.TrimSpace(rest[:idx])
		} else {
			nextLine = strings.TrimSpace(rest)
		}
		return &extractedError{
			sentinel: errs.ErrExecution,
			message:  line,
			context:  map[string]any{"details": nextLine},
		}
	}

	return nil
}

func extractSummary(transcript string) map[string]any {
	summary := make(map[string]any)
	for _, heading := range summaryHeadings {
		idx := strings.Index(transcript, heading)
		if idx < 0 {
			continue
		}
		rest := transcript[idx+len(heading):]
		if next := nextHeadingIndex(rest); next >= 0 {
			rest = rest[:next]
		}
		summary[heading] = strings.TrimSpace(rest)
	}
	return summary
}

func nextHeadingIndex(s string) int {
	idx := strings.Index(s, "\n## ")
	if idx < 0 {
		return -1
	}
	return idx + 1
}

// ProcessOutput parses transcript into a task.Result for t. Fails with
// VALIDATION_ERROR if transcript is empty or t.TaskID is empty.
func (p *Processor) ProcessOutput(transcript string, t task.Request) (task.Result, error) {
	if strings.TrimSpace(transcript) == "" {
		return task.Result{}, fmt.Errorf("process output: empty transcript: %w", errs.ErrValidation)
	}
	if t.TaskID == "" {
		return task.Result{}, fmt.Errorf("process output: task id is required: %w", errs.ErrValidation)
	}

	result := task.Result{
		TaskID:      t.TaskID,
		CompletedAt: time.Now(),
		Details:     extractSummary(transcript),
	}

	if url := ExtractPullRequestURL(transcript); url != "" {
		result.PullRequestURL = url
	}

	if extracted := extractError(transcript); extracted != nil {
		result.Success = false
		result.ErrorMessage = extracted.message
		for k, v := range extracted.context {
			result.Details[k] = v
		}
		if p.logger != nil {
			p.logger.Warn("task completed with error",
				"task_id", t.TaskID,
				"error_type", extracted.sentinel,
				"message", extracted.message)
		}
		return result, nil
	}

	result.Success = true
	return result, nil
}
