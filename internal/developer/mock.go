package developer

import "context"

var _ Developer = (*Mock)(nil)

// Mock is a hand-rolled Developer test double: optional override funcs
// per method, sane defaults otherwise.
type Mock struct {
	InitializeFunc    func(ctx context.Context) error
	ExecutePromptFunc func(ctx context.Context, prompt, cwd string) (Transcript, error)
	CleanupFunc       func() error
	Available         bool
	InitializeCalls   int
}

func (m *Mock) Initialize(ctx context.Context) error {
	m.InitializeCalls++
	if m.InitializeFunc != nil {
		return m.InitializeFunc(ctx)
	}
	m.Available = true
	return nil
}

func (m *Mock) ExecutePrompt(ctx context.Context, prompt, cwd string) (Transcript, error) {
	if m.ExecutePromptFunc != nil {
		return m.ExecutePromptFunc(ctx, prompt, cwd)
	}
	return Transcript{RawOutput: "PR: https://forge.example/o/r/pull/1"}, nil
}

func (m *Mock) Cleanup() error {
	if m.CleanupFunc != nil {
		return m.CleanupFunc()
	}
	return nil
}

func (m *Mock) IsAvailable() bool {
	return m.Available
}
