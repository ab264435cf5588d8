package pullrequest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/corvidwave/foreman/internal/errs"
)

var _ Service = (*MockService)(nil)

// MockService is an in-memory Service for tests, keyed by PR ID alone; the
// repositoryID argument of every method is ignored.
type MockService struct {
	mu  sync.Mutex
	prs map[string]PullRequest

	ListPullRequestsFunc func(ctx context.Context, repositoryID string) ([]PullRequest, error)
}

// NewMockService builds a MockService seeded with prs, keyed by ID.
func NewMockService(prs ...PullRequest) *MockService {
	m := &MockService{prs: make(map[string]PullRequest)}
	for _, pr := range prs {
		m.prs[pr.ID] = pr
	}
	return m
}

// Set replaces/creates the stored snapshot for pr.ID, for tests that need
// to advance state between Planner ticks.
func (m *MockService) Set(pr PullRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prs[pr.ID] = pr
}

func (m *MockService) get(prID string) (PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.prs[prID]
	if !ok {
		return PullRequest{}, fmt.Errorf("pull request %s: %w", prID, errs.ErrBackend)
	}
	return pr, nil
}

func (m *MockService) ListPullRequests(ctx context.Context, repositoryID string) ([]PullRequest, error) {
	if m.ListPullRequestsFunc != nil {
		return m.ListPullRequestsFunc(ctx, repositoryID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PullRequest, 0, len(m.prs))
	for _, pr := range m.prs {
		out = append(out, pr)
	}
	return out, nil
}

func (m *MockService) GetPullRequest(ctx context.Context, repositoryID, prID string) (PullRequest, error) {
	return m.get(prID)
}

func (m *MockService) IsApproved(ctx context.Context, repositoryID, prID string) (bool, error) {
	pr, err := m.get(prID)
	if err != nil {
		return false, err
	}
	return pr.IsApproved, nil
}

func (m *MockService) GetReviews(ctx context.Context, repositoryID, prID string) ([]Review, error) {
	pr, err := m.get(prID)
	if err != nil {
		return nil, err
	}
	return pr.Reviews, nil
}

func (m *MockService) GetComments(ctx context.Context, repositoryID, prID string) ([]Comment, error) {
	pr, err := m.get(prID)
	if err != nil {
		return nil, err
	}
	return pr.Comments, nil
}

func (m *MockService) GetNewComments(ctx context.Context, repositoryID, prID string, since time.Time) ([]Comment, error) {
	pr, err := m.get(prID)
	if err != nil {
		return nil, err
	}
	out := make([]Comment, 0)
	for _, c := range pr.Comments {
		if c.CreatedAt.After(since) {
			out = append(out, c)
		}
	}
	return out, nil
}
