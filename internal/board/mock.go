package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/corvidwave/foreman/internal/errs"
)

var _ Service = (*MockService)(nil)

// MockService is an in-memory Service for tests: a plain struct holding
// the items plus optional override funcs per method, so a test overrides
// only the behavior it cares about.
type MockService struct {
	mu    sync.Mutex
	Items map[string]Item

	GetBoardFunc             func(ctx context.Context, boardID string) (string, error)
	GetItemsFunc             func(ctx context.Context, boardID string, status *Status) ([]Item, error)
	UpdateItemStatusFunc     func(ctx context.Context, itemID string, status Status) (Item, error)
	AddPullRequestToItemFunc func(ctx context.Context, itemID, url string) error
}

// NewMockService builds a MockService seeded with items.
func NewMockService(items ...Item) *MockService {
	m := &MockService{Items: make(map[string]Item)}
	for _, item := range items {
		m.Items[item.ID] = item
	}
	return m
}

func (m *MockService) GetBoard(ctx context.Context, boardID string) (string, error) {
	if m.GetBoardFunc != nil {
		return m.GetBoardFunc(ctx, boardID)
	}
	return boardID, nil
}

func (m *MockService) GetItems(ctx context.Context, boardID string, status *Status) ([]Item, error) {
	if m.GetItemsFunc != nil {
		return m.GetItemsFunc(ctx, boardID, status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Item, 0, len(m.Items))
	for _, item := range m.Items {
		if status != nil && item.Status != *status {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (m *MockService) UpdateItemStatus(ctx context.Context, itemID string, status Status) (Item, error) {
	if m.UpdateItemStatusFunc != nil {
		return m.UpdateItemStatusFunc(ctx, itemID, status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.Items[itemID]
	if !ok {
		return Item{}, fmt.Errorf("update item %s: %w", itemID, errs.ErrBackend)
	}
	item.Status = status
	item.UpdatedAt = time.Now()
	m.Items[itemID] = item
	return item, nil
}

func (m *MockService) AddPullRequestToItem(ctx context.Context, itemID, url string) error {
	if m.AddPullRequestToItemFunc != nil {
		return m.AddPullRequestToItemFunc(ctx, itemID, url)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.Items[itemID]
	if !ok {
		return fmt.Errorf("add pull request to item %s: %w", itemID, errs.ErrBackend)
	}
	item.PullRequestURLs = append(item.PullRequestURLs, url)
	m.Items[itemID] = item
	return nil
}
