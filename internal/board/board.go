// Package board defines the project-board contract: an
// abstract project board of work items, with a repository allow/deny-list
// filter, a mock implementation for tests, and a Git-forge-backed
// implementation built on google/go-github.
package board

import (
	"context"
	"time"
)

// Status is a BoardItem's place in its lifecycle.
type Status string

const (
	StatusTODO       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusInReview   Status = "IN_REVIEW"
	StatusDone       Status = "DONE"
)

// ContentType distinguishes what kind of forge object a BoardItem mirrors.
type ContentType string

const (
	ContentIssue       ContentType = "issue"
	ContentPullRequest ContentType = "pull_request"
	ContentDraft       ContentType = "draft"
)

// Item is an immutable-in-memory snapshot of a unit of work tracked on the
// external board. Mutated only through Service methods.
type Item struct {
	ID              string
	Title           string
	Description     string
	Status          Status
	Priority        string
	Assignee        string
	Labels          []string
	PullRequestURLs []string
	ContentType     ContentType
	Repository      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FilterMode selects whether RepositoryFilter.Repositories is an allow-list
// or a deny-list.
type FilterMode string

const (
	FilterWhitelist FilterMode = "whitelist"
	FilterBlacklist FilterMode = "blacklist"
)

// RepositoryFilter restricts which repositories' items the Planner ever
// sees.
type RepositoryFilter struct {
	Mode         FilterMode
	Repositories []string
}

// Allows reports whether repositoryID passes the filter.
func (f RepositoryFilter) Allows(repositoryID string) bool {
	if len(f.Repositories) == 0 {
		return f.Mode == FilterBlacklist
	}
	listed := false
	for _, r := range f.Repositories {
		if r == repositoryID {
			listed = true
			break
		}
	}
	switch f.Mode {
	case FilterWhitelist:
		return listed
	default: // blacklist
		return !listed
	}
}

// Service is the project-board contract the Planner consumes.
type Service interface {
	GetBoard(ctx context.Context, boardID string) (string, error)
	GetItems(ctx context.Context, boardID string, status *Status) ([]Item, error)
	UpdateItemStatus(ctx context.Context, itemID string, status Status) (Item, error)
	AddPullRequestToItem(ctx context.Context, itemID, url string) error
}

// FilterItems applies filter to items, keeping only those whose Repository
// passes.
func FilterItems(items []Item, filter RepositoryFilter) []Item {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if filter.Allows(item.Repository) {
			out = append(out, item)
		}
	}
	return out
}
