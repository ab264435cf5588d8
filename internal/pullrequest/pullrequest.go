// Package pullrequest defines the pull-request service contract: a
// read-only projection of forge pull requests, reviews and comments,
// plus the reviewer-comment filter the Planner applies before emitting
// PROCESS_FEEDBACK.
package pullrequest

import (
	"context"
	"time"
)

// State is a pull request's lifecycle state on the forge.
type State string

const (
	StateOpen   State = "OPEN"
	StateClosed State = "CLOSED"
	StateMerged State = "MERGED"
)

// Review is a single reviewer's verdict on a pull request.
type Review struct {
	Author      string
	State       string
	SubmittedAt time.Time
}

// Comment is a single review or issue comment on a pull request.
type Comment struct {
	Author    string
	Body      string
	FilePath  string
	Line      int
	URL       string
	CreatedAt time.Time
}

// PullRequest is the read-only snapshot the Planner reasons over.
type PullRequest struct {
	ID          string
	URL         string
	State       State
	Author      string
	IsApproved  bool
	ReviewState string
	Reviews     []Review
	Comments    []Comment
}

// CommentFilter decides which comments count as actionable feedback: an
// author passes iff (author != PR author when ExcludeAuthor) AND
// (author is human OR author is in AllowedBots).
type CommentFilter struct {
	ExcludeAuthor bool
	AllowedBots   []string
}

func (f CommentFilter) isBot(author string) bool {
	// A small, conservative heuristic: anything the forge itself tags as a
	// bot account carries the "[bot]" suffix GitHub App users get.
	for _, suffix := range []string{"[bot]"} {
		if len(author) > len(suffix) && author[len(author)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

func (f CommentFilter) allowedBot(author string) bool {
	for _, b := range f.AllowedBots {
		if b == author {
			return true
		}
	}
	return false
}

// Passes reports whether a comment from author on a PR opened by prAuthor
// should be treated as actionable reviewer feedback.
func (f CommentFilter) Passes(author, prAuthor string) bool {
	if f.ExcludeAuthor && author == prAuthor {
		return false
	}
	if !f.isBot(author) {
		return true
	}
	return f.allowedBot(author)
}

// NewComments returns the subset of comments created strictly after since
// that pass filter against prAuthor.
func NewComments(comments []Comment, since time.Time, prAuthor string, filter CommentFilter) []Comment {
	out := make([]Comment, 0, len(comments))
	for _, c := range comments {
		if c.CreatedAt.After(since) && filter.Passes(c.Author, prAuthor) {
			out = append(out, c)
		}
	}
	return out
}

// Service is the pull-request contract the Planner consumes.
type Service interface {
	ListPullRequests(ctx context.Context, repositoryID string) ([]PullRequest, error)
	GetPullRequest(ctx context.Context, repositoryID, prID string) (PullRequest, error)
	IsApproved(ctx context.Context, repositoryID, prID string) (bool, error)
	GetReviews(ctx context.Context, repositoryID, prID string) ([]Review, error)
	GetComments(ctx context.Context, repositoryID, prID string) ([]Comment, error)
	GetNewComments(ctx context.Context, repositoryID, prID string, since time.Time) ([]Comment, error)
}
