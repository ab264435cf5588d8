package pullrequest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v82/github"

	"github.com/corvidwave/foreman/internal/errs"
)

// bearerTransport adds a static Authorization header to every request
// (same shape as board.bearerTransport; kept separate per-package since
// each forge client is constructed independently).
type bearerTransport struct {
	token string
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+t.token)
	return http.DefaultTransport.RoundTrip(req2)
}

var _ Service = (*ForgeService)(nil)

// ForgeService implements Service against a hosted Git forge's pull
// request API via google/go-github.
type ForgeService struct {
	client *gogithub.Client
}

// NewForgeService builds a ForgeService authenticated with token.
func NewForgeService(token string) *ForgeService {
	httpClient := &http.Client{Transport: &bearerTransport{token: token}}
	return &ForgeService{client: gogithub.NewClient(httpClient)}
}

func splitRepo(repositoryID string) (string, string, error) {
	parts := strings.SplitN(repositoryID, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository id %q: %w", repositoryID, errs.ErrValidation)
	}
	return parts[0], parts[1], nil
}

func (f *ForgeService) ListPullRequests(ctx context.Context, repositoryID string) ([]PullRequest, error) {
	owner, repo, err := splitRepo(repositoryID)
	if err != nil {
		return nil, err
	}

	prs, _, err := f.client.PullRequests.List(ctx, owner, repo, &gogithub.PullRequestListOptions{State: "open"})
	if err != nil {
		return nil, fmt.Errorf("list pull requests for %s: %w: %w", repositoryID, errs.ErrBackend, err)
	}

	out := make([]PullRequest, 0, len(prs))
	for _, pr := range prs {
		out = append(out, mapPR(pr))
	}
	return out, nil
}

func (f *ForgeService) GetPullRequest(ctx context.Context, repositoryID, prID string) (PullRequest, error) {
	owner, repo, err := splitRepo(repositoryID)
	if err != nil {
		return PullRequest{}, err
	}
	number, err := strconv.Atoi(prID)
	if err != nil {
		return PullRequest{}, fmt.Errorf("invalid pull request id %q: %w: %w", prID, errs.ErrValidation, err)
	}

	pr, _, err := f.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return PullRequest{}, fmt.Errorf("get pull request %s: %w: %w", prID, errs.ErrBackend, err)
	}
	result := mapPR(pr)

	reviews, err := f.GetReviews(ctx, repositoryID, prID)
	if err != nil {
		return PullRequest{}, err
	}
	result.Reviews = reviews
	for _, r := range reviews {
		if r.State == "APPROVED" {
			result.IsApproved = true
			break
		}
	}

	comments, err := f.GetComments(ctx, repositoryID, prID)
	if err != nil {
		return PullRequest{}, err
	}
	result.Comments = comments

	return result, nil
}

func (f *ForgeService) IsApproved(ctx context.Context, repositoryID, prID string) (bool, error) {
	pr, err := f.GetPullRequest(ctx, repositoryID, prID)
	if err != nil {
		return false, err
	}
	return pr.IsApproved, nil
}

func (f *ForgeService) GetReviews(ctx context.Context, repositoryID, prID string) ([]Review, error) {
	owner, repo, err := splitRepo(repositoryID)
	if err != nil {
		return nil, err
	}
	number, err := strconv.Atoi(prID)
	if err != nil {
		return nil, fmt.Errorf("invalid pull request id %q: %w: %w", prID, errs.ErrValidation, err)
	}

	reviews, _, err := f.client.PullRequests.ListReviews(ctx, owner, repo, number, nil)
	if err != nil {
		return nil, fmt.Errorf("list reviews for %s: %w: %w", prID, errs.ErrBackend, err)
	}

	out := make([]Review, 0, len(reviews))
	for _, r := range reviews {
		out = append(out, Review{
			Author:      r.GetUser().GetLogin(),
			State:       r.GetState(),
			SubmittedAt: r.GetSubmittedAt().Time,
		})
	}
	return out, nil
}

func (f *ForgeService) GetComments(ctx context.Context, repositoryID, prID string) ([]Comment, error) {
	owner, repo, err := splitRepo(repositoryID)
	if err != nil {
		return nil, err
	}
	number, err := strconv.Atoi(prID)
	if err != nil {
		return nil, fmt.Errorf("invalid pull request id %q: %w: %w", prID, errs.ErrValidation, err)
	}

	reviewComments, _, err := f.client.PullRequests.ListComments(ctx, owner, repo, number, nil)
	if err != nil {
		return nil, fmt.Errorf("list review comments for %s: %w: %w", prID, errs.ErrBackend, err)
	}
	issueComments, _, err := f.client.Issues.ListComments(ctx, owner, repo, number, nil)
	if err != nil {
		return nil, fmt.Errorf("list issue comments for %s: %w: %w", prID, errs.ErrBackend, err)
	}

	out := make([]Comment, 0, len(reviewComments)+len(issueComments))
	for _, c := range reviewComments {
		out = append(out, Comment{
			Author:    c.GetUser().GetLogin(),
			Body:      c.GetBody(),
			FilePath:  c.GetPath(),
			Line:      c.GetLine(),
			URL:       c.GetHTMLURL(),
			CreatedAt: c.GetCreatedAt().Time,
		})
	}
	for _, c := range issueComments {
		out = append(out, Comment{
			Author:    c.GetUser().GetLogin(),
			Body:      c.GetBody(),
			URL:       c.GetHTMLURL(),
			CreatedAt: c.GetCreatedAt().Time,
		})
	}
	return out, nil
}

func (f *ForgeService) GetNewComments(ctx context.Context, repositoryID, prID string, since time.Time) ([]Comment, error) {
	comments, err := f.GetComments(ctx, repositoryID, prID)
	if err != nil {
		return nil, err
	}
	out := make([]Comment, 0)
	for _, c := range comments {
		if c.CreatedAt.After(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func mapPR(pr *gogithub.PullRequest) PullRequest {
	state := StateOpen
	switch {
	case pr.GetMerged():
		state = StateMerged
	case pr.GetState() == "closed":
		state = StateClosed
	}
	return PullRequest{
		ID:     strconv.Itoa(pr.GetNumber()),
		URL:    pr.GetHTMLURL(),
		State:  state,
		Author: pr.GetUser().GetLogin(),
	}
}
