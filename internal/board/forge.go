package board

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	gogithub "github.com/google/go-github/v82/github"

	"github.com/corvidwave/foreman/internal/errs"
)

// statusLabel returns the "status/…" label used to encode a BoardItem's
// status on the forge, since a hosted issue tracker has no native
// TODO/IN_PROGRESS/IN_REVIEW/DONE field.
func statusLabel(s Status) string {
	return "status/" + strings.ToLower(strings.ReplaceAll(string(s), "_", "-"))
}

// prBodyLine marks a pull request url recorded on the issue body by
// AddPullRequestToItem, so GetItems can read it back without a per-issue
// comment listing.
var prBodyLine = regexp.MustCompile(`(?m)^PR: (https://\S+)$`)

func pullRequestURLsFromBody(body string) []string {
	matches := prBodyLine.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		urls = append(urls, m[1])
	}
	return urls
}

func statusFromLabels(labels []string) Status {
	for _, l := range labels {
		switch l {
		case statusLabel(StatusTODO):
			return StatusTODO
		case statusLabel(StatusInProgress):
			return StatusInProgress
		case statusLabel(StatusInReview):
			return StatusInReview
		case statusLabel(StatusDone):
			return StatusDone
		}
	}
	return StatusTODO
}

// bearerTransport adds a static Authorization header to every request,
// so requests authenticate without pulling in an oauth2 dependency.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req2)
}

var _ Service = (*ForgeService)(nil)

// ForgeService implements Service against a hosted Git forge's issue
// tracker, representing each BoardItem as an open issue carrying a
// "status/…" label.
type ForgeService struct {
	client *gogithub.Client
	owner  string
	repo   string
}

// NewForgeService builds a ForgeService for owner/repo authenticated with
// token.
func NewForgeService(token, owner, repo string) *ForgeService {
	httpClient := &http.Client{Transport: &bearerTransport{token: token}}
	return &ForgeService{
		client: gogithub.NewClient(httpClient),
		owner:  owner,
		repo:   repo,
	}
}

func (f *ForgeService) GetBoard(ctx context.Context, boardID string) (string, error) {
	return boardID, nil
}

func (f *ForgeService) GetItems(ctx context.Context, boardID string, status *Status) ([]Item, error) {
	issues, _, err := f.client.Issues.ListByRepo(ctx, f.owner, f.repo, &gogithub.IssueListByRepoOptions{
		State: "open",
	})
	if err != nil {
		return nil, fmt.Errorf("list issues for %s/%s: %w: %w", f.owner, f.repo, errs.ErrBackend, err)
	}

	items := make([]Item, 0, len(issues))
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue
		}
		labels := make([]string, 0, len(issue.Labels))
		for _, l := range issue.Labels {
			labels = append(labels, l.GetName())
		}
		item := Item{
			ID:              fmt.Sprintf("%d", issue.GetNumber()),
			Title:           issue.GetTitle(),
			Description:     issue.GetBody(),
			Status:          statusFromLabels(labels),
			Labels:          labels,
			PullRequestURLs: pullRequestURLsFromBody(issue.GetBody()),
			ContentType:     ContentIssue,
			Repository:      f.owner + "/" + f.repo,
			CreatedAt:       issue.GetCreatedAt().Time,
			UpdatedAt:       issue.GetUpdatedAt().Time,
		}
		if status == nil || item.Status == *status {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *ForgeService) UpdateItemStatus(ctx context.Context, itemID string, status Status) (Item, error) {
	number, err := issueNumber(itemID)
	if err != nil {
		return Item{}, err
	}

	issue, _, err := f.client.Issues.Get(ctx, f.owner, f.repo, number)
	if err != nil {
		return Item{}, fmt.Errorf("get issue %s: %w: %w", itemID, errs.ErrBackend, err)
	}

	keep := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		if !strings.HasPrefix(l.GetName(), "status/") {
			keep = append(keep, l.GetName())
		}
	}
	keep = append(keep, statusLabel(status))

	updated, _, err := f.client.Issues.Edit(ctx, f.owner, f.repo, number, &gogithub.IssueRequest{Labels: &keep})
	if err != nil {
		return Item{}, fmt.Errorf("update issue %s labels: %w: %w", itemID, errs.ErrBackend, err)
	}

	return Item{
		ID:         itemID,
		Title:      updated.GetTitle(),
		Status:     status,
		Labels:     keep,
		Repository: f.owner + "/" + f.repo,
	}, nil
}

// AddPullRequestToItem appends a "PR: <url>" line to the issue body, which
// is where GetItems reads pull request urls back from.
func (f *ForgeService) AddPullRequestToItem(ctx context.Context, itemID, url string) error {
	number, err := issueNumber(itemID)
	if err != nil {
		return err
	}

	issue, _, err := f.client.Issues.Get(ctx, f.owner, f.repo, number)
	if err != nil {
		return fmt.Errorf("get issue %s: %w: %w", itemID, errs.ErrBackend, err)
	}

	line := fmt.Sprintf("PR: %s", url)
	body := issue.GetBody()
	for _, existing := range pullRequestURLsFromBody(body) {
		if existing == url {
			return nil
		}
	}
	if body != "" {
		body += "\n"
	}
	body += line

	if _, _, err := f.client.Issues.Edit(ctx, f.owner, f.repo, number, &gogithub.IssueRequest{Body: &body}); err != nil {
		return fmt.Errorf("record pull request on issue %s: %w: %w", itemID, errs.ErrBackend, err)
	}
	return nil
}

func issueNumber(itemID string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(itemID, "%d", &n); err != nil {
		return 0, fmt.Errorf("parse item id %q as issue number: %w: %w", itemID, errs.ErrValidation, err)
	}
	return n, nil
}
