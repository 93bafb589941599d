// Package gitrepo talks to the GitHub API on behalf of the publisher: opening
// version-bump pull requests, finding ones a previous partially-failed run
// already opened, and flipping auto-merge on.
package gitrepo

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/google/go-github/v27/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

type Client struct {
	github  *github.Client
	graphql *githubv4.Client
}

func NewClient(ctx context.Context) *Client {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: os.Getenv("GITHUB_TOKEN")},
	)
	tc := oauth2.NewClient(ctx, ts)

	return NewClientWithHTTP(tc)
}

// NewClientWithHTTP builds a Client over a caller-supplied HTTP client, which
// tests point at an httptest server.
func NewClientWithHTTP(hc *http.Client) *Client {
	return &Client{
		github:  github.NewClient(hc),
		graphql: githubv4.NewClient(hc),
	}
}

type NewPullRequestOptions struct {
	Title string
	Head  string
	Base  string
	Body  string
}

type PullRequest struct {
	Number  int
	NodeID  string
	HTMLURL string
}

func (c *Client) NewPullRequest(ctx context.Context, owner, repo string, opt *NewPullRequestOptions) (*PullRequest, error) {
	newPr := github.NewPullRequest{
		Title: &opt.Title,
		Head:  &opt.Head,
		Base:  &opt.Base,
		Body:  &opt.Body,
	}
	pr, _, err := c.github.PullRequests.Create(ctx, owner, repo, &newPr)
	if err != nil {
		return nil, err
	}

	return &PullRequest{
		Number:  pr.GetNumber(),
		NodeID:  pr.GetNodeID(),
		HTMLURL: pr.GetHTMLURL(),
	}, nil
}

// FindOpenPullRequestByHead returns the open PR whose head is branch, or nil.
// The publisher uses this to make replays of a partially failed run
// idempotent instead of erroring on an already-existing branch.
func (c *Client) FindOpenPullRequestByHead(ctx context.Context, owner, repo, branch string) (*PullRequest, error) {
	prs, _, err := c.github.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State: "open",
		Head:  owner + ":" + branch,
		ListOptions: github.ListOptions{
			PerPage: 10,
		},
	})
	if err != nil {
		return nil, err
	}
	if len(prs) == 0 {
		return nil, nil
	}

	pr := prs[0]
	return &PullRequest{
		Number:  pr.GetNumber(),
		NodeID:  pr.GetNodeID(),
		HTMLURL: pr.GetHTMLURL(),
	}, nil
}

// EnableAutoMerge turns on auto-merge (squash) for the PR, so the hosting
// platform merges it once its checks pass. There is no REST endpoint for
// this, hence the GraphQL mutation.
func (c *Client) EnableAutoMerge(ctx context.Context, pr *PullRequest) error {
	var m struct {
		EnablePullRequestAutoMerge struct {
			PullRequest struct {
				Number githubv4.Int
			}
		} `graphql:"enablePullRequestAutoMerge(input: $input)"`
	}

	method := githubv4.PullRequestMergeMethodSquash
	input := githubv4.EnablePullRequestAutoMergeInput{
		PullRequestID: githubv4.ID(pr.NodeID),
		MergeMethod:   &method,
	}

	if err := c.graphql.Mutate(ctx, &m, input, nil); err != nil {
		return fmt.Errorf("enabling auto-merge on #%d: %w", pr.Number, err)
	}

	return nil
}

type Query struct {
	State string
	Body  string
	Title string
}

func (q *Query) String() string {
	arr := make([]string, 0)
	if q.State != "" {
		arr = append(arr, fmt.Sprintf("is:%s", q.State))
	}
	if q.Body != "" {
		arr = append(arr, fmt.Sprintf("%s in:body", strconv.Quote(strings.Replace(q.Body, "\n", " ", -1))))
	}
	if q.Title != "" {
		arr = append(arr, fmt.Sprintf("%s in:title", strconv.Quote(q.Title)))
	}
	return strings.Join(arr, " ")
}

// SearchIssues finds PRs matching query, for duplicate detection by title or
// body.
func (c *Client) SearchIssues(ctx context.Context, owner, repo string, query *Query) ([]*github.Issue, error) {
	q := fmt.Sprintf("is:pr repo:%s/%s %s", owner, repo, query.String())
	searchOpt := &github.SearchOptions{
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}
	result, resp, err := c.github.Search.Issues(ctx, q, searchOpt)
	if err != nil {
		return nil, err
	}
	issues := filterIssues(result.Issues, query)
	for resp.NextPage > searchOpt.Page {
		searchOpt.Page = resp.NextPage
		r, res, err := c.github.Search.Issues(ctx, q, searchOpt)
		if err != nil {
			return nil, err
		}
		issues = append(issues, filterIssues(r.Issues, query)...)
		resp = res
	}
	return issues, nil
}

func filterIssues(issues []github.Issue, q *Query) []*github.Issue {
	result := make([]*github.Issue, 0)
	for i := range issues {
		issue := issues[i]
		if q.State != "" && issue.GetState() != q.State {
			continue
		}
		if q.Body != "" && issue.GetBody() != q.Body {
			continue
		}
		if q.Title != "" && issue.GetTitle() != q.Title {
			continue
		}
		result = append(result, &issue)
	}
	return result
}
