// Package publisher records a completed sync as a version-bump pull request:
// a uniquely named branch, a one-file diff of the project's version token
// file, and an auto-merge PR. The hosting platform owns check execution and
// the actual merge; the publisher never waits for either.
package publisher

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/go-github/v27/github"
	"k8s.io/klog/klogr"

	"github.com/homelab-ops/mirrorsync/pkg/gitrepo"
	"github.com/homelab-ops/mirrorsync/pkg/tmpl"
	"github.com/homelab-ops/mirrorsync/pkg/versionfile"
)

const (
	DefaultTitleTemplate = "chore: update {{.Project}} to {{.NewVersion}}"
	DefaultBodyTemplate  = "Automated version bump of `{{.Project}}`" +
		"{{if .OldVersion}} from `{{.OldVersion}}`{{end}} to `{{.NewVersion}}`.\n"
)

// Git is the slice of the local git client the publisher drives.
type Git interface {
	GetCurrentBranch() (string, error)
	Checkout(branch string) error
	CheckoutAt(branch, start string) error
	Add(files ...string) error
	Commit(msg string) error
	Push(branch string) error
	DiffExists() bool
	Repo() (string, error)
}

// PullRequestAPI is the slice of the GitHub client the publisher needs.
type PullRequestAPI interface {
	NewPullRequest(ctx context.Context, owner, repo string, opt *gitrepo.NewPullRequestOptions) (*gitrepo.PullRequest, error)
	FindOpenPullRequestByHead(ctx context.Context, owner, repo, branch string) (*gitrepo.PullRequest, error)
	SearchIssues(ctx context.Context, owner, repo string, query *gitrepo.Query) ([]*github.Issue, error)
	EnableAutoMerge(ctx context.Context, pr *gitrepo.PullRequest) error
}

// ChangeRequest is the outcome of a publish: the branch that was pushed and
// the pull request recording the version bump.
type ChangeRequest struct {
	Branch string
	Number int
	URL    string

	// Replayed is true when the PR already existed from a previous partially
	// failed run and was adopted instead of re-created.
	Replayed bool
}

type Publisher struct {
	Logger logr.Logger

	// BaseBranch is the branch PRs target, e.g. "master".
	BaseBranch string

	TitleTemplate string
	BodyTemplate  string

	store *versionfile.Store
	git   Git
	api   PullRequestAPI
}

type Option func(*Publisher)

func Logger(l logr.Logger) Option {
	return func(p *Publisher) {
		p.Logger = l
	}
}

func TitleTemplate(t string) Option {
	return func(p *Publisher) {
		if t != "" {
			p.TitleTemplate = t
		}
	}
}

func BodyTemplate(t string) Option {
	return func(p *Publisher) {
		if t != "" {
			p.BodyTemplate = t
		}
	}
}

func New(store *versionfile.Store, git Git, api PullRequestAPI, baseBranch string, opts ...Option) (*Publisher, error) {
	if store == nil || git == nil || api == nil {
		return nil, fmt.Errorf("store, git, and pull request API must all be set")
	}
	if baseBranch == "" {
		baseBranch = "master"
	}

	p := &Publisher{
		BaseBranch:    baseBranch,
		TitleTemplate: DefaultTitleTemplate,
		BodyTemplate:  DefaultBodyTemplate,
		store:         store,
		git:           git,
		api:           api,
	}

	for _, o := range opts {
		o(p)
	}

	if p.Logger == nil {
		p.Logger = klogr.New()
	}

	return p, nil
}

// BranchFor derives the branch name for one (project, token) pair. Two
// concurrent runs for different projects or different tokens can never
// collide on it.
func BranchFor(project, token string) string {
	slug := strings.ReplaceAll(project, "/", "-")
	ref := strings.ReplaceAll(token, "/", "-")
	return "mirrorsync/" + slug + "-" + ref
}

// Publish writes newToken into the project's version file, commits that
// single file on a fresh branch cut from BaseBranch, pushes it and opens an
// auto-merge PR. The worktree is returned to the branch it started on, so
// consecutive publishes from the same checkout stay independent.
//
// Replays are idempotent: if a previous run already pushed the branch and
// opened the PR before failing, Publish adopts the existing PR instead of
// erroring.
func (p *Publisher) Publish(ctx context.Context, project, oldToken, newToken string) (*ChangeRequest, error) {
	branch := BranchFor(project, newToken)

	ownerRepo, err := p.git.Repo()
	if err != nil {
		return nil, fmt.Errorf("detecting origin repository: %w", err)
	}
	parts := strings.Split(ownerRepo, "/")
	if len(parts) != 2 {
		return nil, fmt.Errorf("unexpected format of remote: %s", ownerRepo)
	}
	owner, repo := parts[0], parts[1]

	// A PR left behind by a previous partially failed run for the same token
	// already records exactly this change.
	if existing, err := p.api.FindOpenPullRequestByHead(ctx, owner, repo, branch); err != nil {
		return nil, fmt.Errorf("looking up existing pull request: %w", err)
	} else if existing != nil {
		p.Logger.Info("publisher.replayed", "project", project, "pr", existing.Number)
		return &ChangeRequest{Branch: branch, Number: existing.Number, URL: existing.HTMLURL, Replayed: true}, nil
	}

	data := map[string]interface{}{
		"Project":    project,
		"OldVersion": oldToken,
		"NewVersion": newToken,
	}

	title, err := tmpl.Render("pr-title", p.TitleTemplate, data)
	if err != nil {
		return nil, err
	}
	body, err := tmpl.Render("pr-body", p.BodyTemplate, data)
	if err != nil {
		return nil, err
	}

	// Catches a PR for this bump whose head branch was renamed or recreated
	// manually; the head-branch lookup above cannot see those.
	issues, err := p.api.SearchIssues(ctx, owner, repo, &gitrepo.Query{State: "open", Title: title})
	if err != nil {
		return nil, fmt.Errorf("searching for duplicate pull request: %w", err)
	}
	if len(issues) > 0 {
		issue := issues[0]
		p.Logger.Info("publisher.replayed", "project", project, "pr", issue.GetNumber())
		return &ChangeRequest{Branch: branch, Number: issue.GetNumber(), URL: issue.GetHTMLURL(), Replayed: true}, nil
	}

	current, err := p.git.GetCurrentBranch()
	if err != nil {
		return nil, err
	}

	// The change branch always starts at the base branch. Branching off the
	// current HEAD would let a preceding project's commit leak into this PR
	// when several projects publish from the same checkout.
	if err := p.git.CheckoutAt(branch, p.BaseBranch); err != nil {
		return nil, fmt.Errorf("checking out %s from %s: %w", branch, p.BaseBranch, err)
	}
	defer func() {
		if err := p.git.Checkout(current); err != nil {
			p.Logger.Error(err, "restoring branch", "branch", current)
		}
	}()

	// The same bytes land in the state store file and in the commit, so the
	// stored token and the change request diff cannot drift.
	if err := p.store.Set(project, newToken); err != nil {
		return nil, err
	}

	if err := p.git.Add(p.store.Path(project)); err != nil {
		return nil, err
	}

	if !p.git.DiffExists() {
		// Nothing staged: the base branch already carries this token.
		p.Logger.Info("publisher.nochange", "project", project, "token", newToken)
		return nil, nil
	}

	if err := p.git.Commit(title); err != nil {
		return nil, fmt.Errorf("committing version bump: %w", err)
	}
	if err := p.git.Push(branch); err != nil {
		return nil, fmt.Errorf("pushing %s: %w", branch, err)
	}

	pr, err := p.api.NewPullRequest(ctx, owner, repo, &gitrepo.NewPullRequestOptions{
		Title: title,
		Head:  branch,
		Base:  p.BaseBranch,
		Body:  body,
	})
	if err != nil {
		return nil, fmt.Errorf("creating pull request: %w", err)
	}

	if err := p.api.EnableAutoMerge(ctx, pr); err != nil {
		return nil, err
	}

	p.Logger.Info("publisher.created", "project", project, "pr", pr.Number, "branch", branch)

	return &ChangeRequest{Branch: branch, Number: pr.Number, URL: pr.HTMLURL}, nil
}
