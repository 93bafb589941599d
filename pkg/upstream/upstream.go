// Package upstream resolves the most recent release identifier of a tracked
// project from one of several upstream sources: GitHub releases, GitHub tags,
// Docker Hub image tags, or a generic JSON endpoint.
//
// "No releases found" is reported as a distinct, non-fatal outcome: callers
// must be able to tell an empty upstream apart from a transport failure.
package upstream

import (
	"context"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"k8s.io/klog/klogr"

	"github.com/homelab-ops/mirrorsync/pkg/vhttpget"
)

// Spec selects exactly one upstream source for a project.
type Spec struct {
	GitHubReleases  *GitHubReleases  `yaml:"githubReleases,omitempty"`
	GitHubTags      *GitHubTags      `yaml:"githubTags,omitempty"`
	DockerImageTags *DockerImageTags `yaml:"dockerImageTags,omitempty"`
	HTTPJSONPath    *HTTPJSONPath    `yaml:"httpJsonPath,omitempty"`
}

type GitHubReleases struct {
	// Source is the repository in "owner/repo" form.
	Source string `yaml:"source"`
	// Host overrides api.github.com, for GitHub Enterprise.
	Host string `yaml:"host,omitempty"`
}

type GitHubTags struct {
	Source string `yaml:"source"`
	Host   string `yaml:"host,omitempty"`
}

type DockerImageTags struct {
	// Source is the Docker Hub repository, e.g. "library/nginx".
	Source string `yaml:"source"`
	// Prefix narrows candidate tags to those with the given prefix.
	Prefix string `yaml:"prefix,omitempty"`
	// Registry overrides the Docker Hub registry endpoint.
	Registry string `yaml:"registry,omitempty"`
}

type HTTPJSONPath struct {
	URL string `yaml:"url"`
	// Versions is the JSONPath expression selecting version strings.
	Versions string `yaml:"versions"`
}

// Source yields the most recent raw release name of one upstream.
type Source interface {
	// Latest returns the latest raw release identifier. found=false with a
	// nil error means the upstream has no releases, which is not a failure.
	Latest(ctx context.Context) (raw string, found bool, err error)
}

// Resolver builds Sources out of Specs, with injectable HTTP and registry
// collaborators for tests.
type Resolver struct {
	Logger logr.Logger

	httpGetter  vhttpget.Getter
	githubToken string

	registryTags TagLister
}

// TagLister lists all tags of an image repository. Implemented by
// dockerregistry.Client in production.
type TagLister interface {
	Tags(repository string) ([]string, error)
}

type Option interface {
	SetOption(r *Resolver) error
}

type loggerOption struct {
	l logr.Logger
}

func (o *loggerOption) SetOption(r *Resolver) error {
	r.Logger = o.l
	return nil
}

func Logger(l logr.Logger) Option {
	return &loggerOption{l: l}
}

type getterOption struct {
	g vhttpget.Getter
}

func (o *getterOption) SetOption(r *Resolver) error {
	r.httpGetter = o.g
	return nil
}

func HTTPGetter(g vhttpget.Getter) Option {
	return &getterOption{g: g}
}

type tagListerOption struct {
	t TagLister
}

func (o *tagListerOption) SetOption(r *Resolver) error {
	r.registryTags = o.t
	return nil
}

func RegistryTagLister(t TagLister) Option {
	return &tagListerOption{t: t}
}

type githubTokenOption struct {
	token string
}

func (o *githubTokenOption) SetOption(r *Resolver) error {
	r.githubToken = o.token
	return nil
}

func GitHubToken(token string) Option {
	return &githubTokenOption{token: token}
}

func New(opts ...Option) (*Resolver, error) {
	r := &Resolver{}

	for _, o := range opts {
		if err := o.SetOption(r); err != nil {
			return nil, err
		}
	}

	if r.Logger == nil {
		r.Logger = klogr.New()
	}

	if r.httpGetter == nil {
		r.httpGetter = vhttpget.New()
	}

	if r.githubToken == "" {
		r.githubToken = os.Getenv("GITHUB_TOKEN")
	}

	return r, nil
}

// SourceFor returns the Source for spec. Exactly one source kind must be set.
func (r *Resolver) SourceFor(spec Spec) (Source, error) {
	switch {
	case spec.GitHubReleases != nil:
		return &githubReleasesSource{spec: *spec.GitHubReleases, resolver: r}, nil
	case spec.GitHubTags != nil:
		return &githubTagsSource{spec: *spec.GitHubTags, resolver: r}, nil
	case spec.DockerImageTags != nil:
		return &dockerImageTagsSource{spec: *spec.DockerImageTags, resolver: r}, nil
	case spec.HTTPJSONPath != nil:
		return &httpJSONPathSource{spec: *spec.HTTPJSONPath, resolver: r}, nil
	}
	return nil, fmt.Errorf("no upstream source specified")
}

func (r *Resolver) githubHeaders() map[string]string {
	h := map[string]string{
		"Accept": "application/vnd.github+json",
	}
	if r.githubToken != "" {
		h["Authorization"] = "Bearer " + r.githubToken
	}
	return h
}
