package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/homelab-ops/mirrorsync/pkg/dockerregistry"
	"github.com/homelab-ops/mirrorsync/pkg/semver"
	"github.com/homelab-ops/mirrorsync/pkg/vhttpget"
)

const (
	defaultGitHubHost     = "api.github.com"
	defaultDockerRegistry = "https://registry.hub.docker.com/"
)

// githubReleasesSource asks the GitHub API for the latest published release.
// GitHub itself orders releases by publish time, so the answer is trusted
// as-is with no version comparison on our side.
type githubReleasesSource struct {
	spec     GitHubReleases
	resolver *Resolver
}

var _ Source = &githubReleasesSource{}

type githubRelease struct {
	TagName string `json:"tag_name"`
}

func (s *githubReleasesSource) Latest(ctx context.Context) (string, bool, error) {
	host := s.spec.Host
	if host == "" {
		host = defaultGitHubHost
	}
	url := fmt.Sprintf("https://%s/repos/%s/releases/latest", host, s.spec.Source)

	s.resolver.Logger.V(1).Info("upstream.githubReleases", "url", url)

	body, err := s.resolver.httpGetter.DoRequest(url,
		vhttpget.WithContext(ctx),
		vhttpget.Header(s.resolver.githubHeaders()),
	)
	if err != nil {
		var statusErr *vhttpget.StatusError
		// A repository without any release answers 404, which means
		// "nothing to sync", not a failure.
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("fetching latest release of %s: %w", s.spec.Source, err)
	}

	var rel githubRelease
	if err := json.Unmarshal([]byte(body), &rel); err != nil {
		return "", false, fmt.Errorf("decoding latest release of %s: %w", s.spec.Source, err)
	}
	if rel.TagName == "" {
		return "", false, nil
	}

	return rel.TagName, true, nil
}

type githubTagsSource struct {
	spec     GitHubTags
	resolver *Resolver
}

var _ Source = &githubTagsSource{}

type githubTag struct {
	Name string `json:"name"`
}

func (s *githubTagsSource) Latest(ctx context.Context) (string, bool, error) {
	host := s.spec.Host
	if host == "" {
		host = defaultGitHubHost
	}
	url := fmt.Sprintf("https://%s/repos/%s/tags", host, s.spec.Source)

	s.resolver.Logger.V(1).Info("upstream.githubTags", "url", url)

	body, err := s.resolver.httpGetter.DoRequest(url,
		vhttpget.WithContext(ctx),
		vhttpget.Header(s.resolver.githubHeaders()),
	)
	if err != nil {
		return "", false, fmt.Errorf("fetching tags of %s: %w", s.spec.Source, err)
	}

	var tags []githubTag
	if err := json.Unmarshal([]byte(body), &tags); err != nil {
		return "", false, fmt.Errorf("decoding tags of %s: %w", s.spec.Source, err)
	}
	if len(tags) == 0 {
		return "", false, nil
	}

	// The tags endpoint returns most recent first.
	return tags[0].Name, true, nil
}

// dockerImageTagsSource lists registry tags and picks the highest by version
// ordering, optionally restricted to tags with a fixed prefix. Docker Hub
// does not order tags by publish time, so unlike the GitHub sources this one
// has to compare versions.
type dockerImageTagsSource struct {
	spec     DockerImageTags
	resolver *Resolver
}

var _ Source = &dockerImageTagsSource{}

func (s *dockerImageTagsSource) Latest(ctx context.Context) (string, bool, error) {
	lister := s.resolver.registryTags
	if lister == nil {
		registry := s.spec.Registry
		if registry == "" {
			registry = defaultDockerRegistry
		}
		client, err := dockerregistry.New(registry, "", "")
		if err != nil {
			return "", false, err
		}
		lister = client
	}

	repo := s.spec.Source
	if !strings.Contains(repo, "/") {
		repo = "library/" + repo
	}

	tags, err := lister.Tags(repo)
	if err != nil {
		return "", false, fmt.Errorf("listing tags of %s: %w", repo, err)
	}

	if s.spec.Prefix != "" {
		filtered := tags[:0]
		for _, t := range tags {
			if strings.HasPrefix(t, s.spec.Prefix) {
				filtered = append(filtered, t)
			}
		}
		tags = filtered
		s.resolver.Logger.V(1).Info("upstream.dockerImageTags.prefix", "prefix", s.spec.Prefix, "remaining", len(tags))
	}

	// Version ordering happens on the tag with the prefix stripped, so that
	// tags shaped like "cu124-megapak-1.3.0" still compare as versions, but
	// the full original tag is what gets reported.
	var latest string
	var latestVer *semver.Version
	for _, t := range tags {
		v, err := semver.Parse(strings.TrimPrefix(t, s.spec.Prefix))
		if err != nil {
			continue
		}
		if latestVer == nil || latestVer.LessThan(v) {
			latestVer = v
			latest = t
		}
	}
	if latestVer == nil {
		return "", false, nil
	}

	return latest, true, nil
}
