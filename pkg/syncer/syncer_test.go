package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/homelab-ops/mirrorsync/pkg/imagesync"
	"github.com/homelab-ops/mirrorsync/pkg/publisher"
	"github.com/homelab-ops/mirrorsync/pkg/transform"
	"github.com/homelab-ops/mirrorsync/pkg/upstream"
)

type fakeSource struct {
	raw   string
	found bool
	err   error
}

func (s fakeSource) Latest(ctx context.Context) (string, bool, error) {
	return s.raw, s.found, s.err
}

type fakeResolver struct {
	source upstream.Source
	err    error
}

func (r fakeResolver) SourceFor(spec upstream.Spec) (upstream.Source, error) {
	return r.source, r.err
}

type fakeStore struct {
	tokens map[string]string
	err    error
}

func (s fakeStore) Get(project string) (string, bool, error) {
	if s.err != nil {
		return "", false, s.err
	}
	t, ok := s.tokens[project]
	return t, ok, nil
}

type dispatched struct {
	strategy imagesync.Strategy
	version  string
}

type fakeDispatcher struct {
	executed   []dispatched
	archived   []string
	execErr    error
	archiveErr error
}

func (d *fakeDispatcher) Execute(ctx context.Context, strategy imagesync.Strategy, version string) error {
	if d.execErr != nil {
		return d.execErr
	}
	d.executed = append(d.executed, dispatched{strategy: strategy, version: version})
	return nil
}

func (d *fakeDispatcher) ArchiveArtifact(ctx context.Context, spec imagesync.ArtifactSpec, version string) error {
	if d.archiveErr != nil {
		return d.archiveErr
	}
	d.archived = append(d.archived, version)
	return nil
}

type published struct {
	project, old, new string
}

type fakePublisher struct {
	calls []published
	err   error
}

func (p *fakePublisher) Publish(ctx context.Context, project, oldToken, newToken string) (*publisher.ChangeRequest, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.calls = append(p.calls, published{project: project, old: oldToken, new: newToken})
	return &publisher.ChangeRequest{Branch: fmt.Sprintf("mirrorsync/%s-%s", project, newToken), Number: 1}, nil
}

func retagProject(name string) ProjectSpec {
	return ProjectSpec{
		Name:       name,
		Source:     upstream.Spec{GitHubReleases: &upstream.GitHubReleases{Source: "acme/" + name}},
		Transforms: []transform.Spec{{Name: transform.NameStripV}},
		Strategy:   StrategySpec{Type: StrategyDirectRetag, Image: "acme/" + name},
	}
}

func TestRunNewVersion(t *testing.T) {
	disp := &fakeDispatcher{}
	pub := &fakePublisher{}
	o, err := New(
		fakeResolver{source: fakeSource{raw: "v1.1.0", found: true}},
		fakeStore{tokens: map[string]string{"tool": "1.0.0"}},
		disp,
		pub,
	)
	if err != nil {
		t.Fatal(err)
	}

	res := o.Run(context.Background(), retagProject("tool"))

	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("unexpected outcome %q: %v", res.Outcome, res.Err)
	}
	if res.OldVersion != "1.0.0" || res.NewVersion != "1.1.0" {
		t.Errorf("unexpected versions: %s -> %s", res.OldVersion, res.NewVersion)
	}
	if len(disp.executed) != 1 || disp.executed[0].version != "1.1.0" {
		t.Errorf("unexpected dispatches: %+v", disp.executed)
	}
	if len(pub.calls) != 1 || pub.calls[0] != (published{project: "tool", old: "1.0.0", new: "1.1.0"}) {
		t.Errorf("unexpected publishes: %+v", pub.calls)
	}
}

func TestRunNoChange(t *testing.T) {
	disp := &fakeDispatcher{}
	pub := &fakePublisher{}
	o, err := New(
		fakeResolver{source: fakeSource{raw: "2.0.0", found: true}},
		fakeStore{tokens: map[string]string{"tool": "2.0.0"}},
		disp,
		pub,
	)
	if err != nil {
		t.Fatal(err)
	}

	res := o.Run(context.Background(), ProjectSpec{
		Name:     "tool",
		Source:   upstream.Spec{GitHubReleases: &upstream.GitHubReleases{Source: "acme/tool"}},
		Strategy: StrategySpec{Type: StrategyDirectRetag, Image: "acme/tool"},
	})

	if res.Outcome != OutcomeNoChange {
		t.Fatalf("unexpected outcome %q", res.Outcome)
	}
	if len(disp.executed) != 0 {
		t.Errorf("dispatcher ran on unchanged version: %+v", disp.executed)
	}
	if len(pub.calls) != 0 {
		t.Errorf("publisher ran on unchanged version: %+v", pub.calls)
	}
}

func TestRunFiltered(t *testing.T) {
	disp := &fakeDispatcher{}
	pub := &fakePublisher{}
	o, err := New(
		fakeResolver{source: fakeSource{raw: "v2.0.0-rc1", found: true}},
		fakeStore{tokens: map[string]string{"tool": "1.0.0"}},
		disp,
		pub,
	)
	if err != nil {
		t.Fatal(err)
	}

	p := retagProject("tool")
	p.Transforms = append(p.Transforms, transform.Spec{Name: transform.NameFilterPrerelease})

	res := o.Run(context.Background(), p)

	if res.Outcome != OutcomeFiltered {
		t.Fatalf("unexpected outcome %q", res.Outcome)
	}
	if res.RawVersion != "v2.0.0-rc1" {
		t.Errorf("unexpected raw version %q", res.RawVersion)
	}
	if res.NewVersion != "" {
		t.Errorf("filtered run must not report a transformed version, got %q", res.NewVersion)
	}
	if len(disp.executed) != 0 || len(pub.calls) != 0 {
		t.Error("filtered version reached dispatcher or publisher")
	}
}

func TestRunNoUpstreamRelease(t *testing.T) {
	o, err := New(
		fakeResolver{source: fakeSource{found: false}},
		fakeStore{},
		&fakeDispatcher{},
		&fakePublisher{},
	)
	if err != nil {
		t.Fatal(err)
	}

	res := o.Run(context.Background(), retagProject("tool"))

	if res.Outcome != OutcomeNoChange {
		t.Fatalf("unexpected outcome %q", res.Outcome)
	}
}

func TestRunDispatchFailureKeepsToken(t *testing.T) {
	disp := &fakeDispatcher{execErr: &imagesync.StrategyError{Stage: imagesync.StagePush, Err: errors.New("registry unavailable")}}
	pub := &fakePublisher{}
	o, err := New(
		fakeResolver{source: fakeSource{raw: "v1.1.0", found: true}},
		fakeStore{tokens: map[string]string{"tool": "1.0.0"}},
		disp,
		pub,
	)
	if err != nil {
		t.Fatal(err)
	}

	res := o.Run(context.Background(), retagProject("tool"))

	if res.Outcome != OutcomeFailed {
		t.Fatalf("unexpected outcome %q", res.Outcome)
	}
	if res.Stage != "dispatch/push" {
		t.Errorf("unexpected stage %q", res.Stage)
	}
	if len(pub.calls) != 0 {
		t.Errorf("publisher ran after failed dispatch: %+v", pub.calls)
	}
}

func TestRunResolveFailure(t *testing.T) {
	o, err := New(
		fakeResolver{source: fakeSource{err: errors.New("rate limited")}},
		fakeStore{},
		&fakeDispatcher{},
		&fakePublisher{},
	)
	if err != nil {
		t.Fatal(err)
	}

	res := o.Run(context.Background(), retagProject("tool"))

	if res.Outcome != OutcomeFailed || res.Stage != StageResolve {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunArtifactFailureIsSoft(t *testing.T) {
	disp := &fakeDispatcher{archiveErr: errors.New("bucket unavailable")}
	pub := &fakePublisher{}
	o, err := New(
		fakeResolver{source: fakeSource{raw: "v1.1.0", found: true}},
		fakeStore{tokens: map[string]string{"tool": "1.0.0"}},
		disp,
		pub,
	)
	if err != nil {
		t.Fatal(err)
	}

	p := retagProject("tool")
	p.Artifact = &imagesync.ArtifactSpec{
		URL:    "https://example.com/tool-{{.Version}}.tar.gz",
		Bucket: "artifacts",
	}

	res := o.Run(context.Background(), p)

	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("archival failure aborted the run: %+v", res)
	}
	if len(pub.calls) != 1 {
		t.Errorf("unexpected publishes: %+v", pub.calls)
	}
}

func TestRunAllIsolatesFailures(t *testing.T) {
	disp := &fakeDispatcher{}
	pub := &fakePublisher{}
	o, err := New(
		fakeResolver{source: fakeSource{raw: "v1.1.0", found: true}},
		fakeStore{tokens: map[string]string{"good": "1.0.0", "bad": "1.0.0"}},
		disp,
		pub,
	)
	if err != nil {
		t.Fatal(err)
	}

	bad := retagProject("bad")
	bad.Strategy = StrategySpec{Type: "unknown"}

	results := o.RunAll(context.Background(), []ProjectSpec{bad, retagProject("good")})

	if len(results) != 2 {
		t.Fatalf("unexpected result count %d", len(results))
	}
	if results[0].Outcome != OutcomeFailed {
		t.Errorf("bad project: unexpected outcome %q", results[0].Outcome)
	}
	if results[1].Outcome != OutcomeSucceeded {
		t.Errorf("good project: unexpected outcome %q: %v", results[1].Outcome, results[1].Err)
	}
}
