// Package syncer orchestrates one synchronization run per project:
// resolve the latest upstream version, compare it with the stored token,
// execute the sync strategy, and publish the version bump. Every stage
// failure is contained to its project; a broken upstream never affects the
// other projects of the same invocation.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/klog/klogr"

	"github.com/homelab-ops/mirrorsync/pkg/imagesync"
	"github.com/homelab-ops/mirrorsync/pkg/publisher"
	"github.com/homelab-ops/mirrorsync/pkg/transform"
	"github.com/homelab-ops/mirrorsync/pkg/upstream"
)

// Outcome classifies one orchestration run of one project.
type Outcome string

const (
	// OutcomeNoChange means the upstream version equals the stored token, or
	// the upstream has no releases at all.
	OutcomeNoChange Outcome = "skipped-no-change"

	// OutcomeFiltered means the transform pipeline dropped the version by
	// policy, e.g. a prerelease.
	OutcomeFiltered Outcome = "skipped-filtered"

	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Stage names where a failed run gave up.
type Stage string

const (
	StageResolve  Stage = "resolve"
	StageState    Stage = "state"
	StageDispatch Stage = "dispatch"
	StagePublish  Stage = "publish"
)

// SyncResult is the terminal, reportable outcome of one run. It is never
// persisted; the next scheduled invocation starts from the stored token
// alone.
type SyncResult struct {
	Project string
	Outcome Outcome

	// Stage and Err are set only for OutcomeFailed.
	Stage Stage
	Err   error

	// RawVersion is the upstream release identifier before transforms;
	// NewVersion is the transformed token, empty when the run never produced
	// one (filtered or no release).
	RawVersion string
	OldVersion string
	NewVersion string

	ChangeRequest *publisher.ChangeRequest
}

func (r SyncResult) String() string {
	switch r.Outcome {
	case OutcomeFailed:
		return fmt.Sprintf("%s: failed at %s: %v", r.Project, r.Stage, r.Err)
	case OutcomeSucceeded:
		return fmt.Sprintf("%s: %s -> %s", r.Project, orNone(r.OldVersion), r.NewVersion)
	default:
		return fmt.Sprintf("%s: %s", r.Project, r.Outcome)
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// SourceResolver yields upstream sources for project specs. Implemented by
// *upstream.Resolver.
type SourceResolver interface {
	SourceFor(spec upstream.Spec) (upstream.Source, error)
}

// StateStore reads the persisted version token. Writing happens inside the
// publisher, together with the commit, so a failed or cancelled run can
// never leave the token mutated.
type StateStore interface {
	Get(project string) (token string, ok bool, err error)
}

// Dispatcher executes the sync strategy and the optional artifact archival.
// Implemented by *imagesync.Dispatcher.
type Dispatcher interface {
	Execute(ctx context.Context, strategy imagesync.Strategy, version string) error
	ArchiveArtifact(ctx context.Context, spec imagesync.ArtifactSpec, version string) error
}

// Publisher records a finished sync as an auto-merge pull request.
type Publisher interface {
	Publish(ctx context.Context, project, oldToken, newToken string) (*publisher.ChangeRequest, error)
}

// Orchestrator wires the resolver, state store, dispatcher and publisher
// into the per-project sync state machine.
type Orchestrator struct {
	Logger logr.Logger

	// Timeout bounds one project's run; zero means no bound. The dispatcher
	// stage (image pulls and builds) is expected to dominate.
	Timeout time.Duration

	resolver   SourceResolver
	store      StateStore
	dispatcher Dispatcher
	publisher  Publisher
}

type Option func(*Orchestrator)

func Logger(l logr.Logger) Option {
	return func(o *Orchestrator) {
		o.Logger = l
	}
}

func Timeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.Timeout = d
	}
}

func New(resolver SourceResolver, store StateStore, dispatcher Dispatcher, pub Publisher, opts ...Option) (*Orchestrator, error) {
	if resolver == nil || store == nil || dispatcher == nil || pub == nil {
		return nil, fmt.Errorf("resolver, store, dispatcher, and publisher must all be set")
	}

	o := &Orchestrator{
		resolver:   resolver,
		store:      store,
		dispatcher: dispatcher,
		publisher:  pub,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.Logger == nil {
		o.Logger = klogr.New()
	}

	return o, nil
}

// Run performs one synchronization run for one project. It never panics
// across the boundary and never returns a Go error: every failure is folded
// into the returned SyncResult.
func (o *Orchestrator) Run(ctx context.Context, project ProjectSpec) SyncResult {
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	log := o.Logger.WithValues("project", project.Name)

	failed := func(stage Stage, err error) SyncResult {
		log.Error(err, "sync failed", "stage", stage)
		return SyncResult{Project: project.Name, Outcome: OutcomeFailed, Stage: stage, Err: err}
	}

	source, err := o.resolver.SourceFor(project.Source)
	if err != nil {
		return failed(StageResolve, err)
	}

	pipeline, err := transform.Compile(project.Transforms)
	if err != nil {
		return failed(StageResolve, err)
	}

	strategy, err := project.Strategy.Compile()
	if err != nil {
		return failed(StageDispatch, err)
	}

	log.V(1).Info("resolving latest upstream version")

	raw, found, err := source.Latest(ctx)
	if err != nil {
		return failed(StageResolve, err)
	}
	if !found {
		log.Info("no upstream release found")
		return SyncResult{Project: project.Name, Outcome: OutcomeNoChange}
	}

	token, filtered := pipeline.Apply(raw)
	if filtered {
		log.Info("version filtered by transform policy", "raw", raw)
		return SyncResult{Project: project.Name, Outcome: OutcomeFiltered, RawVersion: raw}
	}

	stored, _, err := o.store.Get(project.Name)
	if err != nil {
		return failed(StageState, err)
	}

	// Plain string equality; upstream release ordering is trusted, no
	// semantic version comparison happens here.
	if stored == token {
		log.Info("already up to date", "version", token)
		return SyncResult{Project: project.Name, Outcome: OutcomeNoChange, RawVersion: raw, OldVersion: stored, NewVersion: token}
	}

	log.Info("version changed", "old", orNone(stored), "new", token)

	if err := o.dispatcher.Execute(ctx, strategy, token); err != nil {
		return failed(dispatchStage(err), err)
	}

	// Artifact archival is best-effort: a failed upload is logged and the
	// run carries on, because the mirrored image is the correctness-critical
	// artifact, not the archive copy.
	if project.Artifact != nil {
		if err := o.dispatcher.ArchiveArtifact(ctx, *project.Artifact, token); err != nil {
			log.Error(err, "artifact archival failed; continuing")
		}
	}

	cr, err := o.publisher.Publish(ctx, project.Name, stored, token)
	if err != nil {
		return failed(StagePublish, err)
	}

	log.Info("sync succeeded", "old", orNone(stored), "new", token)

	return SyncResult{
		Project:       project.Name,
		Outcome:       OutcomeSucceeded,
		RawVersion:    raw,
		OldVersion:    stored,
		NewVersion:    token,
		ChangeRequest: cr,
	}
}

// RunAll syncs every project sequentially. A failure of one project never
// short-circuits the others.
func (o *Orchestrator) RunAll(ctx context.Context, projects []ProjectSpec) []SyncResult {
	results := make([]SyncResult, 0, len(projects))
	for _, p := range projects {
		results = append(results, o.Run(ctx, p))
	}
	return results
}

// dispatchStage names the failed stage more precisely when the dispatcher
// reported which external interaction broke.
func dispatchStage(err error) Stage {
	var se *imagesync.StrategyError
	if errors.As(err, &se) {
		return Stage("dispatch/" + string(se.Stage))
	}
	return StageDispatch
}
