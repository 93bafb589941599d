package imagesync

import (
	"context"
	"fmt"
	"io"
)

// Stage identifies which external interaction of a strategy failed.
type Stage string

const (
	StagePull   Stage = "pull"
	StageBuild  Stage = "build"
	StagePush   Stage = "push"
	StageUpload Stage = "upload"
)

// StrategyError wraps a failure with the stage it happened in, so that a
// failed run can report "push failed" rather than an undifferentiated error.
type StrategyError struct {
	Stage Stage
	Err   error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}

func errAt(stage Stage, err error) error {
	return &StrategyError{Stage: stage, Err: err}
}

// RegistryClient mirrors an image reference into another repository. Copy is
// expected to fail when the source tag does not exist; a missing tag means the
// version string was resolved incorrectly and must surface as an error.
type RegistryClient interface {
	Copy(ctx context.Context, src, dst string) error
}

// BuildBackend builds an image from the materialized Dockerfile content and
// pushes it under tag.
type BuildBackend interface {
	BuildAndPush(ctx context.Context, dockerfile, tag string) error
}

// ObjectStore archives artifacts. Exists allows skipping an upload that a
// previous run already completed.
type ObjectStore interface {
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Put(ctx context.Context, bucket, key string, body io.Reader, length int64) error
}

// ArtifactFetcher downloads a remote artifact and returns a local path to it
// together with a cleanup func.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, url string) (path string, cleanup func(), err error)
}
