package imagesync

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/klog/klogr"

	"github.com/homelab-ops/mirrorsync/pkg/tmpl"
)

// Dispatcher executes sync strategies against the private registry described
// by Registry and Namespace. All external interactions go through the
// injected ports so tests substitute fakes.
type Dispatcher struct {
	// Registry is the private registry host, e.g. "registry.example.com".
	Registry string
	// Namespace is the repository namespace under Registry.
	Namespace string

	Logger logr.Logger

	registry RegistryClient
	builder  BuildBackend
	objstore ObjectStore
	fetcher  ArtifactFetcher
}

type Option interface {
	SetOption(d *Dispatcher) error
}

type optionFunc func(d *Dispatcher) error

func (f optionFunc) SetOption(d *Dispatcher) error {
	return f(d)
}

func Logger(l logr.Logger) Option {
	return optionFunc(func(d *Dispatcher) error {
		d.Logger = l
		return nil
	})
}

func Registry(c RegistryClient) Option {
	return optionFunc(func(d *Dispatcher) error {
		d.registry = c
		return nil
	})
}

func Builder(b BuildBackend) Option {
	return optionFunc(func(d *Dispatcher) error {
		d.builder = b
		return nil
	})
}

func Store(s ObjectStore) Option {
	return optionFunc(func(d *Dispatcher) error {
		d.objstore = s
		return nil
	})
}

func Fetcher(f ArtifactFetcher) Option {
	return optionFunc(func(d *Dispatcher) error {
		d.fetcher = f
		return nil
	})
}

func New(registry, namespace string, opts ...Option) (*Dispatcher, error) {
	if registry == "" || namespace == "" {
		return nil, fmt.Errorf("registry and namespace must be set")
	}

	d := &Dispatcher{
		Registry:  registry,
		Namespace: namespace,
	}

	for _, o := range opts {
		if err := o.SetOption(d); err != nil {
			return nil, err
		}
	}

	if d.Logger == nil {
		d.Logger = klogr.New()
	}

	return d, nil
}

// target returns the destination reference for an image name,
// e.g. "registry.example.com/homelab/minio:2024-01-01".
func (d *Dispatcher) target(imageName, version string) string {
	return fmt.Sprintf("%s/%s/%s:%s", d.Registry, d.Namespace, imageName, version)
}

// Execute runs one strategy for the resolved version. The returned error, if
// any, is a *StrategyError carrying the failed stage.
func (d *Dispatcher) Execute(ctx context.Context, strategy Strategy, version string) error {
	switch s := strategy.(type) {
	case DirectRetag:
		return d.retag(ctx, s.Image, version)
	case CustomBuild:
		return d.build(ctx, s, version)
	case MultiImage:
		for _, image := range s.Images {
			// All-or-nothing: a failure after earlier pushes leaves those
			// images in the registry, but the version token will not be
			// persisted, so the next run redoes the whole list.
			if err := d.retag(ctx, image, version); err != nil {
				return err
			}
		}
		return nil
	case nil:
		return errAt(StagePull, fmt.Errorf("no strategy configured"))
	default:
		return errAt(StagePull, fmt.Errorf("unhandled strategy type %T", strategy))
	}
}

func (d *Dispatcher) retag(ctx context.Context, image, version string) error {
	if d.registry == nil {
		return errAt(StagePull, fmt.Errorf("no registry client configured"))
	}

	src := image + ":" + version
	dst := d.target(lastPathSegment(image), version)

	d.Logger.V(1).Info("imagesync.retag", "src", src, "dst", dst)

	if err := d.registry.Copy(ctx, src, dst); err != nil {
		return errAt(StagePull, fmt.Errorf("mirroring %s to %s: %w", src, dst, err))
	}

	d.Logger.Info("imagesync.retag.done", "src", src, "dst", dst)

	return nil
}

func (d *Dispatcher) build(ctx context.Context, s CustomBuild, version string) error {
	if d.builder == nil {
		return errAt(StageBuild, fmt.Errorf("no build backend configured"))
	}

	imageName := s.TargetImage
	if imageName == "" {
		derived, err := imageNameFromDockerfile(s.Dockerfile)
		if err != nil {
			return errAt(StageBuild, err)
		}
		imageName = derived
	}

	dockerfile := strings.ReplaceAll(s.Dockerfile, VersionPlaceholder, version)
	tag := d.target(imageName, version)

	d.Logger.V(1).Info("imagesync.build", "image", imageName, "tag", tag)

	if err := d.builder.BuildAndPush(ctx, dockerfile, tag); err != nil {
		return errAt(StageBuild, err)
	}

	d.Logger.Info("imagesync.build.done", "tag", tag)

	return nil
}

// ArtifactSpec describes the optional best-effort archival of a release
// artifact into object storage.
type ArtifactSpec struct {
	// URL is a template; {{.Version}} expands to the resolved version.
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
	// Key is an optional object key template; empty means
	// "<version>/<basename of URL>".
	Key string `yaml:"key,omitempty"`
}

// ArchiveArtifact uploads the artifact described by spec under a
// version-qualified key. Archival is best-effort: the caller logs the
// returned error but never fails the run on it.
func (d *Dispatcher) ArchiveArtifact(ctx context.Context, spec ArtifactSpec, version string) error {
	if d.objstore == nil || d.fetcher == nil {
		return errAt(StageUpload, fmt.Errorf("object storage is not configured"))
	}

	data := map[string]interface{}{"Version": version}

	url, err := tmpl.Render("artifact-url", spec.URL, data)
	if err != nil {
		return errAt(StageUpload, err)
	}

	key := spec.Key
	if key == "" {
		key = version + "/" + path.Base(url)
	} else {
		key, err = tmpl.Render("artifact-key", key, data)
		if err != nil {
			return errAt(StageUpload, err)
		}
	}

	exists, err := d.objstore.Exists(ctx, spec.Bucket, key)
	if err != nil {
		return errAt(StageUpload, err)
	}
	if exists {
		d.Logger.V(1).Info("imagesync.artifact.exists", "bucket", spec.Bucket, "key", key)
		return nil
	}

	local, cleanup, err := d.fetcher.Fetch(ctx, url)
	if err != nil {
		return errAt(StageUpload, err)
	}
	defer cleanup()

	f, err := os.Open(local)
	if err != nil {
		return errAt(StageUpload, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return errAt(StageUpload, err)
	}

	if err := d.objstore.Put(ctx, spec.Bucket, key, f, st.Size()); err != nil {
		return errAt(StageUpload, err)
	}

	d.Logger.Info("imagesync.artifact.done", "bucket", spec.Bucket, "key", key)

	return nil
}
