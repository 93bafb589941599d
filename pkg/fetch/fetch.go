// Package fetch downloads release artifacts with go-getter, which understands
// plain HTTP as well as checksummed and archive-aware URLs.
package fetch

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/go-logr/logr"
	getter "github.com/hashicorp/go-getter"
	"k8s.io/klog/klogr"
)

type Fetcher struct {
	Logger logr.Logger

	// get is swapped out in tests.
	get func(ctx context.Context, src, dst, pwd string) error
}

type Option func(*Fetcher)

func Logger(l logr.Logger) Option {
	return func(f *Fetcher) {
		f.Logger = l
	}
}

// Getter overrides the download function, for tests.
func Getter(get func(ctx context.Context, src, dst, pwd string) error) Option {
	return func(f *Fetcher) {
		f.get = get
	}
}

func New(opts ...Option) *Fetcher {
	f := &Fetcher{}

	for _, o := range opts {
		o(f)
	}

	if f.Logger == nil {
		f.Logger = klogr.New()
	}

	if f.get == nil {
		f.get = func(ctx context.Context, src, dst, pwd string) error {
			client := &getter.Client{
				Ctx:  ctx,
				Src:  src,
				Dst:  dst,
				Pwd:  pwd,
				Mode: getter.ClientModeFile,
			}
			return client.Get()
		}
	}

	return f
}

// Fetch downloads src into a fresh temp dir and returns the local file path.
// cleanup removes the temp dir; it is non-nil whenever err is nil.
func (f *Fetcher) Fetch(ctx context.Context, src string) (string, func(), error) {
	dir, err := ioutil.TempDir("", "mirrorsync-artifact")
	if err != nil {
		return "", nil, err
	}

	name := basenameOf(src)
	dst := filepath.Join(dir, name)

	f.Logger.V(1).Info("fetch", "src", src, "dst", dst)

	if err := f.get(ctx, src, dst, dir); err != nil {
		os.RemoveAll(dir)
		return "", nil, fmt.Errorf("fetching %s: %w", src, err)
	}

	return dst, func() { os.RemoveAll(dir) }, nil
}

func basenameOf(src string) string {
	if u, err := url.Parse(src); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(src)
}
