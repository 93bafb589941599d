// Package buildbackend builds custom images with the docker CLI. Builds need
// a daemon, so unlike the daemonless mirror path this backend shells out to
// docker through cmdsite, which also makes it fully fakeable in tests.
package buildbackend

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/klog/klogr"

	"github.com/homelab-ops/mirrorsync/pkg/cmdsite"
)

// logTailLines bounds how much of the build output is attached to an error.
const logTailLines = 20

type Docker struct {
	Logger logr.Logger

	sh *cmdsite.CommandSite
}

type Option func(*Docker)

func Logger(l logr.Logger) Option {
	return func(d *Docker) {
		d.Logger = l
	}
}

func Commander(r cmdsite.RunCommand) Option {
	return func(d *Docker) {
		d.sh = cmdsite.New(cmdsite.RunCmd(r))
	}
}

func New(opts ...Option) *Docker {
	d := &Docker{}

	for _, o := range opts {
		o(d)
	}

	if d.Logger == nil {
		d.Logger = klogr.New()
	}

	if d.sh == nil {
		d.sh = cmdsite.New()
	}

	return d
}

// BuildAndPush builds dockerfile (fed to docker over stdin, so no build
// context directory is required) as tag and pushes it. Build failures carry
// the tail of the build log; they are not retried because build failures are
// rarely transient.
func (d *Docker) BuildAndPush(ctx context.Context, dockerfile, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.Logger.V(1).Info("docker.build", "tag", tag)

	var stdout, stderr bytes.Buffer
	if err := d.sh.RunCommandStdin("docker", []string{"build", "-t", tag, "-"}, strings.NewReader(dockerfile), &stdout, &stderr); err != nil {
		return fmt.Errorf("docker build %s: %v\n%s", tag, err, tailLines(stderr.String(), logTailLines))
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	d.Logger.V(1).Info("docker.push", "tag", tag)

	stdout.Reset()
	stderr.Reset()
	if err := d.sh.RunCommand("docker", []string{"push", tag}, &stdout, &stderr); err != nil {
		return fmt.Errorf("docker push %s: %v\n%s", tag, err, tailLines(stderr.String(), logTailLines))
	}

	d.Logger.Info("docker.pushed", "tag", tag)

	return nil
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
