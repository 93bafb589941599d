// Package gitops drives the local git checkout the publisher commits version
// bumps into. It shells out to git through cmdsite so tests can fake every
// invocation.
package gitops

import (
	"os"
	"strings"

	"github.com/homelab-ops/mirrorsync/pkg/cmdsite"
)

type Client struct {
	cmdr    cmdsite.RunCommand
	sh      *cmdsite.CommandSite
	wd      string
	gitPath string
}

type Option func(*Client)

func WD(wd string) Option {
	return func(c *Client) {
		c.wd = wd
	}
}

func Commander(cmdr cmdsite.RunCommand) Option {
	return func(c *Client) {
		c.cmdr = cmdr
	}
}

func New(opt ...Option) *Client {
	c := &Client{}

	for _, o := range opt {
		o(c)
	}

	c.sh = cmdsite.New(cmdsite.RunCmd(c.cmdr))
	c.gitPath = "git"

	return c
}

func (c *Client) GetCurrentBranch() (string, error) {
	stdout, _, err := c.capture("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout), nil
}

// Checkout switches to an existing branch.
func (c *Client) Checkout(branch string) error {
	return c.git("checkout", branch)
}

// CheckoutAt switches to branch, creating it at start, or resetting it there
// if it already exists. The branch never inherits commits from whatever the
// worktree was on before.
func (c *Client) CheckoutAt(branch, start string) error {
	return c.git("checkout", "-B", branch, start)
}

func (c *Client) Add(files ...string) error {
	return c.git(append([]string{"add"}, files...)...)
}

func (c *Client) Commit(msg string) error {
	return c.git("commit", "-m", msg)
}

func (c *Client) Push(branch string) error {
	return c.git("push", "origin", branch)
}

// DiffExists reports whether the index holds staged changes.
func (c *Client) DiffExists() bool {
	_, _, err := c.capture("diff", "--cached", "--exit-code")
	return err != nil
}

func (c *Client) GetPushURL(name string) (string, error) {
	stdout, _, err := c.capture("remote", "get-url", "--push", name)
	if err != nil {
		return "", err
	}
	return stdout, nil
}

// Repo returns the "owner/repo" of the origin push URL.
func (c *Client) Repo() (string, error) {
	push, err := c.GetPushURL("origin")
	if err != nil {
		return "", err
	}
	p := strings.TrimSpace(push)
	p = strings.TrimSuffix(p, ".git")
	p = strings.TrimPrefix(p, "git@github.com:")
	p = strings.TrimPrefix(p, "https://github.com/")
	return p, nil
}

// args prepends -C when a working directory is configured, so every git
// invocation runs against that checkout instead of the process cwd.
func (c *Client) args(args []string) []string {
	if c.wd == "" {
		return args
	}
	return append([]string{"-C", c.wd}, args...)
}

func (c *Client) git(args ...string) error {
	return c.sh.RunCommand(c.gitPath, c.args(args), os.Stdout, os.Stderr)
}

func (c *Client) capture(args ...string) (string, string, error) {
	return c.sh.CaptureStrings(c.gitPath, c.args(args))
}
