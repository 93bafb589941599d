package gitops

import (
	"errors"
	"testing"

	"github.com/homelab-ops/mirrorsync/pkg/cmdsite"
)

func TestRepo(t *testing.T) {
	cases := []struct {
		pushURL string
		want    string
	}{
		{pushURL: "git@github.com:acme/homelab.git\n", want: "acme/homelab"},
		{pushURL: "https://github.com/acme/homelab.git\n", want: "acme/homelab"},
		{pushURL: "https://github.com/acme/homelab\n", want: "acme/homelab"},
	}

	for _, tc := range cases {
		cmdr := cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
			{Name: "git", Args: "remote,get-url,--push,origin"}: {Stdout: tc.pushURL},
		})

		c := New(Commander(cmdr))

		repo, err := c.Repo()
		if err != nil {
			t.Fatal(err)
		}
		if repo != tc.want {
			t.Errorf("push url %q: expected %q, got %q", tc.pushURL, tc.want, repo)
		}
	}
}

func TestCheckoutAt(t *testing.T) {
	cmdr := cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "git", Args: "checkout,-B,mirrorsync/tool-1.1.0,master"}: {},
		{Name: "git", Args: "checkout,master"}:                          {},
	})

	c := New(Commander(cmdr))

	if err := c.CheckoutAt("mirrorsync/tool-1.1.0", "master"); err != nil {
		t.Errorf("branching checkout: %v", err)
	}
	if err := c.Checkout("master"); err != nil {
		t.Errorf("plain checkout: %v", err)
	}
}

func TestWD(t *testing.T) {
	cmdr := cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "git", Args: "-C,/repo,checkout,master"}:             {},
		{Name: "git", Args: "-C,/repo,rev-parse,--abbrev-ref,HEAD"}: {Stdout: "master\n"},
	})

	c := New(Commander(cmdr), WD("/repo"))

	if err := c.Checkout("master"); err != nil {
		t.Errorf("checkout in workdir: %v", err)
	}
	branch, err := c.GetCurrentBranch()
	if err != nil {
		t.Fatal(err)
	}
	if branch != "master" {
		t.Errorf("expected master, got %q", branch)
	}
}

func TestDiffExists(t *testing.T) {
	c := New(Commander(cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "git", Args: "diff,--cached,--exit-code"}: {Err: errors.New("exit status 1")},
	})))
	if !c.DiffExists() {
		t.Errorf("staged change expected to report a diff")
	}

	c = New(Commander(cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "git", Args: "diff,--cached,--exit-code"}: {},
	})))
	if c.DiffExists() {
		t.Errorf("clean index expected to report no diff")
	}
}

func TestGetCurrentBranch(t *testing.T) {
	c := New(Commander(cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "git", Args: "rev-parse,--abbrev-ref,HEAD"}: {Stdout: "master\n"},
	})))

	branch, err := c.GetCurrentBranch()
	if err != nil {
		t.Fatal(err)
	}
	if branch != "master" {
		t.Errorf("expected master, got %q", branch)
	}
}
