// Package cmdsite is a small indirection over running external commands.
//
// Production code runs commands via DefaultRunCommand, while tests inject the
// fake returned by NewTester so that every external CLI interaction is
// asserted against an expectation map.
package cmdsite

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"strings"

	"k8s.io/klog"
)

type RunCommand func(name string, args []string, stdin io.Reader, stdout, stderr io.Writer, env map[string]string) error

type CommandSite struct {
	RunCmd RunCommand

	Env map[string]string
}

type Option func(*CommandSite)

func RunCmd(r RunCommand) Option {
	return func(s *CommandSite) {
		if r != nil {
			s.RunCmd = r
		}
	}
}

func New(opts ...Option) *CommandSite {
	s := &CommandSite{
		RunCmd: DefaultRunCommand,
		Env:    map[string]string{},
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

func DefaultRunCommand(name string, args []string, stdin io.Reader, stdout, stderr io.Writer, env map[string]string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	return cmd.Run()
}

func (s *CommandSite) RunCommand(cmd string, args []string, stdout, stderr io.Writer) error {
	return s.RunCmd(cmd, args, nil, stdout, stderr, s.Env)
}

func (s *CommandSite) RunCommandStdin(cmd string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	return s.RunCmd(cmd, args, stdin, stdout, stderr, s.Env)
}

func (s *CommandSite) CaptureStrings(binary string, args []string) (string, string, error) {
	stdout, stderr, err := s.CaptureBytes(binary, args)

	var so, se string

	if stdout != nil {
		so = string(stdout)
	}

	if stderr != nil {
		se = string(stderr)
	}

	return so, se, err
}

func (s *CommandSite) CaptureBytes(binary string, args []string) ([]byte, []byte, error) {
	klog.V(1).Infof("running %s %s", binary, strings.Join(args, " "))

	var stdout, stderr bytes.Buffer
	err := s.RunCommand(binary, args, &stdout, &stderr)
	if err != nil {
		klog.V(1).Info(stderr.String())
	}
	return stdout.Bytes(), stderr.Bytes(), err
}
