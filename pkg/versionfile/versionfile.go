// Package versionfile persists the last-synced version token of each project
// as one plain-text file per project. This is the only durable state the sync
// pipeline depends on; the files are committed to git by the publisher so that
// the merged branch is the source of truth.
package versionfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/twpayne/go-vfs"
)

const DefaultDir = "release-versions"

// Store reads and writes per-project version token files under Dir.
type Store struct {
	Dir string

	fs vfs.FS
}

type Option func(*Store)

func FS(fs vfs.FS) Option {
	return func(s *Store) {
		s.fs = fs
	}
}

func Dir(dir string) Option {
	return func(s *Store) {
		if dir != "" {
			s.Dir = dir
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		Dir: DefaultDir,
		fs:  vfs.HostOSFS,
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

// Path returns the version file path for a project. Slashes in the project
// identifier (e.g. "minio/minio") are flattened so every project maps to a
// single file in Dir.
func (s *Store) Path(project string) string {
	name := strings.ReplaceAll(project, "/", "_") + ".txt"
	return filepath.Join(s.Dir, name)
}

// Get returns the stored token for project. ok is false when the project has
// never been synced.
func (s *Store) Get(project string) (string, bool, error) {
	bs, err := s.fs.ReadFile(s.Path(project))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading version file for %s: %w", project, err)
	}
	return strings.TrimSpace(string(bs)), true, nil
}

// Set writes token as the stored version for project, creating Dir on demand.
// The written bytes are exactly token plus a trailing newline, which is also
// what the publisher commits, so the stored value and the change request diff
// can never drift apart.
func (s *Store) Set(project, token string) error {
	if err := vfs.MkdirAll(s.fs, s.Dir, 0755); err != nil {
		return fmt.Errorf("creating versions dir: %w", err)
	}
	if err := s.fs.WriteFile(s.Path(project), []byte(token+"\n"), 0644); err != nil {
		return fmt.Errorf("writing version file for %s: %w", project, err)
	}
	return nil
}
