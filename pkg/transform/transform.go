// Package transform implements the version transform pipeline that turns a
// raw upstream release name into the token mirrored into the private registry.
//
// Every transform is a pure function from one version string to another, or
// to a "filtered" outcome that abandons the whole resolution for this run.
// Transforms are applied strictly in the order they are configured, and a
// filtered result short-circuits the rest of the pipeline.
package transform

import (
	"fmt"
	"strings"
)

// Names of the supported transforms as they appear in project configuration.
const (
	NameIdentity         = "identity"
	NameStripV           = "strip-v"
	NamePrefixBefore     = "prefix-before"
	NameFilterPrerelease = "filter-prerelease"
)

// DefaultPrereleaseMarkers are the substrings treated as prerelease markers
// when filter-prerelease is configured without an explicit marker list.
var DefaultPrereleaseMarkers = []string{"rc", "beta", "alpha"}

// Spec describes a single configured transform.
type Spec struct {
	Name string `yaml:"name"`

	// Delimiter is used by prefix-before.
	Delimiter string `yaml:"delimiter,omitempty"`

	// Markers is used by filter-prerelease. Empty means DefaultPrereleaseMarkers.
	Markers []string `yaml:"markers,omitempty"`
}

// Transform rewrites a version string. filtered reports that the version must
// be skipped for this run; in that case version is unspecified.
type Transform func(version string) (out string, filtered bool)

// Identity passes the version through untouched.
func Identity(version string) (string, bool) {
	return version, false
}

// StripV removes a single leading literal "v" if present, case-sensitively.
func StripV(version string) (string, bool) {
	return strings.TrimPrefix(version, "v"), false
}

// PrefixBefore returns a transform keeping everything before the first
// occurrence of delim. A version without the delimiter passes through.
func PrefixBefore(delim string) Transform {
	return func(version string) (string, bool) {
		if delim == "" {
			return version, false
		}
		if i := strings.Index(version, delim); i >= 0 {
			return version[:i], false
		}
		return version, false
	}
}

// FilterPrerelease returns a transform that filters out any version
// containing one of the marker substrings anywhere in the string.
func FilterPrerelease(markers []string) Transform {
	if len(markers) == 0 {
		markers = DefaultPrereleaseMarkers
	}
	return func(version string) (string, bool) {
		for _, m := range markers {
			if m != "" && strings.Contains(version, m) {
				return "", true
			}
		}
		return version, false
	}
}

// Compile resolves a list of transform specs into runnable transforms.
// Unknown names are rejected so that configuration typos fail at load time.
func Compile(specs []Spec) (Pipeline, error) {
	ts := make([]Transform, 0, len(specs))
	for i, s := range specs {
		switch s.Name {
		case NameIdentity, "":
			ts = append(ts, Identity)
		case NameStripV:
			ts = append(ts, StripV)
		case NamePrefixBefore:
			if s.Delimiter == "" {
				return nil, fmt.Errorf("transform %d: %s requires a delimiter", i, NamePrefixBefore)
			}
			ts = append(ts, PrefixBefore(s.Delimiter))
		case NameFilterPrerelease:
			ts = append(ts, FilterPrerelease(s.Markers))
		default:
			return nil, fmt.Errorf("transform %d: unknown transform %q", i, s.Name)
		}
	}
	return Pipeline(ts), nil
}

// Pipeline is an ordered list of transforms.
type Pipeline []Transform

// Apply runs the pipeline over the raw version. filtered means the version
// is dropped by policy and the caller must treat the run as a skip, not an
// error. A filtered outcome stops the remaining transforms.
func (p Pipeline) Apply(raw string) (token string, filtered bool) {
	v := raw
	for _, t := range p {
		out, f := t(v)
		if f {
			return "", true
		}
		v = out
	}
	return v, false
}
