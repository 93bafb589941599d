// Package semver wraps Masterminds/semver with a workaround for upstream
// version strings that are not quite semver, like "1.2.3.4" or date-based
// tags, so that tag ordering still works for sources that need it.
package semver

import (
	"regexp"
	"strings"

	sv "github.com/Masterminds/semver"
)

type Version = sv.Version

func Parse(s string) (*Version, error) {
	fixedS := nonSemverWorkaround(strings.TrimSpace(s))

	return sv.NewVersion(fixedS)
}

var versionRegex = regexp.MustCompile(`v?([0-9]+)(\.[0-9]+)?(\.[0-9]+)?` + `(.*)`)

// nonSemverWorkaround turns a four-or-more component version like "1.2.3.123"
// into "1.2.3-123" so that it parses as semver with a prerelease part.
func nonSemverWorkaround(s string) string {
	matches := versionRegex.FindStringSubmatch(s)

	var preLike string

	if len(matches) > 3 {
		preLike = matches[4]
	}

	if preLike != "" && preLike[0] == '.' {
		s = ""
		ss := matches[1:4]
		for i := range ss {
			if ss[i] != "" {
				s += ss[i]
			}
		}

		s += "-" + preLike[1:]
	}

	return s
}

// Latest returns the highest version string out of vs by semver ordering.
// Strings that cannot be parsed even with the workaround are skipped.
// The returned string is the original, untouched input element.
func Latest(vs []string) (string, bool) {
	var latest *Version
	var latestRaw string

	for _, s := range vs {
		v, err := Parse(s)
		if err != nil {
			continue
		}
		if latest == nil || latest.LessThan(v) {
			latest = v
			latestRaw = s
		}
	}

	return latestRaw, latest != nil
}
