// Package imagesync executes the per-project sync strategy: mirroring
// upstream container images into the private registry, rebuilding them from a
// Dockerfile template, or fanning one version out over several images.
package imagesync

import (
	"fmt"
	"regexp"
	"strings"
)

// Strategy is a closed set of sync behaviors. The concrete types are
// DirectRetag, CustomBuild and MultiImage; Dispatcher.Execute matches them
// exhaustively so a new strategy cannot be added without handling it there.
type Strategy interface {
	strategy()
}

// DirectRetag pulls one upstream image at the resolved version and pushes it
// under the private registry namespace with the same tag.
type DirectRetag struct {
	// Image is the source image without tag, e.g. "minio/minio".
	Image string
}

// CustomBuild builds an image from a Dockerfile template in which every
// occurrence of the version placeholder is replaced with the resolved
// version, then pushes it.
type CustomBuild struct {
	// Dockerfile is the template content containing VersionPlaceholder.
	Dockerfile string
	// TargetImage is the destination image name without registry prefix.
	// Empty means: derive it from the FROM line of the Dockerfile.
	TargetImage string
}

// MultiImage applies the direct-retag behavior to an ordered list of images
// that share one resolved version. Execution is all-or-nothing: the first
// failing image fails the whole strategy even if earlier images were already
// pushed.
type MultiImage struct {
	Images []string
}

func (DirectRetag) strategy() {}
func (CustomBuild) strategy() {}
func (MultiImage) strategy()  {}

// VersionPlaceholder is the literal replaced by the resolved version inside a
// CustomBuild Dockerfile template.
const VersionPlaceholder = "{VERSION}"

var fromLineRE = regexp.MustCompile(`(?i)FROM\s+([^\s:]+)`)

// imageNameFromDockerfile derives the destination image name from the first
// FROM line of the template, e.g. "FROM lscr.io/linuxserver/jellyfin:{VERSION}"
// yields "jellyfin".
func imageNameFromDockerfile(dockerfile string) (string, error) {
	m := fromLineRE.FindStringSubmatch(dockerfile)
	if m == nil {
		return "", fmt.Errorf("could not extract an image name from the Dockerfile FROM line; set targetImage explicitly")
	}
	from := m[1]
	return from[strings.LastIndex(from, "/")+1:], nil
}

// lastPathSegment returns the repository-less image name, e.g.
// "lscr.io/linuxserver/jellyfin" yields "jellyfin".
func lastPathSegment(image string) string {
	return image[strings.LastIndex(image, "/")+1:]
}
