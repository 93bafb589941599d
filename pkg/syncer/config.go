package syncer

import (
	"fmt"
	"strings"

	"github.com/twpayne/go-vfs"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/homelab-ops/mirrorsync/pkg/imagesync"
	"github.com/homelab-ops/mirrorsync/pkg/transform"
	"github.com/homelab-ops/mirrorsync/pkg/upstream"
)

const DefaultConfigFile = "mirrorsync.yaml"

// Config is the static descriptor of everything mirrorsync maintains: the
// private registry to mirror into and the list of tracked projects.
type Config struct {
	// Registry is the private registry host images are mirrored into.
	Registry string `yaml:"registry"`
	// Namespace is the repository namespace under Registry.
	Namespace string `yaml:"namespace"`
	// BaseBranch is the branch version-bump PRs target.
	BaseBranch string `yaml:"baseBranch,omitempty"`
	// VersionsDir overrides where version token files live.
	VersionsDir string `yaml:"versionsDir,omitempty"`

	ObjectStorage *ObjectStorageConfig `yaml:"objectStorage,omitempty"`

	Projects []ProjectSpec `yaml:"projects"`
}

type ObjectStorageConfig struct {
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region,omitempty"`
}

// ProjectSpec describes one tracked project. It is immutable for the
// duration of a run.
type ProjectSpec struct {
	// Name identifies the project; it also keys the version token file and
	// the branch namespace, so it must be unique across the config.
	Name string `yaml:"name"`

	Source upstream.Spec `yaml:"source"`

	Transforms []transform.Spec `yaml:"transforms,omitempty"`

	Strategy StrategySpec `yaml:"strategy"`

	Artifact *imagesync.ArtifactSpec `yaml:"artifact,omitempty"`
}

// StrategySpec is the YAML form of a sync strategy; Compile turns it into
// the closed imagesync.Strategy variant.
type StrategySpec struct {
	Type string `yaml:"type"`

	// Image is the source image for direct-retag.
	Image string `yaml:"image,omitempty"`
	// Images is the ordered image list for multi-image.
	Images []string `yaml:"images,omitempty"`
	// Dockerfile is the build template for custom-build.
	Dockerfile string `yaml:"dockerfile,omitempty"`
	// TargetImage overrides the derived image name for custom-build.
	TargetImage string `yaml:"targetImage,omitempty"`
}

const (
	StrategyDirectRetag = "direct-retag"
	StrategyCustomBuild = "custom-build"
	StrategyMultiImage  = "multi-image"
)

func (s StrategySpec) Compile() (imagesync.Strategy, error) {
	switch s.Type {
	case StrategyDirectRetag:
		if s.Image == "" {
			return nil, fmt.Errorf("%s requires image", StrategyDirectRetag)
		}
		return imagesync.DirectRetag{Image: s.Image}, nil
	case StrategyCustomBuild:
		if s.Dockerfile == "" {
			return nil, fmt.Errorf("%s requires dockerfile", StrategyCustomBuild)
		}
		return imagesync.CustomBuild{Dockerfile: s.Dockerfile, TargetImage: s.TargetImage}, nil
	case StrategyMultiImage:
		if len(s.Images) == 0 {
			return nil, fmt.Errorf("%s requires images", StrategyMultiImage)
		}
		return imagesync.MultiImage{Images: s.Images}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", s.Type)
	}
}

// configSchema rejects malformed configs at load time, before any network
// interaction happens.
var configSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"registry":  map[string]interface{}{"type": "string", "minLength": 1},
		"namespace": map[string]interface{}{"type": "string", "minLength": 1},
		"projects": map[string]interface{}{
			"type":     "array",
			"minItems": 1,
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name":   map[string]interface{}{"type": "string", "minLength": 1},
					"source": map[string]interface{}{"type": "object"},
					"strategy": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"type": map[string]interface{}{
								"enum": []interface{}{StrategyDirectRetag, StrategyCustomBuild, StrategyMultiImage},
							},
						},
						"required": []interface{}{"type"},
					},
				},
				"required": []interface{}{"name", "source", "strategy"},
			},
		},
	},
	"required": []interface{}{"registry", "namespace", "projects"},
}

// LoadConfig reads and validates a config file.
func LoadConfig(fs vfs.FS, path string) (*Config, error) {
	bs, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	return ParseConfig(bs)
}

// ParseConfig validates bs against the config schema and decodes it.
func ParseConfig(bs []byte) (*Config, error) {
	raw := interface{}(nil)
	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(configSchema),
		gojsonschema.NewGoLoader(stringifyKeys(raw)),
	)
	if err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	conf := &Config{}
	if err := yaml.Unmarshal(bs, conf); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	seen := map[string]bool{}
	for _, p := range conf.Projects {
		if seen[p.Name] {
			return nil, fmt.Errorf("invalid config: duplicate project %q", p.Name)
		}
		seen[p.Name] = true

		if _, err := p.Strategy.Compile(); err != nil {
			return nil, fmt.Errorf("invalid config: project %s: %w", p.Name, err)
		}
		if _, err := transform.Compile(p.Transforms); err != nil {
			return nil, fmt.Errorf("invalid config: project %s: %w", p.Name, err)
		}
	}

	return conf, nil
}

func stringifyKeys(v interface{}) interface{} {
	switch typed := v.(type) {
	case map[interface{}]interface{}:
		out := map[string]interface{}{}
		for k, val := range typed {
			out[fmt.Sprintf("%v", k)] = stringifyKeys(val)
		}
		return out
	case map[string]interface{}:
		out := map[string]interface{}{}
		for k, val := range typed {
			out[k] = stringifyKeys(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, val := range typed {
			out[i] = stringifyKeys(val)
		}
		return out
	default:
		return v
	}
}
