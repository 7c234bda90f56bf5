// The collection manifest: a declarative list of artifacts to
// acquire, plus global options tuning the collection.
package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrManifestVersionUnsupported = errors.New("unsupported manifest version")
	ErrRegexCompile               = errors.New("regex compile error")
)

type RegexConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	Recursive      bool   `yaml:"recursive" json:"recursive"`
	IncludePattern string `yaml:"include_pattern" json:"include_pattern"`
	ExcludePattern string `yaml:"exclude_pattern,omitempty" json:"exclude_pattern,omitempty"`

	// Depth is measured from the source root: 0 means only direct
	// children, nil means unlimited.
	MaxDepth *int `yaml:"max_depth,omitempty" json:"max_depth,omitempty"`
}

// Compile validates the patterns. The include pattern defaults to
// match-everything when empty.
func (self *RegexConfig) Compile() (include, exclude *regexp.Regexp, err error) {
	include_pattern := self.IncludePattern
	if include_pattern == "" {
		include_pattern = ".*"
	}

	include, err = regexp.Compile(include_pattern)
	if err != nil {
		return nil, nil, errors.Wrap(ErrRegexCompile, err.Error())
	}

	if self.ExcludePattern != "" {
		exclude, err = regexp.Compile(self.ExcludePattern)
		if err != nil {
			return nil, nil, errors.Wrap(ErrRegexCompile, err.Error())
		}
	}

	return include, exclude, nil
}

type ArtifactDefinition struct {
	Name            string            `yaml:"name" json:"name"`
	Kind            ArtifactKind      `yaml:"artifact_type" json:"artifact_type"`
	SourcePath      string            `yaml:"source_path" json:"source_path"`
	DestinationName string            `yaml:"destination_name" json:"destination_name"`
	Description     string            `yaml:"description,omitempty" json:"description,omitempty"`
	Required        bool              `yaml:"required" json:"required"`
	Metadata        map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Regex           *RegexConfig      `yaml:"regex,omitempty" json:"regex,omitempty"`
}

type Manifest struct {
	Version       string               `yaml:"version" json:"version"`
	Description   string               `yaml:"description" json:"description"`
	GlobalOptions map[string]string    `yaml:"global_options,omitempty" json:"global_options,omitempty"`
	Artifacts     []ArtifactDefinition `yaml:"artifacts" json:"artifacts"`
}

// Validate checks structural invariants before planning starts.
func (self *Manifest) Validate() error {
	if !strings.HasPrefix(self.Version, "1.") && self.Version != "1" {
		return errors.Wrap(ErrManifestVersionUnsupported, self.Version)
	}

	seen := make(map[string]bool)
	for i := range self.Artifacts {
		artifact := &self.Artifacts[i]

		if artifact.Name == "" {
			return fmt.Errorf("artifact %d has no name", i)
		}

		if seen[artifact.Name] {
			return fmt.Errorf("duplicate artifact name %q", artifact.Name)
		}
		seen[artifact.Name] = true

		if artifact.SourcePath == "" &&
			artifact.Kind.Kind != "SystemInfo" &&
			artifact.Kind.Kind != "Memory" {
			return fmt.Errorf(
				"artifact %q has no source_path", artifact.Name)
		}

		if artifact.Regex != nil && artifact.Regex.Enabled {
			_, _, err := artifact.Regex.Compile()
			if err != nil {
				return errors.Wrapf(err, "artifact %q", artifact.Name)
			}
		}
	}

	return nil
}

// Options parses the global_options map into typed settings.
func (self *Manifest) Options() *GlobalOptions {
	return parseGlobalOptions(self.GlobalOptions)
}
