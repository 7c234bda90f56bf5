package config

import (
	"encoding/json"
	"os"
	"strings"

	yaml "github.com/Velocidex/yaml/v2"
	"github.com/pkg/errors"
)

// LoadManifest parses a manifest from YAML or JSON. The two formats
// carry identical semantics; JSON documents are detected by their
// leading brace.
func LoadManifest(data []byte) (*Manifest, error) {
	manifest := &Manifest{}

	trimmed := strings.TrimLeft(string(data), " \t\r\n")
	if strings.HasPrefix(trimmed, "{") {
		err := json.Unmarshal(data, manifest)
		if err != nil {
			return nil, errors.Wrap(err, "parsing JSON manifest")
		}
	} else {
		err := yaml.UnmarshalStrict(data, manifest)
		if err != nil {
			return nil, errors.Wrap(err, "parsing YAML manifest")
		}
	}

	err := manifest.Validate()
	if err != nil {
		return nil, err
	}

	return manifest, nil
}

// LoadManifestFile reads and parses a manifest from disk.
func LoadManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading manifest")
	}
	return LoadManifest(data)
}

// LoadManifestOrDefault prefers an explicit manifest file, then an
// embedded default supplied by the driver, in that order.
func LoadManifestOrDefault(path string, embedded []byte) (*Manifest, error) {
	if path != "" {
		return LoadManifestFile(path)
	}

	if len(embedded) > 0 {
		return LoadManifest(embedded)
	}

	return nil, errors.New("no manifest provided")
}
