package planner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"www.velocidex.com/golang/triage/config"
	"www.velocidex.com/golang/triage/pathsafe"
	"www.velocidex.com/golang/triage/vfs"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte("data"), 0600))
}

func testAccessor(t *testing.T) vfs.Accessor {
	t.Helper()
	accessor, err := vfs.NewAccessor()
	require.NoError(t, err)
	return accessor
}

func intPtr(v int) *int {
	return &v
}

// The log pickup scenario: include .log, exclude .gz, bounded depth.
func TestRegexExpansion(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.log"))
	writeFile(t, filepath.Join(root, "a.log.gz"))
	writeFile(t, filepath.Join(root, "sub", "b.log"))
	writeFile(t, filepath.Join(root, "sub", "deep", "nested", "c.log"))

	manifest := &config.Manifest{
		Version:     "1.0",
		Description: "regex pickup",
		Artifacts: []config.ArtifactDefinition{{
			Name:            "logs",
			Kind:            config.ArtifactKind{Kind: "Logs"},
			SourcePath:      root,
			DestinationName: "logs",
			Required:        true,
			Regex: &config.RegexConfig{
				Enabled:        true,
				Recursive:      true,
				IncludePattern: `.*\.log$`,
				ExcludePattern: `.*\.gz$`,
				MaxDepth:       intPtr(2),
			},
		}},
	}

	plan, err := Plan(manifest, testAccessor(t), Options{
		Family: config.FAMILY_LINUX,
	})
	require.NoError(t, err)

	var sources []string
	for _, task := range plan.Tasks {
		sources = append(sources, task.SourcePath)
		assert.Equal(t, ModeFile, task.Mode)
	}

	// a.log and sub/b.log match; a.log.gz excluded; the nested
	// c.log sits below max_depth.
	assert.Equal(t, []string{
		filepath.Join(root, "a.log"),
		filepath.Join(root, "sub", "b.log"),
	}, sources)
}

func TestRegexDepthBoundaries(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "top.log"))
	writeFile(t, filepath.Join(root, "one", "mid.log"))
	writeFile(t, filepath.Join(root, "one", "two", "deep.log"))

	expand := func(depth *int) int {
		manifest := &config.Manifest{
			Version:     "1.0",
			Description: "depth",
			Artifacts: []config.ArtifactDefinition{{
				Name:            "logs",
				Kind:            config.ArtifactKind{Kind: "Logs"},
				SourcePath:      root,
				DestinationName: "logs",
				Regex: &config.RegexConfig{
					Enabled:        true,
					Recursive:      true,
					IncludePattern: `.*\.log$`,
					MaxDepth:       depth,
				},
			}},
		}

		plan, err := Plan(manifest, testAccessor(t), Options{
			Family: config.FAMILY_LINUX,
		})
		require.NoError(t, err)
		return len(plan.Tasks)
	}

	// depth 0: only files directly under the source root; depth 1:
	// one level down; unset: unlimited.
	assert.Equal(t, 1, expand(intPtr(0)))
	assert.Equal(t, 2, expand(intPtr(1)))
	assert.Equal(t, 3, expand(nil))
}

func TestNonRecursiveRegex(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.log"))
	writeFile(t, filepath.Join(root, "sub", "b.log"))

	manifest := &config.Manifest{
		Version:     "1.0",
		Description: "flat",
		Artifacts: []config.ArtifactDefinition{{
			Name:            "logs",
			Kind:            config.ArtifactKind{Kind: "Logs"},
			SourcePath:      root,
			DestinationName: "logs",
			Regex: &config.RegexConfig{
				Enabled:        true,
				IncludePattern: `.*\.log$`,
			},
		}},
	}

	plan, err := Plan(manifest, testAccessor(t), Options{
		Family: config.FAMILY_LINUX,
	})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, filepath.Join(root, "a.log"),
		plan.Tasks[0].SourcePath)
}

// A required artifact with an unresolvable variable is fatal - no
// acquisition begins.
func TestUnresolvableVariableIsFatal(t *testing.T) {
	manifest := &config.Manifest{
		Version:     "1.0",
		Description: "bad var",
		Artifacts: []config.ArtifactDefinition{{
			Name:            "broken",
			Kind:            config.ArtifactKind{Kind: "Logs"},
			SourcePath:      "$DOES_NOT_EXIST_EVER/logs",
			DestinationName: "logs",
			Required:        true,
		}},
	}

	_, err := Plan(manifest, testAccessor(t), Options{
		Family: config.FAMILY_LINUX,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pathsafe.ErrUnresolvableVariable))
}

func TestOptionalArtifactDropped(t *testing.T) {
	temp := t.TempDir()
	target := filepath.Join(temp, "hosts")
	writeFile(t, target)

	manifest := &config.Manifest{
		Version:     "1.0",
		Description: "optional drop",
		Artifacts: []config.ArtifactDefinition{
			{
				Name:            "broken",
				Kind:            config.ArtifactKind{Kind: "Logs"},
				SourcePath:      "$DOES_NOT_EXIST_EVER/logs",
				DestinationName: "logs",
				Required:        false,
			},
			{
				Name:            "hosts",
				Kind:            config.ArtifactKind{Kind: "FileSystem"},
				SourcePath:      target,
				DestinationName: "hosts",
				Required:        false,
			},
		},
	}

	plan, err := Plan(manifest, testAccessor(t), Options{
		Family: config.FAMILY_LINUX,
	})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "hosts", plan.Tasks[0].ArtifactName)
	assert.NotEmpty(t, plan.Warnings)
}

func TestFamilyFiltering(t *testing.T) {
	temp := t.TempDir()
	target := filepath.Join(temp, "f")
	writeFile(t, target)

	manifest := &config.Manifest{
		Version:     "1.0",
		Description: "family filter",
		Artifacts: []config.ArtifactDefinition{
			{
				Name:            "windows-only",
				Kind:            config.ArtifactKind{Family: config.FAMILY_WINDOWS, Kind: "Registry"},
				SourcePath:      target,
				DestinationName: "reg",
				Required:        true,
			},
			{
				Name:            "neutral",
				Kind:            config.ArtifactKind{Kind: "FileSystem"},
				SourcePath:      target,
				DestinationName: "f",
			},
		},
	}

	// The windows scoped artifact is silently dropped on linux even
	// though it is required.
	plan, err := Plan(manifest, testAccessor(t), Options{
		Family: config.FAMILY_LINUX,
	})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "neutral", plan.Tasks[0].ArtifactName)
}

func TestDuplicateDestinations(t *testing.T) {
	temp := t.TempDir()
	target := filepath.Join(temp, "f.txt")
	writeFile(t, target)

	manifest := &config.Manifest{
		Version:     "1.0",
		Description: "dup dest",
		Artifacts: []config.ArtifactDefinition{
			{
				Name:            "first",
				Kind:            config.ArtifactKind{Kind: "Custom"},
				SourcePath:      target,
				DestinationName: "f",
			},
			{
				Name:            "second",
				Kind:            config.ArtifactKind{Kind: "Custom"},
				SourcePath:      target,
				DestinationName: "f",
			},
		},
	}

	plan, err := Plan(manifest, testAccessor(t), Options{
		Family: config.FAMILY_LINUX,
	})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 2)

	assert.NotEqual(t, plan.Tasks[0].Destination,
		plan.Tasks[1].Destination)
	// The second acquisition keeps its extension.
	assert.Contains(t, plan.Tasks[1].Destination, "_1.txt")
}

func TestSyntheticTasksOrdering(t *testing.T) {
	manifest := &config.Manifest{
		Version:     "1.0",
		Description: "synthetic",
	}

	plan, err := Plan(manifest, testAccessor(t), Options{
		Family:          config.FAMILY_LINUX,
		CollectVolatile: true,
		MemoryPids:      []int32{1234},
	})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 2)

	assert.Equal(t, ModeVolatileSnapshot, plan.Tasks[0].Mode)
	assert.Equal(t, ModeMemoryProcess, plan.Tasks[1].Mode)
	assert.Equal(t, int32(1234), plan.Tasks[1].Pid)
}

func TestTypeFilter(t *testing.T) {
	temp := t.TempDir()
	target := filepath.Join(temp, "f")
	writeFile(t, target)

	manifest := &config.Manifest{
		Version:     "1.0",
		Description: "type filter",
		Artifacts: []config.ArtifactDefinition{
			{
				Name:            "logs",
				Kind:            config.ArtifactKind{Kind: "Logs"},
				SourcePath:      target,
				DestinationName: "l",
			},
			{
				Name:            "user",
				Kind:            config.ArtifactKind{Kind: "UserData"},
				SourcePath:      target,
				DestinationName: "u",
			},
		},
	}

	plan, err := Plan(manifest, testAccessor(t), Options{
		Family:     config.FAMILY_LINUX,
		TypeFilter: "Logs",
	})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "logs", plan.Tasks[0].ArtifactName)
}

// A required regex artifact matching nothing emits no tasks but must
// be recorded so the summary can degrade.
func TestRequiredRegexZeroMatches(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "readme.txt"))

	manifest := &config.Manifest{
		Version:     "1.0",
		Description: "zero matches",
		Artifacts: []config.ArtifactDefinition{
			{
				Name:            "required-logs",
				Kind:            config.ArtifactKind{Kind: "Logs"},
				SourcePath:      root,
				DestinationName: "logs",
				Required:        true,
				Regex: &config.RegexConfig{
					Enabled:        true,
					Recursive:      true,
					IncludePattern: `.*\.log$`,
				},
			},
			{
				Name:            "optional-logs",
				Kind:            config.ArtifactKind{Kind: "Logs"},
				SourcePath:      root,
				DestinationName: "logs2",
				Regex: &config.RegexConfig{
					Enabled:        true,
					IncludePattern: `.*\.log$`,
				},
			},
		},
	}

	plan, err := Plan(manifest, testAccessor(t), Options{
		Family: config.FAMILY_LINUX,
	})
	require.NoError(t, err)
	assert.Empty(t, plan.Tasks)

	// Only the required artifact is tracked; an optional artifact
	// matching nothing is simply nothing to do.
	assert.Equal(t, []string{"required-logs"}, plan.EmptyRequired)
	require.Len(t, plan.Warnings, 1)
	assert.Contains(t, plan.Warnings[0], "required-logs")
}
