package collector

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"www.velocidex.com/golang/triage/config"
	"www.velocidex.com/golang/triage/json"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, data, 0600))
}

func openArchive(t *testing.T, path string) *zip.ReadCloser {
	t.Helper()
	reader, err := zip.OpenReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { reader.Close() })
	return reader
}

func memberNames(reader *zip.ReadCloser) []string {
	var result []string
	for _, member := range reader.File {
		result = append(result, member.Name)
	}
	return result
}

func readMember(t *testing.T, reader *zip.ReadCloser, name string) []byte {
	t.Helper()
	for _, member := range reader.File {
		if member.Name == name {
			fd, err := member.Open()
			require.NoError(t, err)
			defer fd.Close()
			data, err := io.ReadAll(fd)
			require.NoError(t, err)
			return data
		}
	}
	t.Fatalf("member %v missing", name)
	return nil
}

func regexManifest(source string) *config.Manifest {
	return &config.Manifest{
		Version:     "1.0",
		Description: "log pickup",
		GlobalOptions: map[string]string{
			"generate_bodyfile": "true",
		},
		Artifacts: []config.ArtifactDefinition{{
			Name:            "logs",
			Kind:            config.ArtifactKind{Kind: "Logs"},
			SourcePath:      source,
			DestinationName: "logs",
			Required:        true,
			Regex: &config.RegexConfig{
				Enabled:        true,
				Recursive:      true,
				IncludePattern: `.*\.log$`,
				ExcludePattern: `.*\.gz$`,
			},
		}},
	}
}

// Full engine pass: regex pickup, staging, zip packaging, bodyfile
// and summary.
func TestEndToEndCollection(t *testing.T) {
	source := t.TempDir()
	writeFile(t, filepath.Join(source, "a.log"), []byte("alpha\n"))
	writeFile(t, filepath.Join(source, "a.log.gz"), []byte("zipped"))
	writeFile(t, filepath.Join(source, "sub", "b.log"), []byte("beta\n"))

	output := filepath.Join(t.TempDir(), "collection.zip")

	summary, err := Collect(context.Background(), Config{
		Manifest:       regexManifest(source),
		StagingRoot:    t.TempDir(),
		OutputPath:     output,
		NoVolatileData: true,
	})
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, StatusOk, summary.OverallStatus)
	assert.Contains(t, summary.Acquired, "logs")
	assert.False(t, summary.Cancelled)

	reader := openArchive(t, output)
	names := memberNames(reader)

	expect_a := "fs" + filepath.ToSlash(source) + "/a.log"
	expect_b := "fs" + filepath.ToSlash(source) + "/sub/b.log"
	assert.Contains(t, names, expect_a)
	assert.Contains(t, names, expect_b)

	for _, name := range names {
		assert.NotContains(t, name, ".gz",
			"excluded file leaked into the archive")
		assert.False(t, strings.HasPrefix(name, "/"))
		assert.NotContains(t, name, "..")
	}

	assert.Equal(t, []byte("alpha\n"), readMember(t, reader, expect_a))

	// The summary is the last member before the central directory.
	assert.Equal(t, "collection_summary.json", names[len(names)-1])

	parsed := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(
		readMember(t, reader, "collection_summary.json"), &parsed))
	assert.Equal(t, "ok", parsed["overall_status"])
	assert.NotEmpty(t, parsed["collection_id"])

	// Bodyfile present and shaped correctly.
	body_name := Hostname() + ".body"
	assert.Contains(t, names, body_name)
	for _, line := range strings.Split(strings.TrimSpace(
		string(readMember(t, reader, body_name))), "\n") {
		assert.Len(t, strings.Split(line, "|"), 11)
	}
}

// A required artifact pointing at a missing file degrades the
// summary but the collection still completes.
func TestRequiredArtifactFailureDegrades(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "not", "there")

	manifest := &config.Manifest{
		Version:     "1.0",
		Description: "missing required",
		Artifacts: []config.ArtifactDefinition{{
			Name:            "ghost",
			Kind:            config.ArtifactKind{Kind: "FileSystem"},
			SourcePath:      missing,
			DestinationName: "ghost",
			Required:        true,
		}},
	}

	output := filepath.Join(t.TempDir(), "collection.zip")
	summary, err := Collect(context.Background(), Config{
		Manifest:       manifest,
		StagingRoot:    t.TempDir(),
		OutputPath:     output,
		NoVolatileData: true,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusDegraded, summary.OverallStatus)
	assert.Contains(t, summary.Failed, "ghost")
	assert.NotContains(t, summary.Acquired, "ghost")

	// The archive still exists and carries the summary.
	reader := openArchive(t, output)
	assert.Contains(t, memberNames(reader), "collection_summary.json")
}

// An unresolvable variable in a required artifact is fatal before
// acquisition.
func TestFatalPlanningError(t *testing.T) {
	manifest := &config.Manifest{
		Version:     "1.0",
		Description: "bad variable",
		Artifacts: []config.ArtifactDefinition{{
			Name:            "broken",
			Kind:            config.ArtifactKind{Kind: "Logs"},
			SourcePath:      "$NO_SUCH_TRIAGE_VARIABLE/logs",
			DestinationName: "logs",
			Required:        true,
		}},
	}

	summary, err := Collect(context.Background(), Config{
		Manifest:       manifest,
		NoVolatileData: true,
	})
	require.Error(t, err)
	assert.Nil(t, summary)
}

func TestSizeLimitBoundary(t *testing.T) {
	source := t.TempDir()

	// Exactly at the limit passes; one byte over fails.
	at_limit := make([]byte, 1024*1024)
	over := make([]byte, 1024*1024+1)
	writeFile(t, filepath.Join(source, "at_limit.bin"), at_limit)
	writeFile(t, filepath.Join(source, "over.bin"), over)

	manifest := &config.Manifest{
		Version:     "1.0",
		Description: "size limits",
		GlobalOptions: map[string]string{
			"max_file_size_mb": "1",
		},
		Artifacts: []config.ArtifactDefinition{
			{
				Name:            "at-limit",
				Kind:            config.ArtifactKind{Kind: "Custom"},
				SourcePath:      filepath.Join(source, "at_limit.bin"),
				DestinationName: "a",
			},
			{
				Name:            "over-limit",
				Kind:            config.ArtifactKind{Kind: "Custom"},
				SourcePath:      filepath.Join(source, "over.bin"),
				DestinationName: "b",
			},
		},
	}

	summary, err := Collect(context.Background(), Config{
		Manifest:       manifest,
		StagingRoot:    t.TempDir(),
		OutputPath:     filepath.Join(t.TempDir(), "c.zip"),
		NoVolatileData: true,
	})
	require.NoError(t, err)

	statuses := map[string]string{}
	for _, result := range summary.Results {
		statuses[result.ArtifactName] = string(result.Status)
	}
	assert.Equal(t, "ok", statuses["at-limit"])
	assert.Equal(t, "failed-size-limit", statuses["over-limit"])
}

func TestStageOnlyMode(t *testing.T) {
	source := t.TempDir()
	writeFile(t, filepath.Join(source, "f.log"), []byte("data"))

	staging := t.TempDir()
	manifest := regexManifest(source)
	manifest.GlobalOptions["compress_artifacts"] = "false"

	summary, err := Collect(context.Background(), Config{
		Manifest:       manifest,
		StagingRoot:    staging,
		NoVolatileData: true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusOk, summary.OverallStatus)

	// Artifacts staged under fs/, no archive written.
	staged := filepath.Join(staging, "fs",
		filepath.FromSlash(strings.TrimPrefix(
			filepath.ToSlash(source), "/")), "f.log")
	_, err = os.Stat(staged)
	assert.NoError(t, err)
}

func TestContainerName(t *testing.T) {
	stamp := time.Date(2026, 8, 5, 13, 14, 15, 0, time.UTC)
	assert.Equal(t, "host1-20260805_131415.zip",
		ContainerName("host1", stamp))
}

// A required regex artifact that matches no files yields no tasks,
// but the summary must still fail it and degrade.
func TestRequiredRegexZeroMatchesDegrades(t *testing.T) {
	source := t.TempDir()
	writeFile(t, filepath.Join(source, "readme.txt"), []byte("no logs"))

	manifest := regexManifest(source)
	delete(manifest.GlobalOptions, "generate_bodyfile")

	output := filepath.Join(t.TempDir(), "collection.zip")
	summary, err := Collect(context.Background(), Config{
		Manifest:       manifest,
		StagingRoot:    t.TempDir(),
		OutputPath:     output,
		NoVolatileData: true,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusDegraded, summary.OverallStatus)
	assert.Contains(t, summary.Failed, "logs")
	assert.NotContains(t, summary.Acquired, "logs")
	assert.NotEmpty(t, summary.Warnings)

	// The archive is still produced and records the failure.
	reader := openArchive(t, output)
	parsed := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(
		readMember(t, reader, "collection_summary.json"), &parsed))
	assert.Equal(t, "degraded", parsed["overall_status"])
}
