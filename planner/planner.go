// The planner expands manifest artifact definitions into a flat,
// bounded list of acquisition tasks. Planning is deterministic given
// the manifest, host family, environment and filesystem.
package planner

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"www.velocidex.com/golang/triage/config"
	"www.velocidex.com/golang/triage/logging"
	"www.velocidex.com/golang/triage/pathsafe"
	"www.velocidex.com/golang/triage/vfs"
)

type Mode string

const (
	ModeFile             Mode = "file"
	ModeDirectoryCopy    Mode = "directory-recursive-copy"
	ModeVolatileSnapshot Mode = "volatile-snapshot"
	ModeMemoryProcess    Mode = "memory-process"
	ModeMemoryRegion     Mode = "memory-region"
)

// Task is an immutable unit of acquisition.
type Task struct {
	Id           int
	ArtifactName string
	Kind         config.ArtifactKind

	// Resolved absolute source path. Empty for synthetic tasks.
	SourcePath string

	// Slash separated destination, relative to the archive root.
	Destination string

	Mode     Mode
	Required bool
	Metadata map[string]string

	// Memory task selectors.
	Pid         int32
	ProcessName string
}

type Options struct {
	Family config.Family

	// Comma separated kind names from the driver, empty means all.
	TypeFilter string

	// Root that all expanded sources must canonicalize under. Empty
	// means any absolute path is acceptable.
	PermittedRoot string

	CollectVolatile bool

	// Pids selected for memory acquisition; ProcessPattern adds
	// pattern matched processes (resolved by the collector against
	// the volatile snapshot).
	MemoryPids     []int32
	ProcessPattern string
}

type PlanResult struct {
	Tasks []Task

	// Non fatal notes, e.g. optional artifacts dropped at expansion.
	Warnings []string

	// Required artifacts whose regex expansion matched nothing. No
	// task exists for them, so the summary must fail them from this
	// list.
	EmptyRequired []string
}

type planner struct {
	accessor vfs.Accessor
	opts     Options
	filter   map[string]bool

	next_id      int
	destinations map[string]bool
	plan         *PlanResult
}

// Plan expands the manifest into tasks. A required artifact which
// fails expansion is a fatal planning error - no acquisition begins.
func Plan(manifest *config.Manifest,
	accessor vfs.Accessor, opts Options) (*PlanResult, error) {

	err := manifest.Validate()
	if err != nil {
		return nil, err
	}

	self := &planner{
		accessor:     accessor,
		opts:         opts,
		filter:       parseTypeFilter(opts.TypeFilter),
		destinations: make(map[string]bool),
		plan:         &PlanResult{},
	}

	logger := logging.GetLogger("planner")

	for i := range manifest.Artifacts {
		artifact := &manifest.Artifacts[i]

		if !artifact.Kind.AppliesTo(opts.Family) {
			continue
		}

		if self.filter != nil && !self.filter[artifact.Kind.Kind] {
			continue
		}

		err := self.expandArtifact(artifact)
		if err != nil {
			if artifact.Required {
				return nil, errors.Wrapf(err,
					"planning required artifact %q", artifact.Name)
			}

			warning := fmt.Sprintf(
				"dropping optional artifact %q: %v", artifact.Name, err)
			logger.Warn(warning)
			self.plan.Warnings = append(self.plan.Warnings, warning)
		}
	}

	self.addSyntheticTasks()

	return self.plan, nil
}

func parseTypeFilter(filter string) map[string]bool {
	if filter == "" {
		return nil
	}

	result := make(map[string]bool)
	for _, name := range strings.Split(filter, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			result[name] = true
		}
	}
	return result
}

func (self *planner) expandArtifact(
	artifact *config.ArtifactDefinition) error {

	// Memory and SystemInfo artifacts have no filesystem source -
	// they are driven by the synthetic tasks.
	if artifact.SourcePath == "" {
		return nil
	}

	expanded, err := pathsafe.Expand(artifact.SourcePath)
	if err != nil {
		return err
	}

	source, err := pathsafe.Validate(expanded, self.opts.PermittedRoot)
	if err != nil {
		return err
	}

	if artifact.Regex != nil && artifact.Regex.Enabled {
		return self.expandRegex(artifact, source)
	}

	stat, err := self.accessor.Lstat(source)
	if err == nil && stat.IsDir {
		self.emit(artifact, source, self.fsDestination(source),
			ModeDirectoryCopy)
		return nil
	}

	self.emit(artifact, source, self.fsDestination(source), ModeFile)
	return nil
}

func (self *planner) expandRegex(
	artifact *config.ArtifactDefinition, source string) error {

	include, exclude, err := artifact.Regex.Compile()
	if err != nil {
		return err
	}

	matches, err := walk(self.accessor, source, walkOptions{
		Recursive: artifact.Regex.Recursive,
		MaxDepth:  artifact.Regex.MaxDepth,
		Include:   include,
		Exclude:   exclude,
	})
	if err != nil {
		return err
	}

	// Zero matches yields zero tasks. For a required artifact that
	// is a failed acquisition, not a no-op - record it so the
	// summary can degrade.
	if len(matches) == 0 && artifact.Required {
		warning := fmt.Sprintf(
			"required artifact %q matched no files under %v",
			artifact.Name, source)
		logging.GetLogger("planner").Warn(warning)
		self.plan.Warnings = append(self.plan.Warnings, warning)
		self.plan.EmptyRequired = append(
			self.plan.EmptyRequired, artifact.Name)
		return nil
	}

	// Stable ordering within one artifact's expansion.
	sort.Strings(matches)

	for _, match := range matches {
		self.emit(artifact, match, self.fsDestination(match), ModeFile)
	}

	return nil
}

// fsDestination mirrors the original directory structure under fs/:
// the leading separator (or drive letter) is stripped and every
// component is sanitized.
func (self *planner) fsDestination(source string) string {
	normalized := filepath.ToSlash(source)

	if drive_re.MatchString(normalized) {
		normalized = normalized[2:]
	}
	normalized = strings.TrimLeft(normalized, "/")

	components := []string{"fs"}
	for _, component := range strings.Split(normalized, "/") {
		if component == "" {
			continue
		}
		components = append(components, pathsafe.SanitizeName(component))
	}

	return strings.Join(components, "/")
}

var drive_re = regexp.MustCompile(`^[A-Za-z]:`)

func (self *planner) emit(artifact *config.ArtifactDefinition,
	source, destination string, mode Mode) {

	task_id := self.next_id
	self.next_id++

	// Preserve both acquisitions when two artifacts resolve to the
	// same destination.
	if self.destinations[destination] {
		destination = appendSuffix(destination, task_id)
	}
	self.destinations[destination] = true

	self.plan.Tasks = append(self.plan.Tasks, Task{
		Id:           task_id,
		ArtifactName: artifact.Name,
		Kind:         artifact.Kind,
		SourcePath:   source,
		Destination:  destination,
		Mode:         mode,
		Required:     artifact.Required,
		Metadata:     artifact.Metadata,
	})
}

func appendSuffix(destination string, task_id int) string {
	ext := ""
	base := destination

	idx := strings.LastIndexByte(destination, '.')
	slash := strings.LastIndexByte(destination, '/')
	if idx > slash {
		base = destination[:idx]
		ext = destination[idx:]
	}

	return fmt.Sprintf("%s_%d%s", base, task_id, ext)
}

// The volatile snapshot always precedes memory tasks - the executor
// enforces this edge, the planner just orders them.
func (self *planner) addSyntheticTasks() {
	if self.opts.CollectVolatile {
		task_id := self.next_id
		self.next_id++
		self.plan.Tasks = append(self.plan.Tasks, Task{
			Id:           task_id,
			ArtifactName: "volatile-data",
			Destination:  "volatile",
			Mode:         ModeVolatileSnapshot,
		})
	}

	for _, pid := range self.opts.MemoryPids {
		task_id := self.next_id
		self.next_id++
		self.plan.Tasks = append(self.plan.Tasks, Task{
			Id:           task_id,
			ArtifactName: fmt.Sprintf("process-memory-%d", pid),
			Destination:  "process_memory",
			Mode:         ModeMemoryProcess,
			Pid:          pid,
		})
	}

	if self.opts.ProcessPattern != "" {
		task_id := self.next_id
		self.next_id++
		self.plan.Tasks = append(self.plan.Tasks, Task{
			Id:           task_id,
			ArtifactName: "process-memory-pattern",
			Destination:  "process_memory",
			Mode:         ModeMemoryProcess,
			ProcessName:  self.opts.ProcessPattern,
		})
	}
}
