// Package collector is the engine's top level: it plans the
// manifest, executes acquisition into a staging root, generates the
// timeline and packages everything into the evidence container.
package collector

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"www.velocidex.com/golang/triage/config"
	"www.velocidex.com/golang/triage/executor"
	"www.velocidex.com/golang/triage/logging"
	"www.velocidex.com/golang/triage/memory"
	"www.velocidex.com/golang/triage/planner"
	"www.velocidex.com/golang/triage/uploads"
	"www.velocidex.com/golang/triage/utils"
	"www.velocidex.com/golang/triage/vfs"
	"www.velocidex.com/golang/triage/volatile"
)

type MemoryOptions struct {
	Pids           []int32
	ProcessPattern string
	Filter         *memory.RegionFilter
	MaxTotalBytes  uint64

	// Optional hex pattern search across the selected processes.
	SearchPattern string

	// Optional rule source scanned over the selected regions.
	RuleSource string
}

// Config is the validated configuration handed over by the driver.
type Config struct {
	Manifest *config.Manifest

	// Where artifacts are staged. Empty means a temp directory.
	StagingRoot string

	// Local path for the archive. Used directly for the local sink
	// and as the fallback target when streaming fails.
	OutputPath string

	S3   *uploads.S3Config
	SFTP *uploads.SFTPConfig

	// Stream pushes the archive bytes straight to the network sink
	// without a local archive file.
	Stream     bool
	SkipUpload bool

	NoVolatileData bool
	TypeFilter     string
	Memory         MemoryOptions

	// Optional container password (encrypted inner zip).
	Password string

	Parallelism int
	Progress    uploads.ProgressFunc
}

type Collector struct {
	config   Config
	options  *config.GlobalOptions
	accessor vfs.Accessor
	pool     *executor.ComputePool
	sink     *executor.ResultSink

	staging_root   string
	snapshot       *volatile.Snapshot
	dumps          []*memory.ProcessDump
	warnings       []string
	empty_required []string
	cancelled      bool
}

func hostFamily() config.Family {
	switch runtime.GOOS {
	case "windows":
		return config.FAMILY_WINDOWS
	case "darwin":
		return config.FAMILY_DARWIN
	default:
		return config.FAMILY_LINUX
	}
}

// Collect runs a full collection and returns the summary. Fatal
// planning errors abort before any acquisition; task failures after
// planning degrade the summary, while a packaging or sink failure
// marks it failed and is returned.
func Collect(ctx context.Context, cfg Config) (*Summary, error) {
	logger := logging.GetLogger("collector")

	accessor, err := vfs.NewAccessor()
	if err != nil {
		return nil, err
	}

	self := &Collector{
		config:   cfg,
		options:  cfg.Manifest.Options(),
		accessor: accessor,
		pool:     executor.NewComputePool(0),
		sink:     executor.NewResultSink(nil),
	}
	defer self.pool.Close()
	defer memory.ReleaseTaskPorts()

	plan, err := planner.Plan(cfg.Manifest, accessor, planner.Options{
		Family:          hostFamily(),
		TypeFilter:      cfg.TypeFilter,
		CollectVolatile: !cfg.NoVolatileData,
		MemoryPids:      cfg.Memory.Pids,
		ProcessPattern:  cfg.Memory.ProcessPattern,
	})
	if err != nil {
		return nil, err
	}
	self.warnings = plan.Warnings
	self.empty_required = plan.EmptyRequired

	self.staging_root = cfg.StagingRoot
	if self.staging_root == "" {
		self.staging_root, err = os.MkdirTemp("", "triage")
		if err != nil {
			return nil, err
		}
	}

	start := time.Now().UTC()
	logger.Infof("collection %v starting: %v tasks into %v",
		cfg.Manifest.Description, len(plan.Tasks), self.staging_root)

	exec := &executor.Executor{Parallelism: cfg.Parallelism}
	exec.Run(ctx, plan.Tasks, self.runTask, self.sink)

	if ctx.Err() != nil {
		self.cancelled = true
	}

	if self.options.GenerateBodyfile && !self.cancelled {
		err := self.generateBodyfile(ctx)
		if err != nil {
			logger.Warnf("bodyfile generation: %v", err)
			self.warnings = append(self.warnings,
				"bodyfile: "+err.Error())
		}
	}

	summary := self.buildSummary(cfg.Manifest, start)

	if self.options.CompressArtifacts && !cfg.SkipUpload {
		err := self.packageCollection(ctx, summary)
		if err != nil {
			summary.OverallStatus = StatusFailed
			return summary, err
		}
	}

	return summary, nil
}

// runTask dispatches on acquisition mode. Every branch resolves to a
// result - errors never escape a task.
func (self *Collector) runTask(
	ctx context.Context, task planner.Task) *executor.CollectionResult {

	result := &executor.CollectionResult{
		TaskId:       task.Id,
		ArtifactName: task.ArtifactName,
		SourcePath:   task.SourcePath,
		Destination:  task.Destination,
		Required:     task.Required,
		Status:       executor.StatusOk,
	}

	var err error
	switch task.Mode {
	case planner.ModeFile:
		err = self.acquireFile(ctx, task, result)

	case planner.ModeDirectoryCopy:
		err = self.acquireDirectory(ctx, task, result)

	case planner.ModeVolatileSnapshot:
		err = self.acquireVolatile(ctx, result)

	case planner.ModeMemoryProcess, planner.ModeMemoryRegion:
		err = self.acquireMemory(ctx, task, result)

	default:
		err = errors.Errorf("unknown acquisition mode %v", task.Mode)
	}

	if err != nil && result.Status == executor.StatusOk {
		result.Status = classify(err, self.options)
		result.Error = err.Error()
	}

	return result
}

// classify folds an error into the result status taxonomy.
func classify(err error, opts *config.GlobalOptions) executor.Status {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return executor.StatusCancelled

	case errors.Is(err, vfs.ErrNotFound):
		return executor.StatusFailedNotFound

	case errors.Is(err, vfs.ErrPermissionDenied),
		errors.Is(err, memory.ErrProcessGone):
		return executor.StatusFailedPermission

	case errors.Is(err, vfs.ErrLocked):
		if opts.SkipLockedFiles {
			return executor.StatusSkippedFilter
		}
		return executor.StatusFailedIo

	case errors.Is(err, errSizeLimit):
		return executor.StatusFailedSizeLimit

	default:
		return executor.StatusFailedIo
	}
}

var errSizeLimit = errors.New("size limit exceeded")

// stagePath maps an archive relative destination onto the staging
// tree.
func (self *Collector) stagePath(destination string) string {
	return filepath.Join(self.staging_root,
		filepath.FromSlash(destination))
}

func (self *Collector) acquireFile(ctx context.Context,
	task planner.Task, result *executor.CollectionResult) error {

	stat, err := self.accessor.Lstat(task.SourcePath)
	if err != nil {
		return err
	}

	max_size := self.options.MaxFileSizeBytes()
	if max_size > 0 && stat.Size > max_size {
		return errors.Wrapf(errSizeLimit,
			"%v is %v bytes", task.SourcePath, stat.Size)
	}

	n, sha, err := self.copyToStaging(ctx, task.SourcePath,
		self.stagePath(task.Destination))
	result.BytesRead += n
	result.Sha256 = sha
	if err != nil {
		return err
	}

	return nil
}

// copyToStaging streams one source file into the staging tree,
// hashing on the compute pool as bytes flow.
func (self *Collector) copyToStaging(ctx context.Context,
	source, destination string) (int64, string, error) {

	fd, err := self.accessor.Open(source)
	if err != nil {
		return 0, "", err
	}
	defer fd.Close()

	err = os.MkdirAll(filepath.Dir(destination), 0700)
	if err != nil {
		return 0, "", err
	}

	out, err := os.OpenFile(destination,
		os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return 0, "", err
	}
	defer out.Close()

	hasher, err := newHashWriter(ctx, self.pool)
	if err != nil {
		return 0, "", err
	}

	n, err := utils.Copy(ctx, utils.NewTee(out, hasher), fd)
	sha := hasher.Close()
	if err != nil {
		return n, "", err
	}

	return n, sha, nil
}

func (self *Collector) acquireDirectory(ctx context.Context,
	task planner.Task, result *executor.CollectionResult) error {

	failures := 0
	copied := 0

	var walk func(dir, dest string) error
	walk = func(dir, dest string) error {
		entries, err := self.accessor.ReadDir(dir)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}

			child_dest := filepath.Join(dest, entry.Info.Name)
			if entry.Info.IsDir {
				err := walk(entry.Path, child_dest)
				if err != nil {
					failures++
				}
				continue
			}

			max_size := self.options.MaxFileSizeBytes()
			if max_size > 0 && entry.Info.Size > max_size {
				failures++
				continue
			}

			n, _, err := self.copyToStaging(ctx, entry.Path, child_dest)
			result.BytesRead += n
			if err != nil {
				failures++
				continue
			}
			copied++
		}
		return nil
	}

	err := walk(task.SourcePath, self.stagePath(task.Destination))
	if err != nil {
		return err
	}

	if failures > 0 && copied > 0 {
		result.Status = executor.StatusLockedPartial
		result.Error = errors.Errorf(
			"%d of %d files failed", failures, failures+copied).Error()
	} else if failures > 0 {
		return errors.New("all files in directory failed")
	}

	return nil
}

var volatile_entries = []string{
	"system-info.json",
	"processes.json",
	"network-connections.json",
	"memory.json",
	"disks.json",
}

func (self *Collector) acquireVolatile(ctx context.Context,
	result *executor.CollectionResult) error {

	self.snapshot = volatile.Collect(ctx)

	records := map[string]interface{}{
		"system-info.json":         self.snapshot.SystemInfo,
		"processes.json":           self.snapshot.Processes,
		"network-connections.json": self.snapshot.NetworkConnections,
		"memory.json":              self.snapshot.Memory,
		"disks.json":               self.snapshot.Disks,
	}

	for _, name := range volatile_entries {
		n, err := self.writeStagedJSON("volatile/"+name, records[name])
		result.BytesRead += n
		if err != nil {
			return err
		}
	}

	return nil
}

func (self *Collector) writeStagedJSON(
	destination string, record interface{}) (int64, error) {

	serialized, err := marshalRecord(record)
	if err != nil {
		return 0, err
	}

	staged := self.stagePath(destination)
	err = os.MkdirAll(filepath.Dir(staged), 0700)
	if err != nil {
		return 0, err
	}

	err = os.WriteFile(staged, serialized, 0600)
	if err != nil {
		return 0, err
	}
	return int64(len(serialized)), nil
}

func (self *Collector) acquireMemory(ctx context.Context,
	task planner.Task, result *executor.CollectionResult) error {

	pids := []int32{}
	if task.Pid != 0 {
		pids = append(pids, task.Pid)
	}

	if task.ProcessName != "" {
		if self.snapshot == nil {
			return errors.New(
				"process pattern selection requires volatile data")
		}

		pattern, err := regexp.Compile(task.ProcessName)
		if err != nil {
			return err
		}
		pids = append(pids, self.snapshot.FindProcesses(
			pattern.MatchString)...)
	}

	if len(pids) == 0 {
		result.Status = executor.StatusSkippedFilter
		result.Error = "no processes matched"
		return nil
	}

	budget := memory.NewBudget(self.config.Memory.MaxTotalBytes)
	logger := logging.GetLogger("memory")

	failures := 0
	for i, pid := range pids {
		if err := ctx.Err(); err != nil {
			return err
		}

		if budget.Exhausted() {
			logger.Infof("memory budget exhausted, "+
				"skipping remaining %d processes", len(pids)-i)
			break
		}

		err := self.dumpOneProcess(ctx, pid, budget, result)
		if err != nil {
			logger.Warnf("pid %d: %v", pid, err)
			failures++
		}
	}

	if failures == len(pids) {
		return errors.New("all selected processes failed")
	}
	if failures > 0 {
		result.Status = executor.StatusLockedPartial
		result.Error = errors.Errorf(
			"%d of %d processes failed", failures, len(pids)).Error()
	}

	return nil
}

func (self *Collector) dumpOneProcess(ctx context.Context, pid int32,
	budget *memory.Budget, result *executor.CollectionResult) error {

	handle, err := memory.Open(pid)
	if err != nil {
		return err
	}
	defer handle.Close()

	write_entry := func(relative_path string) (io.WriteCloser, error) {
		staged := self.stagePath(relative_path)
		err := os.MkdirAll(filepath.Dir(staged), 0700)
		if err != nil {
			return nil, err
		}
		return os.OpenFile(staged,
			os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	}

	dump, err := memory.DumpProcess(ctx, handle, write_entry,
		memory.DumpOptions{
			Filter: self.config.Memory.Filter,
			Budget: budget,
		})
	if err != nil {
		return err
	}

	result.BytesRead += int64(dump.TotalBytes)
	self.dumps = append(self.dumps, dump)

	// A region cut short by a read failure keeps its truncated dump
	// and marks the task partial; the budget cap is not a failure.
	for _, region := range dump.Regions {
		if region.Truncated && region.Error != "memory budget exhausted" {
			result.Status = executor.StatusLockedPartial
			result.Error = errors.Errorf("pid %d: region %s truncated: %s",
				pid, region.DumpName, region.Error).Error()
			break
		}
	}

	if self.config.Memory.SearchPattern != "" {
		pattern, err := memory.ParsePattern(self.config.Memory.SearchPattern)
		if err != nil {
			return err
		}

		matches, err := memory.Search(ctx, handle, pattern,
			self.config.Memory.Filter)
		if err == nil {
			_, err = self.writeStagedJSON(
				dump.Directory+"/pattern_matches.json", matches)
		}
		if err != nil {
			return err
		}
	}

	if self.config.Memory.RuleSource != "" {
		engine, err := memory.NewRuleEngine()
		if err != nil {
			return err
		}

		rules, err := engine.Compile(self.config.Memory.RuleSource)
		if err != nil {
			return err
		}

		matches, err := memory.ScanRules(ctx, handle, rules,
			self.config.Memory.Filter)
		if err == nil {
			_, err = self.writeStagedJSON(
				dump.Directory+"/rule_matches.json", matches)
		}
		if err != nil {
			return err
		}
	}

	return nil
}
