package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/triage/json"
	"www.velocidex.com/golang/triage/logging"
)

// EntryWriter opens one named output inside the evidence bundle. The
// engine backs it with files under the staging directory.
type EntryWriter func(relative_path string) (io.WriteCloser, error)

// Budget caps the total bytes dumped across all processes in one
// collection.
type Budget struct {
	mu       sync.Mutex
	max      uint64
	consumed uint64
}

// NewBudget with max = 0 means unlimited.
func NewBudget(max uint64) *Budget {
	return &Budget{max: max}
}

// Take reserves up to want bytes and returns how many were granted.
func (self *Budget) Take(want uint64) uint64 {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.max == 0 {
		self.consumed += want
		return want
	}

	remaining := uint64(0)
	if self.consumed < self.max {
		remaining = self.max - self.consumed
	}

	if want > remaining {
		want = remaining
	}
	self.consumed += want
	return want
}

func (self *Budget) Exhausted() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.max != 0 && self.consumed >= self.max
}

// RegionResult records the outcome of one region's acquisition.
type RegionResult struct {
	Region    *MemoryRegion
	DumpName  string
	BytesRead uint64
	Truncated bool
	Error     string
}

// ProcessDump is the per process summary included in the collection
// summary.
type ProcessDump struct {
	Pid         int32
	Name        string
	Directory   string
	Regions     []*RegionResult
	Skipped     int
	TotalBytes  uint64
	CollectedAt time.Time
}

type DumpOptions struct {
	Filter *RegionFilter
	Budget *Budget
}

// DumpProcess enumerates and acquires the selected regions of one
// process. Regions are read in ascending base address order, chunked
// so a single allocation never exceeds ChunkSize. Per region errors
// are recorded and do not abort the process.
func DumpProcess(ctx context.Context, handle ProcessHandle,
	write_entry EntryWriter, opts DumpOptions) (*ProcessDump, error) {

	logger := logging.GetLogger("memory")

	name := handle.Name()
	if name == "" {
		name = "process"
	}
	// Keep only the basename of an executable path.
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}

	result := &ProcessDump{
		Pid:         handle.Pid(),
		Name:        name,
		Directory:   fmt.Sprintf("process_memory/%s_%d", name, handle.Pid()),
		CollectedAt: time.Now().UTC(),
	}

	regions, err := handle.Regions()
	if err != nil {
		return nil, err
	}

	sort.Slice(regions, func(i, j int) bool {
		return regions[i].BaseAddress < regions[j].BaseAddress
	})

	budget := opts.Budget
	if budget == nil {
		budget = NewBudget(0)
	}

	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if budget.Exhausted() {
			logger.Infof("memory budget exhausted, skipping "+
				"remaining regions of pid %d", handle.Pid())
			break
		}

		if !opts.Filter.Match(region) {
			result.Skipped++
			continue
		}

		region_result := dumpRegion(
			ctx, handle, region, result.Directory, write_entry, budget)
		result.Regions = append(result.Regions, region_result)
		result.TotalBytes += region_result.BytesRead
	}

	err = writeProcessMetadata(result, write_entry)
	if err != nil {
		return result, err
	}

	return result, nil
}

func dumpRegion(ctx context.Context, handle ProcessHandle,
	region *MemoryRegion, directory string,
	write_entry EntryWriter, budget *Budget) *RegionResult {

	result := &RegionResult{
		Region:   region,
		DumpName: region.DumpName(),
	}

	granted := budget.Take(region.Size)
	if granted == 0 {
		result.Error = "memory budget exhausted"
		return result
	}

	writer, err := write_entry(directory + "/" + result.DumpName)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer writer.Close()

	buf := make([]byte, ChunkSize)
	offset := uint64(0)

	for offset < granted {
		select {
		case <-ctx.Done():
			result.Truncated = true
			result.Error = "cancelled"
			return result
		default:
		}

		to_read := granted - offset
		if to_read > ChunkSize {
			to_read = ChunkSize
		}

		n, err := handle.ReadMemory(
			region.BaseAddress+offset, buf[:to_read])
		if n > 0 {
			_, write_err := writer.Write(buf[:n])
			if write_err != nil {
				result.Error = write_err.Error()
				result.Truncated = true
				return result
			}
			result.BytesRead += uint64(n)
		}

		if err != nil {
			// Keep the truncated dump - partial memory is still
			// evidence.
			result.Truncated = true
			result.Error = err.Error()
			return result
		}

		offset += uint64(n)
	}

	if granted < region.Size {
		result.Truncated = true
		result.Error = "memory budget exhausted"
	}

	return result
}

// writeProcessMetadata emits metadata.json and memory_map.txt next
// to the region dumps.
func writeProcessMetadata(
	dump *ProcessDump, write_entry EntryWriter) error {

	metadata := ordereddict.NewDict().
		Set("pid", dump.Pid).
		Set("name", dump.Name).
		Set("collected_at", dump.CollectedAt.Format(time.RFC3339)).
		Set("total_bytes", dump.TotalBytes).
		Set("regions_dumped", len(dump.Regions)).
		Set("regions_skipped", dump.Skipped)

	var region_records []*ordereddict.Dict
	for _, r := range dump.Regions {
		region_records = append(region_records, ordereddict.NewDict().
			Set("base_address", fmt.Sprintf("0x%x", r.Region.BaseAddress)).
			Set("size", r.Region.Size).
			Set("type", r.Region.Type.String()).
			Set("protection", r.Region.Protection.String()).
			Set("path", r.Region.Path).
			Set("dump_file", r.DumpName).
			Set("bytes_read", r.BytesRead).
			Set("truncated", r.Truncated).
			Set("error", r.Error))
	}
	metadata.Set("regions", region_records)

	writer, err := write_entry(dump.Directory + "/metadata.json")
	if err != nil {
		return err
	}
	_, err = writer.Write(json.MustMarshalIndent(metadata))
	if err != nil {
		writer.Close()
		return err
	}
	err = writer.Close()
	if err != nil {
		return err
	}

	writer, err = write_entry(dump.Directory + "/memory_map.txt")
	if err != nil {
		return err
	}
	defer writer.Close()

	for _, r := range dump.Regions {
		line := fmt.Sprintf("0x%016x %12d %-11s %s %s\n",
			r.Region.BaseAddress, r.Region.Size,
			r.Region.Type, r.Region.Protection, r.Region.Path)
		_, err := writer.Write([]byte(line))
		if err != nil {
			return err
		}
	}

	return nil
}
