// Package memory acquires live process memory: region enumeration,
// chunked reads, per region dumps and pattern / rule matching.
package memory

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Reads never exceed this chunk size so a huge region can not blow
// out allocations.
const ChunkSize = 4 * 1024 * 1024

var (
	ErrBackendUnavailable = errors.New("memory backend unavailable")
	ErrProcessGone        = errors.New("process gone")
	ErrRegionUnreadable   = errors.New("region unreadable")
)

type RegionType int

const (
	RegionOther RegionType = iota
	RegionStack
	RegionHeap
	RegionCode
	RegionMappedFile
)

func (self RegionType) String() string {
	switch self {
	case RegionStack:
		return "stack"
	case RegionHeap:
		return "heap"
	case RegionCode:
		return "code"
	case RegionMappedFile:
		return "mapped_file"
	default:
		return "other"
	}
}

type Protection uint8

const (
	ProtRead Protection = 1 << iota
	ProtWrite
	ProtExec
)

func (self Protection) String() string {
	result := []byte("---")
	if self&ProtRead != 0 {
		result[0] = 'r'
	}
	if self&ProtWrite != 0 {
		result[1] = 'w'
	}
	if self&ProtExec != 0 {
		result[2] = 'x'
	}
	return string(result)
}

// MemoryRegion is one contiguous virtual address range sharing a
// protection and backing.
type MemoryRegion struct {
	BaseAddress uint64
	Size        uint64
	Type        RegionType
	Protection  Protection

	// Backing file path for mapped regions.
	Path string
}

// DumpName is the filename of this region's dump file.
func (self *MemoryRegion) DumpName() string {
	return fmt.Sprintf("%s_0x%x_%d.dmp",
		self.Type, self.BaseAddress, self.Size)
}

// ProcessHandle provides region enumeration and reads for one opened
// process. Implementations must be safe to Close more than once.
type ProcessHandle interface {
	Pid() int32
	Name() string
	Regions() ([]*MemoryRegion, error)

	// ReadMemory reads len(buf) bytes at address. Short reads
	// return the byte count together with an error describing why
	// the rest was unreadable.
	ReadMemory(address uint64, buf []byte) (int, error)

	Close() error
}

// Backend opens process handles. The native platform backend is the
// documented fallback; a unified kernel introspection backend may be
// installed instead and is preferred when present.
type Backend interface {
	OpenProcess(pid int32) (ProcessHandle, error)
}

var unified_backend Backend

// SetUnifiedBackend installs an alternative backend used for all
// subsequent opens.
func SetUnifiedBackend(backend Backend) {
	unified_backend = backend
}

// Open resolves a process handle, preferring the unified backend and
// falling back to the native implementation when it is unavailable.
func Open(pid int32) (ProcessHandle, error) {
	if unified_backend != nil {
		handle, err := unified_backend.OpenProcess(pid)
		if err == nil {
			return handle, nil
		}
		if !errors.Is(err, ErrBackendUnavailable) {
			return nil, err
		}
	}

	return openNative(pid)
}

// RegionFilter selects which regions an operation touches.
type RegionFilter struct {
	MinSize uint64
	MaxSize uint64

	// Empty means all types.
	Types []RegionType

	// Zero means any protection.
	RequireProtection Protection
}

func (self *RegionFilter) Match(region *MemoryRegion) bool {
	if self == nil {
		return true
	}

	if self.MinSize != 0 && region.Size < self.MinSize {
		return false
	}

	if self.MaxSize != 0 && region.Size > self.MaxSize {
		return false
	}

	if len(self.Types) > 0 {
		found := false
		for _, t := range self.Types {
			if region.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if self.RequireProtection != 0 &&
		region.Protection&self.RequireProtection != self.RequireProtection {
		return false
	}

	return true
}

// ParseRegionTypes converts a comma separated list of type names.
func ParseRegionTypes(in string) ([]RegionType, error) {
	if in == "" {
		return nil, nil
	}

	var result []RegionType
	for _, name := range strings.Split(in, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "stack":
			result = append(result, RegionStack)
		case "heap":
			result = append(result, RegionHeap)
		case "code":
			result = append(result, RegionCode)
		case "mapped_file", "mapped":
			result = append(result, RegionMappedFile)
		case "other":
			result = append(result, RegionOther)
		default:
			return nil, fmt.Errorf("unknown region type %q", name)
		}
	}
	return result, nil
}
