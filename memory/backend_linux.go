package memory

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// The native linux backend reads /proc/<pid>/maps for enumeration
// and seeks into /proc/<pid>/mem for the data.
type linuxHandle struct {
	pid  int32
	name string
	mem  *os.File
}

func openNative(pid int32) (ProcessHandle, error) {
	mem, err := os.Open(fmt.Sprintf("/proc/%d/mem", pid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrProcessGone, "pid %d", pid)
		}
		return nil, err
	}

	name := ""
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err == nil {
		name = strings.TrimSpace(string(comm))
	}

	return &linuxHandle{
		pid:  pid,
		name: name,
		mem:  mem,
	}, nil
}

func (self *linuxHandle) Pid() int32 {
	return self.pid
}

func (self *linuxHandle) Name() string {
	return self.name
}

func (self *linuxHandle) Close() error {
	return self.mem.Close()
}

func (self *linuxHandle) Regions() ([]*MemoryRegion, error) {
	fd, err := os.Open(fmt.Sprintf("/proc/%d/maps", self.pid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrProcessGone, "pid %d", self.pid)
		}
		return nil, err
	}
	defer fd.Close()

	var result []*MemoryRegion

	scanner := bufio.NewScanner(fd)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		region, err := parseMapsLine(scanner.Text())
		if err != nil {
			continue
		}

		// Unreadable regions can not be acquired at all.
		if region.Protection&ProtRead == 0 {
			continue
		}

		result = append(result, region)
	}

	return result, scanner.Err()
}

// A maps line looks like:
// 7f3a1c000000-7f3a1c021000 rw-p 00000000 00:00 0    [heap]
func parseMapsLine(line string) (*MemoryRegion, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return nil, errors.New("short maps line")
	}

	addresses := strings.SplitN(fields[0], "-", 2)
	if len(addresses) != 2 {
		return nil, errors.New("malformed address range")
	}

	start, err := strconv.ParseUint(addresses[0], 16, 64)
	if err != nil {
		return nil, err
	}
	end, err := strconv.ParseUint(addresses[1], 16, 64)
	if err != nil {
		return nil, err
	}

	perms := fields[1]
	prot := Protection(0)
	if strings.ContainsRune(perms, 'r') {
		prot |= ProtRead
	}
	if strings.ContainsRune(perms, 'w') {
		prot |= ProtWrite
	}
	if strings.ContainsRune(perms, 'x') {
		prot |= ProtExec
	}

	path := ""
	if len(fields) > 5 {
		path = strings.Join(fields[5:], " ")
	}

	return &MemoryRegion{
		BaseAddress: start,
		Size:        end - start,
		Protection:  prot,
		Type:        classifyMapping(path, prot),
		Path:        path,
	}, nil
}

func classifyMapping(path string, prot Protection) RegionType {
	switch {
	case path == "[heap]":
		return RegionHeap

	case strings.HasPrefix(path, "[stack"):
		return RegionStack

	case path == "" || path == "[anon]":
		// Anonymous executable mappings are JIT or shellcode.
		if prot&ProtExec != 0 {
			return RegionCode
		}
		return RegionHeap

	case strings.HasPrefix(path, "["):
		return RegionOther

	default:
		return RegionMappedFile
	}
}

func (self *linuxHandle) ReadMemory(address uint64, buf []byte) (int, error) {
	n, err := self.mem.ReadAt(buf, int64(address))
	if err != nil && n < len(buf) {
		return n, errors.Wrapf(ErrRegionUnreadable,
			"pid %d address 0x%x: %v", self.pid, address, err)
	}
	return n, nil
}
