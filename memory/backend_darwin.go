//go:build darwin && cgo
// +build darwin,cgo

package memory

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
)

/*

#include <mach/mach_traps.h>
#include <mach/mach.h>
#include <mach/mach_vm.h>
#include <mach/vm_region.h>
#include <mach/vm_statistics.h>

mach_port_t   get_task_self () {
 return mach_task_self();
}

// Override go type checking - xnu converts void * to vm_address_t (ulong)
// which is unsafe on 32 bit platforms.
kern_return_t
_vm_read_overwrite(
	vm_map_t        map,
	vm_address_t    address,
	vm_size_t       size,
	char            *data,
	vm_size_t       *data_size) {
  return vm_read_overwrite(map, address, size, (vm_address_t)(data), data_size);
};

*/
import "C"

const (
	VM_REGION_BASIC_INFO          = 10
	VM_REGION_BASIC_INFO_COUNT_64 = 9

	VM_PROT_READ    = 1
	VM_PROT_WRITE   = 2
	VM_PROT_EXECUTE = 4
)

// Task ports are cached per pid for the lifetime of the collection -
// task_for_pid is expensive and fails intermittently under load.
var (
	task_cache_mu sync.Mutex
	task_cache    = make(map[int32]C.task_t)
)

type darwinHandle struct {
	pid  int32
	task C.task_t
}

func openNative(pid int32) (ProcessHandle, error) {
	task_cache_mu.Lock()
	defer task_cache_mu.Unlock()

	task, pres := task_cache[pid]
	if !pres {
		kr := C.task_for_pid(C.get_task_self(), C.int(pid), &task)
		if kr != 0 {
			return nil, errors.Wrapf(ErrProcessGone,
				"task_for_pid %d: kern_return %d (requires root)", pid, kr)
		}
		task_cache[pid] = task
	}

	return &darwinHandle{pid: pid, task: task}, nil
}

func (self *darwinHandle) Pid() int32 {
	return self.pid
}

func (self *darwinHandle) Name() string {
	return ""
}

// Close is a no-op: cached task ports are released in one sweep when
// the collection finishes.
func (self *darwinHandle) Close() error {
	return nil
}

// ReleaseTaskPorts deallocates every cached task port. Called by the
// engine at end of collection.
func ReleaseTaskPorts() {
	task_cache_mu.Lock()
	defer task_cache_mu.Unlock()

	for pid, task := range task_cache {
		C.mach_port_deallocate(C.get_task_self(), task)
		delete(task_cache, pid)
	}
}

func (self *darwinHandle) Regions() ([]*MemoryRegion, error) {
	var result []*MemoryRegion

	var address C.vm_address_t
	var size C.vm_size_t
	var object C.mach_port_t
	var info C.vm_region_basic_info_data_64_t

	for {
		var info_count C.mach_msg_type_number_t = VM_REGION_BASIC_INFO_COUNT_64

		kr := C.vm_region_64(self.task, &address, &size,
			VM_REGION_BASIC_INFO,
			(*C.int)(unsafe.Pointer(&info)), &info_count, &object)
		if kr != 0 {
			break
		}

		prot := Protection(0)
		if info.protection&VM_PROT_READ != 0 {
			prot |= ProtRead
		}
		if info.protection&VM_PROT_WRITE != 0 {
			prot |= ProtWrite
		}
		if info.protection&VM_PROT_EXECUTE != 0 {
			prot |= ProtExec
		}

		if prot&ProtRead != 0 {
			result = append(result, &MemoryRegion{
				BaseAddress: uint64(address),
				Size:        uint64(size),
				Protection:  prot,
				Type:        classifyMach(prot, info.shared != 0),
			})
		}

		address += size
		size = 0
	}

	return result, nil
}

// Without the backing path the classification leans on protection
// and share mode only.
func classifyMach(prot Protection, shared bool) RegionType {
	switch {
	case prot&ProtExec != 0:
		return RegionCode
	case shared:
		return RegionMappedFile
	case prot&ProtWrite != 0:
		return RegionHeap
	default:
		return RegionOther
	}
}

func (self *darwinHandle) ReadMemory(address uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	var size C.ulong
	kr := C._vm_read_overwrite(self.task, C.vm_address_t(address),
		C.ulong(len(buf)), (*C.char)(unsafe.Pointer(&buf[0])), &size)
	if kr != 0 {
		return int(size), errors.Wrapf(ErrRegionUnreadable,
			"pid %d address 0x%x: kern_return %d", self.pid, address, kr)
	}

	return int(size), nil
}
