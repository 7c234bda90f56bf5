package memory

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// Region types reported by VirtualQueryEx.
const (
	MEM_PRIVATE = 0x20000
	MEM_MAPPED  = 0x40000
	MEM_IMAGE   = 0x1000000
)

// The native windows backend walks the address space with
// VirtualQueryEx and reads with ReadProcessMemory. Opening another
// process wants SeDebugPrivilege which the vfs adapter acquires at
// engine startup.
type windowsHandle struct {
	pid    int32
	name   string
	handle windows.Handle
}

func openNative(pid int32) (ProcessHandle, error) {
	handle, err := windows.OpenProcess(
		windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_READ,
		false, uint32(pid))
	if err != nil {
		if err == windows.ERROR_INVALID_PARAMETER {
			return nil, errors.Wrapf(ErrProcessGone, "pid %d", pid)
		}
		return nil, err
	}

	name := ""
	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	err = windows.QueryFullProcessImageName(handle, 0, &buf[0], &size)
	if err == nil {
		name = windows.UTF16ToString(buf[:size])
	}

	return &windowsHandle{
		pid:    pid,
		name:   name,
		handle: handle,
	}, nil
}

func (self *windowsHandle) Pid() int32 {
	return self.pid
}

func (self *windowsHandle) Name() string {
	return self.name
}

func (self *windowsHandle) Close() error {
	if self.handle != 0 {
		err := windows.CloseHandle(self.handle)
		self.handle = 0
		return err
	}
	return nil
}

func (self *windowsHandle) Regions() ([]*MemoryRegion, error) {
	var result []*MemoryRegion

	address := uintptr(0)
	for {
		var mbi windows.MemoryBasicInformation
		err := windows.VirtualQueryEx(self.handle, address,
			&mbi, unsafe.Sizeof(mbi))
		if err != nil {
			// The end of the address space.
			break
		}

		if mbi.State == windows.MEM_COMMIT {
			prot := protectionFromWin32(mbi.Protect)
			if prot&ProtRead != 0 {
				result = append(result, &MemoryRegion{
					BaseAddress: uint64(mbi.BaseAddress),
					Size:        uint64(mbi.RegionSize),
					Protection:  prot,
					Type:        classifyWin32(mbi.Type, prot),
				})
			}
		}

		next := mbi.BaseAddress + mbi.RegionSize
		if next <= address {
			break
		}
		address = next
	}

	return result, nil
}

func protectionFromWin32(protect uint32) Protection {
	// Guard pages and no-access pages can not be read safely.
	if protect&windows.PAGE_GUARD != 0 ||
		protect&windows.PAGE_NOACCESS != 0 {
		return 0
	}

	switch protect &^ (windows.PAGE_GUARD | windows.PAGE_NOCACHE | windows.PAGE_WRITECOMBINE) {
	case windows.PAGE_READONLY:
		return ProtRead
	case windows.PAGE_READWRITE, windows.PAGE_WRITECOPY:
		return ProtRead | ProtWrite
	case windows.PAGE_EXECUTE:
		return ProtExec
	case windows.PAGE_EXECUTE_READ:
		return ProtRead | ProtExec
	case windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		return ProtRead | ProtWrite | ProtExec
	}
	return 0
}

func classifyWin32(mem_type uint32, prot Protection) RegionType {
	switch mem_type {
	case MEM_IMAGE:
		return RegionCode
	case MEM_MAPPED:
		return RegionMappedFile
	case MEM_PRIVATE:
		if prot&ProtExec != 0 {
			return RegionCode
		}
		return RegionHeap
	}
	return RegionOther
}

func (self *windowsHandle) ReadMemory(address uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	var bytes_read uintptr
	err := windows.ReadProcessMemory(self.handle, uintptr(address),
		&buf[0], uintptr(len(buf)), &bytes_read)
	if err != nil && bytes_read == 0 {
		return 0, errors.Wrapf(ErrRegionUnreadable,
			"pid %d address 0x%x: %v", self.pid, address, err)
	}
	if int(bytes_read) < len(buf) {
		return int(bytes_read), errors.Wrapf(ErrRegionUnreadable,
			"pid %d address 0x%x: short read", self.pid, address)
	}
	return int(bytes_read), nil
}
