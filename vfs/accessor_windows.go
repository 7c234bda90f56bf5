package vfs

import (
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

type WindowsAccessor struct {
	privileges PrivilegeMask
}

// NewAccessor acquires the backup/restore/security/ownership/debug
// privileges once and returns an accessor which uses backup
// semantics opens when the backup privilege was granted.
func NewAccessor() (Accessor, error) {
	granted := AcquirePrivileges()
	return &WindowsAccessor{privileges: granted}, nil
}

func (self *WindowsAccessor) Open(path string) (ReadSeekCloser, error) {
	if self.privileges.Has(PrivBackup) {
		fd, err := openBackupSemantics(path)
		if err == nil {
			return fd, nil
		}
		// Fall through to the regular open - the raw open can fail
		// on filesystems which do not support backup semantics.
	}

	fd, err := os.Open(path)
	if err != nil {
		return nil, ClassifyError(err)
	}
	return fd, nil
}

// openBackupSemantics opens with full sharing so handles held by
// other processes do not block the read.
func openBackupSemantics(path string) (ReadSeekCloser, error) {
	wide_path, err := windows.UTF16PtrFromString(`\\?\` + path)
	if err != nil {
		return nil, ClassifyError(err)
	}

	handle, err := windows.CreateFile(
		wide_path,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_SEQUENTIAL_SCAN,
		0)
	if err != nil {
		return nil, ClassifyError(err)
	}

	return os.NewFile(uintptr(handle), path), nil
}

func (self *WindowsAccessor) Lstat(path string) (*FileInfo, error) {
	stat, err := os.Lstat(path)
	if err != nil {
		return nil, ClassifyError(err)
	}
	return newFileInfo(path, stat), nil
}

func (self *WindowsAccessor) ReadDir(path string) ([]*Entry, error) {
	children, err := os.ReadDir(path)
	if err != nil {
		return nil, ClassifyError(err)
	}

	result := make([]*Entry, 0, len(children))
	for _, child := range children {
		child_path := filepath.Join(path, child.Name())

		stat, err := os.Lstat(child_path)
		if err != nil {
			continue
		}

		result = append(result, &Entry{
			Path: child_path,
			Info: newFileInfo(child_path, stat),
		})
	}

	return result, nil
}

func newFileInfo(path string, stat os.FileInfo) *FileInfo {
	result := &FileInfo{
		Name:    stat.Name(),
		Size:    stat.Size(),
		Mode:    stat.Mode(),
		IsDir:   stat.IsDir(),
		ModTime: stat.ModTime(),
	}

	sys, ok := stat.Sys().(*syscall.Win32FileAttributeData)
	if ok {
		result.Atime = time.Unix(0, sys.LastAccessTime.Nanoseconds())
		result.Ctime = time.Unix(0, sys.LastWriteTime.Nanoseconds())
		result.Btime = time.Unix(0, sys.CreationTime.Nanoseconds())
	}

	return result
}

func isSharingViolation(err error) bool {
	for {
		errno, ok := err.(syscall.Errno)
		if ok {
			return errno == windows.ERROR_SHARING_VIOLATION ||
				errno == windows.ERROR_LOCK_VIOLATION
		}

		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
		if err == nil {
			return false
		}
	}
}
