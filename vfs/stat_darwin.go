package vfs

import (
	"os"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

func newFileInfo(path string, stat os.FileInfo) *FileInfo {
	result := &FileInfo{
		Name:    stat.Name(),
		Size:    stat.Size(),
		Mode:    stat.Mode(),
		IsDir:   stat.IsDir(),
		ModTime: stat.ModTime(),
	}

	sys, ok := stat.Sys().(*syscall.Stat_t)
	if ok {
		result.Atime = time.Unix(sys.Atimespec.Sec, sys.Atimespec.Nsec)
		result.Ctime = time.Unix(sys.Ctimespec.Sec, sys.Ctimespec.Nsec)
		result.Btime = time.Unix(sys.Birthtimespec.Sec, sys.Birthtimespec.Nsec)
		result.Inode = sys.Ino
		result.Uid = sys.Uid
		result.Gid = sys.Gid
	}

	return result
}

// Reading other processes on darwin needs the task_for_pid right
// which is only granted to root - verify once at engine init, the
// same way linux probes /proc.
func checkPlatform() error {
	if os.Geteuid() != 0 {
		return errors.Wrap(ErrPermissionDenied,
			"collection requires root on this platform (task_for_pid)")
	}
	return nil
}
