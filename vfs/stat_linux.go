package vfs

import (
	"os"
	"syscall"
	"time"
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
		result.Atime = time.Unix(sys.Atim.Sec, sys.Atim.Nsec)
		result.Ctime = time.Unix(sys.Ctim.Sec, sys.Ctim.Nsec)
		result.Inode = sys.Ino
		result.Uid = sys.Uid
		result.Gid = sys.Gid
	}

	return result
}

// Linux process access goes through /proc - make sure it is mounted
// before the engine starts.
func checkPlatform() error {
	_, err := os.Stat("/proc/self/maps")
	if err != nil {
		return ClassifyError(err)
	}
	return nil
}
