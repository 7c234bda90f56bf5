// Package vfs is the platform adapter: a uniform open/stat/enumerate
// capability over the three host families. On windows the accessor
// uses backup semantics opens so files locked by other processes can
// still be read.
package vfs

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrLocked           = errors.New("file locked")
)

type ReadSeekCloser interface {
	io.Reader
	io.Seeker
	io.Closer
}

// FileInfo is the stat record common to all families. Fields which a
// family can not produce are zero.
type FileInfo struct {
	Name    string
	Size    int64
	Mode    os.FileMode
	IsDir   bool
	ModTime time.Time
	Atime   time.Time
	Ctime   time.Time

	// Birth time where the filesystem records it.
	Btime time.Time

	Inode      uint64
	Uid        uint32
	Gid        uint32
	LinkTarget string
}

// Entry pairs a child path with its stat during enumeration.
type Entry struct {
	Path string
	Info *FileInfo
}

type Accessor interface {
	Open(path string) (ReadSeekCloser, error)
	Lstat(path string) (*FileInfo, error)
	ReadDir(path string) ([]*Entry, error)
}

// ClassifyError folds an OS error into the engine's error taxonomy.
func ClassifyError(err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return errors.Wrap(ErrNotFound, err.Error())
	case os.IsPermission(err):
		return errors.Wrap(ErrPermissionDenied, err.Error())
	case isSharingViolation(err):
		return errors.Wrap(ErrLocked, err.Error())
	default:
		return err
	}
}
