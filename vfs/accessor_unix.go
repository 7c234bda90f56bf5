//go:build linux || darwin
// +build linux darwin

package vfs

import (
	"os"
	"path/filepath"
)

type OSAccessor struct{}

// NewAccessor builds the platform accessor. On unix hosts the
// standard open path is sufficient - there are no mandatory locks to
// bypass.
func NewAccessor() (Accessor, error) {
	err := checkPlatform()
	if err != nil {
		return nil, err
	}
	return &OSAccessor{}, nil
}

func (self *OSAccessor) Open(path string) (ReadSeekCloser, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, ClassifyError(err)
	}
	return fd, nil
}

func (self *OSAccessor) Lstat(path string) (*FileInfo, error) {
	stat, err := os.Lstat(path)
	if err != nil {
		return nil, ClassifyError(err)
	}

	info := newFileInfo(path, stat)
	if stat.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err == nil {
			info.LinkTarget = target
		}
	}

	return info, nil
}

func (self *OSAccessor) ReadDir(path string) ([]*Entry, error) {
	children, err := os.ReadDir(path)
	if err != nil {
		return nil, ClassifyError(err)
	}

	result := make([]*Entry, 0, len(children))
	for _, child := range children {
		child_path := filepath.Join(path, child.Name())

		stat, err := os.Lstat(child_path)
		if err != nil {
			// The child disappeared between enumeration and stat.
			continue
		}

		result = append(result, &Entry{
			Path: child_path,
			Info: newFileInfo(child_path, stat),
		})
	}

	return result, nil
}

func isSharingViolation(err error) bool {
	return false
}
