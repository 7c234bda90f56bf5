package uploads

import (
	"os"
	"path/filepath"
)

// LocalSink stages the archive to a file on disk. It exists so the
// streaming pipeline has a uniform fallback when a network sink
// fails mid transfer.
type LocalSink struct {
	fd       *os.File
	path     string
	progress *progressReporter
	aborted  bool
}

func NewLocalSink(path string, cb ProgressFunc) (*LocalSink, error) {
	err := os.MkdirAll(filepath.Dir(path), 0700)
	if err != nil {
		return nil, err
	}

	fd, err := os.OpenFile(path,
		os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}

	return &LocalSink{
		fd:       fd,
		path:     path,
		progress: newProgressReporter(cb, 0),
	}, nil
}

func (self *LocalSink) Path() string {
	return self.path
}

func (self *LocalSink) Write(buf []byte) (int, error) {
	n, err := self.fd.Write(buf)
	self.progress.add(int64(n))
	return n, err
}

func (self *LocalSink) Flush() error {
	return self.fd.Sync()
}

func (self *LocalSink) Complete() error {
	self.progress.final()
	return self.fd.Close()
}

// Abort removes the partial file.
func (self *LocalSink) Abort() error {
	if self.aborted {
		return nil
	}
	self.aborted = true

	self.fd.Close()
	return os.Remove(self.path)
}
