// The archive pipeline: a streaming zip container. Entries are
// written strictly one at a time; payload sizes are unknown at entry
// open so the writer emits streaming data descriptors. Entry CRCs
// are counted alongside the payload as it flows through.
package container

import (
	"compress/flate"
	"hash"
	"hash/crc32"
	"io"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexmullins/zip"
	"github.com/pkg/errors"
	"www.velocidex.com/golang/triage/pathsafe"
)

// Entries at least this large compress with the fastest deflate
// level - ratio matters less than throughput at that size.
const fast_compression_threshold = 100 * 1024 * 1024

// Extensions which are already compressed and only waste CPU in
// deflate.
var stored_extensions = map[string]bool{
	".zip": true, ".7z": true, ".gz": true, ".bz2": true,
	".xz": true, ".zst": true, ".jpg": true, ".jpeg": true,
	".png": true, ".gif": true, ".mp4": true, ".mkv": true,
	".avi": true, ".mp3": true, ".flac": true, ".pdf": true,
	".docx": true, ".xlsx": true,
}

type Container struct {
	mu sync.Mutex

	fd  io.WriteCloser
	zip *zip.Writer

	// With a password the payload zip is nested inside an encrypted
	// member of the outer zip, so member names are hidden too.
	delegate_zip *zip.Writer

	// Deflate level for the entry currently being written. Entries
	// are serialized on mu so a plain atomic is enough for the
	// compressor callback.
	current_level int32

	closed bool
}

// NewContainer wraps a sink with the zip pipeline. The password is
// optional; when set the payload is nested as in the encrypted
// container layout used by collection servers.
func NewContainer(fd io.WriteCloser, password string) (*Container, error) {
	self := &Container{
		fd:            fd,
		zip:           zip.NewWriter(fd),
		current_level: int32(flate.DefaultCompression),
	}

	writer := self.zip

	if password != "" {
		inner_fd, err := self.zip.Encrypt("data.zip", password)
		if err != nil {
			return nil, err
		}
		self.delegate_zip = zip.NewWriter(inner_fd)
		writer = self.delegate_zip
	}

	writer.RegisterCompressor(zip.Deflate,
		func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out,
				int(atomic.LoadInt32(&self.current_level)))
		})

	return self, nil
}

func (self *Container) writer() *zip.Writer {
	if self.delegate_zip != nil {
		return self.delegate_zip
	}
	return self.zip
}

// EntrySink is the append only byte sink for one archive entry.
// Close finalizes the entry and releases the container for the next
// writer.
type EntrySink struct {
	container *Container
	writer    io.Writer
	crc       hash.Hash32
	count     int64
	closed    bool
}

func (self *EntrySink) Write(buf []byte) (int, error) {
	n, err := self.writer.Write(buf)
	if n > 0 {
		self.crc.Write(buf[:n])
		self.count += int64(n)
	}
	return n, err
}

// Size returns the bytes written so far.
func (self *EntrySink) Size() int64 {
	return self.count
}

// CRC32 of the bytes written so far.
func (self *EntrySink) CRC32() uint32 {
	return self.crc.Sum32()
}

func (self *EntrySink) Close() error {
	if self.closed {
		return nil
	}
	self.closed = true
	self.container.mu.Unlock()
	return nil
}

// Create opens a new entry. The caller must Close the returned sink
// before another entry can be opened - the container is a single
// writer pipeline. expected_size may be -1 when unknown.
func (self *Container) Create(relative_path string,
	mtime time.Time, expected_size int64) (*EntrySink, error) {

	err := pathsafe.ValidateDestination(relative_path)
	if err != nil {
		return nil, err
	}

	self.mu.Lock()

	if self.closed {
		self.mu.Unlock()
		return nil, errors.New("container already closed")
	}

	method, level := chooseCompression(relative_path, expected_size)
	atomic.StoreInt32(&self.current_level, level)

	header := &zip.FileHeader{
		Name:   normalizeName(relative_path),
		Method: method,
	}
	if mtime.IsZero() {
		mtime = time.Now()
	}
	header.SetModTime(mtime)

	writer, err := self.writer().CreateHeader(header)
	if err != nil {
		self.mu.Unlock()
		return nil, err
	}

	return &EntrySink{
		container: self,
		writer:    writer,
		crc:       crc32.NewIEEE(),
	}, nil
}

// WriteEntry is the convenience path for small fully formed blobs.
func (self *Container) WriteEntry(relative_path string,
	mtime time.Time, data []byte) error {

	sink, err := self.Create(relative_path, mtime, int64(len(data)))
	if err != nil {
		return err
	}

	_, err = sink.Write(data)
	if err != nil {
		sink.Close()
		return err
	}
	return sink.Close()
}

// chooseCompression picks store for already compressed payloads and
// the fastest deflate level for very large entries.
func chooseCompression(name string, expected_size int64) (uint16, int32) {
	ext := strings.ToLower(path.Ext(name))
	if stored_extensions[ext] {
		return zip.Store, int32(flate.DefaultCompression)
	}

	if expected_size >= fast_compression_threshold {
		return zip.Deflate, int32(flate.BestSpeed)
	}

	return zip.Deflate, int32(flate.DefaultCompression)
}

// Zip member names are slash separated and never absolute.
func normalizeName(relative_path string) string {
	components := []string{}
	for _, component := range strings.Split(
		strings.ReplaceAll(relative_path, "\\", "/"), "/") {
		if component == "" || component == "." || component == ".." {
			continue
		}
		components = append(components, component)
	}
	return strings.Join(components, "/")
}

// Close flushes the central directory and seals the container.
func (self *Container) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.closed {
		return nil
	}
	self.closed = true

	if self.delegate_zip != nil {
		err := self.delegate_zip.Close()
		if err != nil {
			return err
		}
	}

	err := self.zip.Close()
	if err != nil {
		return err
	}

	return self.fd.Close()
}
