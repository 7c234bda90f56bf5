// Streaming content hashing with a size bound. Files over the limit
// are recorded as skipped rather than hashed - hashing a multi GiB
// file during triage costs more than the hash is worth.
package hashing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
)

// Result of hashing one file.
type Result struct {
	// Hex encoded SHA-256, empty when skipped.
	Sha256 string

	// Set when the file exceeded MaxSize.
	SkippedTooLarge bool

	BytesHashed int64
}

type Hasher struct {
	// MaxSize of 0 means unlimited.
	MaxSize int64

	// Path prefixes excluded from hashing entirely.
	SkipPrefixes []string
}

// ShouldSkip reports whether the path is under a skip prefix.
func (self *Hasher) ShouldSkip(path string) bool {
	for _, prefix := range self.SkipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// HashReader streams the reader through SHA-256. The size is checked
// up front by the caller via HashFile; when the stream runs past
// MaxSize the hash is abandoned.
func (self *Hasher) HashReader(
	ctx context.Context, reader io.Reader) (*Result, error) {

	hasher := sha256.New()
	buf := make([]byte, 1024*1024)
	total := int64(0)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		n, err := reader.Read(buf)
		if n > 0 {
			total += int64(n)
			if self.MaxSize > 0 && total > self.MaxSize {
				return &Result{SkippedTooLarge: true}, nil
			}
			hasher.Write(buf[:n])
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	return &Result{
		Sha256:      hex.EncodeToString(hasher.Sum(nil)),
		BytesHashed: total,
	}, nil
}

// HashFile hashes a file already known to be size bytes long,
// skipping the read entirely when it is over the limit.
func (self *Hasher) HashFile(ctx context.Context,
	path string, size int64,
	open func(path string) (io.ReadCloser, error)) (*Result, error) {

	if self.ShouldSkip(path) {
		return &Result{}, nil
	}

	if self.MaxSize > 0 && size > self.MaxSize {
		return &Result{SkippedTooLarge: true}, nil
	}

	fd, err := open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	return self.HashReader(ctx, fd)
}
