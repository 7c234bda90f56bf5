// Package bodyfile renders a Sleuthkit compatible timeline of the
// acquired tree: one pipe separated line per inode.
package bodyfile

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"www.velocidex.com/golang/triage/hashing"
	"www.velocidex.com/golang/triage/logging"
	"www.velocidex.com/golang/triage/vfs"
)

type Options struct {
	// Include the SHA-256 column; files over HashMaxSize carry "0".
	CalculateHash bool
	HashMaxSize   int64

	// Paths under these prefixes are omitted entirely.
	SkipPaths []string

	// Timestamps default to ISO-8601 UTC; epoch seconds is the
	// compatibility representation understood by older mactime.
	UseISO8601 bool
}

// Generator walks a staging tree in parallel, one worker per
// directory, and emits bodyfile lines through a single writer.
type Generator struct {
	accessor vfs.Accessor
	opts     Options
	hasher   *hashing.Hasher

	mu     sync.Mutex
	writer io.Writer
}

func NewGenerator(accessor vfs.Accessor,
	writer io.Writer, opts Options) *Generator {

	return &Generator{
		accessor: accessor,
		opts:     opts,
		writer:   writer,
		hasher: &hashing.Hasher{
			MaxSize: opts.HashMaxSize,
		},
	}
}

// Generate walks root and writes one line per file. Line order is
// deterministic within a directory (lexical); directory order
// follows the parallel walk and is not guaranteed.
func (self *Generator) Generate(ctx context.Context, root string) error {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.NumCPU())

	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := self.accessor.ReadDir(dir)
		if err != nil {
			return err
		}

		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Path < entries[j].Path
		})

		var lines []string
		for _, entry := range entries {
			if self.skipped(entry.Path) {
				continue
			}

			if entry.Info.IsDir {
				subdir := entry.Path
				// Walk inline when all workers are busy - blocking
				// in Go here could deadlock the pool.
				if !group.TryGo(func() error {
					return walk(subdir)
				}) {
					err := walk(subdir)
					if err != nil {
						return err
					}
				}
				continue
			}

			line, err := self.renderLine(ctx, entry)
			if err != nil {
				logging.GetLogger("bodyfile").
					Warnf("skipping %v: %v", entry.Path, err)
				continue
			}
			lines = append(lines, line)
		}

		if len(lines) > 0 {
			self.mu.Lock()
			defer self.mu.Unlock()
			for _, line := range lines {
				_, err := io.WriteString(self.writer, line)
				if err != nil {
					return err
				}
			}
		}
		return nil
	}

	group.Go(func() error {
		return walk(root)
	})

	return group.Wait()
}

func (self *Generator) skipped(path string) bool {
	normalized := filepath.ToSlash(path)
	for _, prefix := range self.opts.SkipPaths {
		if strings.HasPrefix(normalized, filepath.ToSlash(prefix)) {
			return true
		}
	}
	return false
}

// renderLine emits the 11 field schema:
// hash|path|inode|mode|uid|gid|size|atime|mtime|ctime|crtime
func (self *Generator) renderLine(
	ctx context.Context, entry *vfs.Entry) (string, error) {

	hash_column := "0"
	if self.opts.CalculateHash {
		result, err := self.hasher.HashFile(ctx,
			entry.Path, entry.Info.Size,
			func(path string) (io.ReadCloser, error) {
				return self.accessor.Open(path)
			})
		if err != nil {
			return "", err
		}
		if result.Sha256 != "" {
			hash_column = result.Sha256
		}
	}

	fields := []string{
		hash_column,
		filepath.ToSlash(entry.Path),
		strconv.FormatUint(entry.Info.Inode, 10),
		fmt.Sprintf("%o", entry.Info.Mode.Perm()),
		strconv.FormatUint(uint64(entry.Info.Uid), 10),
		strconv.FormatUint(uint64(entry.Info.Gid), 10),
		strconv.FormatInt(entry.Info.Size, 10),
		self.renderTime(entry.Info.Atime),
		self.renderTime(entry.Info.ModTime),
		self.renderTime(entry.Info.Ctime),
		self.renderTime(entry.Info.Btime),
	}

	return strings.Join(fields, "|") + "\n", nil
}

func (self *Generator) renderTime(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	if self.opts.UseISO8601 {
		return t.UTC().Format("2006-01-02T15:04:05Z")
	}
	return strconv.FormatInt(t.Unix(), 10)
}
