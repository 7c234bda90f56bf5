package container

import (
	"archive/zip"
	"bytes"
	"hash/crc32"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closableBuffer struct {
	bytes.Buffer
}

func (self *closableBuffer) Close() error {
	return nil
}

func buildArchive(t *testing.T, build func(c *Container)) *zip.Reader {
	t.Helper()

	buf := &closableBuffer{}
	archive, err := NewContainer(buf, "")
	require.NoError(t, err)

	build(archive)

	require.NoError(t, archive.Close())

	reader, err := zip.NewReader(
		bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	return reader
}

func readMember(t *testing.T, reader *zip.Reader, name string) []byte {
	t.Helper()
	for _, member := range reader.File {
		if member.Name == name {
			fd, err := member.Open()
			require.NoError(t, err)
			defer fd.Close()

			// Reading verifies the stored CRC.
			data, err := io.ReadAll(fd)
			require.NoError(t, err)
			return data
		}
	}
	t.Fatalf("member %v not found", name)
	return nil
}

func TestRoundTrip(t *testing.T) {
	payload := []byte("some log content\nmore content\n")

	reader := buildArchive(t, func(c *Container) {
		sink, err := c.Create("fs/var/log/syslog", time.Now(), -1)
		require.NoError(t, err)

		_, err = sink.Write(payload)
		require.NoError(t, err)

		assert.Equal(t, int64(len(payload)), sink.Size())
		assert.Equal(t, crc32.ChecksumIEEE(payload), sink.CRC32())
		require.NoError(t, sink.Close())
	})

	assert.Equal(t, payload, readMember(t, reader, "fs/var/log/syslog"))
}

func TestEmptyEntry(t *testing.T) {
	reader := buildArchive(t, func(c *Container) {
		sink, err := c.Create("fs/empty", time.Now(), 0)
		require.NoError(t, err)
		assert.Equal(t, int64(0), sink.Size())
		assert.Equal(t, uint32(0), sink.CRC32())
		require.NoError(t, sink.Close())
	})

	for _, member := range reader.File {
		if member.Name == "fs/empty" {
			assert.Equal(t, uint64(0), member.UncompressedSize64)
			assert.Equal(t, uint32(0), member.CRC32)
			return
		}
	}
	t.Fatal("empty entry missing")
}

func TestAdaptiveCompression(t *testing.T) {
	reader := buildArchive(t, func(c *Container) {
		require.NoError(t, c.WriteEntry(
			"fs/report.txt", time.Now(), []byte("text text text")))
		require.NoError(t, c.WriteEntry(
			"fs/image.jpg", time.Now(), []byte("binary")))
		require.NoError(t, c.WriteEntry(
			"fs/backup.gz", time.Now(), []byte("gz")))
	})

	methods := map[string]uint16{}
	for _, member := range reader.File {
		methods[member.Name] = member.Method
	}

	assert.Equal(t, uint16(zip.Deflate), methods["fs/report.txt"])
	assert.Equal(t, uint16(zip.Store), methods["fs/image.jpg"])
	assert.Equal(t, uint16(zip.Store), methods["fs/backup.gz"])
}

func TestLargeEntrySelectsFastDeflate(t *testing.T) {
	method, level := chooseCompression("fs/huge.raw", 200*1024*1024)
	assert.Equal(t, uint16(8), method)
	assert.Equal(t, int32(1), level)

	method, _ = chooseCompression("fs/small.raw", 1024)
	assert.Equal(t, uint16(8), method)
}

func TestRejectsTraversal(t *testing.T) {
	buf := &closableBuffer{}
	archive, err := NewContainer(buf, "")
	require.NoError(t, err)
	defer archive.Close()

	_, err = archive.Create("../escape", time.Now(), -1)
	assert.Error(t, err)

	_, err = archive.Create("/absolute", time.Now(), -1)
	assert.Error(t, err)
}

func TestEntrySerialization(t *testing.T) {
	reader := buildArchive(t, func(c *Container) {
		first, err := c.Create("a", time.Now(), -1)
		require.NoError(t, err)
		first.Write([]byte("a"))
		require.NoError(t, first.Close())

		// A second entry can only open after the first closed.
		second, err := c.Create("b", time.Now(), -1)
		require.NoError(t, err)
		second.Write([]byte("b"))
		require.NoError(t, second.Close())
	})

	assert.Equal(t, []byte("a"), readMember(t, reader, "a"))
	assert.Equal(t, []byte("b"), readMember(t, reader, "b"))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "a/b/c", normalizeName(`a\b/c`))
	assert.Equal(t, "x", normalizeName("./x"))
	assert.Equal(t, "etc/passwd", normalizeName("etc//passwd"))
}
