package utils

import (
	"context"
	"io"
	"sync"
)

var (
	pool = sync.Pool{
		New: func() interface{} {
			buffer := make([]byte, 1024*1024)
			return &buffer
		},
	}
)

// An io.Copy() that respects context cancellations. On cancellation
// the copy stops at the next buffer boundary and reports the bytes
// moved so far together with the context error.
func Copy(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	offset := int64(0)
	buff := pool.Get().(*[]byte)
	defer pool.Put(buff)

	for {
		select {
		case <-ctx.Done():
			return offset, ctx.Err()

		default:
			n, err := src.Read(*buff)
			if err != nil && err != io.EOF {
				return offset, err
			}

			if n == 0 {
				return offset, nil
			}

			_, err = dst.Write((*buff)[:n])
			if err != nil {
				return offset, err
			}
			offset += int64(n)
		}
	}
}

// CopyN copies up to count bytes, stopping at cancellation or EOF.
func CopyN(ctx context.Context, dst io.Writer, src io.Reader, count int64) (
	int64, error) {
	offset := int64(0)
	buff := pool.Get().(*[]byte)
	defer pool.Put(buff)

	for count > 0 {
		select {
		case <-ctx.Done():
			return offset, ctx.Err()

		default:
			read_buff := *buff
			if count < int64(len(read_buff)) {
				read_buff = read_buff[:count]
			}

			n, err := src.Read(read_buff)
			if err != nil && err != io.EOF {
				return offset, err
			}

			if n == 0 {
				return offset, nil
			}

			_, err = dst.Write(read_buff[:n])
			if err != nil {
				return offset, err
			}
			offset += int64(n)
			count -= int64(n)
		}
	}
	return offset, nil
}

type TeeWriter struct {
	writers []io.Writer
}

// NewTee fans a write out to all the given writers. Used to hash a
// source file while it is copied into the staging tree.
func NewTee(writers ...io.Writer) *TeeWriter {
	return &TeeWriter{writers: writers}
}

func (self *TeeWriter) Write(buf []byte) (int, error) {
	for _, w := range self.writers {
		_, err := w.Write(buf)
		if err != nil {
			return 0, err
		}
	}
	return len(buf), nil
}
