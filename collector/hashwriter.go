package collector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"www.velocidex.com/golang/triage/executor"
)

// hashWriter streams chunks from the I/O runner to a compute pool
// worker over a bounded channel, so digest work never runs on the
// I/O path.
type hashWriter struct {
	chunks chan []byte
	done   <-chan struct{}
	digest string
}

func newHashWriter(ctx context.Context,
	pool *executor.ComputePool) (*hashWriter, error) {

	self := &hashWriter{
		chunks: make(chan []byte, 4),
	}

	done, err := pool.Submit(ctx, func() {
		hasher := sha256.New()
		for chunk := range self.chunks {
			hasher.Write(chunk)
		}
		self.digest = hex.EncodeToString(hasher.Sum(nil))
	})
	if err != nil {
		return nil, err
	}
	self.done = done

	return self, nil
}

func (self *hashWriter) Write(buf []byte) (int, error) {
	// The runner reuses its read buffer - the worker needs a copy.
	chunk := make([]byte, len(buf))
	copy(chunk, buf)
	self.chunks <- chunk
	return len(buf), nil
}

// Close waits for the worker and returns the hex digest.
func (self *hashWriter) Close() string {
	close(self.chunks)
	<-self.done
	return self.digest
}
