// Package uploads contains the terminal sinks for the archive byte
// stream: local file, S3 multipart and SFTP. All sinks present the
// same contract so the pipeline does not care where bytes land.
package uploads

import (
	"time"

	"golang.org/x/time/rate"
)

// Sink is the terminal byte destination. Write and Flush may be
// called repeatedly; exactly one of Complete or Abort finishes the
// sink. Abort is idempotent and must clean up remote state.
type Sink interface {
	Write(buf []byte) (int, error)
	Flush() error
	Complete() error
	Abort() error
}

// Progress events are pushed to the driver at most about once per
// second, only when bytes are written; there is no periodic event
// while the transfer is idle. The final report is always delivered.
type Progress struct {
	BytesSent      int64
	TotalEstimated int64

	// Bytes per second over the life of the transfer.
	Rate float64
}

type ProgressFunc func(p Progress)

// progressReporter throttles callback delivery to about 1Hz while
// always delivering the final report.
type progressReporter struct {
	cb      ProgressFunc
	limiter *rate.Limiter
	start   time.Time
	total   int64
	sent    int64
}

func newProgressReporter(cb ProgressFunc, total int64) *progressReporter {
	return &progressReporter{
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		start:   time.Now(),
		total:   total,
	}
}

func (self *progressReporter) add(n int64) {
	self.sent += n
	if self.cb == nil || !self.limiter.Allow() {
		return
	}
	self.emit()
}

func (self *progressReporter) final() {
	if self.cb == nil {
		return
	}
	self.emit()
}

func (self *progressReporter) emit() {
	elapsed := time.Since(self.start).Seconds()
	rate_bps := float64(0)
	if elapsed > 0 {
		rate_bps = float64(self.sent) / elapsed
	}

	self.cb(Progress{
		BytesSent:      self.sent,
		TotalEstimated: self.total,
		Rate:           rate_bps,
	})
}

// WriteCloserSink adapts a Sink into the io.WriteCloser the
// container pipeline expects; Close completes the sink.
type WriteCloserSink struct {
	Sink
}

func (self *WriteCloserSink) Close() error {
	err := self.Flush()
	if err != nil {
		return err
	}
	return self.Complete()
}
