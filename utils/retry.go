package utils

import (
	"context"
	"time"
)

// Backoff doubles the delay between attempts starting at Initial and
// capping at Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (self Backoff) Delay(attempt int) time.Duration {
	delay := self.Initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= self.Max {
			return self.Max
		}
	}
	return delay
}

// Retry runs cb up to attempts times, sleeping according to the
// backoff schedule between failures. The last error is returned if
// all attempts fail. Cancellation interrupts the sleep.
func Retry(ctx context.Context,
	attempts int, backoff Backoff, cb func() error) error {
	var err error

	for i := 0; i < attempts; i++ {
		err = cb()
		if err == nil {
			return nil
		}

		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff.Delay(i)):
		}
	}
	return err
}
