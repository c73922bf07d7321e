package stream

import (
	"context"
	"os"
	"time"
)

// WaitForFile polls until path exists, the timeout elapses or ctx is
// cancelled. Returns ErrNotReady on deadline expiry.
func WaitForFile(ctx context.Context, path string, timeout, poll time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		_, err := os.Stat(path)
		if err == nil {
			return nil
		}
		if !os.IsNotExist(err) {
			return err
		}

		if time.Now().After(deadline) {
			return ErrNotReady
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}
