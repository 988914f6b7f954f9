package retry

import (
	"context"
	"errors"
	"net"
	"time"
)

// IsTimeout reports whether err is a network or deadline timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Delay returns the backoff before the given retry attempt.
func Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second || d <= 0 {
		d = 5 * time.Second
	}
	return d
}

// OnTimeout calls fn up to maxRetries+1 times, retrying only when fn fails with a
// timeout and the parent context is still live.
func OnTimeout(ctx context.Context, maxRetries int, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn(ctx)
		if err == nil || !IsTimeout(err) || ctx.Err() != nil {
			return err
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(sleep(attempt)):
		}
	}
	return err
}

// sleep is replaced in tests.
var sleep = Delay
