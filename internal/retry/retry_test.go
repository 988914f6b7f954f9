package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func noSleep(t *testing.T) {
	orig := sleep
	sleep = func(int) time.Duration { return 0 }
	t.Cleanup(func() { sleep = orig })
}

func TestOnTimeout_RetriesTimeoutsOnly(t *testing.T) {
	noSleep(t)

	calls := 0
	err := OnTimeout(context.Background(), 2, func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 3, calls)

	calls = 0
	boom := errors.New("bad request")
	err = OnTimeout(context.Background(), 2, func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestOnTimeout_SucceedsAfterTimeout(t *testing.T) {
	noSleep(t)

	calls := 0
	err := OnTimeout(context.Background(), 3, func(context.Context) error {
		calls++
		if calls < 2 {
			return context.DeadlineExceeded
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestOnTimeout_StopsWhenParentDone(t *testing.T) {
	noSleep(t)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := OnTimeout(ctx, 5, func(context.Context) error {
		calls++
		cancel()
		return context.DeadlineExceeded
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDelay(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, Delay(0))
	assert.Equal(t, 400*time.Millisecond, Delay(1))
	assert.Equal(t, 5*time.Second, Delay(10))
	assert.Equal(t, 200*time.Millisecond, Delay(-3))
}
