package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueue_PerKeyOrder(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 4, Size: 64, Logger: testLogger()})
	q.Start(context.Background())

	var mu sync.Mutex
	seen := map[string][]int{}
	for i := 0; i < 20; i++ {
		for _, key := range []string{"biz:a", "biz:b", "biz:c"} {
			require.NoError(t, q.Submit(key, func(context.Context) {
				mu.Lock()
				seen[key] = append(seen[key], i)
				mu.Unlock()
			}))
		}
	}
	q.Close()

	for key, order := range seen {
		require.Len(t, order, 20, key)
		for i, v := range order {
			require.Equal(t, i, v, "jobs for %s ran out of order", key)
		}
	}
}

func TestQueue_FullTimesOut(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 1, Size: 1, SubmitTimeout: 20 * time.Millisecond, Logger: testLogger()})
	release := make(chan struct{})
	started := make(chan struct{})
	q.Start(context.Background())

	require.NoError(t, q.Submit("k", func(context.Context) { close(started); <-release }))
	<-started
	require.NoError(t, q.Submit("k", func(context.Context) {}))
	require.ErrorIs(t, q.Submit("k", func(context.Context) {}), ErrQueueFull)

	close(release)
	q.Close()
	require.ErrorIs(t, q.Submit("k", func(context.Context) {}), ErrQueueClosed)
}

func TestQueue_PanicDoesNotKillWorker(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 1, Logger: testLogger()})
	q.Start(context.Background())

	ran := false
	require.NoError(t, q.Submit("k", func(context.Context) { panic("boom") }))
	require.NoError(t, q.Submit("k", func(context.Context) { ran = true }))
	q.Close()
	require.True(t, ran)
}
