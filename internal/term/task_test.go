package term

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, l Live, within time.Duration) {
	t.Helper()
	select {
	case <-l.Done():
	case <-time.After(within):
		t.Fatalf("session did not finish within %s", within)
	}
}

func TestGo_CollectsOutput(t *testing.T) {
	task := Go(context.Background(), "count", func(ctx context.Context, out io.Writer) error {
		for i := 1; i <= 3; i++ {
			fmt.Fprintf(out, "n=%d\n", i)
		}
		fmt.Fprint(out, "tail")
		return nil
	})

	waitDone(t, task, 2*time.Second)
	require.Equal(t, "n=1\nn=2\nn=3\ntail", task.Output())
	require.Equal(t, "tail", task.LatestChunk())
	require.NoError(t, task.Err())
	require.False(t, task.Cancelled())
	require.Equal(t, "count", task.Label())
}

func TestGo_ReturnsError(t *testing.T) {
	boom := errors.New("boom")
	task := Go(context.Background(), "fail", func(context.Context, io.Writer) error {
		return boom
	})

	waitDone(t, task, 2*time.Second)
	require.ErrorIs(t, task.Err(), boom)
}

func TestGo_RecoversPanic(t *testing.T) {
	task := Go(context.Background(), "panic", func(_ context.Context, out io.Writer) error {
		fmt.Fprintln(out, "before")
		panic("kaboom")
	})

	waitDone(t, task, 2*time.Second)
	require.ErrorContains(t, task.Err(), "kaboom")
	require.Equal(t, "before", task.Output())
}

func TestGo_CancelStopsFunction(t *testing.T) {
	started := make(chan struct{})
	task := Go(context.Background(), "block", func(ctx context.Context, out io.Writer) error {
		fmt.Fprintln(out, "waiting")
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	task.Cancel()
	waitDone(t, task, 2*time.Second)

	require.True(t, task.Cancelled())
	require.ErrorIs(t, task.Err(), context.Canceled)
	require.Equal(t, "waiting", task.Output())
}

func TestGo_CancelAfterFinishIsNoop(t *testing.T) {
	task := Go(context.Background(), "quick", func(context.Context, io.Writer) error { return nil })
	waitDone(t, task, 2*time.Second)

	task.Cancel()
	require.False(t, task.Cancelled())
}

func TestGo_ParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := Go(ctx, "parent", func(ctx context.Context, _ io.Writer) error {
		<-ctx.Done()
		return ctx.Err()
	})

	cancel()
	waitDone(t, task, 2*time.Second)
	require.ErrorIs(t, task.Err(), context.Canceled)
	require.False(t, task.Cancelled())
}

func TestGo_InitializedBySilentStartupWait(t *testing.T) {
	task := Go(context.Background(), "silent", func(ctx context.Context, _ io.Writer) error {
		<-ctx.Done()
		return nil
	}, WithStartupWait(30*time.Millisecond))
	defer task.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, task.AwaitInitialized(ctx))
	require.False(t, task.Finished())
}
