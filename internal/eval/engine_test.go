package eval

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvaluate_Expression(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	got, err := e.Evaluate(context.Background(), "1 + 2", nil)
	require.NoError(t, err)
	require.Equal(t, "3", got)

	got, err = e.Evaluate(context.Background(), `string.upper("abc"), #"four"`, nil)
	require.NoError(t, err)
	require.Equal(t, "ABC\t4", got)
}

func TestEvaluate_ChunkAndPersistentGlobals(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	got, err := e.Evaluate(context.Background(), "x = 40", nil)
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = e.Evaluate(context.Background(), "x + 2", nil)
	require.NoError(t, err)
	require.Equal(t, "42", got)

	got, err = e.Evaluate(context.Background(), "local t = {} for i = 1, 3 do t[#t+1] = i * x end return table.concat(t, ',')", nil)
	require.NoError(t, err)
	require.Equal(t, "40,80,120", got)
}

func TestEvaluate_PrintWritesToSink(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	var out bytes.Buffer
	got, err := e.Evaluate(context.Background(), `print("hello", 1, nil) print("again")`, &out)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, "hello\t1\tnil\nagain\n", out.String())

	// A later evaluation without a sink does not write to the old one.
	_, err = e.Evaluate(context.Background(), `print("dropped")`, nil)
	require.NoError(t, err)
	require.Equal(t, "hello\t1\tnil\nagain\n", out.String())
}

func TestEvaluate_Sandbox(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	for _, name := range []string{"io", "os", "debug", "package", "dofile", "loadfile", "load", "loadstring", "require", "module"} {
		got, err := e.Evaluate(context.Background(), "type("+name+")", nil)
		require.NoError(t, err)
		require.Equal(t, "nil", got, name)
	}

	_, err := e.Evaluate(context.Background(), `os.execute("true")`, nil)
	require.Error(t, err)
}

func TestEvaluate_Errors(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	_, err := e.Evaluate(context.Background(), "this is not lua", nil)
	require.Error(t, err)

	_, err = e.Evaluate(context.Background(), `error("custom failure")`, nil)
	require.ErrorContains(t, err, "custom failure")

	// The state stays usable after an error.
	got, err := e.Evaluate(context.Background(), "math.floor(10 / 3)", nil)
	require.NoError(t, err)
	require.Equal(t, "3", got)
}

func TestEvaluate_ContextInterruptsLoop(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	_, err := e.Evaluate(context.Background(), "kept = 1", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = e.Evaluate(ctx, "while true do end", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)

	got, err := e.Evaluate(context.Background(), "kept == nil", nil)
	require.NoError(t, err)
	require.Equal(t, "true", got)
}

func TestReset(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	_, err := e.Evaluate(context.Background(), "y = 5", nil)
	require.NoError(t, err)

	e.Reset()
	got, err := e.Evaluate(context.Background(), "y", nil)
	require.NoError(t, err)
	require.Equal(t, "nil", got)
}

func TestClose(t *testing.T) {
	e := NewEngine()
	e.Close()
	e.Close()
	e.Reset()

	_, err := e.Evaluate(context.Background(), "1", nil)
	require.ErrorIs(t, err, ErrEngineClosed)
}

func TestEvaluate_QueuedCallHonoursContext(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	busyCtx, stopBusy := context.WithCancel(context.Background())
	busyDone := make(chan struct{})
	go func() {
		defer close(busyDone)
		_, _ = e.Evaluate(busyCtx, "while true do end", nil)
	}()
	// Let the first evaluation take the engine.
	require.Eventually(t, func() bool { return len(e.sem) == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := e.Evaluate(ctx, "1", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)

	stopBusy()
	select {
	case <-busyDone:
	case <-time.After(2 * time.Second):
		t.Fatal("busy evaluation was not interrupted")
	}

	got, err := e.Evaluate(context.Background(), "2 * 21", nil)
	require.NoError(t, err)
	require.Equal(t, "42", got)
}
