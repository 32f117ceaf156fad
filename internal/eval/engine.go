// Package eval runs user-supplied Lua snippets in a sandboxed interpreter.
//
// An Engine keeps one interpreter state alive across calls so globals set by
// one snippet are visible to the next. Only the base, table, string and math
// libraries are available; everything that can reach the filesystem or load
// code from outside the snippet is removed.
package eval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// ErrEngineClosed is returned when evaluating on a closed engine.
var ErrEngineClosed = errors.New("eval: engine closed")

// removedGlobals are base-library functions that load code from outside
// the snippet.
var removedGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"require",
	"module",
}

// Engine is a sandboxed Lua interpreter. It is safe for concurrent use;
// evaluations are serialized.
type Engine struct {
	// sem is a one-slot lock so waiting for a running evaluation can be
	// abandoned through ctx.
	sem    chan struct{}
	L      *lua.LState
	out    io.Writer
	closed bool
}

// NewEngine returns an engine with a fresh sandboxed state.
func NewEngine() *Engine {
	e := &Engine{sem: make(chan struct{}, 1)}
	e.L = e.newState()
	return e
}

func (e *Engine) newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(e.print))
	return L
}

// print mirrors the base print but writes to the sink of the current
// evaluation.
func (e *Engine) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	if e.out != nil {
		fmt.Fprintln(e.out, strings.Join(parts, "\t"))
	}
	return 0
}

// Evaluate runs code and returns its results tab-joined. The code is tried
// as an expression first and as a chunk of statements otherwise. Anything
// the snippet prints goes to out. Cancelling ctx interrupts the snippet and
// discards the engine's globals.
func (e *Engine) Evaluate(ctx context.Context, code string, out io.Writer) (string, error) {
	if err := e.acquire(ctx); err != nil {
		return "", fmt.Errorf("eval interrupted: %w", err)
	}
	defer e.release()

	if e.closed {
		return "", ErrEngineClosed
	}

	fn, err := e.L.LoadString("return " + code)
	if err != nil {
		fn, err = e.L.LoadString(code)
		if err != nil {
			return "", err
		}
	}

	e.out = out
	defer func() { e.out = nil }()

	base := e.L.GetTop()
	e.L.Push(fn)
	e.L.SetContext(ctx)
	err = e.L.PCall(0, lua.MultRet, nil)
	e.L.RemoveContext()

	if err != nil && ctx.Err() != nil {
		// An interrupted state may be left mid-call; start over.
		e.L.Close()
		e.L = e.newState()
		return "", fmt.Errorf("eval interrupted: %w", ctx.Err())
	}
	if err != nil {
		e.L.SetTop(base)
		return "", err
	}

	n := e.L.GetTop() - base
	results := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		results = append(results, e.L.ToStringMeta(e.L.Get(base+i)).String())
	}
	e.L.SetTop(base)
	return strings.Join(results, "\t"), nil
}

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() {
	<-e.sem
}

// Reset discards all globals defined by earlier evaluations.
func (e *Engine) Reset() {
	_ = e.acquire(context.Background())
	defer e.release()

	if e.closed {
		return
	}
	e.L.Close()
	e.L = e.newState()
}

// Close releases the interpreter. Further evaluations fail with
// ErrEngineClosed.
func (e *Engine) Close() {
	_ = e.acquire(context.Background())
	defer e.release()

	if e.closed {
		return
	}
	e.closed = true
	e.L.Close()
}
