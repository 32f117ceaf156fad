//go:build unix

package main

import (
	"strings"
	"testing"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/require"

	"github.com/drew/muxbot/internal/term"
)

func TestCommandFromArgs(t *testing.T) {
	require.Equal(t, "ls -la", commandFromArgs([]string{"ls -la"}, false))
	require.Equal(t, "echo $HOME", commandFromArgs([]string{"echo", "$HOME"}, true))

	got := commandFromArgs([]string{"echo", "it's here", "a b"}, false)
	words, err := shellquote.Split(got)
	require.NoError(t, err)
	require.Equal(t, []string{"echo", "it's here", "a b"}, words)
}

func TestFollowPrintsEveryLineOnce(t *testing.T) {
	s, err := term.Execute("for i in 1 2 3; do echo line$i; sleep 0.1; done",
		term.WithShell("sh"), term.WithGrace(10*time.Millisecond))
	require.NoError(t, err)

	var out, status strings.Builder
	done := make(chan struct{})
	go func() {
		follow(s, &out, &status, false)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Cancel()
		t.Fatal("follow did not return")
	}
	require.Equal(t, "line1\nline2\nline3\n", out.String())
	require.Empty(t, status.String())
}
