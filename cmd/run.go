package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
	xterm "golang.org/x/term"

	"github.com/drew/muxbot/internal/term"
)

var runShell bool

var runCmd = &cobra.Command{
	Use:   "run [--shell] -- <command> [args...]",
	Short: "Run one command locally, following its output like the bot does",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLocal,
}

func init() {
	runCmd.Flags().BoolVarP(&runShell, "shell", "s", false, "run the command through the configured shell")
}

// commandFromArgs rebuilds a command line from argv. A single argument is
// taken verbatim so that `muxbot run "ls -la"` works.
func commandFromArgs(args []string, shell bool) string {
	if len(args) == 1 || shell {
		return strings.Join(args, " ")
	}
	return shellquote.Join(args...)
}

func runLocal(cmd *cobra.Command, args []string) error {
	opts := []term.Option{
		term.WithGrace(cfg.Live.Grace),
		term.WithStartupWait(cfg.Live.StartupWait),
		term.WithLogger(logger),
	}
	if cfg.WorkDir != "" {
		opts = append(opts, term.WithDir(cfg.WorkDir))
	}
	if runShell {
		opts = append(opts, term.WithShell(cfg.Shell))
	}

	s, err := term.Execute(commandFromArgs(args, runShell), opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		select {
		case <-ctx.Done():
			s.Cancel()
		case <-s.Done():
		}
	}()

	follow(s, cmd.OutOrStdout(), os.Stderr, xterm.IsTerminal(int(os.Stderr.Fd())))

	switch {
	case s.Cancelled():
		return errors.New("cancelled")
	case s.Err() != nil:
		return s.Err()
	}
	return nil
}

// follow prints each new line of l to out until it finishes. With status
// set, a one-line progress indicator is kept at the bottom of errOut.
func follow(l term.Live, out, errOut io.Writer, status bool) {
	started := time.Now()
	printed := 0
	for {
		l.AwaitUpdate(context.Background(), time.Second)
		finished := l.Finished()

		lines := l.Since(printed)
		if status {
			fmt.Fprint(errOut, "\r\033[K")
		}
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
		printed += len(lines)

		if finished {
			return
		}
		if status {
			fmt.Fprintf(errOut, "[running %s, %d lines]", time.Since(started).Round(time.Second), printed)
		}
	}
}
