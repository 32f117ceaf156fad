package bot

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/drew/muxbot/internal/session"
	"github.com/drew/muxbot/internal/term"
)

const (
	evalPrompt  = "lua> "
	listedTasks = 20
	lsColumns   = 3
	lsWidth     = 25
)

// runCommand handles /term and /exec.
func (b *Bot) runCommand(ctx context.Context, msg *tgbotapi.Message, kind session.Kind, command string) {
	if command == "" {
		b.reply(msg, fmt.Sprintf("usage: /%s <command>", kind))
		return
	}
	if fragment, blocked := b.guard.Blocked(command); blocked {
		b.log.Warn("dangerous command blocked", "command", command, "fragment", fragment, "user_id", msg.From.ID)
		b.reply(msg, "dangerous command blocked")
		return
	}

	spec := session.Spec{Kind: kind, Command: command, ChatID: msg.Chat.ID}
	if kind == session.KindExec {
		spec.Shell = b.cfg.Shell
	}
	b.launch(ctx, msg, spec, b.view(msg.Chat.ID, command))
}

// launch starts spec and streams it, reporting start failures in the
// terminal style.
func (b *Bot) launch(ctx context.Context, msg *tgbotapi.Message, spec session.Spec, view terminalView) {
	e, err := b.tasks.Execute(spec)
	if err != nil {
		var spawnErr *term.SpawnError
		switch {
		case errors.As(err, &spawnErr):
			name, _, _ := strings.Cut(strings.TrimSpace(spec.Command), " ")
			b.replyHTML(msg, view.render([]string{fmt.Sprintf("%s: %v", name, spawnErr.Err)}, ""))
		case errors.Is(err, session.ErrTooManyTasks):
			b.reply(msg, "too many running tasks, cancel one with /cancel")
		default:
			b.reply(msg, "error: "+err.Error())
		}
		return
	}
	b.startStream(ctx, msg, e, view)
}

func (b *Bot) startStream(ctx context.Context, msg *tgbotapi.Message, e *session.Entry, view terminalView) {
	b.streams.Add(1)
	go func() {
		defer b.streams.Done()
		b.stream(ctx, msg.Chat.ID, msg.MessageID, e, view)
	}()
}

// runEval handles /eval. Each chat keeps its own Lua globals.
func (b *Bot) runEval(ctx context.Context, msg *tgbotapi.Message, code string) {
	if code == "" {
		b.reply(msg, "usage: /eval <lua>")
		return
	}

	engine := b.engine(msg.Chat.ID)
	timeout := b.cfg.Eval.Timeout
	e, err := b.tasks.Go(session.KindEval, code, msg.Chat.ID, func(ctx context.Context, out io.Writer) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		result, err := engine.Evaluate(ctx, code, out)
		if err != nil {
			return err
		}
		if result != "" {
			fmt.Fprintln(out, result)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, session.ErrTooManyTasks) {
			b.reply(msg, "too many running tasks, cancel one with /cancel")
			return
		}
		b.reply(msg, "error: "+err.Error())
		return
	}

	view := terminalView{prompt: evalPrompt, command: code, maxLen: b.cfg.Live.MaxMessageLength}
	b.startStream(ctx, msg, e, view)
}

func (b *Bot) listTasks(msg *tgbotapi.Message) {
	entries := b.tasks.List()
	if len(entries) == 0 {
		b.reply(msg, "no tasks")
		return
	}
	if len(entries) > listedTasks {
		entries = entries[len(entries)-listedTasks:]
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Tasks (%d running)\n\n", b.tasks.Len())
	for _, e := range entries {
		fmt.Fprintf(&text, "<code>%s</code> %s, %s, %s\n  %s\n",
			e.ID, e.Kind, e.Status(), formatDuration(e.Runtime()),
			html.EscapeString(truncate(e.Command, 80)))
	}
	b.replyHTML(msg, text.String())
}

func (b *Bot) cancelTask(msg *tgbotapi.Message, arg string) {
	switch arg {
	case "":
		b.reply(msg, "usage: /cancel <id|all>")
	case "all":
		n := b.tasks.CancelAll()
		b.reply(msg, fmt.Sprintf("cancelled %d task(s)", n))
	default:
		if err := b.tasks.Cancel(arg); err != nil {
			if errors.Is(err, session.ErrTaskNotFound) {
				b.reply(msg, "no task with id "+arg)
				return
			}
			b.reply(msg, "error: "+err.Error())
			return
		}
		b.reply(msg, "cancelling "+arg)
	}
}

// taskLog sends the complete output of a running or retained task.
func (b *Bot) taskLog(msg *tgbotapi.Message, id string) {
	if id == "" {
		b.reply(msg, "usage: /log <id>")
		return
	}
	e, err := b.tasks.Get(id)
	if err != nil {
		b.reply(msg, "no task with id "+id)
		return
	}

	view := terminalView{
		prompt:  promptFor(b.user, e.Dir),
		command: e.Command,
		maxLen:  b.cfg.Live.MaxMessageLength,
	}
	if e.Kind == session.KindEval {
		view.prompt = evalPrompt
	}

	live := e.Live()
	footer := ""
	if live.Finished() {
		footer = statusFooter(e)
	}
	b.replyTerminal(msg, view, live.Tail(live.LineCount()), footer, "output-"+e.ID+".txt")
}

// replyTerminal renders lines in one message, or attaches them as a file
// when they do not fit.
func (b *Bot) replyTerminal(msg *tgbotapi.Message, view terminalView, lines []string, footer, filename string) {
	if view.fits(lines, footer) {
		b.replyHTML(msg, view.render(lines, footer))
		return
	}
	b.sendDocument(msg.Chat.ID, msg.MessageID, filename, view.transcript(strings.Join(lines, "\n")), view.header())
}

func (b *Bot) printWorkingDir(msg *tgbotapi.Message) {
	dir := b.tasks.WorkingDir(msg.Chat.ID)
	b.replyHTML(msg, b.view(msg.Chat.ID, "pwd").render([]string{dir}, ""))
}

func (b *Bot) changeDir(msg *tgbotapi.Message, arg string) {
	view := b.view(msg.Chat.ID, strings.TrimSpace("cd "+arg))

	dir, err := b.tasks.SetWorkingDir(msg.Chat.ID, arg)
	if err != nil {
		b.replyHTML(msg, view.render([]string{"cd: " + err.Error()}, ""))
		return
	}
	// The closing prompt reflects the new directory.
	view.prompt = promptFor(b.user, dir)
	b.replyHTML(msg, view.render([]string{dir}, ""))
}

func (b *Bot) resolvePath(chatID int64, p string) string {
	if p == "" {
		return b.tasks.WorkingDir(chatID)
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(b.tasks.WorkingDir(chatID), p)
}

// listDir renders a directory the way a terminal ls would, directories
// first and in columns.
func (b *Bot) listDir(msg *tgbotapi.Message, arg string) {
	view := b.view(msg.Chat.ID, strings.TrimSpace("ls "+arg))
	path := b.resolvePath(msg.Chat.ID, arg)

	entries, err := os.ReadDir(path)
	if err != nil {
		line := "ls: " + err.Error()
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			line = fmt.Sprintf("ls: cannot access '%s': %v", cmp.Or(arg, "."), pathErr.Err)
		}
		b.replyHTML(msg, view.render([]string{line}, ""))
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name()+"/")
		}
	}
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}

	b.replyTerminal(msg, view, columns(names, lsColumns, lsWidth), "", "ls.txt")
}

// columns lays names out n per line, each padded to width.
func columns(names []string, n, width int) []string {
	var lines []string
	for i := 0; i < len(names); i += n {
		var line strings.Builder
		for _, name := range names[i:min(i+n, len(names))] {
			fmt.Fprintf(&line, "%-*s", width, name)
		}
		lines = append(lines, strings.TrimRight(line.String(), " "))
	}
	return lines
}

// mediaInfo runs mediainfo on a local file and streams its report.
func (b *Bot) mediaInfo(ctx context.Context, msg *tgbotapi.Message, arg string) {
	if arg == "" {
		b.reply(msg, "usage: /mediainfo <path>")
		return
	}
	path := b.resolvePath(msg.Chat.ID, arg)
	if _, err := os.Stat(path); err != nil {
		b.reply(msg, "file not found")
		return
	}

	b.runTool(ctx, msg, "mediainfo", path)
}

func (b *Bot) toolStatus(ctx context.Context, msg *tgbotapi.Message) {
	var text strings.Builder
	text.WriteString("External tools\n\n")
	for _, st := range b.tools.Health(ctx) {
		if st.Available {
			fmt.Fprintf(&text, "✅ %s: %s\n", st.Tool, st.Version)
		} else {
			fmt.Fprintf(&text, "❌ %s: not available\n", st.Tool)
		}
	}
	b.reply(msg, text.String())
}
