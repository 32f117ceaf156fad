package bot

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/drew/muxbot/internal/session"
)

// promptFor returns the shell-style prompt shown before commands, e.g.
// "muxbot:media# ".
func promptFor(user, dir string) string {
	base := filepath.Base(dir)
	if dir == "" || base == "." {
		base = "~"
	}
	return fmt.Sprintf("%s:%s# ", user, base)
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "user"
}

// maxShownCommand caps how many characters of a command the live view
// repeats; the full command stays in the transcript.
const maxShownCommand = 200

// terminalView renders a command and its output as a Telegram HTML code
// block that ends with a fresh prompt.
type terminalView struct {
	prompt  string
	command string
	maxLen  int
}

func (v terminalView) shownCommand() string {
	if utf8.RuneCountInString(v.command) <= maxShownCommand {
		return v.command
	}
	n := 0
	for i := range v.command {
		if n == maxShownCommand {
			return v.command[:i] + "…"
		}
		n++
	}
	return v.command
}

// header is the block shown before any output arrives.
func (v terminalView) header() string {
	return "<code>" + html.EscapeString(v.prompt+v.shownCommand()) + "</code>"
}

// render shows as many of the trailing lines as fit in maxLen, followed by
// footer. Older lines are dropped first. Lengths are measured the way
// Telegram does: UTF-16 units of the text after HTML parsing.
func (v terminalView) render(lines []string, footer string) string {
	head := v.prompt + v.shownCommand() + "\n"
	budget := v.maxLen - textLen(head) - textLen(v.prompt) - htmlTextLen(footer)

	kept := 0
	used := 0
	for i := len(lines) - 1; i >= 0; i-- {
		n := textLen(lines[i]) + 1
		if used+n > budget {
			break
		}
		used += n
		kept++
	}

	var b strings.Builder
	b.WriteString("<code>")
	b.WriteString(html.EscapeString(head))
	for _, l := range lines[len(lines)-kept:] {
		b.WriteString(html.EscapeString(l))
		b.WriteString("\n")
	}
	b.WriteString(html.EscapeString(v.prompt))
	b.WriteString("</code>")
	b.WriteString(footer)
	return b.String()
}

// fits reports whether every line renders within maxLen.
func (v terminalView) fits(lines []string, footer string) bool {
	n := textLen(v.prompt+v.shownCommand()) + 1 + textLen(v.prompt) + htmlTextLen(footer)
	for _, l := range lines {
		n += textLen(l) + 1
		if n > v.maxLen {
			return false
		}
	}
	return n <= v.maxLen
}

// textLen returns the length of s in UTF-16 code units.
func textLen(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// htmlTextLen returns the length of the text Telegram keeps from an HTML
// message: tags removed, entities decoded.
func htmlTextLen(s string) int {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return textLen(html.UnescapeString(b.String()))
}

// transcript is the plain-text form of a finished command, used for the
// document fallback and /log.
func (v terminalView) transcript(output string) string {
	var b strings.Builder
	b.WriteString(v.prompt + v.command + "\n")
	if output != "" {
		b.WriteString(output)
		b.WriteString("\n")
	}
	b.WriteString(v.prompt)
	return b.String()
}

// statusFooter describes how a finished task ended.
func statusFooter(e *session.Entry) string {
	rt := formatDuration(e.Runtime())
	switch e.Status() {
	case session.StatusCancelled:
		return fmt.Sprintf("\n<i>cancelled after %s</i>", rt)
	case session.StatusFailed:
		if e.Session() != nil && e.ExitCode() > 0 {
			return fmt.Sprintf("\n<i>exit status %d after %s</i>", e.ExitCode(), rt)
		}
		return fmt.Sprintf("\n<i>%s</i>", html.EscapeString(truncate("error: "+e.Err().Error(), 300)))
	default:
		return fmt.Sprintf("\n<i>done in %s</i>", rt)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
