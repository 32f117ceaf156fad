package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPromptFor(t *testing.T) {
	require.Equal(t, "root:media# ", promptFor("root", "/srv/media"))
	require.Equal(t, "root:/# ", promptFor("root", "/"))
	require.Equal(t, "root:~# ", promptFor("root", ""))
}

func TestTerminalView_Render(t *testing.T) {
	v := terminalView{prompt: "u:d# ", command: "cat <file>", maxLen: 4096}

	require.Equal(t, "<code>u:d# cat &lt;file&gt;</code>", v.header())
	require.Equal(t, "<code>u:d# cat &lt;file&gt;\na &amp; b\nu:d# </code>", v.render([]string{"a & b"}, ""))
	require.Equal(t, "<code>u:d# cat &lt;file&gt;\nu:d# </code>\n<i>x</i>", v.render(nil, "\n<i>x</i>"))
}

func TestTerminalView_RenderDropsOldestLines(t *testing.T) {
	v := terminalView{prompt: "$ ", command: "seq", maxLen: 20}
	lines := []string{"one", "two", "three", "four", "five", "six"}

	got := v.render(lines, "")
	require.LessOrEqual(t, htmlTextLen(got), 20)
	require.Equal(t, "<code>$ seq\nfive\nsix\n$ </code>", got)
	require.False(t, v.fits(lines, ""))
	require.True(t, v.fits(lines[4:], ""))
}

func TestTerminalView_RenderFitsBudget(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := terminalView{
			prompt:  rapid.StringMatching(`[a-z]{1,8}:[a-z]{1,8}# `).Draw(t, "prompt"),
			command: rapid.StringMatching(`[a-zя😀 <>&"]{1,10}`).Draw(t, "command"),
			maxLen:  rapid.IntRange(120, 600).Draw(t, "maxLen"),
		}
		lines := rapid.SliceOfN(rapid.StringMatching(`[a-z0-9ж😀 <>&]{0,40}`), 0, 50).Draw(t, "lines")

		got := v.render(lines, "")
		if n := htmlTextLen(got); n > v.maxLen {
			t.Fatalf("rendered %d characters, limit %d", n, v.maxLen)
		}
		if !strings.HasPrefix(got, v.header()[:len(v.header())-len("</code>")]) {
			t.Fatalf("missing header: %q", got)
		}
		if v.fits(lines, "") && strings.Count(got, "\n") != len(lines)+1 {
			t.Fatalf("fitting output lost lines: %q", got)
		}
	})
}

func TestTerminalView_CountsVisibleUTF16(t *testing.T) {
	// Escaped entities count once and an emoji counts as two units.
	require.Equal(t, 5, htmlTextLen("<code>a &amp; b</code>"))
	require.Equal(t, 3, textLen("я😀"))
	require.Equal(t, 7, htmlTextLen("\n<i>ok 😀</i>"+"&lt;"))

	v := terminalView{prompt: "$ ", command: "ls", maxLen: 30}
	// Twelve Cyrillic letters are 24 bytes but 12 characters.
	lines := []string{strings.Repeat("ж", 12), "<&>"}
	require.True(t, v.fits(lines, ""))
	require.Equal(t, "<code>$ ls\n"+strings.Repeat("ж", 12)+"\n&lt;&amp;&gt;\n$ </code>", v.render(lines, ""))

	emoji := terminalView{prompt: "$ ", command: "ls", maxLen: 12}
	// Four emoji need eight units plus a newline, leaving no room for the
	// header and prompt.
	require.False(t, emoji.fits([]string{"😀😀😀😀"}, ""))
}

func TestTerminalView_LongCommandIsShortened(t *testing.T) {
	v := terminalView{prompt: "$ ", command: strings.Repeat("é", 10000), maxLen: 4096}

	require.Equal(t, "<code>$ "+strings.Repeat("é", maxShownCommand)+"…</code>", v.header())
	got := v.render([]string{"out"}, "\n<i>done</i>")
	require.LessOrEqual(t, htmlTextLen(got), 4096)
	require.Contains(t, got, "\nout\n$ </code>")
	require.True(t, v.fits([]string{"out"}, ""))
	require.Contains(t, v.transcript("out"), strings.Repeat("é", 10000))

	short := terminalView{prompt: "$ ", command: "ls -la"}
	require.Equal(t, "ls -la", short.shownCommand())
}

func TestTranscript(t *testing.T) {
	v := terminalView{prompt: "$ ", command: "ls"}
	require.Equal(t, "$ ls\na\nb\n$ ", v.transcript("a\nb"))
	require.Equal(t, "$ ls\n$ ", v.transcript(""))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "abc…", truncate("abcdef", 3))
	// "é" is two bytes; the cut must not split it.
	require.Equal(t, "a…", truncate("aé", 2))
}

func TestFormatDuration(t *testing.T) {
	require.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	require.Equal(t, "1.5s", formatDuration(1520*time.Millisecond))
	require.Equal(t, "2m5s", formatDuration(125*time.Second+300*time.Millisecond))
}

func TestColumns(t *testing.T) {
	got := columns([]string{"a/", "b", "c", "d"}, 3, 4)
	require.Equal(t, []string{"a/  b   c", "d"}, got)
	require.Nil(t, columns(nil, 3, 4))
}
