package toolchain

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	names := make([]string, 0)
	for _, tool := range c.Tools() {
		names = append(names, tool.Name)
	}
	require.Equal(t, []string{"aria2c", "ffmpeg", "ffprobe", "mediainfo", "mkvextract", "mkvmerge", "rclone", "wget"}, names)

	tool, ok := c.Lookup("mediainfo")
	require.True(t, ok)
	require.Equal(t, "mediainfo", tool.Binary)
	require.Equal(t, []string{"--Version"}, tool.VersionArgs)

	_, ok = c.Lookup("vlc")
	require.False(t, ok)
}

func TestCommandLine(t *testing.T) {
	c := Default()

	line, err := c.CommandLine("mediainfo", "/media/My Movie's.mkv")
	require.NoError(t, err)
	require.Equal(t, `mediainfo '/media/My Movie'\''s.mkv'`, line)

	line, err = c.CommandLine("ffprobe", "-hide_banner", "a.mp4")
	require.NoError(t, err)
	require.Equal(t, "ffprobe -hide_banner a.mp4", line)

	_, err = c.CommandLine("vlc")
	require.ErrorIs(t, err, ErrUnknownTool)
}

func TestCommandLine_Quoting(t *testing.T) {
	c := New(Tool{Name: "tool"})

	for arg, want := range map[string]string{
		"":                 "tool ''",
		"plain-file_1.mkv": "tool plain-file_1.mkv",
		"two words":        "tool 'two words'",
		"$HOME":            `tool \$HOME`,
		"it's":             `tool it\'s`,
	} {
		line, err := c.CommandLine("tool", arg)
		require.NoError(t, err)
		require.Equal(t, want, line, arg)
	}
}

func TestCommandLine_RoundTripsThroughShellSplit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		args := rapid.SliceOfN(rapid.StringN(1, 12, -1), 1, 5).Draw(t, "args")

		c := New(Tool{Name: "tool"})
		line, err := c.CommandLine("tool", args...)
		if err != nil {
			t.Fatal(err)
		}

		got, err := shellquote.Split(line)
		if err != nil {
			t.Fatalf("split %q: %v", line, err)
		}
		want := append([]string{"tool"}, args...)
		if len(got) != len(want) {
			t.Fatalf("split %q: got %q want %q", line, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("split %q: got %q want %q", line, got, want)
			}
		}
	})
}

func TestHealth_MissingTool(t *testing.T) {
	c := New(Tool{Name: "ghost", VersionArgs: []string{"--version"}})
	c.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	statuses := c.Health(context.Background())
	require.Len(t, statuses, 1)
	require.Equal(t, "ghost", statuses[0].Tool)
	require.False(t, statuses[0].Available)
	require.Equal(t, "not found", statuses[0].Error)
}

func TestHealth_InstalledTool(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	c := New(
		Tool{Name: "sh", VersionArgs: []string{"-c", "echo; echo 'sh 1.0'"}},
		Tool{Name: "failing", Binary: "sh", VersionArgs: []string{"-c", "exit 1"}},
	)

	statuses := c.Health(context.Background())
	require.Len(t, statuses, 2)

	require.Equal(t, "failing", statuses[0].Tool)
	require.False(t, statuses[0].Available)
	require.NotEmpty(t, statuses[0].Error)

	require.Equal(t, "sh", statuses[1].Tool)
	require.True(t, statuses[1].Available)
	require.Equal(t, "sh 1.0", statuses[1].Version)
	require.NotEmpty(t, statuses[1].Path)
}
