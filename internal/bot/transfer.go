package bot

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kballard/go-shellquote"

	"github.com/drew/muxbot/internal/session"
)

// aria2Flags tune aria2c for one large file at a time.
var aria2Flags = []string{
	"--max-connection-per-server=16",
	"--max-concurrent-downloads=1",
	"--split=16",
	"--min-split-size=1M",
	"--continue=true",
	"--summary-interval=1",
}

// extractTracks maps an /extract selector to mkvextract track specs,
// relative to the output directory.
var extractTracks = map[string][]string{
	"video": {"0:video.mkv"},
	"audio": {"1:audio.mka"},
	"subs":  {"2:subtitles.srt"},
	"all":   {"0:video.mkv", "1:audio.mka", "2:subtitles.srt"},
}

// runTool starts a catalog tool as a terminal task in the chat's working
// directory and streams it.
func (b *Bot) runTool(ctx context.Context, msg *tgbotapi.Message, tool string, args ...string) {
	command, err := b.tools.CommandLine(tool, args...)
	if err != nil {
		b.reply(msg, "error: "+err.Error())
		return
	}
	spec := session.Spec{Kind: session.KindTerm, Command: command, ChatID: msg.Chat.ID}
	b.launch(ctx, msg, spec, b.view(msg.Chat.ID, command))
}

// splitArgs splits command arguments with shell quoting, so names with
// spaces can be passed as 'My Movie.mkv'.
func (b *Bot) splitArgs(msg *tgbotapi.Message, raw string) ([]string, bool) {
	args, err := shellquote.Split(raw)
	if err != nil {
		b.reply(msg, "error: "+err.Error())
		return nil, false
	}
	return args, true
}

// existing resolves names against the working directory and reports the
// first one that does not exist.
func (b *Bot) existing(msg *tgbotapi.Message, names ...string) ([]string, bool) {
	paths := make([]string, 0, len(names))
	for _, name := range names {
		p := b.resolvePath(msg.Chat.ID, name)
		if _, err := os.Stat(p); err != nil {
			b.reply(msg, "file not found: "+name)
			return nil, false
		}
		paths = append(paths, p)
	}
	return paths, true
}

// merge joins files end to end with mkvmerge's append syntax.
func (b *Bot) merge(ctx context.Context, msg *tgbotapi.Message, raw string) {
	args, ok := b.splitArgs(msg, raw)
	if !ok {
		return
	}
	if len(args) < 3 {
		b.reply(msg, "usage: /merge <output> <file1> <file2> [file3...]")
		return
	}
	inputs, ok := b.existing(msg, args[1:]...)
	if !ok {
		return
	}

	argv := []string{"-o", b.resolvePath(msg.Chat.ID, args[0]), inputs[0]}
	for _, in := range inputs[1:] {
		argv = append(argv, "+", in)
	}
	b.runTool(ctx, msg, "mkvmerge", argv...)
}

// addSubs muxes a subtitle file into a video.
func (b *Bot) addSubs(ctx context.Context, msg *tgbotapi.Message, raw string) {
	args, ok := b.splitArgs(msg, raw)
	if !ok {
		return
	}
	if len(args) != 3 {
		b.reply(msg, "usage: /addsubs <video> <subtitles> <output>")
		return
	}
	inputs, ok := b.existing(msg, args[0], args[1])
	if !ok {
		return
	}
	b.runTool(ctx, msg, "mkvmerge", "-o", b.resolvePath(msg.Chat.ID, args[2]), inputs[0], inputs[1])
}

// extract pulls tracks out of a Matroska file into extracted_<name> next
// to it.
func (b *Bot) extract(ctx context.Context, msg *tgbotapi.Message, raw string) {
	args, ok := b.splitArgs(msg, raw)
	if !ok {
		return
	}
	if len(args) == 0 || len(args) > 2 {
		b.reply(msg, "usage: /extract <file> [video|audio|subs|all]")
		return
	}
	which := "all"
	if len(args) == 2 {
		which = strings.ToLower(args[1])
	}
	tracks, known := extractTracks[which]
	if !known {
		b.reply(msg, "usage: /extract <file> [video|audio|subs|all]")
		return
	}
	inputs, ok := b.existing(msg, args[0])
	if !ok {
		return
	}

	src := inputs[0]
	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	outDir := filepath.Join(filepath.Dir(src), "extracted_"+name)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		b.reply(msg, "error: "+err.Error())
		return
	}

	argv := []string{"tracks", src}
	for _, tr := range tracks {
		id, file, _ := strings.Cut(tr, ":")
		argv = append(argv, id+":"+filepath.Join(outDir, file))
	}
	b.runTool(ctx, msg, "mkvextract", argv...)
}

// download fetches a URL or magnet link with aria2c.
func (b *Bot) download(ctx context.Context, msg *tgbotapi.Message, raw string) {
	if raw == "" {
		b.reply(msg, "usage: /dl <url|magnet>")
		return
	}
	if !hasScheme(raw, "http://", "https://", "ftp://", "magnet:") {
		b.reply(msg, "unsupported URL, use http(s)://, ftp:// or magnet:")
		return
	}

	dir, ok := b.downloadDir(msg)
	if !ok {
		return
	}
	argv := append([]string{"--dir", dir}, aria2Flags...)
	b.runTool(ctx, msg, "aria2c", append(argv, raw)...)
}

// wget fetches a single URL into the download directory, named after the
// last path segment.
func (b *Bot) wget(ctx context.Context, msg *tgbotapi.Message, raw string) {
	if raw == "" {
		b.reply(msg, "usage: /wget <url>")
		return
	}
	u, err := url.Parse(raw)
	if err != nil || !hasScheme(raw, "http://", "https://", "ftp://") {
		b.reply(msg, "unsupported URL, use http(s):// or ftp://")
		return
	}

	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		name = "downloaded_file"
	}
	dir, ok := b.downloadDir(msg)
	if !ok {
		return
	}
	b.runTool(ctx, msg, "wget", "-O", filepath.Join(dir, name), raw)
}

// upload copies a local file or directory to the configured rclone remote.
func (b *Bot) upload(ctx context.Context, msg *tgbotapi.Message, raw string) {
	args, ok := b.splitArgs(msg, raw)
	if !ok {
		return
	}
	if len(args) != 1 {
		b.reply(msg, "usage: /gup <path>")
		return
	}
	remote := b.cfg.Transfer.Remote
	if remote == "" {
		b.reply(msg, "no rclone remote configured (transfer.remote)")
		return
	}
	inputs, ok := b.existing(msg, args[0])
	if !ok {
		return
	}
	b.runTool(ctx, msg, "rclone", "copy", inputs[0], strings.TrimSuffix(remote, "/")+"/", "--progress", "--stats", "1s")
}

func (b *Bot) downloadDir(msg *tgbotapi.Message) (string, bool) {
	dir := b.resolvePath(msg.Chat.ID, b.cfg.Transfer.DownloadDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		b.reply(msg, "error: "+err.Error())
		return "", false
	}
	return dir, true
}

func hasScheme(s string, schemes ...string) bool {
	lower := strings.ToLower(s)
	for _, scheme := range schemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}
