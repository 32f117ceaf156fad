package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/drew/muxbot/internal/config"
	"github.com/drew/muxbot/internal/eval"
	"github.com/drew/muxbot/internal/session"
	"github.com/drew/muxbot/internal/toolchain"
)

const cancelPrefix = "cancel:"

// sender is the part of the Telegram API the handlers use.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot represents the Telegram bot
type Bot struct {
	api     sender
	updates *tgbotapi.BotAPI

	cfg   *config.Config
	tasks *session.Manager
	tools *toolchain.Catalog
	guard *session.Guard
	log   *slog.Logger
	user  string

	enginesMu sync.Mutex
	engines   map[int64]*eval.Engine

	// streams tracks live-view goroutines.
	streams sync.WaitGroup
}

// New connects to Telegram and creates the bot.
func New(cfg *config.Config, tasks *session.Manager, tools *toolchain.Catalog, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	log.Info("authorized on account", "username", api.Self.UserName)

	b := newBot(api, cfg, tasks, tools, log)
	b.updates = api
	return b, nil
}

func newBot(api sender, cfg *config.Config, tasks *session.Manager, tools *toolchain.Catalog, log *slog.Logger) *Bot {
	return &Bot{
		api:     api,
		cfg:     cfg,
		tasks:   tasks,
		tools:   tools,
		guard:   session.NewGuard(cfg.Blocklist),
		log:     log,
		user:    currentUser(),
		engines: make(map[int64]*eval.Engine),
	}
}

// Start receives updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.updates.GetUpdatesChan(u)
	defer b.updates.StopReceivingUpdates()

	b.log.Info("bot started, waiting for messages")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

// Close waits for live views to finish and releases the Lua engines.
func (b *Bot) Close() {
	b.streams.Wait()

	b.enginesMu.Lock()
	defer b.enginesMu.Unlock()
	for id, e := range b.engines {
		e.Close()
		delete(b.engines, id)
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallbackQuery(update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

// handleMessage processes incoming messages
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	if !b.cfg.Telegram.Authorized(msg.From.ID, msg.Chat.ID) {
		b.log.Warn("unauthorized access attempt", "user_id", msg.From.ID, "chat_id", msg.Chat.ID)
		b.reply(msg, "unauthorized access")
		return
	}
	if !msg.IsCommand() {
		return
	}

	command := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	b.log.Debug("command received", "command", command, "chat_id", msg.Chat.ID, "user_id", msg.From.ID)

	switch command {
	case "start", "help":
		b.reply(msg, helpText)
	case "term":
		b.runCommand(ctx, msg, session.KindTerm, args)
	case "exec":
		b.runCommand(ctx, msg, session.KindExec, args)
	case "eval":
		b.runEval(ctx, msg, args)
	case "tasks":
		b.listTasks(msg)
	case "cancel":
		b.cancelTask(msg, args)
	case "log":
		b.taskLog(msg, args)
	case "pwd":
		b.printWorkingDir(msg)
	case "cd":
		b.changeDir(msg, args)
	case "ls":
		b.listDir(msg, args)
	case "mediainfo", "mi":
		b.mediaInfo(ctx, msg, args)
	case "merge":
		b.merge(ctx, msg, args)
	case "addsubs":
		b.addSubs(ctx, msg, args)
	case "extract":
		b.extract(ctx, msg, args)
	case "dl":
		b.download(ctx, msg, args)
	case "wget":
		b.wget(ctx, msg, args)
	case "gup":
		b.upload(ctx, msg, args)
	case "tools":
		b.toolStatus(ctx, msg)
	default:
		b.reply(msg, "unknown command, see /help")
	}
}

// handleCallbackQuery handles inline keyboard button callbacks
func (b *Bot) handleCallbackQuery(query *tgbotapi.CallbackQuery) {
	if query.From == nil {
		return
	}
	var chatID int64
	if query.Message != nil && query.Message.Chat != nil {
		chatID = query.Message.Chat.ID
	}
	if !b.cfg.Telegram.Authorized(query.From.ID, chatID) {
		b.log.Warn("unauthorized callback query", "user_id", query.From.ID)
		b.answer(query, "unauthorized access")
		return
	}

	id, ok := strings.CutPrefix(query.Data, cancelPrefix)
	if !ok {
		b.answer(query, "unknown action")
		return
	}

	e, err := b.tasks.Get(id)
	if err != nil {
		b.answer(query, "task not found")
		return
	}
	if e.Live().Finished() {
		b.answer(query, "already finished")
		return
	}
	e.Live().Cancel()
	b.log.Info("task cancelled from button", "id", id, "user_id", query.From.ID)
	b.answer(query, "⏹️ Cancelling...")
}

func (b *Bot) answer(query *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, text)); err != nil {
		b.log.Debug("answer callback", "err", err)
	}
}

// reply sends plain text in answer to msg.
func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	r := tgbotapi.NewMessage(msg.Chat.ID, text)
	r.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(r); err != nil {
		b.log.Warn("send reply", "chat_id", msg.Chat.ID, "err", err)
	}
}

// replyHTML sends an HTML message in answer to msg.
func (b *Bot) replyHTML(msg *tgbotapi.Message, text string) {
	r := tgbotapi.NewMessage(msg.Chat.ID, text)
	r.ParseMode = tgbotapi.ModeHTML
	r.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(r); err != nil {
		b.log.Warn("send reply", "chat_id", msg.Chat.ID, "err", err)
	}
}

func (b *Bot) engine(chatID int64) *eval.Engine {
	b.enginesMu.Lock()
	defer b.enginesMu.Unlock()

	e, ok := b.engines[chatID]
	if !ok {
		e = eval.NewEngine()
		b.engines[chatID] = e
	}
	return e
}

func (b *Bot) view(chatID int64, command string) terminalView {
	return terminalView{
		prompt:  promptFor(b.user, b.tasks.WorkingDir(chatID)),
		command: command,
		maxLen:  b.cfg.Live.MaxMessageLength,
	}
}

const helpText = `muxbot: shell and media tools over Telegram

Commands:
/term <cmd> - run a command (argv, no shell)
/exec <cmd> - run a command through the shell
/eval <lua> - evaluate Lua in a sandbox
/tasks - list running and recent tasks
/cancel <id|all> - cancel tasks
/log <id> - full output of a task
/pwd - show working directory
/cd [dir] - change working directory
/ls [dir] - list a directory
/mediainfo <path> - media technical metadata
/merge <out> <f1> <f2> [...] - join files with mkvmerge
/addsubs <video> <subs> <out> - mux subtitles into a video
/extract <file> [video|audio|subs|all] - extract tracks
/dl <url|magnet> - download with aria2c
/wget <url> - download a single file
/gup <path> - upload to the rclone remote
/tools - external tool status`
