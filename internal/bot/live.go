package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/drew/muxbot/internal/session"
	"github.com/drew/muxbot/internal/term"
)

// stream follows a task in one message: it posts the command, edits in the
// trailing output as it arrives, and renders the final status once the task
// finishes. Output that no longer fits in a message is attached as a file.
func (b *Bot) stream(ctx context.Context, chatID int64, replyTo int, e *session.Entry, view terminalView) {
	live := e.Live()

	msg := tgbotapi.NewMessage(chatID, view.header())
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyToMessageID = replyTo
	msg.ReplyMarkup = cancelMarkup(e.ID)
	sent, err := b.api.Send(msg)
	if err != nil {
		b.log.Warn("send live message", "task", e.ID, "err", err)
		return
	}

	if err := live.AwaitInitialized(ctx); err != nil {
		return
	}

	last := view.header()
	var lastEdit time.Time
	for !live.Finished() {
		text := view.render(live.Tail(b.cfg.Live.TailLines), "")
		if text != last && time.Since(lastEdit) >= b.cfg.Live.MinEditGap {
			b.edit(chatID, sent.MessageID, text, cancelMarkup(e.ID))
			last = text
			lastEdit = time.Now()
		}

		live.AwaitUpdate(ctx, b.cfg.Live.EditInterval)
		b.pace(ctx, live, lastEdit)
		if ctx.Err() != nil {
			return
		}
	}

	b.finish(chatID, sent.MessageID, e, view)
}

// pace holds off the next render until MinEditGap has passed since the last
// edit, so a chatty task does not spin re-rendering output it cannot send.
func (b *Bot) pace(ctx context.Context, live term.Live, lastEdit time.Time) {
	wait := b.cfg.Live.MinEditGap - time.Since(lastEdit)
	if wait <= 0 || live.Finished() {
		return
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-live.Done():
	case <-t.C:
	}
}

func (b *Bot) finish(chatID int64, msgID int, e *session.Entry, view terminalView) {
	live := e.Live()
	footer := statusFooter(e)

	lines := live.Tail(live.LineCount())
	if view.fits(lines, footer) {
		b.edit(chatID, msgID, view.render(lines, footer), nil)
		return
	}

	b.edit(chatID, msgID, view.render(live.Tail(b.cfg.Live.TailLines), footer+"\n<i>full output attached</i>"), nil)
	b.sendDocument(chatID, msgID, fmt.Sprintf("output-%s.txt", e.ID), view.transcript(live.Output()), view.header())
}

func (b *Bot) edit(chatID int64, msgID int, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageText(chatID, msgID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.ReplyMarkup = markup
	if _, err := b.api.Send(edit); err != nil && !strings.Contains(err.Error(), "message is not modified") {
		b.log.Debug("edit message", "chat_id", chatID, "message_id", msgID, "err", err)
	}
}

func (b *Bot) sendDocument(chatID int64, replyTo int, name, content, caption string) {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: []byte(content)})
	doc.Caption = caption
	doc.ParseMode = tgbotapi.ModeHTML
	doc.ReplyToMessageID = replyTo
	if _, err := b.api.Send(doc); err != nil {
		b.log.Warn("send document", "chat_id", chatID, "name", name, "err", err)
	}
}

// cancelMarkup is the inline keyboard shown under a running task.
func cancelMarkup(id string) *tgbotapi.InlineKeyboardMarkup {
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⏹️ Cancel", cancelPrefix+id),
		),
	)
	return &markup
}
