package telegram

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// TelegramCaptionLimit is Telegram's maximum caption length
const TelegramCaptionLimit = 1024

// Deliver sends one outbound notice or result to its chat.
func (b *Bot) Deliver(ctx context.Context, out types.Outbound) error {
	if out.Delivery.ChatID == 0 {
		return fmt.Errorf("outbound message has no chat id")
	}
	chat := &tele.Chat{ID: out.Delivery.ChatID}
	opts := b.sendOptions(out, chat)

	if out.MediaPath == "" {
		if out.Text == "" {
			return nil
		}
		_, err := b.bot.Send(chat, out.Text, opts)
		return err
	}
	return b.sendMedia(chat, out, opts)
}

// sendMedia picks the Telegram media type from the MIME and handles
// captions that exceed the platform limit by sending a follow-up text.
func (b *Bot) sendMedia(chat *tele.Chat, out types.Outbound, opts *tele.SendOptions) error {
	caption := out.Caption
	fits := len(caption) <= TelegramCaptionLimit

	var payload any
	switch {
	case strings.HasPrefix(out.MIME, "image/"):
		m := &tele.Photo{File: tele.FromDisk(out.MediaPath)}
		if fits {
			m.Caption = caption
		}
		payload = m
	case strings.HasPrefix(out.MIME, "video/"):
		m := &tele.Video{File: tele.FromDisk(out.MediaPath)}
		if fits {
			m.Caption = caption
		}
		payload = m
	case strings.HasPrefix(out.MIME, "audio/"):
		m := &tele.Audio{File: tele.FromDisk(out.MediaPath)}
		if fits {
			m.Caption = caption
		}
		payload = m
	default:
		m := &tele.Document{File: tele.FromDisk(out.MediaPath)}
		if fits {
			m.Caption = caption
		}
		payload = m
	}

	if _, err := b.bot.Send(chat, payload, opts); err != nil {
		return fmt.Errorf("failed to send media: %w", err)
	}

	if !fits && caption != "" {
		L_debug("telegram: caption exceeds limit, sending follow-up text",
			"captionLen", len(caption),
			"limit", TelegramCaptionLimit,
		)
		if _, err := b.bot.Send(chat, caption, opts); err != nil {
			L_warn("telegram: failed to send follow-up caption", "error", err)
		}
	}
	return nil
}

// sendOptions threads the original message reference through so results
// land as replies in busy group chats.
func (b *Bot) sendOptions(out types.Outbound, chat *tele.Chat) *tele.SendOptions {
	opts := &tele.SendOptions{}
	if out.Delivery.ReplyTo != 0 {
		opts.ReplyTo = &tele.Message{ID: out.Delivery.ReplyTo, Chat: chat}
	}
	return opts
}
