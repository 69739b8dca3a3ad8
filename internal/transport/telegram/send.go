package telegram

import (
	"context"

	tele "gopkg.in/telebot.v4"

	kit "proxywatch/internal/transport"
)

// SendText delivers text, split into several messages when it exceeds the
// Bot API limit. The returned reference points at the first message.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	var o kit.SendOptions
	if opt != nil {
		o = *opt
	}
	send := &tele.SendOptions{
		ParseMode:             o.ParseMode,
		DisableWebPagePreview: o.DisablePreview,
		DisableNotification:   o.Silent,
		ThreadID:              to.ThreadID,
	}
	var chat tele.Recipient = &tele.Chat{ID: to.ChatID}
	if to.ChatID == 0 {
		chat = channel(to.Username)
	}

	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}
	for i, part := range splitText(text, textLimit, o.ParseMode) {
		if err := ctx.Err(); err != nil {
			return ref, err
		}
		m, err := a.bot.Send(chat, part, send)
		if err != nil {
			return ref, err
		}
		if i == 0 {
			ref.MessageID = m.ID
			if m.Chat != nil {
				ref.ChatID = m.Chat.ID
			}
		}
	}
	return ref, nil
}

// channel addresses a public chat by its "@username".
type channel string

func (c channel) Recipient() string { return string(c) }
