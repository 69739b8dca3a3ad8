package telegram

import (
	"context"
	"slices"
	"sync"

	tele "gopkg.in/telebot.v4"

	kit "proxywatch/internal/transport"
	logx "proxywatch/pkg/logx"
)

const (
	maxMenuCommands    = 100
	maxMenuDescription = 256
)

type menuCache struct {
	mu   sync.Mutex
	last []tele.Command
}

// UpdateMenuCommands publishes the bot command menu. An unchanged list is
// not sent again.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	list := menuList(cmds)

	a.menu.mu.Lock()
	defer a.menu.mu.Unlock()
	if a.menu.last != nil && slices.Equal(a.menu.last, list) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menu.last = list
	a.log.Info("command menu updated", logx.Int("count", len(list)))
	return nil
}

func menuList(cmds []kit.BotCommand) []tele.Command {
	list := make([]tele.Command, 0, min(len(cmds), maxMenuCommands))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		if r := []rune(desc); len(r) > maxMenuDescription {
			desc = string(r[:maxMenuDescription])
		}
		list = append(list, tele.Command{Text: c.Command, Description: desc})
		if len(list) == maxMenuCommands {
			break
		}
	}
	return list
}
