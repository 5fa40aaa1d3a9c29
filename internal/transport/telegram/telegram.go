// Package telegram delivers reminders to a Telegram chat, for the hours
// spent away from the desk.
package telegram

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	"hourkeep/internal/transport"
	logx "hourkeep/pkg/logx"
)

type Config struct {
	Token  string
	ChatID int64

	// Offline skips the getMe handshake; used by tests.
	Offline bool
}

type Channel struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	// Send-only: no poller, the bot never consumes updates.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: cfg.Offline})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Channel{cfg: cfg, log: log, bot: b}, nil
}

func (c *Channel) Name() string { return "telegram" }

func (c *Channel) Send(ctx context.Context, n transport.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := "*" + escapeMarkdown(n.Title) + "*\n" + escapeMarkdown(n.Body)
	_, err := c.bot.Send(
		tele.ChatID(c.cfg.ChatID),
		text,
		&tele.SendOptions{ParseMode: tele.ModeMarkdownV2, DisableWebPagePreview: true},
	)
	return err
}

// escapeMarkdown escapes MarkdownV2 metacharacters so reminder text
// renders verbatim.
func escapeMarkdown(s string) string {
	const meta = `_*[]()~` + "`" + `>#+-=|{}.!`
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(meta, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
