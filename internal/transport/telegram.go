package transport

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// Telegram delivers messages through the Bot API. Sends are paced with a
// shared limiter so a burst of targets due on the same slot stays under the
// API's flood limits.
type Telegram struct {
	bot     *tgbotapi.BotAPI
	limiter *rate.Limiter
}

func NewTelegram(bot *tgbotapi.BotAPI) *Telegram {
	// Bot API allows ~30 messages/second overall; stay well under it.
	return &Telegram{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(20), 5),
	}
}

func (t *Telegram) Send(ctx context.Context, chatID int64, text string) (int64, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, err
	}
	return int64(sent.MessageID), nil
}

func (t *Telegram) Edit(ctx context.Context, chatID int64, messageID int64, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(chatID, int(messageID), text)
	edit.DisableWebPagePreview = true
	_, err := t.bot.Request(edit)
	return err
}
