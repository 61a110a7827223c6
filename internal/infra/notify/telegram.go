package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/infra/metrics"
)

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts terminal job transitions to an operator chat.
type Telegram struct {
	bot          messageSender
	chatID       int64
	failuresOnly bool
}

func NewTelegram(token string, chatID int64, failuresOnly bool) (*Telegram, error) {
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID, failuresOnly: failuresOnly}, nil
}

func (t *Telegram) NotifyJobUpdated(ctx context.Context, ev model.JobEvent) error {
	switch ev.Status {
	case model.JobStatusFailed:
	case model.JobStatusCompleted:
		if t.failuresOnly {
			return nil
		}
	default:
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, formatEvent(ev))
	if _, err := t.bot.Send(msg); err != nil {
		metrics.IncNotification("telegram", "error")
		return fmt.Errorf("telegram send: %w", err)
	}
	metrics.IncNotification("telegram", "sent")
	return nil
}

func formatEvent(ev model.JobEvent) string {
	return fmt.Sprintf("Job %s %s\nconversation: %s\nclient: %s\nretries: %d\nat: %s",
		ev.JobID, ev.Status, ev.ConversationID, ev.ClientID, ev.RetryCount, ev.At.Format("2006-01-02 15:04:05Z07:00"))
}
