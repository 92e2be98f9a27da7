// Package notify delivers watcher events and operational results to the
// account owner's Telegram chat.
package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/mailgram-io/mailgram/internal/telegram"
	"github.com/mailgram-io/mailgram/internal/watch"
)

// Messenger is the slice of the Telegram client the sink uses.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendMarkdown(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboardMarkup) error
}

// TelegramSink formats new-mail events as Telegram messages with action
// buttons attached.
type TelegramSink struct {
	messenger Messenger
	logger    *log.Logger
}

func NewTelegramSink(messenger Messenger) *TelegramSink {
	return &TelegramSink{
		messenger: messenger,
		logger:    log.New(log.Writer(), "[NOTIFY] ", log.LstdFlags),
	}
}

// NotifyNewMail sends the mail summary with mark-read and mark-spam
// buttons. The callback data carries account and message ids so the bot
// can act without any other state.
func (s *TelegramSink) NotifyNewMail(ctx context.Context, event watch.NewMailEvent) error {
	text := fmt.Sprintf("📬 *New Email*\n\n*From:* %s\n*Subject:* %s\n*Date:* %s",
		telegram.EscapeMarkdownV2(event.From),
		telegram.EscapeMarkdownV2(event.Subject),
		telegram.EscapeMarkdownV2(event.ReceivedAt.Format("Mon, 02 Jan 2006 15:04")),
	)

	keyboard := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{{
			{Text: "✅ Mark as Read", CallbackData: fmt.Sprintf("read:%d:%s", event.AccountID, event.MessageID)},
			{Text: "🚫 Mark as Spam", CallbackData: fmt.Sprintf("spam:%d:%s", event.AccountID, event.MessageID)},
		}},
	}

	if err := s.messenger.SendMarkdown(ctx, event.ChatID, text, keyboard); err != nil {
		return fmt.Errorf("notify chat %d: %w", event.ChatID, err)
	}
	return nil
}

// NotifySuccess sends a plain confirmation to the chat.
func (s *TelegramSink) NotifySuccess(ctx context.Context, chatID int64, text string) {
	if err := s.messenger.SendMessage(ctx, chatID, "✅ "+text); err != nil {
		s.logger.Printf("Success notice to chat %d failed: %v", chatID, err)
	}
}

// NotifyError sends a plain failure notice to the chat.
func (s *TelegramSink) NotifyError(ctx context.Context, chatID int64, text string) {
	if err := s.messenger.SendMessage(ctx, chatID, "❌ "+text); err != nil {
		s.logger.Printf("Error notice to chat %d failed: %v", chatID, err)
	}
}
