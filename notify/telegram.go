package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ChatResolver maps a user to their linked Telegram chat.
type ChatResolver interface {
	TelegramChatID(ctx context.Context, userID string) (int64, bool, error)
}

// Sender is satisfied by *tgbotapi.BotAPI.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink pushes notification content to users who linked a chat.
// Users without a chat are skipped silently.
type TelegramSink struct {
	bot   Sender
	chats ChatResolver
}

func NewTelegramSink(bot Sender, chats ChatResolver) *TelegramSink {
	return &TelegramSink{bot: bot, chats: chats}
}

// NewTelegramBot connects to the Bot API with the given token.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: telegram bot: %w", err)
	}
	return bot, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Deliver(ctx context.Context, n Notification) error {
	chatID, ok, err := s.chats.TelegramChatID(ctx, n.ReceiverID)
	if err != nil {
		return fmt.Errorf("resolve chat: %w", err)
	}
	if !ok {
		return nil
	}
	if _, err := s.bot.Send(tgbotapi.NewMessage(chatID, n.Content)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}
