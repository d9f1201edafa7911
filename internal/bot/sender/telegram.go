package sender

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"telegram_studio_bot/internal/bot/keyboard"
	"telegram_studio_bot/internal/notify"
	"telegram_studio_bot/internal/scheduler"
	"telegram_studio_bot/pkg/errors"
	"telegram_studio_bot/pkg/logger"
)

// Messenger часть API Telegram, нужная для отправки уведомлений
type Messenger interface {
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error)
	GetChat(ctx context.Context, params *tgbot.GetChatParams) (*models.ChatFullInfo, error)
}

// TelegramSender реализует scheduler.NotificationSender поверх Telegram Bot API
type TelegramSender struct {
	bot         Messenger
	adminChatID int64
	logger      *logger.Logger
}

var _ scheduler.NotificationSender = (*TelegramSender)(nil)

// NewTelegramSender создает отправителя уведомлений
func NewTelegramSender(bot Messenger, adminChatID int64, log *logger.Logger) *TelegramSender {
	if log == nil {
		log = logger.NewNop()
	}
	return &TelegramSender{bot: bot, adminChatID: adminChatID, logger: log}
}

// SendToUser отправляет сообщение пользователю
func (s *TelegramSender) SendToUser(ctx context.Context, chatID int64, msg scheduler.Message) error {
	return s.send(ctx, chatID, msg)
}

// SendToAdmin отправляет сообщение администратору студии
func (s *TelegramSender) SendToAdmin(ctx context.Context, msg scheduler.Message) error {
	return s.send(ctx, s.adminChatID, msg)
}

// DisplayName возвращает @username пользователя или id:<chat_id>, если его не удалось получить
func (s *TelegramSender) DisplayName(ctx context.Context, chatID int64) string {
	chat, err := s.bot.GetChat(ctx, &tgbot.GetChatParams{ChatID: chatID})
	if err != nil {
		s.logger.Debug("Failed to get chat, using fallback name",
			logger.Int64("chat_id", chatID),
			logger.Error(err),
		)
		return notify.FallbackDisplayName(chatID)
	}
	if chat.Username != "" {
		return "@" + chat.Username
	}
	return notify.FallbackDisplayName(chat.ID)
}

func (s *TelegramSender) send(ctx context.Context, chatID int64, msg scheduler.Message) error {
	params := &tgbot.SendMessageParams{
		ChatID:    chatID,
		Text:      msg.Text,
		ParseMode: models.ParseMode(msg.ParseMode),
	}
	if kb := keyboard.FromButtons(msg.Buttons); kb != nil {
		params.ReplyMarkup = kb
	}

	if _, err := s.bot.SendMessage(ctx, params); err != nil {
		return errors.ErrTelegramAPI.WithError(fmt.Errorf("sendMessage to %d: %w", chatID, err))
	}
	return nil
}
