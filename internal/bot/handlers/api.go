package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"telegram_studio_bot/pkg/logger"
)

// BotAPI методы Telegram Bot API, которые используют обработчики
type BotAPI interface {
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *tgbot.AnswerCallbackQueryParams) (bool, error)
	EditMessageReplyMarkup(ctx context.Context, params *tgbot.EditMessageReplyMarkupParams) (*models.Message, error)
}

// sendText отправляет простое текстовое сообщение
func sendText(ctx context.Context, b BotAPI, log *logger.Logger, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		log.Error("Failed to send message", logger.Int64("chat_id", chatID), logger.Error(err))
	}
}

// answer отвечает на callback query. При alert=true Telegram показывает модальное окно
func answer(ctx context.Context, b BotAPI, log *logger.Logger, cb *models.CallbackQuery, text string, alert bool) {
	_, err := b.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil {
		log.Warn("Failed to answer callback query", logger.String("callback_id", cb.ID), logger.Error(err))
	}
}
