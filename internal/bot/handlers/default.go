package handlers

import (
	"context"

	"github.com/go-telegram/bot/models"

	"telegram_studio_bot/pkg/logger"
)

// DefaultHandler обрабатывает неопознанные сообщения
type DefaultHandler struct {
	logger *logger.Logger
}

// NewDefaultHandler создает новый обработчик по умолчанию
func NewDefaultHandler(log *logger.Logger) *DefaultHandler {
	return &DefaultHandler{logger: log}
}

// Handle напоминает, как пользоваться ботом
func (h *DefaultHandler) Handle(ctx context.Context, b BotAPI, update *models.Update) {
	if update.Message == nil {
		return
	}

	sendText(ctx, b, h.logger, update.Message.Chat.ID, helpText)
}
