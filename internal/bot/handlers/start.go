package handlers

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot/models"

	botservice "telegram_studio_bot/internal/bot/service"
	"telegram_studio_bot/pkg/logger"
)

const helpText = "Команды:\n/mybookings — ваши записи\n\n" +
	"За сутки до начала мы напомним о записи, а за час попросим подтвердить визит кнопкой «Я приду»."

// StartHandler обрабатывает команду /start
type StartHandler struct {
	service *botservice.Service
	logger  *logger.Logger
}

// NewStartHandler создает новый обработчик команды /start
func NewStartHandler(service *botservice.Service, log *logger.Logger) *StartHandler {
	return &StartHandler{service: service, logger: log}
}

// Handle приветствует пользователя и сообщает его chat ID, по которому администратор создает запись
func (h *StartHandler) Handle(ctx context.Context, b BotAPI, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID

	var text string
	if h.service.IsAdmin(chatID) {
		text = "Вы администратор студии. Сюда будут приходить запросы на отметку посещения."
	} else {
		text = fmt.Sprintf("Добро пожаловать в студию! Ваш ID для записи: %d\n\n%s", chatID, helpText)
	}

	sendText(ctx, b, h.logger, chatID, text)
}
