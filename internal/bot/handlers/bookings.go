package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot/models"

	botservice "telegram_studio_bot/internal/bot/service"
	"telegram_studio_bot/pkg/logger"
	"telegram_studio_bot/pkg/metrics"
)

// MyBookingsHandler обрабатывает команду /mybookings
type MyBookingsHandler struct {
	service *botservice.Service
	logger  *logger.Logger
}

// NewMyBookingsHandler создает новый обработчик команды /mybookings
func NewMyBookingsHandler(service *botservice.Service, log *logger.Logger) *MyBookingsHandler {
	return &MyBookingsHandler{service: service, logger: log}
}

// Handle показывает пользователю его неотмененные записи
func (h *MyBookingsHandler) Handle(ctx context.Context, b BotAPI, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID

	bookings, err := h.service.ListUserBookings(ctx, chatID)
	if err != nil {
		metrics.RecordError("bot", "list_bookings")
		h.logger.Error("Failed to list user bookings", logger.Int64("chat_id", chatID), logger.Error(err))
		sendText(ctx, b, h.logger, chatID, "Не удалось получить список записей, попробуйте позже")
		return
	}

	if len(bookings) == 0 {
		sendText(ctx, b, h.logger, chatID, "У вас пока нет записей.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Ваши записи:\n")
	for _, bk := range bookings {
		fmt.Fprintf(&sb, "\n📅 %s ⏰ %s — %s", bk.Date, bk.GetFormattedTime(), bk.State.Title())
	}

	sendText(ctx, b, h.logger, chatID, sb.String())
}
