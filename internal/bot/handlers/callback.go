package handlers

import (
	"context"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"telegram_studio_bot/internal/bot/keyboard"
	botservice "telegram_studio_bot/internal/bot/service"
	"telegram_studio_bot/internal/notify"
	storagemodels "telegram_studio_bot/internal/storage/models"
	"telegram_studio_bot/internal/validation"
	"telegram_studio_bot/pkg/errors"
	"telegram_studio_bot/pkg/logger"
	"telegram_studio_bot/pkg/metrics"
)

// CallbackHandler обрабатывает нажатия inline кнопок "Я приду" и "Пришёл"
type CallbackHandler struct {
	service *botservice.Service
	logger  *logger.Logger
}

// NewCallbackHandler создает новый обработчик callback query
func NewCallbackHandler(service *botservice.Service, log *logger.Logger) *CallbackHandler {
	return &CallbackHandler{service: service, logger: log}
}

// Handle обрабатывает callback query вида "<action>|<booking_id>"
func (h *CallbackHandler) Handle(ctx context.Context, b BotAPI, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	cb := update.CallbackQuery
	action, idStr, found := strings.Cut(cb.Data, "|")
	if !found {
		answer(ctx, b, h.logger, cb, "Неизвестная команда", false)
		return
	}

	id, err := validation.ValidateBookingID(idStr)
	if err != nil {
		h.logger.Warn("Invalid booking id in callback", logger.String("data", cb.Data), logger.Error(err))
		answer(ctx, b, h.logger, cb, "Неверный ID записи", true)
		return
	}

	switch action {
	case notify.CallbackConfirmBooking:
		h.handleConfirm(ctx, b, cb, id)
	case notify.CallbackUserCame:
		h.handleUserCame(ctx, b, cb, id)
	default:
		answer(ctx, b, h.logger, cb, "Неизвестная команда", false)
	}
}

func (h *CallbackHandler) handleConfirm(ctx context.Context, b BotAPI, cb *models.CallbackQuery, id int64) {
	log := h.logger.WithFields(logger.Int64("booking_id", id), logger.Int64("user_id", cb.From.ID))

	booking, err := h.service.GetBooking(ctx, id)
	if err != nil {
		h.answerError(ctx, b, cb, log, nil, err)
		return
	}

	// Подтвердить запись может только ее владелец
	if booking.OwnerChatID != cb.From.ID {
		metrics.RecordError("bot", "forbidden")
		log.Warn("User tried to confirm someone else's booking", logger.Error(errors.ErrForbidden))
		answer(ctx, b, h.logger, cb, "Это не ваша запись", true)
		return
	}

	res, err := h.service.ConfirmBooking(ctx, id)
	if err != nil {
		h.answerError(ctx, b, cb, log, res.Booking, err)
		return
	}

	h.removeKeyboard(ctx, b, cb)

	if !res.Changed {
		answer(ctx, b, h.logger, cb, "Запись уже подтверждена", false)
		return
	}

	answer(ctx, b, h.logger, cb, "Спасибо! Запись подтверждена", false)
	sendText(ctx, b, h.logger, cb.From.ID,
		fmt.Sprintf("✅ Запись подтверждена: %s ⏰ %s. Ждём вас!", res.Booking.Date, res.Booking.GetFormattedTime()))
}

func (h *CallbackHandler) handleUserCame(ctx context.Context, b BotAPI, cb *models.CallbackQuery, id int64) {
	log := h.logger.WithFields(logger.Int64("booking_id", id), logger.Int64("user_id", cb.From.ID))

	// Кнопка приходит в чат администратора, который может быть группой
	fromAdminChat := cb.Message.Message != nil && h.service.IsAdmin(cb.Message.Message.Chat.ID)
	if !h.service.IsAdmin(cb.From.ID) && !fromAdminChat {
		metrics.RecordError("bot", "forbidden")
		log.Warn("Non-admin tried to mark attendance", logger.Error(errors.ErrForbidden))
		answer(ctx, b, h.logger, cb, "Отмечать посещение может только администратор", true)
		return
	}

	res, err := h.service.MarkAttended(ctx, id)
	if err != nil {
		h.answerError(ctx, b, cb, log, res.Booking, err)
		return
	}

	h.removeKeyboard(ctx, b, cb)

	if !res.Changed {
		answer(ctx, b, h.logger, cb, "Посещение уже отмечено", false)
		return
	}
	answer(ctx, b, h.logger, cb, "Отмечено: пришёл ✅", false)
}

// answerError отвечает пользователю на ошибку подтверждения. Недопустимый переход не является сбоем
func (h *CallbackHandler) answerError(ctx context.Context, b BotAPI, cb *models.CallbackQuery, log *logger.Logger, current *storagemodels.Booking, err error) {
	switch {
	case botservice.IsNotFound(err):
		answer(ctx, b, h.logger, cb, "Запись не найдена", true)
	case botservice.IsInvalidTransition(err):
		log.Info("Acknowledgement rejected", logger.Error(err))
		text := "Это действие больше недоступно"
		if current != nil {
			text = fmt.Sprintf("Действие недоступно: запись %s", current.State.Title())
		}
		answer(ctx, b, h.logger, cb, text, true)
		h.removeKeyboard(ctx, b, cb)
	default:
		metrics.RecordError("bot", errors.Code(err))
		log.Error("Failed to process callback", logger.Error(err))
		answer(ctx, b, h.logger, cb, "Произошла ошибка, попробуйте позже", true)
	}
}

// removeKeyboard убирает кнопки из сообщения, на которое нажали
func (h *CallbackHandler) removeKeyboard(ctx context.Context, b BotAPI, cb *models.CallbackQuery) {
	msg := cb.Message.Message
	if msg == nil {
		return
	}

	_, err := b.EditMessageReplyMarkup(ctx, &tgbot.EditMessageReplyMarkupParams{
		ChatID:      msg.Chat.ID,
		MessageID:   msg.ID,
		ReplyMarkup: keyboard.CreateEmptyInlineKeyboard(),
	})
	if err != nil {
		h.logger.Warn("Failed to remove inline keyboard", logger.Int("message_id", msg.ID), logger.Error(err))
	}
}
