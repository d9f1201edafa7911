package notify

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"time"

	"telegram_studio_bot/internal/scheduler"
	"telegram_studio_bot/internal/storage/models"
	"telegram_studio_bot/pkg/errors"
	"telegram_studio_bot/pkg/logger"
	"telegram_studio_bot/pkg/metrics"
)

const (
	// CallbackConfirmBooking префикс callback-данных кнопки подтверждения
	CallbackConfirmBooking = "confirm_booking"
	// CallbackUserCame префикс callback-данных кнопки отметки посещения
	CallbackUserCame = "user_came"

	defaultTimeout = 10 * time.Second
)

// Recipient получатель уведомления
type Recipient int

const (
	RecipientUser Recipient = iota
	RecipientAdmin
)

// CallbackData формирует данные кнопки вида "<action>|<id>"
func CallbackData(action string, bookingID int64) string {
	return action + "|" + strconv.FormatInt(bookingID, 10)
}

// RecipientOf возвращает получателя уведомления данного типа
func RecipientOf(kind models.NoticeKind) Recipient {
	if kind == models.NoticeAttendanceMark {
		return RecipientAdmin
	}
	return RecipientUser
}

// Dispatcher превращает событие по записи в сообщение и отправляет его
type Dispatcher struct {
	sender  scheduler.NotificationSender
	timeout time.Duration
	logger  *logger.Logger
}

// NewDispatcher создает диспетчер уведомлений. Нулевой timeout заменяется значением по умолчанию
func NewDispatcher(sender scheduler.NotificationSender, timeout time.Duration, log *logger.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{
		sender:  sender,
		timeout: timeout,
		logger:  log,
	}
}

// Deliver отправляет уведомление kind по записи booking.
// Любая ошибка отправки возвращается как ErrTransientDelivery: вызывающий решает, повторять ли попытку.
func (d *Dispatcher) Deliver(ctx context.Context, kind models.NoticeKind, booking *models.Booking) error {
	var (
		msg scheduler.Message
		err error
	)
	switch RecipientOf(kind) {
	case RecipientAdmin:
		// имя ищется до отправки и со своим таймаутом, отправка получает полный
		msg, err = Render(kind, booking, d.displayName(ctx, booking.OwnerChatID))
		if err == nil {
			err = d.send(ctx, func(ctx context.Context) error { return d.sender.SendToAdmin(ctx, msg) })
		}
	default:
		msg, err = Render(kind, booking, "")
		if err == nil {
			err = d.send(ctx, func(ctx context.Context) error { return d.sender.SendToUser(ctx, booking.OwnerChatID, msg) })
		}
	}

	if err != nil {
		metrics.RecordNotification(string(kind), "failed")
		d.logger.Warn("Notification delivery failed",
			logger.Int64("booking_id", booking.ID),
			logger.String("kind", string(kind)),
			logger.Error(err),
		)
		return errors.ErrTransientDelivery.WithError(err).WithContext(map[string]interface{}{
			"booking_id": booking.ID,
			"kind":       string(kind),
		})
	}

	metrics.RecordNotification(string(kind), "sent")
	d.logger.Debug("Notification delivered",
		logger.Int64("booking_id", booking.ID),
		logger.String("kind", string(kind)),
	)
	return nil
}

func (d *Dispatcher) send(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return fn(ctx)
}

// displayName ограничен половиной таймаута. Пустой результат Render заменит на id:<chat_id>
func (d *Dispatcher) displayName(ctx context.Context, chatID int64) string {
	ctx, cancel := context.WithTimeout(ctx, d.timeout/2)
	defer cancel()

	name := d.sender.DisplayName(ctx, chatID)
	if ctx.Err() != nil {
		d.logger.Debug("Display name lookup timed out", logger.Int64("chat_id", chatID))
		return ""
	}
	return name
}

// Render формирует текст и кнопки уведомления. displayName используется только в сообщении администратору
func Render(kind models.NoticeKind, b *models.Booking, displayName string) (scheduler.Message, error) {
	switch kind {
	case models.NoticeReminder24h:
		return scheduler.Message{
			Text: fmt.Sprintf("📅 До вашей записи осталось 24 часа!\nДата: %s, Время: %s", b.Date, b.GetFormattedTime()),
		}, nil

	case models.NoticeConfirmationRequest:
		return scheduler.Message{
			Text: "⏰ Ваша сессия скоро начнётся!\nПодтвердите, что вы придёте.",
			Buttons: []scheduler.Button{
				{Text: "✅ Я приду", Data: CallbackData(CallbackConfirmBooking, b.ID)},
			},
		}, nil

	case models.NoticeAutoCancelled:
		return scheduler.Message{
			Text: "❌ Ваша запись была отменена, так как вы не подтвердили участие за 10 минут до начала.",
		}, nil

	case models.NoticeAttendanceMark:
		if displayName == "" {
			displayName = FallbackDisplayName(b.OwnerChatID)
		}
		return scheduler.Message{
			Text: fmt.Sprintf(
				"📌 <b>Прошла запись пользователя</b> %s\n📅 %s ⏰ %s\n\nНажмите, если он <b>пришёл</b> ⬇️",
				html.EscapeString(displayName), b.Date, b.GetFormattedTime(),
			),
			ParseMode: "HTML",
			Buttons: []scheduler.Button{
				{Text: "✅ Пришёл", Data: CallbackData(CallbackUserCame, b.ID)},
			},
		}, nil
	}

	return scheduler.Message{}, fmt.Errorf("unknown notice kind %q", kind)
}

// FallbackDisplayName имя пользователя, когда Telegram не вернул username
func FallbackDisplayName(chatID int64) string {
	return "id:" + strconv.FormatInt(chatID, 10)
}
