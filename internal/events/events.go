package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"telegram_studio_bot/internal/storage/models"
)

// Ключи маршрутизации событий жизненного цикла записи
const (
	KeyBookingCreated            = "booking.created"
	KeyBookingConfirmed          = "booking.confirmed"
	KeyBookingCancelled          = "booking.cancelled"
	KeyBookingAwaitingAttendance = "booking.awaiting_attendance_mark"
	KeyBookingAttended           = "booking.attended"
)

// BookingEvent сообщение о смене состояния записи
type BookingEvent struct {
	EventID     string              `json:"event_id"`
	BookingID   int64               `json:"booking_id"`
	OwnerChatID int64               `json:"owner_chat_id"`
	Date        string              `json:"date"`
	TimeFrom    string              `json:"time_from"`
	TimeTo      string              `json:"time_to"`
	From        models.BookingState `json:"from,omitempty"`
	To          models.BookingState `json:"to"`
	Source      string              `json:"source"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

// NewBookingEvent создает событие перехода записи b из from в to
func NewBookingEvent(b *models.Booking, from, to models.BookingState, source string, at time.Time) BookingEvent {
	return BookingEvent{
		EventID:     uuid.NewString(),
		BookingID:   b.ID,
		OwnerChatID: b.OwnerChatID,
		Date:        b.Date,
		TimeFrom:    b.TimeFrom,
		TimeTo:      b.TimeTo,
		From:        from,
		To:          to,
		Source:      source,
		OccurredAt:  at.UTC(),
	}
}

// RoutingKey возвращает ключ маршрутизации для целевого состояния
func RoutingKey(to models.BookingState) string {
	switch to {
	case models.StatePending:
		return KeyBookingCreated
	case models.StateConfirmed:
		return KeyBookingConfirmed
	case models.StateCancelled:
		return KeyBookingCancelled
	case models.StateAwaitingAttendanceMark:
		return KeyBookingAwaitingAttendance
	case models.StateAttended:
		return KeyBookingAttended
	}
	return "booking." + string(to)
}

// Publisher публикует события жизненного цикла записей
type Publisher interface {
	Publish(ctx context.Context, event BookingEvent) error
	Close() error
}

// NopPublisher ничего не публикует. Используется, когда брокер не настроен
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, BookingEvent) error { return nil }
func (NopPublisher) Close() error                                { return nil }
