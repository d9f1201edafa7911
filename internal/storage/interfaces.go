package storage

import (
	"context"

	"telegram_studio_bot/internal/storage/models"
)

// BookingRepository определяет интерфейс для работы с записями.
// Все изменения состояния условные: запись меняется только если ее текущее
// значение совпадает с ожидаемым, иначе метод возвращает false без ошибки.
type BookingRepository interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBookingByID(ctx context.Context, id int64) (*models.Booking, error)
	ListActiveBookings(ctx context.Context) ([]*models.Booking, error)
	ListUserBookings(ctx context.Context, chatID int64) ([]*models.Booking, error)
	CompareAndSetState(ctx context.Context, id int64, expected, next models.BookingState, notices ...models.NoticeKind) (bool, error)
	MarkNotified(ctx context.Context, id int64, flag models.NotificationFlag) (bool, error)
	MarkAttended(ctx context.Context, id int64) (bool, error)
}

// NoticeRepository определяет интерфейс очереди уведомлений (outbox)
type NoticeRepository interface {
	ListPendingNotices(ctx context.Context, limit int) ([]*models.Notice, error)
	CountPendingNotices(ctx context.Context) (int, error)
	MarkNoticeSent(ctx context.Context, id int64) error
	RecordNoticeFailure(ctx context.Context, id int64, reason string, maxAttempts int) (bool, error)
}

// Storage объединяет все репозитории в единый интерфейс
type Storage interface {
	BookingRepository
	NoticeRepository
	Close() error
	Ping(ctx context.Context) error
}
