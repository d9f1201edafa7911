package scheduler

import (
	"context"
	"time"

	"telegram_studio_bot/internal/storage/models"
)

// Reconciler определяет интерфейс периодической сверки записей с текущим временем
type Reconciler interface {
	// Start запускает цикл опроса и блокируется до отмены контекста или Stop
	Start(ctx context.Context) error

	// RunOnce выполняет один проход по активным записям
	RunOnce(ctx context.Context) (PollStats, error)

	// Stop останавливает цикл
	Stop() error
}

// PollStats итоги одного прохода
type PollStats struct {
	PollID           string
	Bookings         int
	Events           int
	Conflicts        int
	Failures         int
	MissedWindows    int
	NoticesDelivered int
	NoticesFailed    int
	Duration         time.Duration
}

// Button кнопка под сообщением
type Button struct {
	Text string
	Data string
}

// Message содержимое уведомления
type Message struct {
	Text      string
	ParseMode string
	Buttons   []Button
}

// NotificationSender определяет интерфейс для отправки уведомлений
type NotificationSender interface {
	// SendToUser отправляет сообщение пользователю
	SendToUser(ctx context.Context, chatID int64, msg Message) error

	// SendToAdmin отправляет сообщение администратору
	SendToAdmin(ctx context.Context, msg Message) error

	// DisplayName возвращает имя пользователя для сообщений администратору
	DisplayName(ctx context.Context, chatID int64) string
}

// Deliverer доставляет уведомление определенного типа по записи
type Deliverer interface {
	Deliver(ctx context.Context, kind models.NoticeKind, booking *models.Booking) error
}
