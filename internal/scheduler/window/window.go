// Package window определяет, какие события по записи должны сработать в данный момент.
//
// Каждое событие это окно допуска вокруг смещения от начала сессии. Окно должно
// быть шире интервала опроса, чтобы хотя бы один опрос в него попал. Повторное
// попадание гасится флагами уведомлений и условным обновлением состояния.
package window

import (
	"fmt"
	"time"

	"telegram_studio_bot/internal/storage/models"
)

// Event действие, которое цикл сверки должен выполнить для записи
type Event int

const (
	Reminder24h Event = iota + 1
	ConfirmationRequest
	AutoCancel
	AwaitAttendanceMark
	Missed24h
	Missed1h
	// MissedAutoCancel начало сессии наступило, а запись все еще не подтверждена
	MissedAutoCancel
)

func (e Event) String() string {
	switch e {
	case Reminder24h:
		return "reminder_24h"
	case ConfirmationRequest:
		return "confirmation_request"
	case AutoCancel:
		return "auto_cancel"
	case AwaitAttendanceMark:
		return "await_attendance_mark"
	case Missed24h:
		return "missed_24h"
	case Missed1h:
		return "missed_1h"
	case MissedAutoCancel:
		return "missed_auto_cancel"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Events события одной записи в порядке срабатывания
type Events []Event

// Has проверяет наличие события
func (es Events) Has(e Event) bool {
	for _, x := range es {
		if x == e {
			return true
		}
	}
	return false
}

// Config смещения и допуски окон
type Config struct {
	ReminderOffset      time.Duration
	ReminderTolerance   time.Duration
	ConfirmOffset       time.Duration
	ConfirmTolerance    time.Duration
	AutoCancelThreshold time.Duration
	Location            *time.Location
}

// DefaultConfig значения по умолчанию: 24ч±6м, 1ч±6м, 10м
func DefaultConfig() Config {
	return Config{
		ReminderOffset:      24 * time.Hour,
		ReminderTolerance:   6 * time.Minute,
		ConfirmOffset:       time.Hour,
		ConfirmTolerance:    6 * time.Minute,
		AutoCancelThreshold: 10 * time.Minute,
		Location:            time.Local,
	}
}

// Evaluator сопоставляет записи с текущим временем. Состояния не хранит.
type Evaluator struct {
	cfg Config
}

// New создает Evaluator. Пустая зона означает time.Local
func New(cfg Config) *Evaluator {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Evaluator{cfg: cfg}
}

// Location возвращает часовой пояс, в котором интерпретируется время записей
func (e *Evaluator) Location() *time.Location {
	return e.cfg.Location
}

// Classify возвращает события, которые должны сработать для b в момент now.
// Ошибка возможна только при некорректной дате или времени записи.
func (e *Evaluator) Classify(b *models.Booking, now time.Time) (Events, error) {
	if b.State.IsTerminal() {
		return nil, nil
	}

	start, err := b.StartAt(e.cfg.Location)
	if err != nil {
		return nil, err
	}
	end, err := b.EndAt(e.cfg.Location)
	if err != nil {
		return nil, err
	}

	untilStart := start.Sub(now)
	var due Events

	reminderState := b.State == models.StatePending || b.State == models.StateConfirmed
	if reminderState && !b.Notified24h {
		switch {
		case inBand(untilStart, e.cfg.ReminderOffset, e.cfg.ReminderTolerance):
			due = append(due, Reminder24h)
		case e.missed(b, start, untilStart, e.cfg.ReminderOffset, e.cfg.ReminderTolerance):
			due = append(due, Missed24h)
		}
	}

	if b.State == models.StatePending {
		if !b.Notified1h {
			switch {
			case inBand(untilStart, e.cfg.ConfirmOffset, e.cfg.ConfirmTolerance):
				due = append(due, ConfirmationRequest)
			case e.missed(b, start, untilStart, e.cfg.ConfirmOffset, e.cfg.ConfirmTolerance):
				due = append(due, Missed1h)
			}
		}
		// отмена только до начала: начавшуюся сессию задним числом не отменяем
		switch {
		case untilStart > 0 && untilStart <= e.cfg.AutoCancelThreshold:
			due = append(due, AutoCancel)
		case untilStart <= 0:
			due = append(due, MissedAutoCancel)
		}
	}

	if b.State == models.StateConfirmed && now.After(end) {
		due = append(due, AwaitAttendanceMark)
	}

	return due, nil
}

// inBand: offset-tol < d < offset+tol
func inBand(d, offset, tol time.Duration) bool {
	return d > offset-tol && d < offset+tol
}

// missed сообщает, что окно закрылось, а запись существовала к его открытию.
// Записи, созданные внутри окна или позже, не считаются пропущенными.
func (e *Evaluator) missed(b *models.Booking, start time.Time, untilStart, offset, tol time.Duration) bool {
	if untilStart > offset-tol {
		return false
	}
	opened := start.Add(-(offset + tol))
	return !b.CreatedAt.IsZero() && !b.CreatedAt.After(opened)
}
