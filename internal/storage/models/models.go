package models

import (
	"fmt"
	"time"
)

const (
	// DateLayout формат даты записи
	DateLayout = "2006-01-02"
	// TimeLayout формат времени записи
	TimeLayout = "15:04"
)

// BookingState состояние записи
type BookingState string

const (
	StatePending                BookingState = "pending"
	StateConfirmed              BookingState = "confirmed"
	StateCancelled              BookingState = "cancelled"
	StateAwaitingAttendanceMark BookingState = "awaiting_attendance_mark"
	StateAttended               BookingState = "attended"
)

// ActiveStates состояния, из которых еще возможны переходы
var ActiveStates = []BookingState{StatePending, StateConfirmed, StateAwaitingAttendanceMark}

// IsTerminal проверяет, является ли состояние конечным
func (s BookingState) IsTerminal() bool {
	return s == StateCancelled || s == StateAttended
}

// IsValid проверяет, что состояние известно
func (s BookingState) IsValid() bool {
	switch s {
	case StatePending, StateConfirmed, StateCancelled, StateAwaitingAttendanceMark, StateAttended:
		return true
	}
	return false
}

// Title возвращает название состояния для пользователя
func (s BookingState) Title() string {
	switch s {
	case StatePending:
		return "ожидает подтверждения"
	case StateConfirmed:
		return "подтверждена"
	case StateCancelled:
		return "отменена"
	case StateAwaitingAttendanceMark:
		return "ожидает отметки о посещении"
	case StateAttended:
		return "посещена"
	}
	return string(s)
}

// NotificationFlag флаг отправленного напоминания
type NotificationFlag string

const (
	FlagNotified24h NotificationFlag = "notified_24h"
	FlagNotified1h  NotificationFlag = "notified_1h"
)

// Booking представляет запись на сессию
type Booking struct {
	ID          int64        `json:"id" db:"id"`
	OwnerChatID int64        `json:"owner_chat_id" db:"owner_chat_id"`
	Date        string       `json:"date" db:"date"`
	TimeFrom    string       `json:"time_from" db:"time_from"`
	TimeTo      string       `json:"time_to" db:"time_to"`
	Tariff      string       `json:"tariff" db:"tariff"`
	State       BookingState `json:"state" db:"state"`
	Attended    bool         `json:"attended" db:"attended"`
	Notified24h bool         `json:"notified_24h" db:"notified_24h"`
	Notified1h  bool         `json:"notified_1h" db:"notified_1h"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// StartAt возвращает момент начала сессии в заданной локации
func (b *Booking) StartAt(loc *time.Location) (time.Time, error) {
	return parseWallClock(b.Date, b.TimeFrom, loc)
}

// EndAt возвращает момент окончания сессии в заданной локации
func (b *Booking) EndAt(loc *time.Location) (time.Time, error) {
	return parseWallClock(b.Date, b.TimeTo, loc)
}

// GetFormattedTime возвращает отформатированное время записи
func (b *Booking) GetFormattedTime() string {
	return b.TimeFrom + "–" + b.TimeTo
}

func parseWallClock(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid booking time %q %q: %w", date, clock, err)
	}
	return t, nil
}

// NoticeKind тип уведомления
type NoticeKind string

const (
	NoticeReminder24h         NoticeKind = "reminder_24h"
	NoticeConfirmationRequest NoticeKind = "confirmation_request"
	NoticeAutoCancelled       NoticeKind = "auto_cancelled"
	NoticeAttendanceMark      NoticeKind = "attendance_mark"
)

// Notice уведомление в очереди outbox, привязанное к переходу состояния
type Notice struct {
	ID        int64      `json:"id" db:"id"`
	BookingID int64      `json:"booking_id" db:"booking_id"`
	Kind      NoticeKind `json:"kind" db:"kind"`
	Attempts  int        `json:"attempts" db:"attempts"`
	LastError string     `json:"last_error,omitempty" db:"last_error"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty" db:"sent_at"`
}
