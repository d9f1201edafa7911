package errors

import (
	stderrors "errors"
	"fmt"
)

// BotError представляет ошибку бота с кодом и контекстом
type BotError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Err     error       `json:"-"`
	Context interface{} `json:"context,omitempty"`
}

// Error реализует интерфейс error
func (e *BotError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap позволяет использовать errors.Is и errors.As
func (e *BotError) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по коду, поэтому копии из WithContext/WithError
// совпадают с исходным значением
func (e *BotError) Is(target error) bool {
	t, ok := target.(*BotError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithContext добавляет контекст к ошибке
func (e *BotError) WithContext(ctx interface{}) *BotError {
	return &BotError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Context: ctx,
	}
}

// WithError добавляет underlying ошибку
func (e *BotError) WithError(err error) *BotError {
	return &BotError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
		Context: e.Context,
	}
}

// Предопределенные ошибки
var (
	// Ошибки записей
	ErrBookingNotFound = &BotError{
		Code:    "BOOKING_NOT_FOUND",
		Message: "запись не найдена",
	}

	ErrInvalidTransition = &BotError{
		Code:    "INVALID_TRANSITION",
		Message: "недопустимый переход состояния записи",
	}

	ErrStoreConflict = &BotError{
		Code:    "STORE_CONFLICT",
		Message: "состояние записи изменилось параллельно",
	}

	ErrSlotOverlap = &BotError{
		Code:    "SLOT_OVERLAP",
		Message: "время пересекается с другой записью",
	}

	ErrForbidden = &BotError{
		Code:    "FORBIDDEN",
		Message: "действие недоступно этому пользователю",
	}

	// Ошибки планировщика
	ErrTransientDelivery = &BotError{
		Code:    "TRANSIENT_DELIVERY_FAILURE",
		Message: "не удалось доставить уведомление",
	}

	ErrBookingProcessing = &BotError{
		Code:    "PER_BOOKING_PROCESSING",
		Message: "ошибка обработки записи",
	}

	// Ошибки валидации
	ErrInvalidBookingID = &BotError{
		Code:    "INVALID_BOOKING_ID",
		Message: "некорректный ID записи",
	}

	ErrInvalidDate = &BotError{
		Code:    "INVALID_DATE",
		Message: "некорректная дата",
	}

	ErrInvalidTime = &BotError{
		Code:    "INVALID_TIME",
		Message: "некорректное время",
	}

	ErrInvalidTimeRange = &BotError{
		Code:    "INVALID_TIME_RANGE",
		Message: "время начала должно быть раньше времени окончания",
	}

	ErrInvalidTariff = &BotError{
		Code:    "INVALID_TARIFF",
		Message: "некорректное название тарифа",
	}

	ErrInvalidChatID = &BotError{
		Code:    "INVALID_CHAT_ID",
		Message: "некорректный chat ID",
	}

	// Системные ошибки
	ErrConfigurationInvalid = &BotError{
		Code:    "CONFIGURATION_INVALID",
		Message: "некорректная конфигурация",
	}

	ErrTelegramAPI = &BotError{
		Code:    "TELEGRAM_API",
		Message: "ошибка Telegram API",
	}
)

// GetBotError извлекает BotError из цепочки ошибок
func GetBotError(err error) (*BotError, bool) {
	var botErr *BotError
	if stderrors.As(err, &botErr) {
		return botErr, true
	}
	return nil, false
}

// Code возвращает код ошибки или "INTERNAL" для прочих ошибок
func Code(err error) string {
	if botErr, ok := GetBotError(err); ok {
		return botErr.Code
	}
	return "INTERNAL"
}
