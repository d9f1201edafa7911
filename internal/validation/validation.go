package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"telegram_studio_bot/internal/storage/models"
	"telegram_studio_bot/pkg/errors"
)

// Регулярные выражения для валидации
var (
	dateRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeRegex = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?$`)
)

const maxTariffLength = 64

// ValidateBookingID валидирует ID записи
func ValidateBookingID(idStr string) (int64, error) {
	if idStr == "" {
		return 0, errors.ErrInvalidBookingID.WithContext("ID записи не может быть пустым")
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, errors.ErrInvalidBookingID.WithError(err).WithContext(map[string]interface{}{
			"input": idStr,
		})
	}

	if id <= 0 {
		return 0, errors.ErrInvalidBookingID.WithContext(map[string]interface{}{
			"input":  idStr,
			"reason": "ID должен быть положительным числом",
		})
	}

	return id, nil
}

// ValidateDate валидирует дату в формате YYYY-MM-DD
func ValidateDate(dateStr string) (time.Time, error) {
	if dateStr == "" {
		return time.Time{}, errors.ErrInvalidDate.WithContext("дата не может быть пустой")
	}

	if !dateRegex.MatchString(dateStr) {
		return time.Time{}, errors.ErrInvalidDate.WithContext(map[string]interface{}{
			"date":   dateStr,
			"reason": "дата должна быть в формате YYYY-MM-DD",
		})
	}

	date, err := time.Parse(models.DateLayout, dateStr)
	if err != nil {
		return time.Time{}, errors.ErrInvalidDate.WithError(err).WithContext(map[string]interface{}{
			"date": dateStr,
		})
	}

	return date, nil
}

// ValidateTime валидирует время и приводит его к виду HH:MM.
// Допускается указание только часа: "9" и "14" превращаются в "09:00" и "14:00"
func ValidateTime(timeStr string) (string, error) {
	if timeStr == "" {
		return "", errors.ErrInvalidTime.WithContext("время не может быть пустым")
	}

	m := timeRegex.FindStringSubmatch(timeStr)
	if m == nil {
		return "", errors.ErrInvalidTime.WithContext(map[string]interface{}{
			"time":   timeStr,
			"reason": "время должно быть в формате HH:MM или HH",
		})
	}

	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}

	if hour > 23 || minute > 59 {
		return "", errors.ErrInvalidTime.WithContext(map[string]interface{}{
			"time":   timeStr,
			"reason": "время вне допустимого диапазона",
		})
	}

	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

// ValidateTimeRange проверяет, что время окончания позже времени начала, и нормализует оба значения
func ValidateTimeRange(from, to string) (string, string, error) {
	start, err := ValidateTime(from)
	if err != nil {
		return "", "", fmt.Errorf("некорректное время начала: %w", err)
	}

	end, err := ValidateTime(to)
	if err != nil {
		return "", "", fmt.Errorf("некорректное время окончания: %w", err)
	}

	// Строки HH:MM упорядочены так же, как время
	if end <= start {
		return "", "", errors.ErrInvalidTimeRange.WithContext(map[string]interface{}{
			"time_from": start,
			"time_to":   end,
			"reason":    "время окончания должно быть позже времени начала",
		})
	}

	return start, end, nil
}

// ValidateStartInFuture проверяет, что сессия еще не началась
func ValidateStartInFuture(date, from string, now time.Time, loc *time.Location) error {
	b := models.Booking{Date: date, TimeFrom: from}
	start, err := b.StartAt(loc)
	if err != nil {
		return errors.ErrInvalidDate.WithError(err)
	}

	if !start.After(now) {
		return errors.ErrInvalidDate.WithContext(map[string]interface{}{
			"date":      date,
			"time_from": from,
			"reason":    "нельзя создать запись в прошлом",
		})
	}

	return nil
}

// ValidateChatID валидирует Telegram Chat ID
func ValidateChatID(chatID int64) error {
	if chatID == 0 {
		return errors.ErrInvalidChatID.WithContext("Chat ID не может быть равен нулю")
	}

	// Для групп Chat ID отрицательный, принимаем любые ненулевые значения
	return nil
}

// ValidateTariff валидирует название тарифа
func ValidateTariff(name string) error {
	if len([]rune(name)) > maxTariffLength {
		return errors.ErrInvalidTariff.WithContext(map[string]interface{}{
			"length":     len([]rune(name)),
			"max_length": maxTariffLength,
		})
	}
	return nil
}
