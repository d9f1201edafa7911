package keyboard

import (
	"github.com/go-telegram/bot/models"

	"telegram_studio_bot/internal/scheduler"
)

// FromButtons создает inline клавиатуру, по одной кнопке в ряд
func FromButtons(buttons []scheduler.Button) *models.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}

	rows := make([][]models.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         b.Text,
			CallbackData: b.Data,
		}})
	}

	return &models.InlineKeyboardMarkup{
		InlineKeyboard: rows,
	}
}

// CreateEmptyInlineKeyboard создает пустую inline клавиатуру для удаления кнопок из сообщения
func CreateEmptyInlineKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{},
	}
}
