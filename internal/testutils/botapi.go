package testutils

import (
	"context"
	"sync"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// FakeBotAPI запоминает вызовы Telegram Bot API из обработчиков
type FakeBotAPI struct {
	mu       sync.Mutex
	messages []*tgbot.SendMessageParams
	answers  []*tgbot.AnswerCallbackQueryParams
	edits    []*tgbot.EditMessageReplyMarkupParams
}

func (f *FakeBotAPI) SendMessage(_ context.Context, params *tgbot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, params)
	return &models.Message{ID: len(f.messages)}, nil
}

func (f *FakeBotAPI) AnswerCallbackQuery(_ context.Context, params *tgbot.AnswerCallbackQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, params)
	return true, nil
}

func (f *FakeBotAPI) EditMessageReplyMarkup(_ context.Context, params *tgbot.EditMessageReplyMarkupParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, params)
	return &models.Message{ID: params.MessageID}, nil
}

// Messages возвращает отправленные сообщения
func (f *FakeBotAPI) Messages() []*tgbot.SendMessageParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*tgbot.SendMessageParams(nil), f.messages...)
}

// Answers возвращает ответы на callback query
func (f *FakeBotAPI) Answers() []*tgbot.AnswerCallbackQueryParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*tgbot.AnswerCallbackQueryParams(nil), f.answers...)
}

// LastAnswer возвращает последний ответ на callback query или nil
func (f *FakeBotAPI) LastAnswer() *tgbot.AnswerCallbackQueryParams {
	answers := f.Answers()
	if len(answers) == 0 {
		return nil
	}
	return answers[len(answers)-1]
}

// Edits возвращает изменения клавиатур
func (f *FakeBotAPI) Edits() []*tgbot.EditMessageReplyMarkupParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*tgbot.EditMessageReplyMarkupParams(nil), f.edits...)
}

// CallbackUpdate собирает update с нажатием кнопки data пользователем userID в чате chatID
func CallbackUpdate(userID, chatID int64, data string) *models.Update {
	return &models.Update{
		CallbackQuery: &models.CallbackQuery{
			ID:   "cb-1",
			From: models.User{ID: userID},
			Data: data,
			Message: models.MaybeInaccessibleMessage{
				Message: &models.Message{
					ID:   77,
					Chat: models.Chat{ID: chatID},
				},
			},
		},
	}
}

// MessageUpdate собирает update с текстовым сообщением
func MessageUpdate(chatID int64, text string) *models.Update {
	return &models.Update{
		Message: &models.Message{
			ID:   1,
			Chat: models.Chat{ID: chatID},
			Text: text,
		},
	}
}
