package testutils

import (
	"context"
	"errors"
	"sync"

	"telegram_studio_bot/internal/scheduler"
)

// ErrSendFailed ошибка, которую возвращает FakeSender в режиме сбоя
var ErrSendFailed = errors.New("fake sender: send failed")

// SentMessage отправленное FakeSender сообщение
type SentMessage struct {
	ChatID  int64
	ToAdmin bool
	Message scheduler.Message
}

// FakeSender реализует scheduler.NotificationSender в памяти
type FakeSender struct {
	mu        sync.Mutex
	sent      []SentMessage
	failures  int
	failAll   bool
	hangName  bool
	hangSend  bool
	names     map[int64]string
	OnSend    func(SentMessage)
	AdminChat int64
}

// NewFakeSender создает FakeSender
func NewFakeSender() *FakeSender {
	return &FakeSender{names: make(map[int64]string), AdminChat: -1}
}

// FailNext заставляет следующие n отправок завершиться ошибкой
func (f *FakeSender) FailNext(n int) {
	f.mu.Lock()
	f.failures = n
	f.mu.Unlock()
}

// SetFailAll включает или выключает постоянный сбой отправки
func (f *FakeSender) SetFailAll(v bool) {
	f.mu.Lock()
	f.failAll = v
	f.mu.Unlock()
}

// SetHangDisplayName заставляет DisplayName ждать отмены контекста
func (f *FakeSender) SetHangDisplayName(v bool) {
	f.mu.Lock()
	f.hangName = v
	f.mu.Unlock()
}

// SetHangSend заставляет отправку ждать отмены контекста
func (f *FakeSender) SetHangSend(v bool) {
	f.mu.Lock()
	f.hangSend = v
	f.mu.Unlock()
}

// SetName задает username для DisplayName
func (f *FakeSender) SetName(chatID int64, name string) {
	f.mu.Lock()
	f.names[chatID] = name
	f.mu.Unlock()
}

func (f *FakeSender) SendToUser(ctx context.Context, chatID int64, msg scheduler.Message) error {
	return f.record(ctx, SentMessage{ChatID: chatID, Message: msg})
}

func (f *FakeSender) SendToAdmin(ctx context.Context, msg scheduler.Message) error {
	return f.record(ctx, SentMessage{ChatID: f.AdminChat, ToAdmin: true, Message: msg})
}

func (f *FakeSender) DisplayName(ctx context.Context, chatID int64) string {
	f.mu.Lock()
	hang := f.hangName
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ""
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if name, ok := f.names[chatID]; ok {
		return "@" + name
	}
	return ""
}

func (f *FakeSender) record(ctx context.Context, m SentMessage) error {
	f.mu.Lock()
	hang := f.hangSend
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	if f.failAll || f.failures > 0 {
		if f.failures > 0 {
			f.failures--
		}
		f.mu.Unlock()
		return ErrSendFailed
	}
	f.sent = append(f.sent, m)
	hook := f.OnSend
	f.mu.Unlock()

	if hook != nil {
		hook(m)
	}
	return nil
}

// Sent возвращает копию отправленных сообщений
func (f *FakeSender) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// SentTo возвращает сообщения, отправленные пользователю chatID
func (f *FakeSender) SentTo(chatID int64) []SentMessage {
	var out []SentMessage
	for _, m := range f.Sent() {
		if !m.ToAdmin && m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// SentToAdmin возвращает сообщения администратору
func (f *FakeSender) SentToAdmin() []SentMessage {
	var out []SentMessage
	for _, m := range f.Sent() {
		if m.ToAdmin {
			out = append(out, m)
		}
	}
	return out
}

// Reset очищает список отправленных сообщений
func (f *FakeSender) Reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}
