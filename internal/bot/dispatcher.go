package bot

import (
	"context"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"telegram_studio_bot/internal/bot/handlers"
	"telegram_studio_bot/internal/bot/service"
	"telegram_studio_bot/internal/middleware"
	"telegram_studio_bot/pkg/logger"
)

// Dispatcher управляет обработкой входящих обновлений от Telegram
type Dispatcher struct {
	startHandler      *handlers.StartHandler
	myBookingsHandler *handlers.MyBookingsHandler
	callbackHandler   *handlers.CallbackHandler
	defaultHandler    *handlers.DefaultHandler
	limiter           *middleware.TelegramRateLimiter
	logger            *logger.Logger
}

// NewDispatcher создает новый диспетчер обновлений. limiter может быть nil
func NewDispatcher(svc *service.Service, limiter *middleware.TelegramRateLimiter, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Default()
	}
	return &Dispatcher{
		startHandler:      handlers.NewStartHandler(svc, log),
		myBookingsHandler: handlers.NewMyBookingsHandler(svc, log),
		callbackHandler:   handlers.NewCallbackHandler(svc, log),
		defaultHandler:    handlers.NewDefaultHandler(log),
		limiter:           limiter,
		logger:            log,
	}
}

// HandleUpdate обрабатывает входящее обновление от Telegram. Подходит как bot.WithDefaultHandler
func (d *Dispatcher) HandleUpdate(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	d.Dispatch(ctx, b, update)
}

// Dispatch направляет обновление нужному обработчику
func (d *Dispatcher) Dispatch(ctx context.Context, b handlers.BotAPI, update *models.Update) {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		d.logger.Debug("Received callback query",
			logger.Int64("user_id", cb.From.ID),
			logger.String("data", cb.Data),
		)

		if !d.allow(cb.From.ID) {
			_, _ = b.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
				CallbackQueryID: cb.ID,
				Text:            "Слишком много запросов, попробуйте через минуту",
			})
			return
		}
		d.callbackHandler.Handle(ctx, b, update)

	case update.Message != nil:
		msg := update.Message
		d.logger.Debug("Received message",
			logger.Int64("chat_id", msg.Chat.ID),
			logger.String("text", msg.Text),
		)

		if !d.allow(msg.Chat.ID) {
			return
		}

		switch command(msg.Text) {
		case "/start":
			d.startHandler.Handle(ctx, b, update)
		case "/mybookings":
			d.myBookingsHandler.Handle(ctx, b, update)
		default:
			d.defaultHandler.Handle(ctx, b, update)
		}

	default:
		d.logger.Debug("Received unsupported update type", logger.Int64("update_id", update.ID))
	}
}

func (d *Dispatcher) allow(chatID int64) bool {
	return d.limiter == nil || d.limiter.AllowUser(chatID)
}

// command возвращает команду без упоминания бота: "/start@studio_bot arg" -> "/start"
func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd)
}
