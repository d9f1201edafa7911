package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	tgbot "github.com/go-telegram/bot"

	"telegram_studio_bot/internal/bot"
	"telegram_studio_bot/internal/bot/sender"
	"telegram_studio_bot/internal/bot/service"
	"telegram_studio_bot/internal/config"
	"telegram_studio_bot/internal/events"
	"telegram_studio_bot/internal/middleware"
	"telegram_studio_bot/internal/notify"
	"telegram_studio_bot/internal/scheduler/poll"
	"telegram_studio_bot/internal/scheduler/window"
	"telegram_studio_bot/internal/server"
	"telegram_studio_bot/internal/storage/sqlite"
	"telegram_studio_bot/pkg/logger"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", logger.Error(err))
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Fatal("Invalid log level", logger.Error(err))
	}
	log := logger.NewWithOptions(logger.Options{Level: level, Format: logger.Format(cfg.Log.Format)})
	logger.SetDefault(log)

	log.Info("Starting studio bot",
		logger.String("version", version),
		logger.Bool("webhook", cfg.UseWebhook()),
		logger.String("timezone", cfg.Scheduler.Timezone),
	)

	if err := run(cfg, log); err != nil {
		log.Fatal("Studio bot stopped with error", logger.Error(err))
	}
	log.Info("Studio bot stopped gracefully")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	storage, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.Close(); err != nil {
			log.Error("Error closing storage", logger.Error(err))
		}
	}()
	log.Info("Storage initialized", logger.String("path", cfg.Database.Path))

	publisher, err := newPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer publisher.Close()

	svc := service.NewService(storage, publisher, cfg.Telegram.AdminChatID, loc, log)

	limiter := middleware.NewTelegramRateLimiter(30, 25, log)
	defer limiter.Close()
	dispatcher := bot.NewDispatcher(svc, limiter, log)

	opts := []tgbot.Option{tgbot.WithDefaultHandler(dispatcher.HandleUpdate)}
	if cfg.Telegram.SecretToken != "" {
		opts = append(opts, tgbot.WithWebhookSecretToken(cfg.Telegram.SecretToken))
	}
	telegramBot, err := tgbot.New(cfg.Telegram.Token, opts...)
	if err != nil {
		return err
	}

	notifier := notify.NewDispatcher(
		sender.NewTelegramSender(telegramBot, cfg.Telegram.AdminChatID, log),
		cfg.Scheduler.DispatchTimeout,
		log,
	)

	evaluator := window.New(window.Config{
		ReminderOffset:      cfg.Scheduler.ReminderOffset,
		ReminderTolerance:   cfg.Scheduler.ReminderTolerance,
		ConfirmOffset:       cfg.Scheduler.ConfirmOffset,
		ConfirmTolerance:    cfg.Scheduler.ConfirmTolerance,
		AutoCancelThreshold: cfg.Scheduler.AutoCancelThreshold,
		Location:            loc,
	})

	reconciler := poll.New(storage, evaluator, notifier, poll.Config{
		Interval:          cfg.Scheduler.PollInterval,
		Workers:           cfg.Scheduler.Workers,
		NoticeBatch:       cfg.Scheduler.NoticeBatch,
		NoticeMaxAttempts: cfg.Scheduler.NoticeMaxAttempts,
	}, poll.WithLogger(log), poll.WithPublisher(publisher))

	deps := server.Deps{Storage: storage, Bookings: svc, Version: version}

	if cfg.UseWebhook() {
		if _, err := telegramBot.SetWebhook(ctx, &tgbot.SetWebhookParams{
			URL:         cfg.Telegram.WebhookURL,
			SecretToken: cfg.Telegram.SecretToken,
		}); err != nil {
			return err
		}
		log.Info("Webhook configured", logger.String("url", cfg.Telegram.WebhookURL))

		deps.Webhook = telegramBot.WebhookHandler()
		go telegramBot.StartWebhook(ctx)
	} else {
		if _, err := telegramBot.DeleteWebhook(ctx, &tgbot.DeleteWebhookParams{}); err != nil {
			log.Warn("Failed to delete existing webhook", logger.Error(err))
		}
		log.Info("Starting long polling")
		go telegramBot.Start(ctx)
	}

	srv := server.New(cfg, log, deps)

	errCh := make(chan error, 2)
	go func() {
		errCh <- reconciler.Start(ctx)
	}()
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// Ждем сигнала или падения одного из компонентов, затем останавливаем оба
	var firstErr error
	for i := 0; i < 2; i++ {
		err := <-errCh
		if i == 0 {
			log.Info("Shutting down")
			stop()
			reconciler.Stop()
		}
		if err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func newPublisher(cfg *config.Config, log *logger.Logger) (events.Publisher, error) {
	if cfg.Events.RabbitURL == "" {
		log.Info("Booking events publishing disabled")
		return events.NopPublisher{}, nil
	}

	publisher, err := events.NewAMQPPublisher(cfg.Events.RabbitURL, cfg.Events.Exchange)
	if err != nil {
		return nil, err
	}
	log.Info("Publishing booking events to RabbitMQ", logger.String("exchange", cfg.Events.Exchange))
	return publisher, nil
}
