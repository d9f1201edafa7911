package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	boterrors "telegram_studio_bot/pkg/errors"
)

// Config содержит всю конфигурацию приложения.
// Имена переменных окружения строятся из имен полей: Scheduler.PollInterval -> SCHEDULER_POLL_INTERVAL
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Events    EventsConfig    `json:"events"`
	Log       LogConfig       `json:"log"`
}

// TelegramConfig содержит настройки Telegram бота.
// Пустой WebhookURL означает работу через long polling
type TelegramConfig struct {
	Token       string `json:"-" split_words:"true" validate:"required"`
	WebhookURL  string `json:"webhook_url" split_words:"true" validate:"omitempty,url"`
	SecretToken string `json:"-" split_words:"true"`
	AdminChatID int64  `json:"admin_chat_id" split_words:"true" validate:"required"`
}

// ServerConfig содержит настройки HTTP сервера
type ServerConfig struct {
	Port            string        `json:"port" split_words:"true" default:"8080" validate:"required,numeric"`
	ReadTimeout     time.Duration `json:"read_timeout" split_words:"true" default:"30s" validate:"gt=0"`
	WriteTimeout    time.Duration `json:"write_timeout" split_words:"true" default:"30s" validate:"gt=0"`
	IdleTimeout     time.Duration `json:"idle_timeout" split_words:"true" default:"120s" validate:"gt=0"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" split_words:"true" default:"15s" validate:"gt=0"`
	AdminToken      string        `json:"-" split_words:"true"`
}

// DatabaseConfig содержит настройки базы данных
type DatabaseConfig struct {
	Path string `json:"path" split_words:"true" default:"studio.db" validate:"required"`
}

// SchedulerConfig содержит настройки цикла сверки и окон уведомлений
type SchedulerConfig struct {
	PollInterval        time.Duration `json:"poll_interval" split_words:"true" default:"60s" validate:"gt=0"`
	ReminderOffset      time.Duration `json:"reminder_offset" split_words:"true" default:"24h" validate:"gt=0"`
	ReminderTolerance   time.Duration `json:"reminder_tolerance" split_words:"true" default:"6m" validate:"gt=0"`
	ConfirmOffset       time.Duration `json:"confirm_offset" split_words:"true" default:"1h" validate:"gt=0"`
	ConfirmTolerance    time.Duration `json:"confirm_tolerance" split_words:"true" default:"6m" validate:"gt=0"`
	AutoCancelThreshold time.Duration `json:"auto_cancel_threshold" split_words:"true" default:"10m" validate:"gt=0"`
	DispatchTimeout     time.Duration `json:"dispatch_timeout" split_words:"true" default:"10s" validate:"gt=0"`
	Workers             int           `json:"workers" split_words:"true" default:"4" validate:"min=1,max=64"`
	NoticeBatch         int           `json:"notice_batch" split_words:"true" default:"50" validate:"min=1"`
	NoticeMaxAttempts   int           `json:"notice_max_attempts" split_words:"true" default:"10" validate:"min=0"`
	Timezone            string        `json:"timezone" split_words:"true" default:"Local" validate:"required"`
}

// EventsConfig содержит настройки публикации событий. Пустой RabbitURL отключает публикацию
type EventsConfig struct {
	RabbitURL string `json:"-" split_words:"true" validate:"omitempty,url"`
	Exchange  string `json:"exchange" split_words:"true" default:"studio.bookings" validate:"required"`
}

// LogConfig содержит настройки логирования
type LogConfig struct {
	Level  string `json:"level" split_words:"true" default:"info" validate:"oneof=debug info warn error fatal"`
	Format string `json:"format" split_words:"true" default:"pretty" validate:"oneof=pretty json"`
}

// Load загружает конфигурацию из .env (если есть) и переменных окружения
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, boterrors.ErrConfigurationInvalid.WithError(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var validateErr validator.ValidationErrors
		if errors.As(err, &validateErr) {
			return boterrors.ErrConfigurationInvalid.WithError(errors.New(describe(validateErr)))
		}
		return boterrors.ErrConfigurationInvalid.WithError(err)
	}

	if c.Telegram.SecretToken != "" && c.Telegram.WebhookURL == "" {
		return invalid("TELEGRAM_SECRET_TOKEN is only used together with TELEGRAM_WEBHOOK_URL")
	}

	s := c.Scheduler

	// Окно должно быть шире интервала опроса, иначе опрос может его перешагнуть
	if s.PollInterval >= 2*s.ReminderTolerance {
		return invalid("SCHEDULER_POLL_INTERVAL (%s) must be shorter than the reminder window (2 x %s)", s.PollInterval, s.ReminderTolerance)
	}
	if s.PollInterval >= 2*s.ConfirmTolerance {
		return invalid("SCHEDULER_POLL_INTERVAL (%s) must be shorter than the confirmation window (2 x %s)", s.PollInterval, s.ConfirmTolerance)
	}

	if s.ReminderTolerance >= s.ReminderOffset {
		return invalid("SCHEDULER_REMINDER_TOLERANCE must be less than SCHEDULER_REMINDER_OFFSET")
	}
	if s.ConfirmTolerance >= s.ConfirmOffset {
		return invalid("SCHEDULER_CONFIRM_TOLERANCE must be less than SCHEDULER_CONFIRM_OFFSET")
	}
	if s.ReminderOffset-s.ReminderTolerance <= s.ConfirmOffset+s.ConfirmTolerance {
		return invalid("reminder window must end before the confirmation window starts")
	}
	if s.ConfirmOffset-s.ConfirmTolerance <= s.AutoCancelThreshold {
		return invalid("confirmation window must end before SCHEDULER_AUTO_CANCEL_THRESHOLD")
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	return nil
}

// Location возвращает часовой пояс студии
func (c *Config) Location() (*time.Location, error) {
	if strings.EqualFold(c.Scheduler.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, boterrors.ErrConfigurationInvalid.WithError(fmt.Errorf("invalid SCHEDULER_TIMEZONE %q: %w", c.Scheduler.Timezone, err))
	}
	return loc, nil
}

// UseWebhook сообщает, нужно ли принимать обновления через webhook
func (c *Config) UseWebhook() bool {
	return c.Telegram.WebhookURL != ""
}

// Addr возвращает адрес HTTP сервера
func (c *Config) Addr() string {
	return ":" + c.Server.Port
}

func invalid(format string, args ...interface{}) error {
	return boterrors.ErrConfigurationInvalid.WithError(fmt.Errorf(format, args...))
}

// describe превращает ошибки валидатора в список "Struct.Field: tag"
func describe(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, ", ")
}
