package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"telegram_studio_bot/internal/events"
	"telegram_studio_bot/internal/storage"
	"telegram_studio_bot/internal/storage/models"
	"telegram_studio_bot/internal/validation"
	"telegram_studio_bot/pkg/errors"
	"telegram_studio_bot/pkg/logger"
	"telegram_studio_bot/pkg/metrics"
)

const (
	sourceUser  = "user"
	sourceAdmin = "admin"
	sourceAPI   = "api"
)

// AckResult результат подтверждения записи или отметки посещения
type AckResult struct {
	Booking *models.Booking
	// Changed false означает, что запись уже была в целевом состоянии
	Changed bool
}

// CreateBookingRequest данные новой записи
type CreateBookingRequest struct {
	OwnerChatID int64
	Date        string
	TimeFrom    string
	TimeTo      string
	Tariff      string
}

// Service содержит бизнес-логику, общую для Telegram и HTTP API
type Service struct {
	storage     storage.Storage
	publisher   events.Publisher
	logger      *logger.Logger
	adminChatID int64
	location    *time.Location
	now         func() time.Time
}

// NewService создает новый экземпляр сервиса
func NewService(
	storage storage.Storage,
	publisher events.Publisher,
	adminChatID int64,
	location *time.Location,
	log *logger.Logger,
) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if location == nil {
		location = time.Local
	}
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		storage:     storage,
		publisher:   publisher,
		logger:      log,
		adminChatID: adminChatID,
		location:    location,
		now:         time.Now,
	}
}

// WithClock подменяет источник времени
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// IsAdmin проверяет, является ли чат администратором студии
func (s *Service) IsAdmin(chatID int64) bool {
	return s.adminChatID != 0 && chatID == s.adminChatID
}

// Location возвращает часовой пояс студии
func (s *Service) Location() *time.Location {
	return s.location
}

// GetBooking получает запись по ID
func (s *Service) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.storage.GetBookingByID(ctx, id)
}

// ListUserBookings получает неотмененные записи пользователя
func (s *Service) ListUserBookings(ctx context.Context, chatID int64) ([]*models.Booking, error) {
	if err := validation.ValidateChatID(chatID); err != nil {
		return nil, err
	}
	return s.storage.ListUserBookings(ctx, chatID)
}

// CreateBooking валидирует и сохраняет новую запись в состоянии pending
func (s *Service) CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error) {
	if err := validation.ValidateChatID(req.OwnerChatID); err != nil {
		return nil, err
	}
	if _, err := validation.ValidateDate(req.Date); err != nil {
		return nil, err
	}
	from, to, err := validation.ValidateTimeRange(req.TimeFrom, req.TimeTo)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateTariff(req.Tariff); err != nil {
		return nil, err
	}
	if err := validation.ValidateStartInFuture(req.Date, from, s.now(), s.location); err != nil {
		return nil, err
	}

	booking := &models.Booking{
		OwnerChatID: req.OwnerChatID,
		Date:        req.Date,
		TimeFrom:    from,
		TimeTo:      to,
		Tariff:      req.Tariff,
		State:       models.StatePending,
		CreatedAt:   s.now(),
	}

	if err := s.storage.CreateBooking(ctx, booking); err != nil {
		return nil, err
	}

	metrics.RecordBookingCreation()
	s.logger.Info("Booking created",
		logger.Int64("booking_id", booking.ID),
		logger.Int64("owner_chat_id", booking.OwnerChatID),
		logger.String("date", booking.Date),
		logger.String("time", booking.GetFormattedTime()),
	)
	s.publish(ctx, booking, "", models.StatePending, sourceAPI)

	return booking, nil
}

// ConfirmBooking переводит запись из pending в confirmed.
// Повторное подтверждение ничего не меняет, из остальных состояний возвращается ErrInvalidTransition
func (s *Service) ConfirmBooking(ctx context.Context, id int64) (AckResult, error) {
	return s.acknowledge(ctx, id, models.StatePending, models.StateConfirmed, sourceUser,
		func(ctx context.Context) (bool, error) {
			return s.storage.CompareAndSetState(ctx, id, models.StatePending, models.StateConfirmed)
		})
}

// MarkAttended отмечает посещение записи, ожидающей отметки.
// Повторная отметка ничего не меняет, из остальных состояний возвращается ErrInvalidTransition
func (s *Service) MarkAttended(ctx context.Context, id int64) (AckResult, error) {
	return s.acknowledge(ctx, id, models.StateAwaitingAttendanceMark, models.StateAttended, sourceAdmin,
		func(ctx context.Context) (bool, error) {
			return s.storage.MarkAttended(ctx, id)
		})
}

// acknowledge общая логика подтверждений: условное обновление, а при проигранной гонке повторное чтение
func (s *Service) acknowledge(
	ctx context.Context,
	id int64,
	from, to models.BookingState,
	source string,
	apply func(ctx context.Context) (bool, error),
) (AckResult, error) {
	booking, err := s.storage.GetBookingByID(ctx, id)
	if err != nil {
		return AckResult{}, err
	}

	switch booking.State {
	case to:
		return AckResult{Booking: booking}, nil
	case from:
	default:
		return AckResult{Booking: booking}, invalidTransition(booking, to)
	}

	ok, err := apply(ctx)
	if err != nil {
		return AckResult{}, fmt.Errorf("failed to change booking %d state: %w", id, err)
	}

	// Перечитываем запись: либо получить новое состояние, либо узнать, кто опередил
	current, err := s.storage.GetBookingByID(ctx, id)
	if err != nil {
		return AckResult{}, err
	}

	if !ok {
		if current.State == to {
			return AckResult{Booking: current}, nil
		}
		s.logger.Info("Acknowledgement lost race",
			logger.Int64("booking_id", id),
			logger.String("state", string(current.State)),
			logger.Error(errors.ErrStoreConflict),
		)
		return AckResult{Booking: current}, invalidTransition(current, to)
	}

	metrics.RecordTransition(string(from), string(to))
	s.logger.Info("Booking state changed",
		logger.Int64("booking_id", id),
		logger.String("from", string(from)),
		logger.String("to", string(to)),
		logger.String("source", source),
	)
	s.publish(ctx, current, from, to, source)

	return AckResult{Booking: current, Changed: true}, nil
}

func (s *Service) publish(ctx context.Context, b *models.Booking, from, to models.BookingState, source string) {
	ev := events.NewBookingEvent(b, from, to, source, s.now())
	if err := s.publisher.Publish(ctx, ev); err != nil {
		metrics.RecordError("events", "publish")
		s.logger.Warn("Failed to publish booking event",
			logger.Int64("booking_id", b.ID),
			logger.String("event_id", ev.EventID),
			logger.Error(err),
		)
	}
}

func invalidTransition(b *models.Booking, to models.BookingState) error {
	return errors.ErrInvalidTransition.WithContext(map[string]interface{}{
		"booking_id": b.ID,
		"state":      string(b.State),
		"to":         string(to),
	})
}

// IsInvalidTransition проверяет, что ошибка означает недопустимый переход
func IsInvalidTransition(err error) bool {
	return stderrors.Is(err, errors.ErrInvalidTransition)
}

// IsNotFound проверяет, что запись не найдена
func IsNotFound(err error) bool {
	return stderrors.Is(err, errors.ErrBookingNotFound)
}
