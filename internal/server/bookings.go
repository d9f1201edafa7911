package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	botservice "telegram_studio_bot/internal/bot/service"
	"telegram_studio_bot/internal/storage/models"
	"telegram_studio_bot/internal/validation"
	boterrors "telegram_studio_bot/pkg/errors"
	"telegram_studio_bot/pkg/logger"
	"telegram_studio_bot/pkg/metrics"
)

// BookingService операции над записями, доступные через API
type BookingService interface {
	CreateBooking(ctx context.Context, req botservice.CreateBookingRequest) (*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListUserBookings(ctx context.Context, chatID int64) ([]*models.Booking, error)
	ConfirmBooking(ctx context.Context, id int64) (botservice.AckResult, error)
	MarkAttended(ctx context.Context, id int64) (botservice.AckResult, error)
}

// CreateBookingRequest тело POST /api/bookings
type CreateBookingRequest struct {
	OwnerChatID int64  `json:"owner_chat_id" validate:"required"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	TimeFrom    string `json:"time_from" validate:"required"`
	TimeTo      string `json:"time_to" validate:"required"`
	Tariff      string `json:"tariff" validate:"max=64"`
}

// BookingResponse ответ с одной записью
type BookingResponse struct {
	Response
	Booking *models.Booking `json:"booking,omitempty"`
}

// BookingListResponse ответ со списком записей
type BookingListResponse struct {
	Response
	Bookings []*models.Booking `json:"bookings"`
}

// AckResponse результат подтверждения или отметки посещения.
// Changed false означает, что запись уже была в целевом состоянии
type AckResponse struct {
	Response
	Booking *models.Booking `json:"booking"`
	Changed bool            `json:"changed"`
}

// BookingsAPI HTTP обработчики административного API
type BookingsAPI struct {
	service  BookingService
	logger   *logger.Logger
	validate *validator.Validate
}

// NewBookingsAPI создает обработчики API записей
func NewBookingsAPI(service BookingService, log *logger.Logger) *BookingsAPI {
	return &BookingsAPI{
		service:  service,
		logger:   log,
		validate: validator.New(),
	}
}

// Routes возвращает маршруты /api/bookings
func (a *BookingsAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", a.create)
	r.Get("/", a.list)
	r.Get("/{id}", a.get)
	r.Post("/{id}/confirm", a.confirm)
	r.Post("/{id}/attended", a.attended)
	return r
}

func (a *BookingsAPI) create(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest

	if err := render.DecodeJSON(r.Body, &req); err != nil {
		a.logger.Warn("Failed to decode request body", logger.Error(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, Error("failed to decode request"))
		return
	}

	if err := a.validate.Struct(req); err != nil {
		var validateErr validator.ValidationErrors
		if errors.As(err, &validateErr) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ValidationError(validateErr))
			return
		}
		a.renderError(w, r, err)
		return
	}

	booking, err := a.service.CreateBooking(r.Context(), botservice.CreateBookingRequest{
		OwnerChatID: req.OwnerChatID,
		Date:        req.Date,
		TimeFrom:    req.TimeFrom,
		TimeTo:      req.TimeTo,
		Tariff:      req.Tariff,
	})
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, BookingResponse{Response: OK(), Booking: booking})
}

func (a *BookingsAPI) get(w http.ResponseWriter, r *http.Request) {
	id, ok := a.bookingID(w, r)
	if !ok {
		return
	}

	booking, err := a.service.GetBooking(r.Context(), id)
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	render.JSON(w, r, BookingResponse{Response: OK(), Booking: booking})
}

func (a *BookingsAPI) list(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, Error("owner query parameter is required"))
		return
	}

	chatID, err := strconv.ParseInt(owner, 10, 64)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, Error("invalid owner format"))
		return
	}

	bookings, err := a.service.ListUserBookings(r.Context(), chatID)
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}

	render.JSON(w, r, BookingListResponse{Response: OK(), Bookings: bookings})
}

func (a *BookingsAPI) confirm(w http.ResponseWriter, r *http.Request) {
	a.acknowledge(w, r, a.service.ConfirmBooking)
}

func (a *BookingsAPI) attended(w http.ResponseWriter, r *http.Request) {
	a.acknowledge(w, r, a.service.MarkAttended)
}

func (a *BookingsAPI) acknowledge(w http.ResponseWriter, r *http.Request, ack func(context.Context, int64) (botservice.AckResult, error)) {
	id, ok := a.bookingID(w, r)
	if !ok {
		return
	}

	res, err := ack(r.Context(), id)
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	render.JSON(w, r, AckResponse{Response: OK(), Booking: res.Booking, Changed: res.Changed})
}

func (a *BookingsAPI) bookingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := validation.ValidateBookingID(chi.URLParam(r, "id"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorWithCode(boterrors.ErrInvalidBookingID.Code, "invalid booking id"))
		return 0, false
	}
	return id, true
}

// renderError переводит ошибки сервиса в HTTP статусы
func (a *BookingsAPI) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	code := boterrors.Code(err)

	if status >= http.StatusInternalServerError {
		metrics.RecordError("http", code)
		a.logger.Error("API request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
		render.Status(r, status)
		render.JSON(w, r, ErrorWithCode(code, "internal error"))
		return
	}

	msg := err.Error()
	if be, ok := boterrors.GetBotError(err); ok {
		msg = be.Message
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorWithCode(code, msg))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, boterrors.ErrBookingNotFound):
		return http.StatusNotFound
	case errors.Is(err, boterrors.ErrInvalidTransition), errors.Is(err, boterrors.ErrSlotOverlap):
		return http.StatusConflict
	}

	switch boterrors.Code(err) {
	case boterrors.ErrInvalidBookingID.Code,
		boterrors.ErrInvalidDate.Code,
		boterrors.ErrInvalidTime.Code,
		boterrors.ErrInvalidTimeRange.Code,
		boterrors.ErrInvalidChatID.Code,
		boterrors.ErrInvalidTariff.Code:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
