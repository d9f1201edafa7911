package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	botservice "telegram_studio_bot/internal/bot/service"
	"telegram_studio_bot/internal/config"
	"telegram_studio_bot/internal/storage/models"
	"telegram_studio_bot/internal/storage/sqlite"
	"telegram_studio_bot/internal/testutils"
	boterrors "telegram_studio_bot/pkg/errors"
	"telegram_studio_bot/pkg/logger"
)

const adminToken = "s3cret"

func testConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "t", AdminChatID: 999, SecretToken: "tg-secret"},
		Server: config.ServerConfig{
			Port:            "0",
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			IdleTimeout:     time.Second,
			ShutdownTimeout: time.Second,
			AdminToken:      adminToken,
		},
	}
}

type testServer struct {
	handler http.Handler
	store   *sqlite.SQLiteStorage
}

func newTestServer(t *testing.T, cfg *config.Config, webhook http.Handler) *testServer {
	t.Helper()
	store := testutils.SetupTestDB(t)
	svc := botservice.NewService(store, nil, cfg.Telegram.AdminChatID, time.UTC, logger.NewNop()).
		WithClock(func() time.Time { return time.Date(2024, 5, 30, 12, 0, 0, 0, time.UTC) })

	s := New(cfg, logger.NewNop(), Deps{Storage: store, Bookings: svc, Webhook: webhook, Version: "test"})
	t.Cleanup(func() { s.rateLimiter.Close() })

	return &testServer{handler: s.Handler(), store: store}
}

func (ts *testServer) do(t *testing.T, method, path, body string, token string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var payload map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	}
	return rec, payload
}

const validBooking = `{"owner_chat_id": 100, "date": "2024-06-01", "time_from": "14:00", "time_to": "16:00", "tariff": "standard"}`

func TestAPI_Auth(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	rec, _ := ts.do(t, http.MethodGet, "/api/bookings/1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/bookings/1", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cfg := testConfig()
	cfg.Server.AdminToken = ""
	disabled := newTestServer(t, cfg, nil)
	rec, _ = disabled.do(t, http.MethodGet, "/api/bookings/1", "", "anything")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPI_CreateBooking(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"created", validBooking, http.StatusCreated, ""},
		{"overlap", `{"owner_chat_id": 200, "date": "2024-06-01", "time_from": "15:00", "time_to": "17:00"}`, http.StatusConflict, "SLOT_OVERLAP"},
		{"missing date", `{"owner_chat_id": 100, "time_from": "14:00", "time_to": "16:00"}`, http.StatusBadRequest, ""},
		{"bad date format", `{"owner_chat_id": 100, "date": "01.06.2024", "time_from": "14:00", "time_to": "16:00"}`, http.StatusBadRequest, ""},
		{"reversed range", `{"owner_chat_id": 100, "date": "2024-06-02", "time_from": "16:00", "time_to": "14:00"}`, http.StatusBadRequest, "INVALID_TIME_RANGE"},
		{"in the past", `{"owner_chat_id": 100, "date": "2024-05-01", "time_from": "14:00", "time_to": "16:00"}`, http.StatusBadRequest, "INVALID_DATE"},
		{"bad json", `{not json`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, payload := ts.do(t, http.MethodPost, "/api/bookings", tt.body, adminToken)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, payload["code"])
			}
		})
	}

	rec, payload := ts.do(t, http.MethodGet, "/api/bookings?owner=100", "", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, payload["bookings"], 1)
}

func TestAPI_GetBooking(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	_, payload := ts.do(t, http.MethodPost, "/api/bookings", validBooking, adminToken)
	booking := payload["booking"].(map[string]interface{})
	assert.Equal(t, "pending", booking["state"])

	rec, payload := ts.do(t, http.MethodGet, "/api/bookings/1", "", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", payload["status"])

	rec, payload = ts.do(t, http.MethodGet, "/api/bookings/42", "", adminToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "BOOKING_NOT_FOUND", payload["code"])

	rec, _ = ts.do(t, http.MethodGet, "/api/bookings/abc", "", adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ListBookings_BadOwner(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	rec, _ := ts.do(t, http.MethodGet, "/api/bookings", "", adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/bookings?owner=abc", "", adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, payload := ts.do(t, http.MethodGet, "/api/bookings?owner=5", "", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, payload["bookings"])
	assert.NotNil(t, payload["bookings"])
}

func TestAPI_Acknowledgements(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	ts.do(t, http.MethodPost, "/api/bookings", validBooking, adminToken)

	// посещение нельзя отметить до запроса администратору
	rec, payload := ts.do(t, http.MethodPost, "/api/bookings/1/attended", "", adminToken)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", payload["code"])

	rec, payload = ts.do(t, http.MethodPost, "/api/bookings/1/confirm", "", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["changed"])

	rec, payload = ts.do(t, http.MethodPost, "/api/bookings/1/confirm", "", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, payload["changed"])

	ok, err := ts.store.CompareAndSetState(context.Background(), 1, models.StateConfirmed, models.StateAwaitingAttendanceMark)
	require.NoError(t, err)
	require.True(t, ok)

	rec, payload = ts.do(t, http.MethodPost, "/api/bookings/1/attended", "", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["changed"])
	assert.Equal(t, "attended", payload["booking"].(map[string]interface{})["state"])

	rec, _ = ts.do(t, http.MethodPost, "/api/bookings/99/confirm", "", adminToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhook_SecretToken(t *testing.T) {
	var calls int
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})
	ts := newTestServer(t, testConfig(), webhook)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"update_id": 1}`))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"update_id": 1}`))
	req.Header.Set(telegramSecretHeader, "tg-secret")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, calls)
}

func TestWebhook_NotMountedInPollingMode(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return stderrors.New("database is locked") }

func TestHealth(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	rec, payload := ts.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, []interface{}{statusHealthy, statusWarning}, payload["status"])
	assert.Equal(t, "test", payload["version"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	NewHealthChecker(failingPinger{}, "").HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database is locked")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	ts.do(t, http.MethodGet, "/health", "", "")

	rec, _ := ts.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "studio_bot_http_requests_total")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{boterrors.ErrBookingNotFound, http.StatusNotFound},
		{boterrors.ErrInvalidTransition.WithContext(map[string]interface{}{"booking_id": 1}), http.StatusConflict},
		{boterrors.ErrSlotOverlap, http.StatusConflict},
		{boterrors.ErrInvalidTariff.WithContext(map[string]interface{}{"length": 70}), http.StatusBadRequest},
		{boterrors.ErrInvalidTimeRange, http.StatusBadRequest},
		{stderrors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
