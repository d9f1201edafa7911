package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики бота записи в студию
var (
	// Метрики планировщика
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_bot_scheduler_polls_total",
			Help: "Количество проходов планировщика",
		},
		[]string{"status"},
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studio_bot_scheduler_poll_duration_seconds",
			Help:    "Длительность одного прохода планировщика",
			Buckets: prometheus.DefBuckets,
		},
	)

	BookingsScanned = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studio_bot_scheduler_active_bookings",
			Help: "Количество активных записей в последнем проходе",
		},
	)

	MissedWindows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_bot_scheduler_missed_windows_total",
			Help: "Пропущенные окна напоминаний",
		},
		[]string{"event"},
	)

	// Метрики записей
	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_bot_booking_transitions_total",
			Help: "Переходы состояний записей",
		},
		[]string{"from", "to"},
	)

	BookingsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studio_bot_bookings_created_total",
			Help: "Общее количество созданных записей",
		},
	)

	// Метрики уведомлений
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_bot_notifications_sent_total",
			Help: "Общее количество отправленных уведомлений",
		},
		[]string{"type", "status"},
	)

	PendingNotices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studio_bot_pending_notices",
			Help: "Количество уведомлений в очереди outbox",
		},
	)

	AbandonedNotices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_bot_abandoned_notices_total",
			Help: "Уведомления, от которых отказались после исчерпания попыток",
		},
		[]string{"type"},
	)

	// Метрики базы данных
	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_bot_database_operations_total",
			Help: "Общее количество операций с базой данных",
		},
		[]string{"operation", "status"},
	)

	// Метрики производительности
	MemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studio_bot_memory_usage_bytes",
			Help: "Использование памяти в байтах",
		},
	)

	GoroutinesCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studio_bot_goroutines_count",
			Help: "Количество активных горутин",
		},
	)

	// Метрики ошибок
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_bot_errors_total",
			Help: "Общее количество ошибок",
		},
		[]string{"component", "error_type"},
	)

	// Метрики HTTP сервера
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_bot_http_requests_total",
			Help: "Общее количество HTTP запросов",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studio_bot_http_request_duration_seconds",
			Help:    "Время обработки HTTP запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// RecordPoll записывает результат прохода планировщика
func RecordPoll(status string, seconds float64) {
	PollsTotal.WithLabelValues(status).Inc()
	PollDuration.Observe(seconds)
}

// RecordTransition записывает метрику перехода состояния
func RecordTransition(from, to string) {
	BookingTransitions.WithLabelValues(from, to).Inc()
}

// RecordBookingCreation записывает метрику создания записи
func RecordBookingCreation() {
	BookingsCreated.Inc()
}

// RecordNotification записывает метрику отправки уведомления
func RecordNotification(notificationType, status string) {
	NotificationsSent.WithLabelValues(notificationType, status).Inc()
}

// RecordMissedWindow записывает пропущенное окно напоминания
func RecordMissedWindow(event string) {
	MissedWindows.WithLabelValues(event).Inc()
}

// RecordAbandonedNotice записывает уведомление, от которого отказались
func RecordAbandonedNotice(notificationType string) {
	AbandonedNotices.WithLabelValues(notificationType).Inc()
}

// RecordDatabaseOperation записывает метрику операции с БД
func RecordDatabaseOperation(operation, status string) {
	DatabaseOperations.WithLabelValues(operation, status).Inc()
}

// RecordError записывает метрику ошибки
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordHTTPRequest записывает метрику HTTP запроса
func RecordHTTPRequest(method, endpoint, status string) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
}

// SetActiveBookings устанавливает количество активных записей
func SetActiveBookings(count float64) {
	BookingsScanned.Set(count)
}

// SetPendingNotices устанавливает размер очереди уведомлений
func SetPendingNotices(count float64) {
	PendingNotices.Set(count)
}
