package poll

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"telegram_studio_bot/internal/events"
	"telegram_studio_bot/internal/scheduler"
	"telegram_studio_bot/internal/scheduler/window"
	"telegram_studio_bot/internal/storage"
	"telegram_studio_bot/internal/storage/models"
	"telegram_studio_bot/pkg/errors"
	"telegram_studio_bot/pkg/logger"
	"telegram_studio_bot/pkg/metrics"
)

const eventSource = "scheduler"

// Config параметры цикла сверки
type Config struct {
	Interval          time.Duration
	Workers           int
	NoticeBatch       int
	NoticeMaxAttempts int
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		Interval:          time.Minute,
		Workers:           4,
		NoticeBatch:       50,
		NoticeMaxAttempts: 10,
	}
}

// Option настраивает Scheduler
type Option func(*Scheduler)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger задает логгер
func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithPublisher задает публикацию событий жизненного цикла
func WithPublisher(p events.Publisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}

// Scheduler реализует scheduler.Reconciler: периодически сверяет активные записи с текущим временем
type Scheduler struct {
	store     storage.Storage
	evaluator *window.Evaluator
	deliverer scheduler.Deliverer
	publisher events.Publisher
	logger    *logger.Logger
	cfg       Config
	now       func() time.Time

	// runMu не дает двум опросам выполняться одновременно
	runMu sync.Mutex

	// lateMu защищает late: записи, о неподтвержденном начале которых уже предупредили
	lateMu sync.Mutex
	late   map[int64]struct{}

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	stopped  bool
	stopOnce sync.Once
}

var _ scheduler.Reconciler = (*Scheduler)(nil)

// New создает цикл сверки
func New(store storage.Storage, evaluator *window.Evaluator, deliverer scheduler.Deliverer, cfg Config, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.NoticeBatch <= 0 {
		cfg.NoticeBatch = def.NoticeBatch
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:     store,
		evaluator: evaluator,
		deliverer: deliverer,
		publisher: events.NopPublisher{},
		logger:    logger.Default(),
		cfg:       cfg,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		late:      make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start выполняет опрос сразу и затем каждые cfg.Interval, пока не отменен ctx или не вызван Stop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is stopped")
	}
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.logger.Info("Reconciliation loop started",
		logger.Duration("interval", s.cfg.Interval),
		logger.Int("workers", s.cfg.Workers),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(runCtx); err != nil && runCtx.Err() == nil {
			s.logger.Error("Poll failed", logger.Error(err))
		}

		select {
		case <-runCtx.Done():
			s.logger.Info("Reconciliation loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Stop останавливает цикл. Повторный вызов ничего не делает
func (s *Scheduler) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.stopped = true
		s.cancel()
	})
	return nil
}

// RunOnce выполняет один опрос. Ошибка возвращается только если не удалось получить список записей
func (s *Scheduler) RunOnce(ctx context.Context) (scheduler.PollStats, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	started := time.Now()
	stats := scheduler.PollStats{PollID: uuid.NewString()}
	log := s.logger.WithFields(logger.String("poll_id", stats.PollID))

	bookings, err := s.store.ListActiveBookings(ctx)
	if err != nil {
		metrics.RecordPoll("error", time.Since(started).Seconds())
		metrics.RecordError("scheduler", "snapshot")
		return stats, fmt.Errorf("failed to list active bookings: %w", err)
	}
	stats.Bookings = len(bookings)
	metrics.SetActiveBookings(float64(len(bookings)))

	now := s.now()
	s.processAll(ctx, log, bookings, now, &stats)
	s.drainNotices(ctx, log, &stats)

	if pending, err := s.store.CountPendingNotices(ctx); err == nil {
		metrics.SetPendingNotices(float64(pending))
	}

	stats.Duration = time.Since(started)
	metrics.RecordPoll("success", stats.Duration.Seconds())

	if stats.Events > 0 || stats.Failures > 0 || stats.NoticesFailed > 0 {
		log.Info("Poll completed",
			logger.Int("bookings", stats.Bookings),
			logger.Int("events", stats.Events),
			logger.Int("conflicts", stats.Conflicts),
			logger.Int("failures", stats.Failures),
			logger.Int("missed", stats.MissedWindows),
			logger.Int("notices_delivered", stats.NoticesDelivered),
			logger.Int("notices_failed", stats.NoticesFailed),
			logger.Duration("duration", stats.Duration),
		)
	} else {
		log.Debug("Poll completed", logger.Int("bookings", stats.Bookings), logger.Duration("duration", stats.Duration))
	}

	return stats, nil
}

// bookingResult итоги обработки одной записи
type bookingResult struct {
	events    int
	conflicts int
	failures  int
	missed    int
}

// processAll раздает записи пулу воркеров. Каждую запись обрабатывает ровно один воркер
func (s *Scheduler) processAll(ctx context.Context, log *logger.Logger, bookings []*models.Booking, now time.Time, stats *scheduler.PollStats) {
	if len(bookings) == 0 {
		return
	}

	workers := s.cfg.Workers
	if workers > len(bookings) {
		workers = len(bookings)
	}

	jobs := make(chan *models.Booking)
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sum bookingResult
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range jobs {
				res := s.processBooking(ctx, log, b, now)
				mu.Lock()
				sum.events += res.events
				sum.conflicts += res.conflicts
				sum.failures += res.failures
				sum.missed += res.missed
				mu.Unlock()
			}
		}()
	}

	for _, b := range bookings {
		if ctx.Err() != nil {
			break
		}
		jobs <- b
	}
	close(jobs)
	wg.Wait()

	stats.Events += sum.events
	stats.Conflicts += sum.conflicts
	stats.Failures += sum.failures
	stats.MissedWindows += sum.missed
}

// processBooking применяет к записи все наступившие события. Паника перехватывается,
// чтобы сбой одной записи не остановил остальные
func (s *Scheduler) processBooking(ctx context.Context, log *logger.Logger, b *models.Booking, now time.Time) (res bookingResult) {
	log = log.WithFields(logger.Int64("booking_id", b.ID))

	defer func() {
		if r := recover(); r != nil {
			res.failures++
			metrics.RecordError("scheduler", "panic")
			log.Error("Booking processing panicked",
				logger.Error(errors.ErrBookingProcessing.WithContext(r)),
				logger.String("stack", string(debug.Stack())),
			)
		}
	}()

	due, err := s.evaluator.Classify(b, now)
	if err != nil {
		res.failures++
		metrics.RecordError("scheduler", "classify")
		log.Error("Failed to classify booking", logger.Error(errors.ErrBookingProcessing.WithError(err)))
		return res
	}

	for _, ev := range due {
		if ctx.Err() != nil {
			return res
		}

		switch ev {
		case window.Reminder24h:
			s.remind(ctx, log, b, models.NoticeReminder24h, models.FlagNotified24h, &res)
		case window.ConfirmationRequest:
			s.remind(ctx, log, b, models.NoticeConfirmationRequest, models.FlagNotified1h, &res)
		case window.Missed24h:
			s.recordMissed(ctx, log, b, ev, models.FlagNotified24h, &res)
		case window.Missed1h:
			s.recordMissed(ctx, log, b, ev, models.FlagNotified1h, &res)
		case window.MissedAutoCancel:
			s.recordLateStart(log, b, now, &res)
		case window.AutoCancel:
			s.transition(ctx, log, b, models.StatePending, models.StateCancelled, models.NoticeAutoCancelled, &res)
		case window.AwaitAttendanceMark:
			s.transition(ctx, log, b, models.StateConfirmed, models.StateAwaitingAttendanceMark, models.NoticeAttendanceMark, &res)
		}
	}

	return res
}

// remind отправляет напоминание и только после успешной отправки ставит флаг
func (s *Scheduler) remind(ctx context.Context, log *logger.Logger, b *models.Booking, kind models.NoticeKind, flag models.NotificationFlag, res *bookingResult) {
	if err := s.deliverer.Deliver(ctx, kind, b); err != nil {
		res.failures++
		log.Warn("Reminder not delivered, will retry on next poll",
			logger.String("kind", string(kind)),
			logger.Error(err),
		)
		return
	}

	ok, err := s.store.MarkNotified(ctx, b.ID, flag)
	if err != nil {
		res.failures++
		log.Error("Failed to persist reminder flag", logger.String("flag", string(flag)), logger.Error(err))
		return
	}
	if !ok {
		res.conflicts++
		log.Debug("Reminder flag already set", logger.String("flag", string(flag)))
		return
	}

	res.events++
	log.Info("Reminder sent", logger.String("kind", string(kind)))
}

// recordMissed фиксирует пропущенное окно напоминания и ставит флаг, чтобы предупреждение было однократным
func (s *Scheduler) recordMissed(ctx context.Context, log *logger.Logger, b *models.Booking, ev window.Event, flag models.NotificationFlag, res *bookingResult) {
	ok, err := s.store.MarkNotified(ctx, b.ID, flag)
	if err != nil {
		res.failures++
		log.Error("Failed to persist missed window flag", logger.String("flag", string(flag)), logger.Error(err))
		return
	}
	if !ok {
		return
	}

	res.missed++
	metrics.RecordMissedWindow(ev.String())
	log.Warn("Reminder window missed",
		logger.String("event", ev.String()),
		logger.String("date", b.Date),
		logger.String("time_from", b.TimeFrom),
	)
}

// recordLateStart предупреждает, что сессия началась, а запись так и не подтверждена.
// Запись остается в pending, предупреждение выдается один раз за время жизни процесса
func (s *Scheduler) recordLateStart(log *logger.Logger, b *models.Booking, now time.Time, res *bookingResult) {
	s.lateMu.Lock()
	_, seen := s.late[b.ID]
	s.late[b.ID] = struct{}{}
	s.lateMu.Unlock()
	if seen {
		return
	}

	res.missed++
	metrics.RecordMissedWindow(window.MissedAutoCancel.String())
	fields := []logger.Field{
		logger.String("date", b.Date),
		logger.String("time_from", b.TimeFrom),
	}
	if start, err := b.StartAt(s.evaluator.Location()); err == nil {
		fields = append(fields, logger.Duration("late_by", now.Sub(start)))
	}
	log.Warn("Session started while booking still pending, auto-cancel window missed", fields...)
}

// transition выполняет условный переход состояния. Проигранная гонка не является ошибкой
func (s *Scheduler) transition(ctx context.Context, log *logger.Logger, b *models.Booking, from, to models.BookingState, notice models.NoticeKind, res *bookingResult) {
	ok, err := s.store.CompareAndSetState(ctx, b.ID, from, to, notice)
	if err != nil {
		res.failures++
		log.Error("Failed to change booking state",
			logger.String("from", string(from)),
			logger.String("to", string(to)),
			logger.Error(err),
		)
		return
	}
	if !ok {
		res.conflicts++
		log.Info("Booking state changed concurrently, transition skipped",
			logger.String("from", string(from)),
			logger.String("to", string(to)),
			logger.Error(errors.ErrStoreConflict),
		)
		return
	}

	res.events++
	metrics.RecordTransition(string(from), string(to))
	log.Info("Booking state changed", logger.String("from", string(from)), logger.String("to", string(to)))

	b.State = to
	ev := events.NewBookingEvent(b, from, to, eventSource, s.now())
	if err := s.publisher.Publish(ctx, ev); err != nil {
		metrics.RecordError("events", "publish")
		log.Warn("Failed to publish booking event", logger.String("event_id", ev.EventID), logger.Error(err))
	}
}

// drainNotices доставляет уведомления из outbox. Неудачные остаются в очереди до исчерпания попыток
func (s *Scheduler) drainNotices(ctx context.Context, log *logger.Logger, stats *scheduler.PollStats) {
	notices, err := s.store.ListPendingNotices(ctx, s.cfg.NoticeBatch)
	if err != nil {
		metrics.RecordError("scheduler", "outbox")
		log.Error("Failed to list pending notices", logger.Error(err))
		return
	}

	for _, n := range notices {
		if ctx.Err() != nil {
			return
		}

		nlog := log.WithFields(
			logger.Int64("notice_id", n.ID),
			logger.Int64("booking_id", n.BookingID),
			logger.String("kind", string(n.Kind)),
		)

		err := s.deliverNotice(ctx, n)
		if err == nil {
			if err := s.store.MarkNoticeSent(ctx, n.ID); err != nil {
				nlog.Error("Failed to mark notice as sent", logger.Error(err))
			}
			stats.NoticesDelivered++
			continue
		}

		stats.NoticesFailed++
		abandoned, ferr := s.store.RecordNoticeFailure(ctx, n.ID, err.Error(), s.cfg.NoticeMaxAttempts)
		if ferr != nil {
			nlog.Error("Failed to record notice failure", logger.Error(ferr))
			continue
		}
		if abandoned {
			metrics.RecordAbandonedNotice(string(n.Kind))
			nlog.Error("Notice abandoned after max attempts",
				logger.Int("attempts", n.Attempts+1),
				logger.Error(err),
			)
			continue
		}
		nlog.Warn("Notice delivery failed, will retry", logger.Int("attempts", n.Attempts+1), logger.Error(err))
	}
}

func (s *Scheduler) deliverNotice(ctx context.Context, n *models.Notice) error {
	b, err := s.store.GetBookingByID(ctx, n.BookingID)
	if err != nil {
		return err
	}
	return s.deliverer.Deliver(ctx, n.Kind, b)
}
