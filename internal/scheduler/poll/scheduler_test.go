package poll

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram_studio_bot/internal/events"
	"telegram_studio_bot/internal/notify"
	"telegram_studio_bot/internal/scheduler"
	"telegram_studio_bot/internal/scheduler/window"
	"telegram_studio_bot/internal/storage/models"
	"telegram_studio_bot/internal/storage/sqlite"
	"telegram_studio_bot/internal/testutils"
	"telegram_studio_bot/pkg/logger"
)

type fixture struct {
	sched     *Scheduler
	store     *sqlite.SQLiteStorage
	sender    *testutils.FakeSender
	publisher *testutils.FakePublisher
	clock     *testutils.Clock
}

func newFixture(t *testing.T, start time.Time, cfg Config, wcfg window.Config) *fixture {
	t.Helper()

	store := testutils.SetupTestDB(t)
	sender := testutils.NewFakeSender()
	publisher := &testutils.FakePublisher{}
	clock := testutils.NewClock(start)

	wcfg.Location = time.UTC
	dispatcher := notify.NewDispatcher(sender, time.Second, logger.NewNop())
	sched := New(store, window.New(wcfg), dispatcher, cfg,
		WithClock(clock.Now),
		WithLogger(logger.NewNop()),
		WithPublisher(publisher),
	)

	return &fixture{sched: sched, store: store, sender: sender, publisher: publisher, clock: clock}
}

func utc(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

var longAgo = utc(2024, 5, 1, 9, 0)

func (f *fixture) runOnce(t *testing.T) scheduler.PollStats {
	t.Helper()
	stats, err := f.sched.RunOnce(context.Background())
	require.NoError(t, err)
	return stats
}

func (f *fixture) booking(t *testing.T, id int64) *models.Booking {
	t.Helper()
	b, err := f.store.GetBookingByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestRunOnce_FullLifecycleWithoutConfirmation(t *testing.T) {
	f := newFixture(t, utc(2024, 5, 31, 14, 0), DefaultConfig(), window.DefaultConfig())
	b := testutils.CreateBooking(t, f.store, 100, "2024-06-01", "14:00", "16:00", longAgo)

	// напоминание за сутки уходит ровно один раз
	st := f.runOnce(t)
	assert.Equal(t, 1, st.Events)
	require.Len(t, f.sender.SentTo(100), 1)
	assert.Contains(t, f.sender.SentTo(100)[0].Message.Text, "24 часа")
	assert.True(t, f.booking(t, b.ID).Notified24h)

	f.clock.Advance(time.Minute)
	st = f.runOnce(t)
	assert.Zero(t, st.Events)
	assert.Len(t, f.sender.SentTo(100), 1)

	// запрос подтверждения за час до начала
	f.clock.Set(utc(2024, 6, 1, 13, 0))
	st = f.runOnce(t)
	assert.Equal(t, 1, st.Events)
	sent := f.sender.SentTo(100)
	require.Len(t, sent, 2)
	require.Len(t, sent[1].Message.Buttons, 1)
	assert.Equal(t, notify.CallbackData(notify.CallbackConfirmBooking, b.ID), sent[1].Message.Buttons[0].Data)
	assert.True(t, f.booking(t, b.ID).Notified1h)

	// в 13:50 все еще pending: отмена, уведомление уходит в том же опросе
	f.clock.Set(utc(2024, 6, 1, 13, 50))
	st = f.runOnce(t)
	assert.Equal(t, 1, st.Events)
	assert.Equal(t, 1, st.NoticesDelivered)
	assert.Equal(t, models.StateCancelled, f.booking(t, b.ID).State)

	sent = f.sender.SentTo(100)
	require.Len(t, sent, 3)
	assert.Contains(t, sent[2].Message.Text, "отменена")
	assert.Equal(t, []string{events.KeyBookingCancelled}, f.publisher.Keys())

	// отмененные записи больше не обрабатываются
	f.clock.Advance(time.Hour)
	st = f.runOnce(t)
	assert.Zero(t, st.Events)
	assert.Len(t, f.sender.Sent(), 3)
}

func TestRunOnce_ConfirmedBookingGoesToAttendanceMark(t *testing.T) {
	f := newFixture(t, utc(2024, 6, 1, 13, 50), DefaultConfig(), window.DefaultConfig())
	f.sender.SetName(100, "anna")
	b := testutils.CreateBooking(t, f.store, 100, "2024-06-01", "14:00", "16:00", longAgo)

	ctx := context.Background()
	_, err := f.store.MarkNotified(ctx, b.ID, models.FlagNotified24h)
	require.NoError(t, err)
	_, err = f.store.MarkNotified(ctx, b.ID, models.FlagNotified1h)
	require.NoError(t, err)
	ok, err := f.store.CompareAndSetState(ctx, b.ID, models.StatePending, models.StateConfirmed)
	require.NoError(t, err)
	require.True(t, ok)

	st := f.runOnce(t)
	assert.Zero(t, st.Events, "confirmed booking must not be auto-cancelled")
	assert.Equal(t, models.StateConfirmed, f.booking(t, b.ID).State)

	f.clock.Set(utc(2024, 6, 1, 16, 0))
	st = f.runOnce(t)
	assert.Zero(t, st.Events, "end time is exclusive")

	f.clock.Set(utc(2024, 6, 1, 16, 1))
	st = f.runOnce(t)
	assert.Equal(t, 1, st.Events)
	assert.Equal(t, models.StateAwaitingAttendanceMark, f.booking(t, b.ID).State)

	admin := f.sender.SentToAdmin()
	require.Len(t, admin, 1)
	assert.Contains(t, admin[0].Message.Text, "@anna")
	assert.Equal(t, notify.CallbackData(notify.CallbackUserCame, b.ID), admin[0].Message.Buttons[0].Data)
	assert.Equal(t, []string{events.KeyBookingAwaitingAttendance}, f.publisher.Keys())

	// ожидающие отметки остаются активными, но событий по ним нет
	f.clock.Advance(time.Hour)
	st = f.runOnce(t)
	assert.Zero(t, st.Events)
	assert.Len(t, f.sender.SentToAdmin(), 1)
}

func TestRunOnce_ReminderRetriedAfterFailure(t *testing.T) {
	f := newFixture(t, utc(2024, 5, 31, 13, 58), DefaultConfig(), window.DefaultConfig())
	b := testutils.CreateBooking(t, f.store, 100, "2024-06-01", "14:00", "16:00", longAgo)

	f.sender.FailNext(1)
	st := f.runOnce(t)
	assert.Equal(t, 1, st.Failures)
	assert.Empty(t, f.sender.Sent())
	assert.False(t, f.booking(t, b.ID).Notified24h, "flag must stay unset after a failed send")

	f.clock.Advance(time.Minute)
	st = f.runOnce(t)
	assert.Equal(t, 1, st.Events)
	assert.Len(t, f.sender.SentTo(100), 1)
	assert.True(t, f.booking(t, b.ID).Notified24h)
}

func TestRunOnce_OutboxRetriesAndAbandons(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NoticeMaxAttempts = 3
	f := newFixture(t, utc(2024, 6, 1, 13, 52), cfg, window.DefaultConfig())
	b := testutils.CreateBooking(t, f.store, 100, "2024-06-01", "14:00", "16:00", utc(2024, 6, 1, 13, 45))

	f.sender.SetFailAll(true)
	st := f.runOnce(t)
	assert.Equal(t, 1, st.Events)
	assert.Equal(t, 1, st.NoticesFailed)
	assert.Equal(t, models.StateCancelled, f.booking(t, b.ID).State, "transition is committed even if the notice fails")

	pending, err := f.store.CountPendingNotices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	// после восстановления отправителя уведомление из очереди доставляется
	f.sender.SetFailAll(false)
	st = f.runOnce(t)
	assert.Equal(t, 1, st.NoticesDelivered)
	require.Len(t, f.sender.SentTo(100), 1)
	assert.Contains(t, f.sender.SentTo(100)[0].Message.Text, "отменена")

	// уведомление второй записи так и не доставлено и бросается после лимита попыток
	b2 := testutils.CreateBooking(t, f.store, 200, "2024-06-01", "14:00", "16:00", utc(2024, 6, 1, 13, 45))
	f.sender.SetFailAll(true)
	for i := 0; i < cfg.NoticeMaxAttempts; i++ {
		st = f.runOnce(t)
		assert.Equal(t, 1, st.NoticesFailed, "attempt %d", i+1)
	}
	assert.Equal(t, models.StateCancelled, f.booking(t, b2.ID).State)

	pending, err = f.store.CountPendingNotices(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)

	st = f.runOnce(t)
	assert.Zero(t, st.NoticesFailed)
}

func TestRunOnce_MissedWindowReportedOnce(t *testing.T) {
	f := newFixture(t, utc(2024, 5, 31, 15, 0), DefaultConfig(), window.DefaultConfig())
	b := testutils.CreateBooking(t, f.store, 100, "2024-06-01", "14:00", "16:00", longAgo)

	st := f.runOnce(t)
	assert.Equal(t, 1, st.MissedWindows)
	assert.Empty(t, f.sender.Sent(), "a late 24h reminder is not sent")
	assert.True(t, f.booking(t, b.ID).Notified24h)

	f.clock.Advance(time.Minute)
	st = f.runOnce(t)
	assert.Zero(t, st.MissedWindows)
}

func TestRunOnce_StartedSessionIsNotCancelled(t *testing.T) {
	f := newFixture(t, utc(2024, 6, 1, 15, 0), DefaultConfig(), window.DefaultConfig())
	b := testutils.CreateBooking(t, f.store, 100, "2024-06-01", "14:00", "16:00", longAgo)

	// пропущены оба напоминания и окно автоотмены
	st := f.runOnce(t)
	assert.Equal(t, 3, st.MissedWindows)
	assert.Zero(t, st.Events)
	assert.Equal(t, models.StatePending, f.booking(t, b.ID).State)
	assert.Empty(t, f.sender.Sent())
	assert.Empty(t, f.publisher.Events())

	// предупреждение однократное, запись по-прежнему не отменяется
	f.clock.Advance(time.Minute)
	st = f.runOnce(t)
	assert.Zero(t, st.MissedWindows)
	assert.Zero(t, st.Events)
	assert.Equal(t, models.StatePending, f.booking(t, b.ID).State)

	pending, err := f.store.CountPendingNotices(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestRunOnce_AutoCancelAtThreshold(t *testing.T) {
	f := newFixture(t, utc(2024, 6, 1, 13, 49), DefaultConfig(), window.DefaultConfig())
	b := testutils.CreateBooking(t, f.store, 100, "2024-06-01", "14:00", "16:00", utc(2024, 6, 1, 13, 45))

	f.runOnce(t)
	assert.Equal(t, models.StatePending, f.booking(t, b.ID).State)

	f.clock.Advance(time.Minute)
	st := f.runOnce(t)
	assert.Equal(t, 1, st.Events)
	assert.Equal(t, models.StateCancelled, f.booking(t, b.ID).State)
	require.Len(t, f.sender.SentTo(100), 1)
	assert.Contains(t, f.sender.SentTo(100)[0].Message.Text, "отменена")
}

type panickingDeliverer struct {
	inner   *notify.Dispatcher
	panicOn int64
}

func (d *panickingDeliverer) Deliver(ctx context.Context, kind models.NoticeKind, b *models.Booking) error {
	if b.ID == d.panicOn {
		panic(fmt.Sprintf("boom for booking %d", b.ID))
	}
	return d.inner.Deliver(ctx, kind, b)
}

func TestRunOnce_PanicIsIsolatedPerBooking(t *testing.T) {
	wcfg := window.DefaultConfig()
	wcfg.ReminderTolerance = time.Hour
	wcfg.Location = time.UTC

	store := testutils.SetupTestDB(t)
	sender := testutils.NewFakeSender()
	clock := testutils.NewClock(utc(2024, 5, 31, 14, 30))

	first := testutils.CreateBooking(t, store, 100, "2024-06-01", "14:30", "15:00", longAgo)
	second := testutils.CreateBooking(t, store, 200, "2024-06-01", "15:00", "15:30", longAgo)

	deliverer := &panickingDeliverer{
		inner:   notify.NewDispatcher(sender, time.Second, logger.NewNop()),
		panicOn: first.ID,
	}
	sched := New(store, window.New(wcfg), deliverer, DefaultConfig(),
		WithClock(clock.Now),
		WithLogger(logger.NewNop()),
	)

	stats, err := sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 1, stats.Events)
	assert.Len(t, sender.SentTo(second.OwnerChatID), 1)

	b, err := store.GetBookingByID(context.Background(), first.ID)
	require.NoError(t, err)
	assert.False(t, b.Notified24h)

	// следующий опрос работает как обычно
	stats, err = sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failures)
	assert.Zero(t, stats.Events)
}

func TestRunOnce_ConcurrentPollsSendEachReminderOnce(t *testing.T) {
	wcfg := window.DefaultConfig()
	wcfg.ReminderTolerance = 3 * time.Hour
	cfg := DefaultConfig()
	cfg.Workers = 8
	f := newFixture(t, utc(2024, 5, 31, 11, 0), cfg, wcfg)

	const n = 20
	start := utc(2024, 6, 1, 10, 0)
	for i := 0; i < n; i++ {
		from := start.Add(time.Duration(i) * 5 * time.Minute)
		to := from.Add(5 * time.Minute)
		testutils.CreateBooking(t, f.store, int64(1000+i), "2024-06-01",
			from.Format(models.TimeLayout), to.Format(models.TimeLayout), longAgo)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.sched.RunOnce(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sent := f.sender.Sent()
	assert.Len(t, sent, n)

	perOwner := map[int64]int{}
	for _, m := range sent {
		perOwner[m.ChatID]++
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, 1, perOwner[int64(1000+i)], "owner %d", 1000+i)
	}
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	f := newFixture(t, utc(2024, 5, 31, 14, 0), cfg, window.DefaultConfig())
	testutils.CreateBooking(t, f.store, 100, "2024-06-01", "14:00", "16:00", longAgo)

	done := make(chan error, 1)
	go func() {
		done <- f.sched.Start(context.Background())
	}()

	require.Eventually(t, func() bool {
		return len(f.sender.Sent()) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.sched.Stop())
	require.NoError(t, f.sched.Stop())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}

	assert.Error(t, f.sched.Start(context.Background()))
	assert.Len(t, f.sender.Sent(), 1)
}

func TestStart_ContextCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	f := newFixture(t, utc(2024, 5, 31, 14, 0), cfg, window.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.sched.Start(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancel")
	}
}
