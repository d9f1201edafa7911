package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"telegram_studio_bot/internal/storage/models"
	boterrors "telegram_studio_bot/pkg/errors"
	"telegram_studio_bot/pkg/metrics"

	_ "modernc.org/sqlite"
)

// SQLiteStorage реализует интерфейс Storage для SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// New создает новое подключение к SQLite базе данных
func New(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite поддерживает только одно write-подключение; для :memory: это еще и одна общая база
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(connMaxLifetime(dbPath))

	storage := &SQLiteStorage{db: db}

	if err := storage.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return storage, nil
}

// connMaxLifetime: in-memory база живет, пока живо ее единственное подключение, поэтому его не пересоздаем
func connMaxLifetime(dbPath string) time.Duration {
	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		return 0
	}
	return time.Hour
}

// migrate выполняет миграции базы данных
func (s *SQLiteStorage) migrate() error {
	// Включаем WAL mode для лучшей конкурентности
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if _, err := s.db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_chat_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			time_from TEXT NOT NULL,
			time_to TEXT NOT NULL,
			tariff TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT 'pending',
			attended INTEGER NOT NULL DEFAULT 0,
			notified_24h INTEGER NOT NULL DEFAULT 0,
			notified_1h INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			CHECK (time_from < time_to)
		)`,
		`CREATE TABLE IF NOT EXISTS booking_notices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			abandoned INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			sent_at DATETIME,
			FOREIGN KEY(booking_id) REFERENCES bookings(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_state_date ON bookings(state, date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_owner ON bookings(owner_chat_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_date ON bookings(date)`,
		`CREATE INDEX IF NOT EXISTS idx_notices_pending ON booking_notices(sent_at, abandoned)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}

// Close закрывает подключение к базе данных
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping проверяет подключение к базе данных
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const bookingColumns = `id, owner_chat_id, date, time_from, time_to, tariff, state,
	attended, notified_24h, notified_1h, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	b := &models.Booking{}
	err := row.Scan(
		&b.ID, &b.OwnerChatID, &b.Date, &b.TimeFrom, &b.TimeTo, &b.Tariff, &b.State,
		&b.Attended, &b.Notified24h, &b.Notified1h, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *SQLiteStorage) queryBookings(ctx context.Context, op, query string, args ...any) ([]*models.Booking, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}

	return bookings, nil
}

// CreateBooking создает запись, если она не пересекается с другими неотмененными записями на ту же дату
func (s *SQLiteStorage) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if booking.State == "" {
		booking.State = models.StatePending
	}
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = time.Now()
	}
	booking.UpdatedAt = booking.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var overlapping int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings
		 WHERE date = ? AND state != ? AND time_from < ? AND time_to > ?`,
		booking.Date, models.StateCancelled, booking.TimeTo, booking.TimeFrom,
	).Scan(&overlapping)
	if err != nil {
		return fmt.Errorf("failed to check overlapping bookings: %w", err)
	}
	if overlapping > 0 {
		return boterrors.ErrSlotOverlap.WithContext(map[string]interface{}{
			"date":      booking.Date,
			"time_from": booking.TimeFrom,
			"time_to":   booking.TimeTo,
		})
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO bookings (owner_chat_id, date, time_from, time_to, tariff, state,
			attended, notified_24h, notified_1h, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.OwnerChatID, booking.Date, booking.TimeFrom, booking.TimeTo, booking.Tariff, booking.State,
		booking.Attended, booking.Notified24h, booking.Notified1h, booking.CreatedAt, booking.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get booking ID: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}

	booking.ID = id
	return nil
}

// GetBookingByID получает запись по ID
func (s *SQLiteStorage) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)

	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, boterrors.ErrBookingNotFound.WithContext(map[string]interface{}{"booking_id": id})
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	return b, nil
}

// ListActiveBookings получает записи в неконечных состояниях
func (s *SQLiteStorage) ListActiveBookings(ctx context.Context) ([]*models.Booking, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(models.ActiveStates)), ", ")
	query := `SELECT ` + bookingColumns + ` FROM bookings
			  WHERE state IN (` + placeholders + `)
			  ORDER BY date, time_from`

	args := make([]any, len(models.ActiveStates))
	for i, st := range models.ActiveStates {
		args[i] = st
	}
	return s.queryBookings(ctx, "list active bookings", query, args...)
}

// ListUserBookings получает неотмененные записи пользователя
func (s *SQLiteStorage) ListUserBookings(ctx context.Context, chatID int64) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
			  WHERE owner_chat_id = ? AND state != ?
			  ORDER BY date, time_from`

	return s.queryBookings(ctx, "list user bookings", query, chatID, models.StateCancelled)
}

// CompareAndSetState переводит запись из expected в next и в той же транзакции
// ставит в очередь уведомления notices. Возвращает false, если состояние уже изменилось.
func (s *SQLiteStorage) CompareAndSetState(ctx context.Context, id int64, expected, next models.BookingState, notices ...models.NoticeKind) (bool, error) {
	if expected.IsTerminal() {
		return false, boterrors.ErrInvalidTransition.WithContext(map[string]interface{}{
			"booking_id": id,
			"from":       expected,
			"to":         next,
		})
	}
	if !next.IsValid() {
		return false, fmt.Errorf("unknown booking state %q", next)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE bookings SET state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND state = ?`,
		next, id, expected,
	)
	if err != nil {
		metrics.RecordDatabaseOperation("compare_and_set_state", "error")
		return false, fmt.Errorf("failed to update booking state: %w", err)
	}

	applied, err := affected(result)
	if err != nil {
		return false, err
	}
	if !applied {
		metrics.RecordDatabaseOperation("compare_and_set_state", "conflict")
		return false, nil
	}

	for _, kind := range notices {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO booking_notices (booking_id, kind) VALUES (?, ?)`, id, kind,
		); err != nil {
			return false, fmt.Errorf("failed to enqueue notice: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit state change: %w", err)
	}

	metrics.RecordDatabaseOperation("compare_and_set_state", "applied")
	return true, nil
}

// MarkNotified ставит флаг напоминания, если он еще не стоит
func (s *SQLiteStorage) MarkNotified(ctx context.Context, id int64, flag models.NotificationFlag) (bool, error) {
	var query string
	switch flag {
	case models.FlagNotified24h:
		query = `UPDATE bookings SET notified_24h = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND notified_24h = 0`
	case models.FlagNotified1h:
		query = `UPDATE bookings SET notified_1h = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND notified_1h = 0`
	default:
		return false, fmt.Errorf("unknown notification flag %q", flag)
	}

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark booking as notified: %w", err)
	}

	return affected(result)
}

// MarkAttended отмечает посещение для записи, ожидающей отметки
func (s *SQLiteStorage) MarkAttended(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET attended = 1, state = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND state = ?`,
		models.StateAttended, id, models.StateAwaitingAttendanceMark,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark booking as attended: %w", err)
	}

	return affected(result)
}

// ListPendingNotices получает неотправленные уведомления в порядке постановки
func (s *SQLiteStorage) ListPendingNotices(ctx context.Context, limit int) ([]*models.Notice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, booking_id, kind, attempts, last_error, created_at, sent_at
		 FROM booking_notices WHERE sent_at IS NULL AND abandoned = 0
		 ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending notices: %w", err)
	}
	defer rows.Close()

	var notices []*models.Notice
	for rows.Next() {
		n := &models.Notice{}
		var sentAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.BookingID, &n.Kind, &n.Attempts, &n.LastError, &n.CreatedAt, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan notice: %w", err)
		}
		if sentAt.Valid {
			n.SentAt = &sentAt.Time
		}
		notices = append(notices, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get pending notices: %w", err)
	}

	return notices, nil
}

// CountPendingNotices возвращает размер очереди уведомлений
func (s *SQLiteStorage) CountPendingNotices(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM booking_notices WHERE sent_at IS NULL AND abandoned = 0`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending notices: %w", err)
	}
	return count, nil
}

// MarkNoticeSent помечает уведомление доставленным
func (s *SQLiteStorage) MarkNoticeSent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE booking_notices SET sent_at = ?, attempts = attempts + 1 WHERE id = ? AND sent_at IS NULL`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notice as sent: %w", err)
	}
	return nil
}

// RecordNoticeFailure увеличивает счетчик попыток. Возвращает true, если попытки
// исчерпаны и уведомление больше не будет отправляться.
func (s *SQLiteStorage) RecordNoticeFailure(ctx context.Context, id int64, reason string, maxAttempts int) (bool, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`UPDATE booking_notices
		 SET attempts = attempts + 1, last_error = ?,
		     abandoned = CASE WHEN ? > 0 AND attempts + 1 >= ? THEN 1 ELSE 0 END
		 WHERE id = ? AND sent_at IS NULL
		 RETURNING attempts`,
		reason, maxAttempts, maxAttempts, id,
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record notice failure: %w", err)
	}

	return maxAttempts > 0 && attempts >= maxAttempts, nil
}

func affected(result sql.Result) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rowsAffected > 0, nil
}
