package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"telegram_studio_bot/internal/storage/models"
	"telegram_studio_bot/internal/storage/sqlite"
)

// SetupTestDB создает in-memory SQLite базу данных для тестов
func SetupTestDB(t *testing.T) *sqlite.SQLiteStorage {
	t.Helper()

	storage, err := sqlite.New(":memory:")
	require.NoError(t, err, "failed to create test database")

	t.Cleanup(func() {
		storage.Close()
	})

	return storage
}

// TestContext создает контекст для тестов, отменяемый по завершении теста
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CreateBooking сохраняет запись на date с from до to. CreatedAt берется из createdAt
func CreateBooking(t *testing.T, store *sqlite.SQLiteStorage, chatID int64, date, from, to string, createdAt time.Time) *models.Booking {
	t.Helper()

	b := &models.Booking{
		OwnerChatID: chatID,
		Date:        date,
		TimeFrom:    from,
		TimeTo:      to,
		Tariff:      "standard",
		CreatedAt:   createdAt,
	}
	require.NoError(t, store.CreateBooking(context.Background(), b))
	return b
}
