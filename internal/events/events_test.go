package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram_studio_bot/internal/storage/models"
)

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, KeyBookingConfirmed, RoutingKey(models.StateConfirmed))
	assert.Equal(t, KeyBookingCancelled, RoutingKey(models.StateCancelled))
	assert.Equal(t, KeyBookingAwaitingAttendance, RoutingKey(models.StateAwaitingAttendanceMark))
	assert.Equal(t, KeyBookingAttended, RoutingKey(models.StateAttended))
	assert.Equal(t, KeyBookingCreated, RoutingKey(models.StatePending))
}

func TestNewBookingEvent_Encode(t *testing.T) {
	b := &models.Booking{ID: 7, OwnerChatID: 100, Date: "2024-06-01", TimeFrom: "14:00", TimeTo: "16:00"}
	at := time.Date(2024, 6, 1, 13, 50, 0, 0, time.FixedZone("MSK", 3*3600))

	ev := NewBookingEvent(b, models.StatePending, models.StateCancelled, "scheduler", at)
	_, err := uuid.Parse(ev.EventID)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, ev.OccurredAt.Location())

	body, err := Encode(ev)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Equal(t, "pending", raw["from"])
	assert.Equal(t, "cancelled", raw["to"])
	assert.Equal(t, float64(7), raw["booking_id"])
	assert.Equal(t, "2024-06-01T10:50:00Z", raw["occurred_at"])
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), BookingEvent{}))
	assert.NoError(t, p.Close())
}
