package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram_studio_bot/internal/storage/models"
	"telegram_studio_bot/internal/testutils"
	"telegram_studio_bot/pkg/errors"
)

func testBooking() *models.Booking {
	return &models.Booking{
		ID:          42,
		OwnerChatID: 555,
		Date:        "2024-06-01",
		TimeFrom:    "14:00",
		TimeTo:      "16:00",
		State:       models.StatePending,
	}
}

func TestRender(t *testing.T) {
	b := testBooking()

	msg, err := Render(models.NoticeReminder24h, b, "")
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "24 часа")
	assert.Contains(t, msg.Text, "2024-06-01")
	assert.Contains(t, msg.Text, "14:00–16:00")
	assert.Empty(t, msg.Buttons)

	msg, err = Render(models.NoticeConfirmationRequest, b, "")
	require.NoError(t, err)
	require.Len(t, msg.Buttons, 1)
	assert.Equal(t, "confirm_booking|42", msg.Buttons[0].Data)

	msg, err = Render(models.NoticeAutoCancelled, b, "")
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "отменена")

	msg, err = Render(models.NoticeAttendanceMark, b, "@anna")
	require.NoError(t, err)
	assert.Equal(t, "HTML", msg.ParseMode)
	assert.Contains(t, msg.Text, "@anna")
	require.Len(t, msg.Buttons, 1)
	assert.Equal(t, "user_came|42", msg.Buttons[0].Data)

	_, err = Render(models.NoticeKind("bogus"), b, "")
	assert.Error(t, err)
}

func TestRender_AdminFallbackName(t *testing.T) {
	msg, err := Render(models.NoticeAttendanceMark, testBooking(), "")
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "id:555")
}

func TestDeliver_Recipients(t *testing.T) {
	sender := testutils.NewFakeSender()
	sender.SetName(555, "anna")
	d := NewDispatcher(sender, time.Second, nil)
	ctx := context.Background()

	require.NoError(t, d.Deliver(ctx, models.NoticeConfirmationRequest, testBooking()))
	require.NoError(t, d.Deliver(ctx, models.NoticeAttendanceMark, testBooking()))

	assert.Len(t, sender.SentTo(555), 1)
	admin := sender.SentToAdmin()
	require.Len(t, admin, 1)
	assert.Contains(t, admin[0].Message.Text, "@anna")
}

func TestDeliver_FailureIsTransient(t *testing.T) {
	sender := testutils.NewFakeSender()
	sender.FailNext(1)
	d := NewDispatcher(sender, time.Second, nil)

	err := d.Deliver(context.Background(), models.NoticeReminder24h, testBooking())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTransientDelivery)
	assert.ErrorIs(t, err, testutils.ErrSendFailed)

	require.NoError(t, d.Deliver(context.Background(), models.NoticeReminder24h, testBooking()))
	assert.Len(t, sender.Sent(), 1)
}

func TestRecipientOf(t *testing.T) {
	assert.Equal(t, RecipientAdmin, RecipientOf(models.NoticeAttendanceMark))
	assert.Equal(t, RecipientUser, RecipientOf(models.NoticeAutoCancelled))
	assert.Equal(t, RecipientUser, RecipientOf(models.NoticeReminder24h))
}

func TestDeliver_SlowNameLookupFallsBackToID(t *testing.T) {
	sender := testutils.NewFakeSender()
	sender.SetHangDisplayName(true)
	d := NewDispatcher(sender, 50*time.Millisecond, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Deliver(context.Background(), models.NoticeAttendanceMark, testBooking()))
	}

	admin := sender.SentToAdmin()
	require.Len(t, admin, 3)
	assert.Contains(t, admin[0].Message.Text, "id:555")
}

func TestDeliver_HangingSendIsCutOff(t *testing.T) {
	sender := testutils.NewFakeSender()
	sender.SetHangSend(true)
	d := NewDispatcher(sender, 50*time.Millisecond, nil)

	started := time.Now()
	err := d.Deliver(context.Background(), models.NoticeReminder24h, testBooking())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTransientDelivery)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Empty(t, sender.Sent())
}
