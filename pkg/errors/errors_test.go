package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBotError_IsMatchesByCode(t *testing.T) {
	err := ErrInvalidTransition.WithContext(map[string]interface{}{"booking_id": 7})

	assert.True(t, stderrors.Is(err, ErrInvalidTransition))
	assert.False(t, stderrors.Is(err, ErrStoreConflict))

	wrapped := fmt.Errorf("confirm booking: %w", err)
	assert.True(t, stderrors.Is(wrapped, ErrInvalidTransition))
}

func TestBotError_UnwrapKeepsCause(t *testing.T) {
	cause := stderrors.New("network down")
	err := ErrTransientDelivery.WithError(cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, "TRANSIENT_DELIVERY_FAILURE: не удалось доставить уведомление: network down", err.Error())
}

func TestCode(t *testing.T) {
	assert.Equal(t, "BOOKING_NOT_FOUND", Code(fmt.Errorf("get: %w", ErrBookingNotFound)))
	assert.Equal(t, "INTERNAL", Code(stderrors.New("boom")))
	assert.Equal(t, "INVALID_TARIFF", Code(ErrInvalidTariff.WithContext(map[string]interface{}{"length": 70})))

	_, ok := GetBotError(stderrors.New("plain"))
	assert.False(t, ok)
}
