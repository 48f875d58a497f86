package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestL_FallsBackToDevelopmentLoggerWhenUninitialized(t *testing.T) {
	assert.NotNil(t, L())
}

func TestAppendContextFields_NilContextReturnsFieldsUnchanged(t *testing.T) {
	fields := appendContextFields(nil, nil)
	assert.Nil(t, fields)
}

func TestAppendContextFields_ExtractsCorrelationAndRoomID(t *testing.T) {
	ctx := context.WithValue(context.Background(), CorrelationIDKey, "abc-123")
	ctx = context.WithValue(ctx, RoomIDKey, "room-1")

	fields := appendContextFields(ctx, nil)
	assert.Len(t, fields, 3) // correlation_id, room_id, service
}

func TestInfoWarnError_DoNotPanicWithoutInitialize(t *testing.T) {
	assert.NotPanics(t, func() {
		Info(context.Background(), "test info")
		Warn(context.Background(), "test warn")
		Error(context.Background(), "test error")
	})
}
