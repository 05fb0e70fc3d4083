// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/roomrelay/roomrelay/pkg/errutil"
)

type mockMessageStore struct {
	mock.Mock
}

func (m *mockMessageStore) Append(ctx context.Context, msg Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockMessageStore) ReadHistory(ctx context.Context, room string, limit int) ([]Message, error) {
	args := m.Called(ctx, room, limit)
	msgs, _ := args.Get(0).([]Message)
	return msgs, args.Error(1)
}

// blockingStore waits for its context before answering.
type blockingStore struct{}

func (blockingStore) Append(ctx context.Context, _ Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingStore) ReadHistory(ctx context.Context, _ string, _ int) ([]Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHistoryGateway_AppendDelegates(t *testing.T) {
	store := &mockMessageStore{}
	msg := testMessage("lobby", "hi")
	store.On("Append", mock.Anything, msg).Return(nil)

	gw := NewHistoryGateway(store)
	require.NoError(t, gw.Append(context.Background(), msg))
	store.AssertExpectations(t)
}

func TestHistoryGateway_AppendFailureIsPersistenceError(t *testing.T) {
	store := &mockMessageStore{}
	store.On("Append", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	gw := NewHistoryGateway(store)
	err := gw.Append(context.Background(), testMessage("lobby", "hi"))

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodePersistence)
	errutil.AssertErrorContext(t, err, "operation", "append")
	errutil.AssertErrorContext(t, err, "room", "lobby")
	assert.True(t, IsPersistence(err))
}

func TestHistoryGateway_ReadHistoryClampsLimit(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		wantLimit int
	}{
		{"within cap", 20, 20},
		{"zero uses cap", 0, 50},
		{"negative uses cap", -1, 50},
		{"above cap", 1000, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockMessageStore{}
			store.On("ReadHistory", mock.Anything, "lobby", tt.wantLimit).Return([]Message{}, nil)

			gw := NewHistoryGateway(store, WithHistoryCap(50))
			_, err := gw.ReadHistory(context.Background(), "lobby", tt.requested)

			require.NoError(t, err)
			store.AssertExpectations(t)
		})
	}
}

func TestHistoryGateway_ReadHistoryTrimsOversizedResult(t *testing.T) {
	msgs := []Message{testMessage("lobby", "1"), testMessage("lobby", "2"), testMessage("lobby", "3")}
	store := &mockMessageStore{}
	store.On("ReadHistory", mock.Anything, "lobby", 2).Return(msgs, nil)

	gw := NewHistoryGateway(store)
	got, err := gw.ReadHistory(context.Background(), "lobby", 2)

	require.NoError(t, err)
	assert.Equal(t, msgs[1:], got)
}

func TestHistoryGateway_ReadHistoryFailure(t *testing.T) {
	store := &mockMessageStore{}
	store.On("ReadHistory", mock.Anything, "lobby", DefaultHistoryLimit).Return(nil, errors.New("connection refused"))

	gw := NewHistoryGateway(store)
	got, err := gw.ReadHistory(context.Background(), "lobby", 0)

	assert.Nil(t, got)
	errutil.AssertErrorCode(t, err, CodePersistence)
	errutil.AssertErrorContext(t, err, "operation", "read_history")
}

func TestHistoryGateway_TimesOutSlowStore(t *testing.T) {
	gw := NewHistoryGateway(blockingStore{}, WithStoreTimeout(20*time.Millisecond))

	started := time.Now()
	err := gw.Append(context.Background(), testMessage("lobby", "hi"))
	assert.Less(t, time.Since(started), time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, IsPersistence(err))

	_, err = gw.ReadHistory(context.Background(), "lobby", 10)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHistoryGateway_Options(t *testing.T) {
	gw := NewHistoryGateway(NewMemoryMessageStore(), WithHistoryCap(0), WithStoreTimeout(-time.Second))
	assert.Equal(t, DefaultHistoryLimit, gw.Cap())
	assert.Equal(t, DefaultStoreTimeout, gw.timeout)
}
