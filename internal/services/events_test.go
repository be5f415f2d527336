package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

func TestEventPublisher_Posted(t *testing.T) {
	ctx := context.Background()
	tx := &models.Transaction{
		ID:        42,
		ChildID:   3,
		Type:      models.Credit,
		Kind:      models.KindInterest,
		Amount:    decimal.RequireFromString("0.37"),
		Timestamp: testNow,
	}

	data, err := json.Marshal(LedgerEvent{
		Event:         "transaction.posted",
		TransactionID: 42,
		ChildID:       3,
		Type:          models.Credit,
		Kind:          models.KindInterest,
		Amount:        tx.Amount,
		At:            testNow,
	})
	require.NoError(t, err)

	t.Run("queues one event per posting", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		p := NewEventPublisher(rdb, "ledger_events", zap.NewNop())
		mock.ExpectRPush("ledger_events", data).SetVal(1)

		p.Posted(ctx, tx, nil)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis failure is swallowed", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		p := NewEventPublisher(rdb, "ledger_events", zap.NewNop())
		mock.ExpectRPush("ledger_events", data).SetErr(errors.New("connection refused"))

		assert.NotPanics(t, func() { p.Posted(ctx, tx) })
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("disabled publisher", func(t *testing.T) {
		var p *EventPublisher
		assert.NotPanics(t, func() { p.Posted(ctx, tx) })
		assert.NotPanics(t, func() { NewEventPublisher(nil, "q", zap.NewNop()).Posted(ctx, tx) })
	})
}
