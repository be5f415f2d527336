package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

// LedgerEvent is pushed to the events queue after a posting, edit or
// delete commits.
type LedgerEvent struct {
	Event         string          `json:"event"`
	TransactionID int64           `json:"transaction_id"`
	ChildID       int64           `json:"child_id"`
	Type          models.TxType   `json:"type"`
	Kind          models.TxKind   `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	At            time.Time       `json:"at"`
}

// EventPublisher queues ledger events on a Redis list for downstream
// consumers (notifications, statements). Delivery is best-effort.
type EventPublisher struct {
	redis  *redis.Client
	queue  string
	logger *zap.Logger
}

// NewEventPublisher returns a publisher. A nil client disables publishing.
func NewEventPublisher(client *redis.Client, queue string, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{redis: client, queue: queue, logger: logger}
}

// Posted queues one "transaction.posted" event per transaction. It must
// only be called after the surrounding SQL transaction committed.
func (p *EventPublisher) Posted(ctx context.Context, txs ...*models.Transaction) {
	p.publish(ctx, "transaction.posted", txs...)
}

// Edited queues "transaction.edited" with the corrected values.
func (p *EventPublisher) Edited(ctx context.Context, tx *models.Transaction) {
	p.publish(ctx, "transaction.edited", tx)
}

func (p *EventPublisher) Deleted(ctx context.Context, tx *models.Transaction) {
	p.publish(ctx, "transaction.deleted", tx)
}

func (p *EventPublisher) publish(ctx context.Context, event string, txs ...*models.Transaction) {
	if p == nil || p.redis == nil {
		return
	}
	for _, tx := range txs {
		if tx == nil {
			continue
		}
		data, err := json.Marshal(LedgerEvent{
			Event:         event,
			TransactionID: tx.ID,
			ChildID:       tx.ChildID,
			Type:          tx.Type,
			Kind:          tx.Kind,
			Amount:        tx.Amount,
			At:            tx.Timestamp,
		})
		if err != nil {
			p.logger.Warn("encode ledger event", zap.String("event", event), zap.Int64("transaction_id", tx.ID), zap.Error(err))
			continue
		}
		if err := p.redis.RPush(ctx, p.queue, data).Err(); err != nil {
			p.logger.Warn("queue ledger event", zap.String("event", event), zap.Int64("transaction_id", tx.ID), zap.Error(err))
		}
	}
}
