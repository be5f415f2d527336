// Package audit writes one structured record per money movement, state
// transition and authorization denial.
package audit

import (
	"time"

	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Entity    string            `json:"entity,omitempty"`
	EntityID  int64             `json:"entity_id,omitempty"`
	ChildID   int64             `json:"child_id,omitempty"`
	Actor     string            `json:"actor,omitempty"`
	ActorID   int64             `json:"actor_id,omitempty"`
	Amount    string            `json:"amount,omitempty"`
	Status    string            `json:"status"`
	Details   map[string]string `json:"details,omitempty"`
}

type AuditLogger struct {
	log *zap.Logger
	now func() time.Time
}

// NewAuditLogger derives a named "audit" logger. A nil logger discards.
func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLogger{log: logger.Named("audit"), now: time.Now}
}

func (a *AuditLogger) LogPosting(tx *models.Transaction) {
	a.write(AuditEvent{
		EventType: "POSTING",
		Entity:    "transaction",
		EntityID:  tx.ID,
		ChildID:   tx.ChildID,
		Actor:     string(tx.InitiatedBy),
		ActorID:   tx.InitiatorID,
		Amount:    tx.Amount.String(),
		Status:    "SUCCESS",
		Details: map[string]string{
			"type": string(tx.Type),
			"kind": string(tx.Kind),
		},
	})
}

// LogEdit records a correction to a posted transaction with the values it
// replaced.
func (a *AuditLogger) LogEdit(before, after *models.Transaction, actor *models.Identity) {
	ev := AuditEvent{
		EventType: "EDIT",
		Entity:    "transaction",
		EntityID:  after.ID,
		ChildID:   after.ChildID,
		Amount:    after.Amount.String(),
		Status:    "SUCCESS",
		Details: map[string]string{
			"type":            string(after.Type),
			"previous_type":   string(before.Type),
			"previous_amount": before.Amount.String(),
		},
	}
	a.write(withActor(ev, actor))
}

func (a *AuditLogger) LogDelete(tx *models.Transaction, actor *models.Identity) {
	ev := AuditEvent{
		EventType: "DELETE",
		Entity:    "transaction",
		EntityID:  tx.ID,
		ChildID:   tx.ChildID,
		Amount:    tx.Amount.String(),
		Status:    "SUCCESS",
		Details: map[string]string{
			"type": string(tx.Type),
			"kind": string(tx.Kind),
		},
	}
	a.write(withActor(ev, actor))
}

func withActor(ev AuditEvent, actor *models.Identity) AuditEvent {
	if actor != nil {
		ev.Actor = string(actor.Role)
		_, ev.ActorID = actor.Initiator()
	}
	return ev
}

func (a *AuditLogger) LogTransition(machine string, entityID, childID int64, from, to string, actor *models.Identity) {
	ev := AuditEvent{
		EventType: "TRANSITION",
		Entity:    machine,
		EntityID:  entityID,
		ChildID:   childID,
		Status:    "SUCCESS",
		Details:   map[string]string{"from": from, "to": to},
	}
	if actor != nil {
		ev.Actor = string(actor.Role)
		_, ev.ActorID = actor.Initiator()
	}
	a.write(ev)
}

func (a *AuditLogger) LogDenied(actor *models.Identity, childID int64, capability string) {
	ev := AuditEvent{
		EventType: "DENIED",
		ChildID:   childID,
		Status:    "FAILED",
		Details:   map[string]string{"capability": capability},
	}
	if actor != nil {
		ev.Actor = string(actor.Role)
		_, ev.ActorID = actor.Initiator()
	}
	a.write(ev)
}

func (a *AuditLogger) LogError(op string, childID int64, err error) {
	a.write(AuditEvent{
		EventType: "ERROR",
		ChildID:   childID,
		Status:    "FAILED",
		Details:   map[string]string{"op": op, "error": err.Error()},
	})
}

func (a *AuditLogger) write(ev AuditEvent) {
	if a == nil {
		return
	}
	ev.Timestamp = a.now()
	fields := []zap.Field{
		zap.Time("timestamp", ev.Timestamp),
		zap.String("event_type", ev.EventType),
		zap.String("status", ev.Status),
	}
	if ev.Entity != "" {
		fields = append(fields, zap.String("entity", ev.Entity), zap.Int64("entity_id", ev.EntityID))
	}
	if ev.ChildID != 0 {
		fields = append(fields, zap.Int64("child_id", ev.ChildID))
	}
	if ev.Actor != "" {
		fields = append(fields, zap.String("actor", ev.Actor), zap.Int64("actor_id", ev.ActorID))
	}
	if ev.Amount != "" {
		fields = append(fields, zap.String("amount", ev.Amount))
	}
	if len(ev.Details) > 0 {
		fields = append(fields, zap.Any("details", ev.Details))
	}
	a.log.Info("audit", fields...)
}
