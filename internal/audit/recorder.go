package audit

import (
	"context"
	"encoding/json"

	"github.com/nimasrn/credits-gateway/internal/queue"
	"github.com/nimasrn/credits-gateway/internal/repository"
	"github.com/nimasrn/credits-gateway/pkg/logger"
)

type AuditLogRepository interface {
	Create(ctx context.Context, entry *repository.AuditLogEntity) error
}

// Recorder drains published audit events into the audit_log table.
type Recorder struct {
	repo AuditLogRepository
}

func NewRecorder(repo AuditLogRepository) *Recorder {
	return &Recorder{repo: repo}
}

func (r *Recorder) GetType() string {
	return "audit"
}

func (r *Recorder) Process(ctx context.Context, msg *queue.Message) error {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		// Malformed events are unrecoverable; ack so they land in the DLQ
		// instead of looping forever.
		logger.Error("failed to unmarshal audit event", "message_id", msg.ID, "error", err)
		return err
	}

	details := ""
	if len(ev.Details) > 0 {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			logger.Warn("failed to marshal audit details", "action", ev.Action, "error", err)
		} else {
			details = string(b)
		}
	}

	entry := &repository.AuditLogEntity{
		Action:     ev.Action,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		Details:    details,
		CreatedAt:  ev.CreatedAt,
	}

	if err := r.repo.Create(ctx, entry); err != nil {
		logger.Error("failed to persist audit event", "action", ev.Action, "error", err)
		return err
	}

	return nil
}
