package audit

import (
	"context"
	"time"

	"github.com/nimasrn/credits-gateway/internal/queue"
	"github.com/nimasrn/credits-gateway/pkg/logger"
)

// Auditor records who did what to which entity. Implementations are
// best-effort by contract: a failing sink must never fail or block the
// operation being audited.
type Auditor interface {
	Log(ctx context.Context, action, entityType string, entityID int64, details map[string]interface{})
}

// Event is the wire shape published onto the audit stream.
type Event struct {
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   int64                  `json:"entity_id"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// QueuePublisher ships audit events onto a redis stream for the auditor
// process to persist. Publish failures are logged and swallowed.
type QueuePublisher struct {
	q *queue.Queue
}

func NewQueuePublisher(q *queue.Queue) *QueuePublisher {
	return &QueuePublisher{q: q}
}

func (p *QueuePublisher) Log(ctx context.Context, action, entityType string, entityID int64, details map[string]interface{}) {
	ev := Event{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}

	if _, err := p.q.PublishJSON(ctx, ev, nil); err != nil {
		logger.Warn("failed to publish audit event", "action", action, "entity_type", entityType, "entity_id", entityID, "error", err)
	}
}

// Nop discards events; used in tests and in binaries without a queue.
type Nop struct{}

func (Nop) Log(ctx context.Context, action, entityType string, entityID int64, details map[string]interface{}) {
}
