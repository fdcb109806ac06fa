package domain

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RawEvent is one inbound webhook delivery, persisted verbatim before any
// processing so a processing bug can never lose the source payload.
// Append-only.
type RawEvent struct {
	ID              uuid.UUID
	Source          string
	EventType       sql.NullString
	Payload         json.RawMessage
	ReceivedAt      time.Time
	ProcessedAt     sql.NullTime
	ProcessingError sql.NullString
}

// RawEventRepository is the append-only webhook log.
type RawEventRepository interface {
	Insert(ctx context.Context, e *RawEvent) error
	// MarkProcessed stamps the processing outcome. procErr is null on
	// success.
	MarkProcessed(ctx context.Context, id uuid.UUID, procErr sql.NullString) error
}
