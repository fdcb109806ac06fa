package domain

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageDirection distinguishes inbound from outbound messages.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// Message is one row per (client, provider account, external message id) —
// the idempotency key. Rows are append-only; enrichment backfills null
// sender fields and never overwrites resolved values.
type Message struct {
	ID                uuid.UUID
	ClientID          uuid.UUID
	ProviderAccountID string
	ThreadID          uuid.UUID
	ExternalMessageID string
	Direction         MessageDirection
	SenderName        sql.NullString
	SenderURL         sql.NullString
	SenderAvatarURL   sql.NullString
	Body              string
	SentAt            time.Time
	Raw               json.RawMessage
	CreatedAt         time.Time
}

// MessageRepository defines persistence for messages.
type MessageRepository interface {
	// InsertIfAbsent inserts the message unless a row with the same
	// (client, account, external message id) already exists. Returns
	// inserted=false on the duplicate path; the unique constraint, not a
	// prior read, is the race arbiter.
	InsertIfAbsent(ctx context.Context, m *Message) (inserted bool, err error)
	GetByExternalID(ctx context.Context, clientID uuid.UUID, providerAccountID, externalMessageID string) (*Message, error)
	// PatchSenderFields fills null sender columns with the supplied values.
	// Non-null stored values are never regressed.
	PatchSenderFields(ctx context.Context, id uuid.UUID, name, url, avatarURL sql.NullString) error
	// ListRecentWithRaw returns the account's newest messages since the
	// given instant, most recent first, bounded by limit. Feeds the
	// attendee resolution cache scan.
	ListRecentWithRaw(ctx context.Context, clientID uuid.UUID, providerAccountID string, since time.Time, limit int) ([]*Message, error)
}
