package domain

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// PreviewMaxLen bounds the denormalized last-message preview on threads.
const PreviewMaxLen = 160

// Thread is the local mirror of one external conversation. One row per
// (client, provider account, external thread id); that triple is the upsert
// key. Denormalized contact/last-message fields exist for inbox listing and
// are enriched opportunistically, never clobbered with nulls.
type Thread struct {
	ID                 uuid.UUID
	ClientID           uuid.UUID
	ProviderAccountID  string
	ExternalThreadID   string
	LeadID             uuid.NullUUID
	ContactName        sql.NullString
	ContactURL         sql.NullString
	ContactAvatarURL   sql.NullString
	LastMessageAt      sql.NullTime
	LastMessagePreview sql.NullString
	UnreadCount        int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TruncatePreview bounds a message body for the denormalized preview field.
func TruncatePreview(body string) string {
	runes := []rune(body)
	if len(runes) <= PreviewMaxLen {
		return body
	}
	return string(runes[:PreviewMaxLen])
}

// ThreadRepository defines persistence for threads.
type ThreadRepository interface {
	// Upsert writes the thread keyed by (client, account, external thread
	// id). Optional fields already set on the stored row are kept when the
	// incoming value is null. The stored row's id is written back to t.
	Upsert(ctx context.Context, t *Thread) error
	FindByExternalID(ctx context.Context, clientID uuid.UUID, providerAccountID, externalThreadID string) (*Thread, error)
	FindByLead(ctx context.Context, clientID uuid.UUID, providerAccountID string, leadID uuid.UUID) (*Thread, error)
	// ListRecent returns the account's threads ordered by updated_at
	// descending, bounded by limit. Used for bounded contact-URL scans.
	ListRecent(ctx context.Context, clientID uuid.UUID, providerAccountID string, limit int) ([]*Thread, error)
	// RecordLastMessage updates the denormalized last-message fields and
	// bumps updated_at; inbound messages also increment the unread counter.
	RecordLastMessage(ctx context.Context, threadID uuid.UUID, at time.Time, preview string, inbound bool) error
	MarkRead(ctx context.Context, threadID uuid.UUID) error
}
