package domain

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Lead is a prospect owned by exactly one client. Identity used for matching
// is derived from ProfileURL at resolution time; ProviderID and
// PublicIdentifier are optional caches backfilled once learned.
type Lead struct {
	ID               uuid.UUID
	ClientID         uuid.UUID
	FullName         string
	ProfileURL       sql.NullString
	ProviderID       sql.NullString
	PublicIdentifier sql.NullString
	Processed        bool
	MessageSent      bool
	NextFollowupAt   sql.NullTime
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LeadRepository defines persistence for leads. Every method is scoped by
// client id.
type LeadRepository interface {
	GetByID(ctx context.Context, clientID, id uuid.UUID) (*Lead, error)
	// ListWithProfileURL returns all of a client's leads that carry a
	// non-null profile URL, for identity matching.
	ListWithProfileURL(ctx context.Context, clientID uuid.UUID) ([]*Lead, error)
	// NextInvitable returns the most recently created lead that has a
	// profile URL, is not processed, has not been messaged, and has no
	// invitation row yet. ErrNotFound when none qualify.
	NextInvitable(ctx context.Context, clientID uuid.UUID) (*Lead, error)
	MarkProcessed(ctx context.Context, clientID, id uuid.UUID) error
	MarkMessageSent(ctx context.Context, clientID, id uuid.UUID, nextFollowupAt sql.NullTime) error
	// CacheProviderIdentity backfills provider_id / public_identifier.
	// Null fields only: existing non-null values are kept.
	CacheProviderIdentity(ctx context.Context, clientID, id uuid.UUID, providerID, publicIdentifier sql.NullString) error
}
