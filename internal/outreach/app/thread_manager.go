package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
	"github.com/leadpilothq/outreach-engine/internal/outreach/identity"
)

// recentThreadScanLimit bounds the fallback contact-URL scan.
const recentThreadScanLimit = 100

// ContactInfo is the denormalized counterpart identity attached to a thread.
type ContactInfo struct {
	Name      string
	URL       string
	AvatarURL string
}

// ThreadManager owns the local mirror of provider conversations.
type ThreadManager struct {
	threads domain.ThreadRepository
	logger  *slog.Logger
}

func NewThreadManager(threads domain.ThreadRepository, logger *slog.Logger) *ThreadManager {
	return &ThreadManager{threads: threads, logger: logger.With("component", "thread_manager")}
}

// EnsureThread returns the local thread for an external conversation,
// creating or enriching it as needed. Stored non-null fields always win over
// incoming nulls.
func (m *ThreadManager) EnsureThread(ctx context.Context, clientID uuid.UUID, providerAccountID, externalThreadID string, leadID uuid.NullUUID, contact ContactInfo) (*domain.Thread, error) {
	now := time.Now().UTC()
	t := &domain.Thread{
		ID:                uuid.New(),
		ClientID:          clientID,
		ProviderAccountID: providerAccountID,
		ExternalThreadID:  externalThreadID,
		LeadID:            leadID,
		ContactName:       nullString(contact.Name),
		ContactURL:        nullString(contact.URL),
		ContactAvatarURL:  nullString(contact.AvatarURL),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := m.threads.Upsert(ctx, t); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrThreadUpsertFailed, err)
	}
	// Re-read so callers see the merged row, not just the upsert input.
	stored, err := m.threads.FindByExternalID(ctx, clientID, providerAccountID, externalThreadID)
	if err != nil {
		return nil, fmt.Errorf("%w: reading back thread %s: %v", domain.ErrThreadUpsertFailed, externalThreadID, err)
	}
	return stored, nil
}

// FindForLead locates an existing local thread for a lead without touching
// the provider: direct lead linkage first, then a bounded scan of recent
// threads matched by normalized contact URL. domain.ErrNotFound means the
// caller must create the conversation remotely.
func (m *ThreadManager) FindForLead(ctx context.Context, clientID uuid.UUID, providerAccountID string, lead *domain.Lead) (*domain.Thread, error) {
	t, err := m.threads.FindByLead(ctx, clientID, providerAccountID, lead.ID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	wantURL := identity.NormalizeProfileURL(lead.ProfileURL.String)
	if wantURL == "" {
		return nil, domain.ErrNotFound
	}
	recent, err := m.threads.ListRecent(ctx, clientID, providerAccountID, recentThreadScanLimit)
	if err != nil {
		return nil, err
	}
	for _, cand := range recent {
		if cand.ContactURL.Valid && identity.NormalizeProfileURL(cand.ContactURL.String) == wantURL {
			m.logger.InfoContext(ctx, "thread matched lead by contact URL scan",
				"client_id", clientID, "lead_id", lead.ID, "thread_id", cand.ID)
			return cand, nil
		}
	}
	return nil, domain.ErrNotFound
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
