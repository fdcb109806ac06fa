package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
)

type PgInvitationRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgInvitationRepository(db *pgxpool.Pool, logger *slog.Logger) domain.InvitationRepository {
	return &PgInvitationRepository{db: db, logger: logger.With("component", "invitation_repository_pg")}
}

const invitationColumns = `id, client_id, lead_id, provider_account_id, status, provider_id,
	provider_id_conflict, raw, uncertain, match_strategy, sent_at, accepted_at, created_at, updated_at`

func scanInvitation(row pgx.Row) (*domain.Invitation, error) {
	var inv domain.Invitation
	err := row.Scan(
		&inv.ID, &inv.ClientID, &inv.LeadID, &inv.ProviderAccountID, &inv.Status, &inv.ProviderID,
		&inv.ProviderIDConflict, &inv.Raw, &inv.Uncertain, &inv.MatchStrategy,
		&inv.SentAt, &inv.AcceptedAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *PgInvitationRepository) Upsert(ctx context.Context, inv *domain.Invitation) error {
	// Merge semantics on conflict: timestamps and learned identifiers are
	// enriched, never regressed to null, and raw legs accumulate across
	// transitions (incoming legs win on key collision). The stored id wins
	// so callers keep a stable reference.
	query := `
		INSERT INTO invitations (
			id, client_id, lead_id, provider_account_id, status, provider_id,
			provider_id_conflict, raw, uncertain, match_strategy, sent_at, accepted_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (client_id, lead_id, provider_account_id) DO UPDATE SET
			status               = EXCLUDED.status,
			provider_id          = COALESCE(invitations.provider_id, EXCLUDED.provider_id),
			provider_id_conflict = invitations.provider_id_conflict OR EXCLUDED.provider_id_conflict,
			raw                  = COALESCE(invitations.raw, '{}'::jsonb) || COALESCE(EXCLUDED.raw, '{}'::jsonb),
			uncertain            = EXCLUDED.uncertain,
			match_strategy       = COALESCE(EXCLUDED.match_strategy, invitations.match_strategy),
			sent_at              = COALESCE(invitations.sent_at, EXCLUDED.sent_at),
			accepted_at          = COALESCE(invitations.accepted_at, EXCLUDED.accepted_at),
			updated_at           = NOW()
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		inv.ID, inv.ClientID, inv.LeadID, inv.ProviderAccountID, inv.Status, inv.ProviderID,
		inv.ProviderIDConflict, inv.Raw, inv.Uncertain, inv.MatchStrategy, inv.SentAt, inv.AcceptedAt,
		inv.CreatedAt, inv.UpdatedAt,
	).Scan(&inv.ID, &inv.CreatedAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error upserting invitation", "error", err, "lead_id", inv.LeadID)
		return fmt.Errorf("upserting invitation for lead %s: %w", inv.LeadID, err)
	}
	return nil
}

func (r *PgInvitationRepository) FindByLead(ctx context.Context, clientID, leadID uuid.UUID, providerAccountID string) (*domain.Invitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM invitations
		WHERE client_id = $1 AND lead_id = $2 AND provider_account_id = $3
	`
	inv, err := scanInvitation(r.db.QueryRow(ctx, query, clientID, leadID, providerAccountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error finding invitation by lead", "error", err, "lead_id", leadID)
		return nil, fmt.Errorf("finding invitation for lead %s: %w", leadID, err)
	}
	return inv, nil
}

func (r *PgInvitationRepository) LastSent(ctx context.Context, clientID uuid.UUID, providerAccountID string) (*domain.Invitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM invitations
		WHERE client_id = $1 AND provider_account_id = $2 AND status = 'sent'
		ORDER BY sent_at DESC NULLS LAST
		LIMIT 1
	`
	inv, err := scanInvitation(r.db.QueryRow(ctx, query, clientID, providerAccountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error finding last sent invitation", "error", err, "client_id", clientID)
		return nil, fmt.Errorf("finding last sent invitation for client %s: %w", clientID, err)
	}
	return inv, nil
}

func (r *PgInvitationRepository) CountSentSince(ctx context.Context, clientID uuid.UUID, providerAccountID string, since time.Time) (int, error) {
	// Queued rows count against quota too: a send that failed after being
	// attempted still consumed an action on the provider side.
	query := `
		SELECT COUNT(*)
		FROM invitations
		WHERE client_id = $1 AND provider_account_id = $2
		  AND status IN ('queued', 'sent', 'accepted')
		  AND created_at >= $3
	`
	var count int
	if err := r.db.QueryRow(ctx, query, clientID, providerAccountID, since).Scan(&count); err != nil {
		r.logger.ErrorContext(ctx, "Error counting invitations", "error", err, "client_id", clientID)
		return 0, fmt.Errorf("counting invitations for client %s: %w", clientID, err)
	}
	return count, nil
}

func (r *PgInvitationRepository) Update(ctx context.Context, inv *domain.Invitation) error {
	query := `
		UPDATE invitations
		SET status = $2, provider_id = $3, provider_id_conflict = $4, raw = $5,
		    uncertain = $6, match_strategy = $7, sent_at = $8, accepted_at = $9,
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		inv.ID, inv.Status, inv.ProviderID, inv.ProviderIDConflict, inv.Raw,
		inv.Uncertain, inv.MatchStrategy, inv.SentAt, inv.AcceptedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating invitation", "error", err, "invitation_id", inv.ID)
		return fmt.Errorf("updating invitation %s: %w", inv.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
