package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
)

type PgLeadRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgLeadRepository(db *pgxpool.Pool, logger *slog.Logger) domain.LeadRepository {
	return &PgLeadRepository{db: db, logger: logger.With("component", "lead_repository_pg")}
}

const leadColumns = `id, client_id, full_name, profile_url, provider_id, public_identifier,
	processed, message_sent, next_followup_at, created_at, updated_at`

func scanLead(row pgx.Row) (*domain.Lead, error) {
	var l domain.Lead
	err := row.Scan(
		&l.ID, &l.ClientID, &l.FullName, &l.ProfileURL, &l.ProviderID, &l.PublicIdentifier,
		&l.Processed, &l.MessageSent, &l.NextFollowupAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *PgLeadRepository) GetByID(ctx context.Context, clientID, id uuid.UUID) (*domain.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE client_id = $1 AND id = $2`
	l, err := scanLead(r.db.QueryRow(ctx, query, clientID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting lead by ID", "error", err, "lead_id", id)
		return nil, fmt.Errorf("getting lead %s: %w", id, err)
	}
	return l, nil
}

func (r *PgLeadRepository) ListWithProfileURL(ctx context.Context, clientID uuid.UUID) ([]*domain.Lead, error) {
	query := `
		SELECT ` + leadColumns + `
		FROM leads
		WHERE client_id = $1 AND profile_url IS NOT NULL AND profile_url <> ''
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, clientID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing leads with profile URL", "error", err, "client_id", clientID)
		return nil, fmt.Errorf("listing leads for client %s: %w", clientID, err)
	}
	defer rows.Close()

	var leads []*domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lead row: %w", err)
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

func (r *PgLeadRepository) NextInvitable(ctx context.Context, clientID uuid.UUID) (*domain.Lead, error) {
	// Newest first: fresh leads are the most likely to still be relevant.
	query := `
		SELECT ` + leadColumns + `
		FROM leads l
		WHERE l.client_id = $1
		  AND l.profile_url IS NOT NULL AND l.profile_url <> ''
		  AND l.processed = FALSE
		  AND l.message_sent = FALSE
		  AND NOT EXISTS (
			SELECT 1 FROM invitations i
			WHERE i.client_id = l.client_id AND i.lead_id = l.id
		  )
		ORDER BY l.created_at DESC
		LIMIT 1
	`
	l, err := scanLead(r.db.QueryRow(ctx, query, clientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error selecting next invitable lead", "error", err, "client_id", clientID)
		return nil, fmt.Errorf("selecting next invitable lead for client %s: %w", clientID, err)
	}
	return l, nil
}

func (r *PgLeadRepository) MarkProcessed(ctx context.Context, clientID, id uuid.UUID) error {
	query := `UPDATE leads SET processed = TRUE, updated_at = NOW() WHERE client_id = $1 AND id = $2`
	tag, err := r.db.Exec(ctx, query, clientID, id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking lead processed", "error", err, "lead_id", id)
		return fmt.Errorf("marking lead %s processed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PgLeadRepository) MarkMessageSent(ctx context.Context, clientID, id uuid.UUID, nextFollowupAt sql.NullTime) error {
	query := `
		UPDATE leads
		SET message_sent = TRUE, next_followup_at = $3, updated_at = NOW()
		WHERE client_id = $1 AND id = $2
	`
	tag, err := r.db.Exec(ctx, query, clientID, id, nextFollowupAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking lead message sent", "error", err, "lead_id", id)
		return fmt.Errorf("marking lead %s message sent: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PgLeadRepository) CacheProviderIdentity(ctx context.Context, clientID, id uuid.UUID, providerID, publicIdentifier sql.NullString) error {
	// Null-only backfill: a value learned earlier is never overwritten.
	query := `
		UPDATE leads
		SET provider_id       = COALESCE(provider_id, $3),
		    public_identifier = COALESCE(public_identifier, $4),
		    updated_at        = NOW()
		WHERE client_id = $1 AND id = $2
	`
	tag, err := r.db.Exec(ctx, query, clientID, id, providerID, publicIdentifier)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error caching lead provider identity", "error", err, "lead_id", id)
		return fmt.Errorf("caching provider identity for lead %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
