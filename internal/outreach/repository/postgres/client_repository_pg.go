// Package postgres implements the domain repository interfaces on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
)

type PgClientRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgClientRepository(db *pgxpool.Pool, logger *slog.Logger) domain.ClientRepository {
	return &PgClientRepository{db: db, logger: logger.With("component", "client_repository_pg")}
}

const clientColumns = `id, name, plan, timezone, daily_invite_quota, provider_account_id, created_at, updated_at`

func scanClient(row pgx.Row) (*domain.Client, error) {
	var c domain.Client
	err := row.Scan(
		&c.ID, &c.Name, &c.Plan, &c.Timezone, &c.DailyInviteQuota,
		&c.ProviderAccountID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PgClientRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`
	c, err := scanClient(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting client by ID", "error", err, "client_id", id)
		return nil, fmt.Errorf("getting client %s: %w", id, err)
	}
	return c, nil
}

func (r *PgClientRepository) GetByProviderAccountID(ctx context.Context, providerAccountID string) (*domain.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE provider_account_id = $1`
	c, err := scanClient(r.db.QueryRow(ctx, query, providerAccountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting client by provider account", "error", err, "provider_account_id", providerAccountID)
		return nil, fmt.Errorf("getting client for account %s: %w", providerAccountID, err)
	}
	return c, nil
}

func (r *PgClientRepository) ListSchedulable(ctx context.Context) ([]*domain.Client, error) {
	query := `
		SELECT ` + clientColumns + `
		FROM clients
		WHERE plan IN ('full', 'active') AND provider_account_id <> ''
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing schedulable clients", "error", err)
		return nil, fmt.Errorf("listing schedulable clients: %w", err)
	}
	defer rows.Close()

	var clients []*domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning client row: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}
