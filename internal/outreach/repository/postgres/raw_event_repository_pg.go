package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
)

type PgRawEventRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgRawEventRepository(db *pgxpool.Pool, logger *slog.Logger) domain.RawEventRepository {
	return &PgRawEventRepository{db: db, logger: logger.With("component", "raw_event_repository_pg")}
}

func (r *PgRawEventRepository) Insert(ctx context.Context, e *domain.RawEvent) error {
	query := `
		INSERT INTO raw_events (id, source, event_type, payload, received_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Exec(ctx, query, e.ID, e.Source, e.EventType, e.Payload, e.ReceivedAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error inserting raw event", "error", err, "raw_event_id", e.ID)
		return fmt.Errorf("inserting raw event %s: %w", e.ID, err)
	}
	return nil
}

func (r *PgRawEventRepository) MarkProcessed(ctx context.Context, id uuid.UUID, procErr sql.NullString) error {
	query := `
		UPDATE raw_events
		SET processed_at = NOW(), processing_error = $2
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, procErr)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking raw event processed", "error", err, "raw_event_id", id)
		return fmt.Errorf("marking raw event %s processed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
