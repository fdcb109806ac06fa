package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
)

type PgMessageRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgMessageRepository(db *pgxpool.Pool, logger *slog.Logger) domain.MessageRepository {
	return &PgMessageRepository{db: db, logger: logger.With("component", "message_repository_pg")}
}

const messageColumns = `id, client_id, provider_account_id, thread_id, external_message_id,
	direction, sender_name, sender_url, sender_avatar_url, body, sent_at, raw, created_at`

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var m domain.Message
	err := row.Scan(
		&m.ID, &m.ClientID, &m.ProviderAccountID, &m.ThreadID, &m.ExternalMessageID,
		&m.Direction, &m.SenderName, &m.SenderURL, &m.SenderAvatarURL, &m.Body,
		&m.SentAt, &m.Raw, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *PgMessageRepository) InsertIfAbsent(ctx context.Context, m *domain.Message) (bool, error) {
	// The unique constraint on (client_id, provider_account_id,
	// external_message_id) arbitrates concurrent inserts; DO NOTHING makes
	// the duplicate path silent.
	query := `
		INSERT INTO messages (
			id, client_id, provider_account_id, thread_id, external_message_id,
			direction, sender_name, sender_url, sender_avatar_url, body, sent_at, raw, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (client_id, provider_account_id, external_message_id) DO NOTHING
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		m.ID, m.ClientID, m.ProviderAccountID, m.ThreadID, m.ExternalMessageID,
		m.Direction, m.SenderName, m.SenderURL, m.SenderAvatarURL, m.Body, m.SentAt, m.Raw, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		r.logger.ErrorContext(ctx, "Error inserting message", "error", err, "external_message_id", m.ExternalMessageID)
		return false, fmt.Errorf("inserting message %s: %w", m.ExternalMessageID, err)
	}
	return true, nil
}

func (r *PgMessageRepository) GetByExternalID(ctx context.Context, clientID uuid.UUID, providerAccountID, externalMessageID string) (*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE client_id = $1 AND provider_account_id = $2 AND external_message_id = $3
	`
	m, err := scanMessage(r.db.QueryRow(ctx, query, clientID, providerAccountID, externalMessageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting message by external ID", "error", err, "external_message_id", externalMessageID)
		return nil, fmt.Errorf("getting message %s: %w", externalMessageID, err)
	}
	return m, nil
}

func (r *PgMessageRepository) PatchSenderFields(ctx context.Context, id uuid.UUID, name, url, avatarURL sql.NullString) error {
	query := `
		UPDATE messages
		SET sender_name       = COALESCE(sender_name, $2),
		    sender_url        = COALESCE(sender_url, $3),
		    sender_avatar_url = COALESCE(sender_avatar_url, $4)
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, name, url, avatarURL)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error patching message sender fields", "error", err, "message_id", id)
		return fmt.Errorf("patching sender fields on message %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PgMessageRepository) ListRecentWithRaw(ctx context.Context, clientID uuid.UUID, providerAccountID string, since time.Time, limit int) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE client_id = $1 AND provider_account_id = $2 AND sent_at >= $3
		ORDER BY sent_at DESC
		LIMIT $4
	`
	rows, err := r.db.Query(ctx, query, clientID, providerAccountID, since, limit)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing recent messages", "error", err, "client_id", clientID)
		return nil, fmt.Errorf("listing recent messages for client %s: %w", clientID, err)
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
