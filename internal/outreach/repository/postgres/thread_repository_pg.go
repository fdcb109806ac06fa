package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
)

type PgThreadRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgThreadRepository(db *pgxpool.Pool, logger *slog.Logger) domain.ThreadRepository {
	return &PgThreadRepository{db: db, logger: logger.With("component", "thread_repository_pg")}
}

const threadColumns = `id, client_id, provider_account_id, external_thread_id, lead_id,
	contact_name, contact_url, contact_avatar_url, last_message_at, last_message_preview,
	unread_count, created_at, updated_at`

// threadOptionalColumns were added after the initial rollout; the upsert
// tolerates their absence on not-yet-migrated databases.
var threadOptionalColumns = []string{"contact_avatar_url", "unread_count"}

func scanThread(row pgx.Row) (*domain.Thread, error) {
	var t domain.Thread
	err := row.Scan(
		&t.ID, &t.ClientID, &t.ProviderAccountID, &t.ExternalThreadID, &t.LeadID,
		&t.ContactName, &t.ContactURL, &t.ContactAvatarURL, &t.LastMessageAt, &t.LastMessagePreview,
		&t.UnreadCount, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *PgThreadRepository) Upsert(ctx context.Context, t *domain.Thread) error {
	build := func(omit map[string]bool) (string, []any) {
		cols := []string{"id", "client_id", "provider_account_id", "external_thread_id", "lead_id",
			"contact_name", "contact_url", "last_message_at", "last_message_preview",
			"created_at", "updated_at"}
		args := []any{t.ID, t.ClientID, t.ProviderAccountID, t.ExternalThreadID, t.LeadID,
			t.ContactName, t.ContactURL, t.LastMessageAt, t.LastMessagePreview,
			t.CreatedAt, t.UpdatedAt}
		if !omit["contact_avatar_url"] {
			cols = append(cols, "contact_avatar_url")
			args = append(args, t.ContactAvatarURL)
		}
		if !omit["unread_count"] {
			cols = append(cols, "unread_count")
			args = append(args, t.UnreadCount)
		}

		placeholders := make([]string, len(cols))
		for i := range cols {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}

		// Enrichment-only on conflict: stored non-null values win over
		// incoming nulls.
		set := []string{
			"lead_id = COALESCE(threads.lead_id, EXCLUDED.lead_id)",
			"contact_name = COALESCE(threads.contact_name, EXCLUDED.contact_name)",
			"contact_url = COALESCE(threads.contact_url, EXCLUDED.contact_url)",
			"last_message_at = COALESCE(EXCLUDED.last_message_at, threads.last_message_at)",
			"last_message_preview = COALESCE(EXCLUDED.last_message_preview, threads.last_message_preview)",
			"updated_at = NOW()",
		}
		if !omit["contact_avatar_url"] {
			set = append(set, "contact_avatar_url = COALESCE(threads.contact_avatar_url, EXCLUDED.contact_avatar_url)")
		}

		query := fmt.Sprintf(`
			INSERT INTO threads (%s) VALUES (%s)
			ON CONFLICT (client_id, provider_account_id, external_thread_id) DO UPDATE SET %s
			RETURNING id, created_at
		`, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(set, ", "))
		return query, args
	}

	err := queryRowWithOptionalColumns(ctx, r.db, threadOptionalColumns, build, func(row pgx.Row) error {
		return row.Scan(&t.ID, &t.CreatedAt)
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Error upserting thread", "error", err, "external_thread_id", t.ExternalThreadID)
		return fmt.Errorf("upserting thread %s: %w", t.ExternalThreadID, err)
	}
	return nil
}

func (r *PgThreadRepository) FindByExternalID(ctx context.Context, clientID uuid.UUID, providerAccountID, externalThreadID string) (*domain.Thread, error) {
	query := `
		SELECT ` + threadColumns + `
		FROM threads
		WHERE client_id = $1 AND provider_account_id = $2 AND external_thread_id = $3
	`
	t, err := scanThread(r.db.QueryRow(ctx, query, clientID, providerAccountID, externalThreadID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error finding thread by external ID", "error", err, "external_thread_id", externalThreadID)
		return nil, fmt.Errorf("finding thread %s: %w", externalThreadID, err)
	}
	return t, nil
}

func (r *PgThreadRepository) FindByLead(ctx context.Context, clientID uuid.UUID, providerAccountID string, leadID uuid.UUID) (*domain.Thread, error) {
	query := `
		SELECT ` + threadColumns + `
		FROM threads
		WHERE client_id = $1 AND provider_account_id = $2 AND lead_id = $3
		ORDER BY updated_at DESC
		LIMIT 1
	`
	t, err := scanThread(r.db.QueryRow(ctx, query, clientID, providerAccountID, leadID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error finding thread by lead", "error", err, "lead_id", leadID)
		return nil, fmt.Errorf("finding thread for lead %s: %w", leadID, err)
	}
	return t, nil
}

func (r *PgThreadRepository) ListRecent(ctx context.Context, clientID uuid.UUID, providerAccountID string, limit int) ([]*domain.Thread, error) {
	query := `
		SELECT ` + threadColumns + `
		FROM threads
		WHERE client_id = $1 AND provider_account_id = $2
		ORDER BY updated_at DESC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, clientID, providerAccountID, limit)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing recent threads", "error", err, "client_id", clientID)
		return nil, fmt.Errorf("listing recent threads for client %s: %w", clientID, err)
	}
	defer rows.Close()

	var threads []*domain.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning thread row: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

func (r *PgThreadRepository) RecordLastMessage(ctx context.Context, threadID uuid.UUID, at time.Time, preview string, inbound bool) error {
	unreadDelta := 0
	if inbound {
		unreadDelta = 1
	}
	err := execWithOptionalColumns(ctx, r.db, []string{"unread_count"}, func(omit map[string]bool) (string, []any) {
		set := "last_message_at = $2, last_message_preview = $3, updated_at = NOW()"
		args := []any{threadID, at, domain.TruncatePreview(preview)}
		if !omit["unread_count"] {
			set += ", unread_count = unread_count + $4"
			args = append(args, unreadDelta)
		}
		return "UPDATE threads SET " + set + " WHERE id = $1", args
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Error recording last message on thread", "error", err, "thread_id", threadID)
		return fmt.Errorf("recording last message on thread %s: %w", threadID, err)
	}
	return nil
}

func (r *PgThreadRepository) MarkRead(ctx context.Context, threadID uuid.UUID) error {
	err := execWithOptionalColumns(ctx, r.db, []string{"unread_count"}, func(omit map[string]bool) (string, []any) {
		if omit["unread_count"] {
			return "UPDATE threads SET updated_at = NOW() WHERE id = $1", []any{threadID}
		}
		return "UPDATE threads SET unread_count = 0, updated_at = NOW() WHERE id = $1", []any{threadID}
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking thread read", "error", err, "thread_id", threadID)
		return fmt.Errorf("marking thread %s read: %w", threadID, err)
	}
	return nil
}
