package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
)

// MessagePersister writes messages idempotently and keeps thread
// denormalization in step.
type MessagePersister struct {
	messages domain.MessageRepository
	threads  domain.ThreadRepository
	logger   *slog.Logger
}

func NewMessagePersister(messages domain.MessageRepository, threads domain.ThreadRepository, logger *slog.Logger) *MessagePersister {
	return &MessagePersister{
		messages: messages,
		threads:  threads,
		logger:   logger.With("component", "message_persister"),
	}
}

// Persist inserts the message unless its external id was seen before. On the
// fresh path the owning thread's last-message fields are updated; on the
// duplicate path only null sender fields are enriched, so redelivery can
// never regress resolved data. Returns whether a new row was written.
func (p *MessagePersister) Persist(ctx context.Context, m *domain.Message) (bool, error) {
	inserted, err := p.messages.InsertIfAbsent(ctx, m)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrMessagePersistFailed, err)
	}

	if inserted {
		inbound := m.Direction == domain.DirectionInbound
		if err := p.threads.RecordLastMessage(ctx, m.ThreadID, m.SentAt, m.Body, inbound); err != nil {
			// The message row is the source of truth; a stale preview is
			// tolerable and self-heals on the next message.
			p.logger.WarnContext(ctx, "failed updating thread last-message fields",
				"error", err, "thread_id", m.ThreadID, "message_id", m.ID)
		}
		return true, nil
	}

	if !m.SenderName.Valid && !m.SenderURL.Valid && !m.SenderAvatarURL.Valid {
		return false, nil
	}
	existing, err := p.messages.GetByExternalID(ctx, m.ClientID, m.ProviderAccountID, m.ExternalMessageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", domain.ErrMessagePersistFailed, err)
	}
	if err := p.messages.PatchSenderFields(ctx, existing.ID, m.SenderName, m.SenderURL, m.SenderAvatarURL); err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrMessagePersistFailed, err)
	}
	p.logger.DebugContext(ctx, "enriched duplicate message sender fields",
		"message_id", existing.ID, "external_message_id", m.ExternalMessageID)
	return false, nil
}

// nullableSender builds the sql.NullString trio from optional sender fields.
func nullableSender(name, url, avatarURL string) (sql.NullString, sql.NullString, sql.NullString) {
	return nullString(name), nullString(url), nullString(avatarURL)
}
