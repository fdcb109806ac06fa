package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
	"github.com/leadpilothq/outreach-engine/internal/outreach/identity"
	"github.com/leadpilothq/outreach-engine/internal/outreach/payload"
)

var (
	eventNamePaths = []payload.Path{
		payload.P("event"),
		payload.P("event_type"),
		payload.P("type"),
		payload.P("webhook_event"),
	}
	accountIDPaths = []payload.Path{
		payload.P("account_id"),
		payload.P("account", "id"),
		payload.P("data", "account_id"),
	}
	externalThreadPaths = []payload.Path{
		payload.P("chat_id"),
		payload.P("conversation_id"),
		payload.P("thread_id"),
		payload.P("chat", "id"),
		payload.P("message", "chat_id"),
	}
	externalMessagePaths = []payload.Path{
		payload.P("message_id"),
		payload.P("message", "id"),
		payload.P("data", "message_id"),
	}
	messageBodyPaths = []payload.Path{
		payload.P("message", "text"),
		payload.P("text"),
		payload.P("body"),
		payload.P("message_body"),
	}
	messageSentAtPaths = []payload.Path{
		payload.P("timestamp"),
		payload.P("message", "timestamp"),
		payload.P("sent_at"),
		payload.P("created_at"),
	}
	senderAttendeePaths = []payload.Path{
		payload.P("sender_attendee_id"),
		payload.P("sender", "attendee_id"),
		payload.P("attendee_id"),
		payload.P("message", "sender_attendee_id"),
	}
	outboundFlagPaths = []payload.Path{
		payload.P("is_sender"),
		payload.P("is_self"),
		payload.P("message", "is_sender"),
	}
)

// WebhookProcessor ingests provider webhook deliveries: persist the raw
// payload, classify, dispatch, notify. Processing failures are recorded and
// logged but never surfaced to the provider; the transport always acks.
type WebhookProcessor struct {
	rawEvents domain.RawEventRepository
	clients   domain.ClientRepository
	threads   domain.ThreadRepository
	resolver  *identity.Resolver
	attendees *AttendeeResolver
	threadMgr *ThreadManager
	persister *MessagePersister
	tracker   *InvitationTracker
	notifier  Notifier
	logger    *slog.Logger
}

func NewWebhookProcessor(
	rawEvents domain.RawEventRepository,
	clients domain.ClientRepository,
	threads domain.ThreadRepository,
	resolver *identity.Resolver,
	attendees *AttendeeResolver,
	threadMgr *ThreadManager,
	persister *MessagePersister,
	tracker *InvitationTracker,
	notifier Notifier,
	logger *slog.Logger,
) *WebhookProcessor {
	return &WebhookProcessor{
		rawEvents: rawEvents,
		clients:   clients,
		threads:   threads,
		resolver:  resolver,
		attendees: attendees,
		threadMgr: threadMgr,
		persister: persister,
		tracker:   tracker,
		notifier:  notifier,
		logger:    logger.With("component", "webhook_processor"),
	}
}

// Process handles one webhook delivery end to end. The returned kind is for
// the transport's response body; the error is informational only and must
// not change the HTTP status.
func (p *WebhookProcessor) Process(ctx context.Context, source string, body json.RawMessage) (domain.EventKind, error) {
	var v any
	decodeErr := json.Unmarshal(body, &v)

	eventName, _ := payload.FirstString(v, eventNamePaths...)
	kind := domain.ClassifyEventKind(eventName)

	// The raw_events payload column is JSONB. A body that is not valid JSON
	// (truncated delivery, proxy error page) is stored as a JSON string so
	// the verbatim bytes still land in the log instead of failing the
	// insert and bouncing the delivery into an unwinnable retry loop.
	stored := body
	if decodeErr != nil {
		stored, _ = json.Marshal(string(body))
	}

	raw := &domain.RawEvent{
		ID:         uuid.New(),
		Source:     source,
		EventType:  nullString(eventName),
		Payload:    stored,
		ReceivedAt: time.Now().UTC(),
	}
	if err := p.rawEvents.Insert(ctx, raw); err != nil {
		// Without the raw log there is nothing to replay from; this is the
		// one failure worth reporting loudly.
		webhookEventsProcessed.WithLabelValues(string(kind), "log_failed").Inc()
		return kind, err
	}

	if decodeErr != nil {
		p.finish(ctx, raw.ID, kind, fmt.Errorf("malformed payload: %w", decodeErr))
		return kind, nil
	}

	err := p.dispatch(ctx, kind, v, body)
	p.finish(ctx, raw.ID, kind, err)
	return kind, nil
}

func (p *WebhookProcessor) finish(ctx context.Context, rawID uuid.UUID, kind domain.EventKind, procErr error) {
	status := "ok"
	var procNull sql.NullString
	if procErr != nil {
		status = "failed"
		procNull = nullString(procErr.Error())
		p.logger.ErrorContext(ctx, "webhook event processing failed",
			"error", procErr, "kind", kind, "raw_event_id", rawID)
	}
	webhookEventsProcessed.WithLabelValues(string(kind), status).Inc()
	if err := p.rawEvents.MarkProcessed(ctx, rawID, procNull); err != nil {
		p.logger.ErrorContext(ctx, "failed stamping raw event", "error", err, "raw_event_id", rawID)
	}

	if procErr == nil && p.notifier != nil {
		data, _ := json.Marshal(map[string]string{"kind": string(kind), "raw_event_id": rawID.String()})
		if err := p.notifier.Publish(ctx, "outreach.events."+string(kind), data); err != nil {
			p.logger.WarnContext(ctx, "failed publishing notification event", "error", err, "kind", kind)
		}
	}
}

func (p *WebhookProcessor) dispatch(ctx context.Context, kind domain.EventKind, v any, body json.RawMessage) error {
	client, err := p.clientForPayload(ctx, v)
	if err != nil {
		return err
	}

	switch kind {
	case domain.EventNewMessage:
		return p.handleNewMessage(ctx, client, v, body)
	case domain.EventInvitationAccepted:
		return p.tracker.RecordAccepted(ctx, client, v, body)
	case domain.EventInvitationSent:
		return p.tracker.RecordSent(ctx, client, v, body)
	case domain.EventMessageRead:
		return p.handleMessageRead(ctx, client, v)
	case domain.EventMessageReaction, domain.EventMessageEdit, domain.EventMessageDelete:
		// Acknowledged but not mirrored locally.
		p.logger.DebugContext(ctx, "ignoring non-mirrored event", "kind", kind, "client_id", client.ID)
		return nil
	default:
		p.logger.InfoContext(ctx, "unclassified webhook event", "client_id", client.ID)
		return nil
	}
}

func (p *WebhookProcessor) clientForPayload(ctx context.Context, v any) (*domain.Client, error) {
	accountID, ok := payload.FirstString(v, accountIDPaths...)
	if !ok {
		return nil, errors.New("payload carries no account id")
	}
	client, err := p.clients.GetByProviderAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("no client for account %s: %w", accountID, err)
	}
	return client, nil
}

func (p *WebhookProcessor) handleNewMessage(ctx context.Context, client *domain.Client, v any, body json.RawMessage) error {
	externalThreadID, ok := payload.FirstString(v, externalThreadPaths...)
	if !ok {
		return errors.New("message event carries no thread id")
	}
	externalMessageID, ok := payload.FirstString(v, externalMessagePaths...)
	if !ok {
		return errors.New("message event carries no message id")
	}
	text, _ := payload.FirstString(v, messageBodyPaths...)
	sentAt, ok := payload.FirstTime(v, messageSentAtPaths...)
	if !ok {
		sentAt = time.Now().UTC()
	}

	outbound, _ := payload.FirstBool(v, outboundFlagPaths...)
	direction := domain.DirectionInbound
	if outbound {
		direction = domain.DirectionOutbound
	}

	// Counterpart identity from the payload itself, enriched by attendee
	// resolution for inbound messages.
	counterpart := identity.CounterpartFromPayload(v)
	contact := ContactInfo{URL: counterpart.ProfileURL}
	var senderName, senderURL, senderAvatar string

	if direction == domain.DirectionInbound {
		attendeeID, _ := payload.FirstString(v, senderAttendeePaths...)
		pass := p.attendees.NewPass()
		att, err := pass.Resolve(ctx, client.ID, client.ProviderAccountID, attendeeID, externalThreadID)
		if err != nil {
			p.logger.WarnContext(ctx, "attendee resolution failed, persisting without sender identity",
				"error", err, "attendee_id", attendeeID)
		} else if att != nil {
			senderName, senderURL, senderAvatar = att.Name, att.ProfileURL, att.AvatarURL
			if contact.URL == "" {
				contact.URL = att.ProfileURL
			}
			contact.Name = att.Name
			contact.AvatarURL = att.AvatarURL
		}
	}

	match, err := p.resolver.MatchLead(ctx, client.ID,
		identity.NormalizeProfileURL(firstNonEmpty(counterpart.ProfileURL, contact.URL)),
		identity.ExtractSlug(firstNonEmpty(counterpart.PublicIdentifier, counterpart.ProfileURL, contact.URL)))
	if err != nil {
		return err
	}
	var leadID uuid.NullUUID
	if match.Strategy != domain.StrategyNone {
		leadID = uuid.NullUUID{UUID: match.LeadID, Valid: true}
	}

	thread, err := p.threadMgr.EnsureThread(ctx, client.ID, client.ProviderAccountID, externalThreadID, leadID, contact)
	if err != nil {
		return err
	}

	name, url, avatar := nullableSender(senderName, senderURL, senderAvatar)
	msg := &domain.Message{
		ID:                uuid.New(),
		ClientID:          client.ID,
		ProviderAccountID: client.ProviderAccountID,
		ThreadID:          thread.ID,
		ExternalMessageID: externalMessageID,
		Direction:         direction,
		SenderName:        name,
		SenderURL:         url,
		SenderAvatarURL:   avatar,
		Body:              text,
		SentAt:            sentAt,
		Raw:               body,
		CreatedAt:         time.Now().UTC(),
	}
	inserted, err := p.persister.Persist(ctx, msg)
	if err != nil {
		return err
	}
	if !inserted {
		p.logger.DebugContext(ctx, "duplicate message delivery",
			"external_message_id", externalMessageID, "client_id", client.ID)
	}
	return nil
}

func (p *WebhookProcessor) handleMessageRead(ctx context.Context, client *domain.Client, v any) error {
	externalThreadID, ok := payload.FirstString(v, externalThreadPaths...)
	if !ok {
		return nil
	}
	thread, err := p.threads.FindByExternalID(ctx, client.ID, client.ProviderAccountID, externalThreadID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return p.threads.MarkRead(ctx, thread.ID)
}
