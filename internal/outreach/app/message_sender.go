package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilothq/outreach-engine/internal/outreach/adapters/msgprovider"
	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
	"github.com/leadpilothq/outreach-engine/internal/outreach/identity"
)

// inflightGuard serializes sends per (client, lead) within this process.
// Cross-process duplicates are caught by the message unique constraint.
type inflightGuard struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInflightGuard() *inflightGuard {
	return &inflightGuard{keys: map[string]struct{}{}}
}

func (g *inflightGuard) tryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.keys[key]; busy {
		return false
	}
	g.keys[key] = struct{}{}
	return true
}

func (g *inflightGuard) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, key)
}

// MessageSender drives the outbound send pipeline: resolve the thread, send
// through the provider with its fallback chains, persist the result.
type MessageSender struct {
	clients   domain.ClientRepository
	leads     domain.LeadRepository
	threadMgr *ThreadManager
	persister *MessagePersister
	provider  ProviderGateway
	inflight  *inflightGuard
	logger    *slog.Logger
}

func NewMessageSender(clients domain.ClientRepository, leads domain.LeadRepository, threadMgr *ThreadManager, persister *MessagePersister, provider ProviderGateway, logger *slog.Logger) *MessageSender {
	return &MessageSender{
		clients:   clients,
		leads:     leads,
		threadMgr: threadMgr,
		persister: persister,
		provider:  provider,
		inflight:  newInflightGuard(),
		logger:    logger.With("component", "message_sender"),
	}
}

// SendToLead sends text to a lead, creating the conversation when none
// exists yet. A concurrent send to the same lead returns
// domain.ErrSendInProgress.
func (s *MessageSender) SendToLead(ctx context.Context, clientID, leadID uuid.UUID, text string) (*domain.Message, error) {
	guardKey := clientID.String() + "|" + leadID.String()
	if !s.inflight.tryAcquire(guardKey) {
		return nil, domain.ErrSendInProgress
	}
	defer s.inflight.release(guardKey)

	client, err := s.clients.GetByID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	lead, err := s.leads.GetByID(ctx, clientID, leadID)
	if err != nil {
		return nil, err
	}
	accountID := client.ProviderAccountID
	if accountID == "" {
		return nil, fmt.Errorf("client %s has no linked provider account: %w", clientID, domain.ErrProviderIDMissing)
	}

	var sent *msgprovider.SentMessage
	var externalThreadID string

	thread, err := s.threadMgr.FindForLead(ctx, clientID, accountID, lead)
	switch {
	case err == nil:
		externalThreadID = thread.ExternalThreadID
		sent, err = s.provider.SendMessage(ctx, accountID, externalThreadID, text)
		if err != nil {
			messagesSent.WithLabelValues("failed").Inc()
			return nil, err
		}
	case errors.Is(err, domain.ErrNotFound):
		sent, externalThreadID, err = s.sendWithoutThread(ctx, accountID, lead, text)
		if err != nil {
			messagesSent.WithLabelValues("failed").Inc()
			return nil, err
		}
	default:
		return nil, err
	}

	stored, err := s.threadMgr.EnsureThread(ctx, clientID, accountID, externalThreadID,
		uuid.NullUUID{UUID: lead.ID, Valid: true},
		ContactInfo{Name: lead.FullName, URL: lead.ProfileURL.String})
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:                uuid.New(),
		ClientID:          clientID,
		ProviderAccountID: accountID,
		ThreadID:          stored.ID,
		ExternalMessageID: sent.ExternalMessageID,
		Direction:         domain.DirectionOutbound,
		SenderURL:         nullString(sent.SenderURL),
		Body:              text,
		SentAt:            sent.SentAt,
		CreatedAt:         time.Now().UTC(),
	}
	if _, err := s.persister.Persist(ctx, msg); err != nil {
		return nil, err
	}

	if err := s.leads.MarkMessageSent(ctx, clientID, lead.ID, sql.NullTime{}); err != nil {
		s.logger.WarnContext(ctx, "failed marking lead message_sent", "error", err, "lead_id", lead.ID)
	}
	messagesSent.WithLabelValues("sent").Inc()
	if len(sent.PriorFailures) > 0 {
		s.logger.InfoContext(ctx, "send succeeded after fallback",
			"lead_id", lead.ID, "prior_failures", len(sent.PriorFailures))
	}
	return msg, nil
}

// sendWithoutThread handles the no-local-thread path: create the
// conversation remotely and send into it, falling back to a direct send when
// conversation creation is rejected outright.
func (s *MessageSender) sendWithoutThread(ctx context.Context, accountID string, lead *domain.Lead, text string) (*msgprovider.SentMessage, string, error) {
	providerID, err := s.resolveProviderID(ctx, accountID, lead)
	if err != nil {
		return nil, "", err
	}

	externalThreadID, createErr := s.provider.CreateConversation(ctx, accountID, providerID)
	if createErr == nil {
		sent, err := s.provider.SendMessage(ctx, accountID, externalThreadID, text)
		if err != nil {
			return nil, "", err
		}
		return sent, externalThreadID, nil
	}

	s.logger.WarnContext(ctx, "conversation create failed, trying direct send",
		"error", createErr, "lead_id", lead.ID)
	sent, err := s.provider.SendDirect(ctx, accountID, providerID, text)
	if err != nil {
		// The creation failure is the more diagnostic of the two.
		return nil, "", errors.Join(createErr, err)
	}
	externalThreadID = sent.ExternalThreadID
	if externalThreadID == "" {
		// The provider revealed no conversation id. A deterministic
		// per-counterpart key keeps repeated direct sends in one local
		// thread until a webhook supplies the real id.
		externalThreadID = "direct:" + providerID
	}
	return sent, externalThreadID, nil
}

// resolveProviderID returns the lead's platform identity, looking it up by
// profile slug and caching it on first use.
func (s *MessageSender) resolveProviderID(ctx context.Context, accountID string, lead *domain.Lead) (string, error) {
	if lead.ProviderID.Valid && lead.ProviderID.String != "" {
		return lead.ProviderID.String, nil
	}

	slug := identity.ExtractSlug(lead.ProfileURL.String)
	if slug == "" {
		return "", fmt.Errorf("lead %s has no profile slug: %w", lead.ID, domain.ErrProviderIDMissing)
	}
	att, err := s.provider.GetUserProfile(ctx, accountID, slug)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrProviderIDMissing, err)
	}

	if cacheErr := s.leads.CacheProviderIdentity(ctx, lead.ClientID, lead.ID,
		nullString(att.ProviderID), nullString(slug)); cacheErr != nil {
		s.logger.WarnContext(ctx, "failed caching lead provider identity", "error", cacheErr, "lead_id", lead.ID)
	}
	return att.ProviderID, nil
}
