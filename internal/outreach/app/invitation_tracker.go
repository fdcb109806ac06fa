package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
	"github.com/leadpilothq/outreach-engine/internal/outreach/identity"
)

// InvitationTracker reconciles invitation lifecycle events from the
// provider against local invitation rows.
type InvitationTracker struct {
	invitations domain.InvitationRepository
	leads       domain.LeadRepository
	resolver    *identity.Resolver
	logger      *slog.Logger
}

func NewInvitationTracker(invitations domain.InvitationRepository, leads domain.LeadRepository, resolver *identity.Resolver, logger *slog.Logger) *InvitationTracker {
	return &InvitationTracker{
		invitations: invitations,
		leads:       leads,
		resolver:    resolver,
		logger:      logger.With("component", "invitation_tracker"),
	}
}

// RecordSent reconciles an invitation-sent event. Invites sent outside the
// product have no matching lead and are skipped.
func (t *InvitationTracker) RecordSent(ctx context.Context, client *domain.Client, v any, raw json.RawMessage) error {
	counterpart := identity.CounterpartFromPayload(v)
	match, err := t.resolver.MatchLead(ctx, client.ID,
		identity.NormalizeProfileURL(counterpart.ProfileURL),
		identity.ExtractSlug(firstNonEmpty(counterpart.PublicIdentifier, counterpart.ProfileURL)))
	if err != nil {
		return err
	}
	if match.Strategy == domain.StrategyNone {
		t.logger.InfoContext(ctx, "invitation sent event matched no lead, skipping",
			"client_id", client.ID, "profile_url", counterpart.ProfileURL)
		return nil
	}

	inv := domain.NewInvitation(client.ID, match.LeadID, client.ProviderAccountID, domain.InvitationSent)
	inv.MatchStrategy = sql.NullString{String: string(match.Strategy), Valid: true}
	inv.AttachRawLeg("invitation", raw)
	if err := inv.LearnProviderID(counterpart.ProviderID); err != nil {
		t.logger.WarnContext(ctx, "provider id conflict on invitation sent",
			"client_id", client.ID, "lead_id", match.LeadID)
	}
	if err := t.invitations.Upsert(ctx, inv); err != nil {
		return err
	}
	t.cacheLeadIdentity(ctx, client.ID, match.LeadID, counterpart)
	return nil
}

// RecordAccepted reconciles an acceptance event. Resolution order: identity
// match against the client's leads, then — when the payload carries no
// usable identity — the most recently sent invitation is assumed accepted
// and flagged uncertain. An already-accepted invitation is a no-op so
// redelivered webhooks stay idempotent.
func (t *InvitationTracker) RecordAccepted(ctx context.Context, client *domain.Client, v any, raw json.RawMessage) error {
	counterpart := identity.CounterpartFromPayload(v)
	match, err := t.resolver.MatchLead(ctx, client.ID,
		identity.NormalizeProfileURL(counterpart.ProfileURL),
		identity.ExtractSlug(firstNonEmpty(counterpart.PublicIdentifier, counterpart.ProfileURL)))
	if err != nil {
		return err
	}

	if match.Strategy == domain.StrategyNone {
		return t.acceptLastSent(ctx, client, counterpart, raw)
	}

	inv, err := t.invitations.FindByLead(ctx, client.ID, match.LeadID, client.ProviderAccountID)
	if errors.Is(err, domain.ErrNotFound) {
		// Acceptance for an invite we never recorded (sent before tracking
		// existed, or directly on the platform). Record it anyway.
		inv = domain.NewInvitation(client.ID, match.LeadID, client.ProviderAccountID, domain.InvitationSent)
	} else if err != nil {
		return err
	}

	if inv.Status == domain.InvitationAccepted {
		t.logger.DebugContext(ctx, "invitation already accepted, ignoring redelivery",
			"client_id", client.ID, "lead_id", match.LeadID)
		return nil
	}

	t.markAccepted(ctx, inv, match.Strategy, false, counterpart, raw)
	if err := t.invitations.Upsert(ctx, inv); err != nil {
		return err
	}
	t.cacheLeadIdentity(ctx, client.ID, match.LeadID, counterpart)
	return nil
}

// acceptLastSent is the last-resort heuristic: with no identity in the
// payload, the newest still-sent invitation is the most plausible subject.
// The row is flagged uncertain so downstream consumers can discount it.
func (t *InvitationTracker) acceptLastSent(ctx context.Context, client *domain.Client, counterpart domain.CounterpartIdentity, raw json.RawMessage) error {
	inv, err := t.invitations.LastSent(ctx, client.ID, client.ProviderAccountID)
	if errors.Is(err, domain.ErrNotFound) {
		t.logger.InfoContext(ctx, "acceptance event with no identity and no sent invitation, dropping",
			"client_id", client.ID)
		return nil
	}
	if err != nil {
		return err
	}

	t.markAccepted(ctx, inv, domain.StrategyFallbackLastSent, true, counterpart, raw)
	return t.invitations.Update(ctx, inv)
}

func (t *InvitationTracker) markAccepted(ctx context.Context, inv *domain.Invitation, strategy domain.MatchStrategy, uncertain bool, counterpart domain.CounterpartIdentity, raw json.RawMessage) {
	inv.Status = domain.InvitationAccepted
	inv.AcceptedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	inv.Uncertain = uncertain
	inv.MatchStrategy = sql.NullString{String: string(strategy), Valid: true}
	inv.AttachRawLeg("acceptance", raw)
	if err := inv.LearnProviderID(counterpart.ProviderID); err != nil {
		t.logger.WarnContext(ctx, "provider id conflict on acceptance",
			"invitation_id", inv.ID, "lead_id", inv.LeadID)
	}
}

func (t *InvitationTracker) cacheLeadIdentity(ctx context.Context, clientID, leadID uuid.UUID, counterpart domain.CounterpartIdentity) {
	if counterpart.ProviderID == "" && counterpart.PublicIdentifier == "" {
		return
	}
	err := t.leads.CacheProviderIdentity(ctx, clientID, leadID,
		nullString(counterpart.ProviderID), nullString(counterpart.PublicIdentifier))
	if err != nil {
		t.logger.WarnContext(ctx, "failed caching lead identity from invitation event",
			"error", err, "lead_id", leadID)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
