package identity

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
	"github.com/leadpilothq/outreach-engine/internal/outreach/payload"
)

// Resolver matches counterpart identities against a client's lead set.
type Resolver struct {
	leadRepo domain.LeadRepository
	logger   *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(leadRepo domain.LeadRepository, logger *slog.Logger) *Resolver {
	return &Resolver{
		leadRepo: leadRepo,
		logger:   logger.With("component", "identity_resolver"),
	}
}

// Match is the result of a lead-identity resolution.
type Match struct {
	LeadID   uuid.UUID
	Strategy domain.MatchStrategy
}

// MatchLead resolves a counterpart to one of the client's leads. Exact
// normalized-URL equality is tried first (high confidence), then slug
// equality (medium confidence — callers should treat slug matches as worth
// flagging). When neither matches, Strategy is none and LeadID is the zero
// uuid; the caller decides whether a last-resort heuristic applies.
func (r *Resolver) MatchLead(ctx context.Context, clientID uuid.UUID, normalizedURL, slug string) (Match, error) {
	none := Match{Strategy: domain.StrategyNone}
	if normalizedURL == "" && slug == "" {
		return none, nil
	}

	leads, err := r.leadRepo.ListWithProfileURL(ctx, clientID)
	if err != nil {
		return none, err
	}

	if normalizedURL != "" {
		for _, lead := range leads {
			if NormalizeProfileURL(lead.ProfileURL.String) == normalizedURL {
				return Match{LeadID: lead.ID, Strategy: domain.StrategyURLExact}, nil
			}
		}
	}

	if slug != "" {
		for _, lead := range leads {
			candidate := ExtractSlug(lead.ProfileURL.String)
			if candidate == "" && lead.PublicIdentifier.Valid {
				candidate = ExtractSlug(lead.PublicIdentifier.String)
			}
			if candidate != "" && candidate == slug {
				return Match{LeadID: lead.ID, Strategy: domain.StrategySlugMatch}, nil
			}
		}
	}

	r.logger.DebugContext(ctx, "no lead matched counterpart identity",
		"client_id", clientID, "normalized_url", normalizedURL, "slug", slug)
	return none, nil
}

// CounterpartFromPayload extracts whatever counterpart identity a provider
// payload exposes. Field names vary per event shape; every alias the
// provider has been seen to use is listed here, most common first.
func CounterpartFromPayload(v any) domain.CounterpartIdentity {
	profileURL, _ := payload.FirstString(v,
		payload.P("user_profile_url"),
		payload.P("user_public_profile_url"),
		payload.P("profile_url"),
		payload.P("user", "profile_url"),
		payload.P("sender", "profile_url"),
		payload.P("attendee", "profile_url"),
		payload.P("connection", "profile_url"),
	)
	publicIdentifier, _ := payload.FirstString(v,
		payload.P("user_public_identifier"),
		payload.P("public_identifier"),
		payload.P("user", "public_identifier"),
		payload.P("sender", "public_identifier"),
		payload.P("attendee", "public_identifier"),
	)
	providerID, _ := payload.FirstString(v,
		payload.P("user_provider_id"),
		payload.P("provider_id"),
		payload.P("user", "provider_id"),
		payload.P("sender", "provider_id"),
		payload.P("attendee", "provider_id"),
		payload.P("attendee_provider_id"),
		payload.P("user_id"),
	)

	return domain.CounterpartIdentity{
		ProfileURL:       profileURL,
		PublicIdentifier: publicIdentifier,
		ProviderID:       providerID,
	}
}
