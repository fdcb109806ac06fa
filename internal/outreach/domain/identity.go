package domain

// MatchStrategy records how an identity or state resolution was made, so
// downstream consumers can tell high-confidence matches from heuristics.
type MatchStrategy string

const (
	// StrategyURLExact is a normalized-URL equality match. High confidence.
	StrategyURLExact MatchStrategy = "url_exact"
	// StrategySlugMatch is a profile-slug equality match. Medium confidence:
	// two providers can coincidentally share a slug fragment.
	StrategySlugMatch MatchStrategy = "slug_match"
	// StrategyNone means no match was found. Callers must not guess.
	StrategyNone MatchStrategy = "none"
	// StrategyFallbackLastSent marks an acceptance attributed to the most
	// recently sent invitation because the webhook carried no usable
	// identity. Always paired with uncertain=true.
	StrategyFallbackLastSent MatchStrategy = "fallback_last_sent"
)

// CounterpartIdentity is whatever identity a provider payload exposed for
// the person on the other side of an event. Any subset of fields may be set.
type CounterpartIdentity struct {
	ProfileURL       string
	PublicIdentifier string
	ProviderID       string
}

// Empty reports whether the payload exposed no identity at all.
func (c CounterpartIdentity) Empty() bool {
	return c.ProfileURL == "" && c.PublicIdentifier == "" && c.ProviderID == ""
}
