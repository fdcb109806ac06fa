package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilothq/outreach-engine/internal/outreach/adapters/msgprovider"
	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
	"github.com/leadpilothq/outreach-engine/internal/outreach/payload"
)

// attendeeIDPaths are the keys under which stored raw message payloads carry
// the sender's attendee id.
var attendeeIDPaths = []payload.Path{
	payload.P("sender_attendee_id"),
	payload.P("attendee_id"),
	payload.P("sender", "attendee_id"),
	payload.P("from", "attendee_id"),
	payload.P("sender", "id"),
}

// AttendeeResolver turns opaque attendee ids into display identities. It
// scans recently persisted messages before touching the provider, since the
// same few senders account for most traffic within a conversation window.
type AttendeeResolver struct {
	messages domain.MessageRepository
	provider ProviderGateway
	window   time.Duration
	maxRows  int
	logger   *slog.Logger
}

func NewAttendeeResolver(messages domain.MessageRepository, provider ProviderGateway, window time.Duration, maxRows int, logger *slog.Logger) *AttendeeResolver {
	return &AttendeeResolver{
		messages: messages,
		provider: provider,
		window:   window,
		maxRows:  maxRows,
		logger:   logger.With("component", "attendee_resolver"),
	}
}

// AttendeePass memoizes resolutions for the duration of one processing pass
// (one webhook delivery, one sync batch). Negative results are memoized too:
// the provider fallback chain runs at most once per attendee per pass.
type AttendeePass struct {
	r    *AttendeeResolver
	memo map[string]*msgprovider.Attendee
}

// NewPass starts a fresh memoization scope. Passes are not safe for
// concurrent use; create one per delivery.
func (r *AttendeeResolver) NewPass() *AttendeePass {
	return &AttendeePass{r: r, memo: map[string]*msgprovider.Attendee{}}
}

// Resolve maps an attendee id to an identity. A nil result means "unknown
// sender" and is not an error; messages from unknown senders still persist.
func (p *AttendeePass) Resolve(ctx context.Context, clientID uuid.UUID, accountID, attendeeID, conversationID string) (*msgprovider.Attendee, error) {
	if attendeeID == "" {
		return nil, nil
	}
	if att, seen := p.memo[attendeeID]; seen {
		attendeeResolutions.WithLabelValues("memo").Inc()
		return att, nil
	}

	if att := p.r.fromCache(ctx, clientID, accountID, attendeeID); att != nil {
		attendeeResolutions.WithLabelValues("cache").Inc()
		p.memo[attendeeID] = att
		return att, nil
	}

	att, err := p.r.fromProvider(ctx, accountID, attendeeID, conversationID)
	if err != nil {
		return nil, err
	}
	if att != nil {
		attendeeResolutions.WithLabelValues("provider").Inc()
	} else {
		attendeeResolutions.WithLabelValues("unresolved").Inc()
	}
	p.memo[attendeeID] = att
	return att, nil
}

// fromCache scans the account's recent messages for one whose raw payload
// names this attendee and whose sender fields were already resolved. Scan
// failures degrade to a cache miss.
func (r *AttendeeResolver) fromCache(ctx context.Context, clientID uuid.UUID, accountID, attendeeID string) *msgprovider.Attendee {
	since := time.Now().Add(-r.window)
	msgs, err := r.messages.ListRecentWithRaw(ctx, clientID, accountID, since, r.maxRows)
	if err != nil {
		r.logger.WarnContext(ctx, "attendee cache scan failed, falling back to provider", "error", err, "attendee_id", attendeeID)
		return nil
	}

	for _, m := range msgs {
		if len(m.Raw) == 0 || !m.SenderName.Valid {
			continue
		}
		var v any
		if err := json.Unmarshal(m.Raw, &v); err != nil {
			continue
		}
		id, ok := payload.FirstString(v, attendeeIDPaths...)
		if !ok || id != attendeeID {
			continue
		}
		return &msgprovider.Attendee{
			Name:       m.SenderName.String,
			ProfileURL: m.SenderURL.String,
			AvatarURL:  m.SenderAvatarURL.String,
		}
	}
	return nil
}

// fromProvider runs the remote fallback chain: attendee endpoint, then user
// lookup by the same id, then the conversation participant list preferring
// the non-self attendee.
func (r *AttendeeResolver) fromProvider(ctx context.Context, accountID, attendeeID, conversationID string) (*msgprovider.Attendee, error) {
	if att, err := r.provider.GetAttendee(ctx, accountID, attendeeID); err != nil {
		return nil, err
	} else if att != nil {
		return att, nil
	}

	if att, err := r.provider.GetUserProfile(ctx, accountID, attendeeID); err == nil && att != nil {
		return att, nil
	}

	if conversationID == "" {
		return nil, nil
	}
	attendees, err := r.provider.ListAttendees(ctx, accountID, conversationID)
	if err != nil {
		return nil, err
	}
	for i := range attendees {
		if attendees[i].ProviderID == attendeeID {
			return &attendees[i], nil
		}
	}
	for i := range attendees {
		if !attendees[i].IsSelf {
			return &attendees[i], nil
		}
	}
	return nil, nil
}
