package msgprovider

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/leadpilothq/outreach-engine/internal/outreach/payload"
)

// SentMessage is the parsed outcome of a successful send.
type SentMessage struct {
	ExternalMessageID string
	SentAt            time.Time
	SenderURL         string
	// ExternalThreadID is set when the response reveals which conversation
	// the message landed in. Only populated on implicit-creation sends.
	ExternalThreadID string
	// PriorFailures lists the attempts rejected before the winning one.
	// Diagnostics only; the send succeeded.
	PriorFailures []AttemptFailure
}

// Attendee is a resolved conversation participant.
type Attendee struct {
	ProviderID string
	Name       string
	ProfileURL string
	AvatarURL  string
	IsSelf     bool
}

var (
	messageIDPaths = []payload.Path{
		payload.P("id"),
		payload.P("message_id"),
		payload.P("data", "id"),
		payload.P("data", "message_id"),
		payload.P("message", "id"),
	}
	sentAtPaths = []payload.Path{
		payload.P("timestamp"),
		payload.P("sent_at"),
		payload.P("created_at"),
		payload.P("data", "timestamp"),
		payload.P("data", "created_at"),
	}
	senderURLPaths = []payload.Path{
		payload.P("sender_url"),
		payload.P("sender", "profile_url"),
		payload.P("data", "sender_url"),
	}
	threadIDPaths = []payload.Path{
		payload.P("id"),
		payload.P("chat_id"),
		payload.P("conversation_id"),
		payload.P("data", "id"),
		payload.P("data", "chat_id"),
	}
	// implicitThreadIDPaths deliberately excludes bare "id": in a send
	// response that key is the message id, not the conversation id.
	implicitThreadIDPaths = []payload.Path{
		payload.P("chat_id"),
		payload.P("conversation_id"),
		payload.P("thread_id"),
		payload.P("data", "chat_id"),
		payload.P("data", "conversation_id"),
	}
)

// SendMessage sends text into an existing thread, trying each known request
// shape until one yields a parseable message id.
func (c *Client) SendMessage(ctx context.Context, accountID, threadID, text string) (*SentMessage, error) {
	attempts := []attempt{
		{
			name:   "thread_messages",
			method: http.MethodPost,
			path:   "/chats/" + url.PathEscape(threadID) + "/messages",
			body:   map[string]any{"account_id": accountID, "text": text},
		},
		{
			name:   "conversation_messages",
			method: http.MethodPost,
			path:   "/conversations/" + url.PathEscape(threadID) + "/messages",
			body:   map[string]any{"account_id": accountID, "body": text},
		},
		{
			name:   "flat_messages",
			method: http.MethodPost,
			path:   "/messages",
			body:   map[string]any{"account_id": accountID, "chat_id": threadID, "text": text},
		},
	}

	var sent SentMessage
	decoded, failures := c.doAttempts(ctx, "send_message", attempts, func(v any) bool {
		id, ok := payload.FirstString(v, messageIDPaths...)
		if !ok {
			return false
		}
		sent.ExternalMessageID = id
		return true
	})
	if decoded == nil {
		return nil, c.requestError("send_message", ErrSendFailed, failures)
	}

	if ts, ok := payload.FirstTime(decoded, sentAtPaths...); ok {
		sent.SentAt = ts
	} else {
		sent.SentAt = time.Now().UTC()
	}
	if senderURL, ok := payload.FirstString(decoded, senderURLPaths...); ok {
		sent.SenderURL = senderURL
	}
	sent.PriorFailures = failures
	return &sent, nil
}

// CreateConversation opens a new conversation with the given provider
// identity and returns the external thread id.
func (c *Client) CreateConversation(ctx context.Context, accountID, providerID string) (string, error) {
	attempts := []attempt{
		{
			name:   "chats",
			method: http.MethodPost,
			path:   "/chats",
			body:   map[string]any{"account_id": accountID, "attendees_ids": []string{providerID}},
		},
		{
			name:   "conversations",
			method: http.MethodPost,
			path:   "/conversations",
			body:   map[string]any{"account_id": accountID, "participant_provider_id": providerID},
		},
		{
			name:   "conversations_start",
			method: http.MethodPost,
			path:   "/conversations/start",
			body:   map[string]any{"account_id": accountID, "provider_id": providerID},
		},
	}

	var threadID string
	decoded, failures := c.doAttempts(ctx, "create_conversation", attempts, func(v any) bool {
		id, ok := payload.FirstString(v, threadIDPaths...)
		if !ok {
			return false
		}
		threadID = id
		return true
	})
	if decoded == nil {
		return "", c.requestError("create_conversation", ErrConversationCreateFailed, failures)
	}
	return threadID, nil
}

// SendDirect sends a message addressed by provider id with no prior thread.
// Some providers implicitly create the conversation on first send; this is
// the secondary fallback when CreateConversation fails outright.
func (c *Client) SendDirect(ctx context.Context, accountID, providerID, text string) (*SentMessage, error) {
	attempts := []attempt{
		{
			name:   "direct_messages",
			method: http.MethodPost,
			path:   "/messages",
			body:   map[string]any{"account_id": accountID, "recipient_provider_id": providerID, "text": text},
		},
		{
			name:   "direct_chats",
			method: http.MethodPost,
			path:   "/chats",
			body:   map[string]any{"account_id": accountID, "attendees_ids": []string{providerID}, "text": text},
		},
	}

	var sent SentMessage
	decoded, failures := c.doAttempts(ctx, "send_direct", attempts, func(v any) bool {
		id, ok := payload.FirstString(v, messageIDPaths...)
		if !ok {
			return false
		}
		sent.ExternalMessageID = id
		return true
	})
	if decoded == nil {
		return nil, c.requestError("send_direct", ErrSendFailed, failures)
	}
	if ts, ok := payload.FirstTime(decoded, sentAtPaths...); ok {
		sent.SentAt = ts
	} else {
		sent.SentAt = time.Now().UTC()
	}
	if threadID, ok := payload.FirstString(decoded, implicitThreadIDPaths...); ok {
		sent.ExternalThreadID = threadID
	}
	sent.PriorFailures = failures
	return &sent, nil
}

// SendInvitation sends a connection request to a provider identity.
func (c *Client) SendInvitation(ctx context.Context, accountID, providerID, message string) error {
	attempts := []attempt{
		{
			name:   "users_invite",
			method: http.MethodPost,
			path:   "/users/invite",
			body:   map[string]any{"account_id": accountID, "provider_id": providerID, "message": message},
		},
		{
			name:   "invitations",
			method: http.MethodPost,
			path:   "/invitations",
			body:   map[string]any{"account_id": accountID, "recipient_provider_id": providerID, "message": message},
		},
	}

	// Invitation endpoints do not reliably return an object; any 2xx wins.
	decoded, failures := c.doAttempts(ctx, "send_invitation", attempts, func(any) bool { return true })
	if decoded == nil {
		return c.requestError("send_invitation", ErrInviteFailed, failures)
	}
	return nil
}

// GetAttendee looks up a conversation attendee by its opaque id.
func (c *Client) GetAttendee(ctx context.Context, accountID, attendeeID string) (*Attendee, error) {
	attempts := []attempt{
		{name: "chat_attendees", method: http.MethodGet, path: "/chat_attendees/" + url.PathEscape(attendeeID) + queryAccount(accountID)},
		{name: "attendees", method: http.MethodGet, path: "/attendees/" + url.PathEscape(attendeeID) + queryAccount(accountID)},
	}

	var att *Attendee
	decoded, _ := c.doAttempts(ctx, "get_attendee", attempts, func(v any) bool {
		parsed := attendeeFromPayload(v)
		if parsed == nil {
			return false
		}
		att = parsed
		return true
	})
	if decoded == nil {
		return nil, nil // unknown attendee is not an error
	}
	if att.ProviderID == "" {
		att.ProviderID = attendeeID
	}
	return att, nil
}

// GetUserProfile looks up a user/profile by slug or provider id. This is how
// the scheduler learns a lead's provider id before inviting.
func (c *Client) GetUserProfile(ctx context.Context, accountID, identifier string) (*Attendee, error) {
	attempts := []attempt{
		{name: "users", method: http.MethodGet, path: "/users/" + url.PathEscape(identifier) + queryAccount(accountID)},
		{name: "profiles", method: http.MethodGet, path: "/profiles/" + url.PathEscape(identifier) + queryAccount(accountID)},
	}

	var att *Attendee
	decoded, failures := c.doAttempts(ctx, "get_user_profile", attempts, func(v any) bool {
		parsed := attendeeFromPayload(v)
		if parsed == nil || parsed.ProviderID == "" {
			return false
		}
		att = parsed
		return true
	})
	if decoded == nil {
		return nil, c.requestError("get_user_profile", ErrConversationCreateFailed, failures)
	}
	return att, nil
}

// ListAttendees returns every participant of a conversation.
func (c *Client) ListAttendees(ctx context.Context, accountID, conversationID string) ([]Attendee, error) {
	attempts := []attempt{
		{name: "chat_attendees_list", method: http.MethodGet, path: "/chats/" + url.PathEscape(conversationID) + "/attendees" + queryAccount(accountID)},
		{name: "conversation_attendees_list", method: http.MethodGet, path: "/conversations/" + url.PathEscape(conversationID) + "/attendees" + queryAccount(accountID)},
	}

	var result []Attendee
	decoded, _ := c.doAttempts(ctx, "list_attendees", attempts, func(v any) bool {
		items := payload.Items(v, "items", "attendees", "data", "elements")
		if len(items) == 0 {
			return false
		}
		for _, item := range items {
			if att := attendeeFromPayload(item); att != nil {
				result = append(result, *att)
			}
		}
		return len(result) > 0
	})
	if decoded == nil {
		return nil, nil
	}
	return result, nil
}

// attendeeFromPayload parses one attendee-ish object out of whatever shape
// the provider returned. Returns nil when no display identity is present.
func attendeeFromPayload(v any) *Attendee {
	// Some shapes nest the person under a wrapper object.
	if obj, ok := payload.Object(v, payload.P("data"), payload.P("user"), payload.P("attendee")); ok {
		if inner := attendeeFromPayload(obj); inner != nil {
			return inner
		}
	}

	name, _ := payload.FirstString(v,
		payload.P("name"),
		payload.P("display_name"),
		payload.P("attendee_name"),
		payload.P("full_name"),
	)
	profileURL, _ := payload.FirstString(v,
		payload.P("profile_url"),
		payload.P("public_profile_url"),
		payload.P("attendee_profile_url"),
	)
	avatarURL, _ := payload.FirstString(v,
		payload.P("avatar_url"),
		payload.P("picture_url"),
		payload.P("profile_picture_url"),
	)
	providerID, _ := payload.FirstString(v,
		payload.P("provider_id"),
		payload.P("attendee_provider_id"),
		payload.P("id"),
	)
	isSelf, _ := payload.FirstBool(v,
		payload.P("is_self"),
		payload.P("self"),
	)

	if name == "" && profileURL == "" && providerID == "" {
		return nil
	}
	return &Attendee{
		ProviderID: providerID,
		Name:       name,
		ProfileURL: profileURL,
		AvatarURL:  avatarURL,
		IsSelf:     isSelf,
	}
}
