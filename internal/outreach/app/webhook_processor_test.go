package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/leadpilothq/outreach-engine/internal/outreach/adapters/msgprovider"
	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
	"github.com/leadpilothq/outreach-engine/internal/outreach/identity"
)

type processorFixture struct {
	rawEvents *MockRawEventRepository
	clients   *MockClientRepository
	leads     *MockLeadRepository
	invs      *MockInvitationRepository
	threads   *MockThreadRepository
	messages  *MockMessageRepository
	provider  *MockProviderGateway
	notifier  *MockNotifier
	processor *WebhookProcessor
	calls     []string
}

func newProcessorFixture() *processorFixture {
	f := &processorFixture{
		rawEvents: new(MockRawEventRepository),
		clients:   new(MockClientRepository),
		leads:     new(MockLeadRepository),
		invs:      new(MockInvitationRepository),
		threads:   new(MockThreadRepository),
		messages:  new(MockMessageRepository),
		provider:  new(MockProviderGateway),
		notifier:  new(MockNotifier),
	}
	logger := discardLogger()
	resolver := identity.NewResolver(f.leads, logger)
	attendees := NewAttendeeResolver(f.messages, f.provider, 7*24*time.Hour, 500, logger)
	threadMgr := NewThreadManager(f.threads, logger)
	persister := NewMessagePersister(f.messages, f.threads, logger)
	tracker := NewInvitationTracker(f.invs, f.leads, resolver, logger)
	f.processor = NewWebhookProcessor(f.rawEvents, f.clients, f.threads, resolver, attendees, threadMgr, persister, tracker, f.notifier, logger)
	return f
}

func (f *processorFixture) record(name string) func(mock.Arguments) {
	return func(mock.Arguments) { f.calls = append(f.calls, name) }
}

func TestProcessNewMessage(t *testing.T) {
	ctx := context.Background()
	client := schedulableClient()
	lead := invitableLead(client.ID)
	thread := &domain.Thread{ID: uuid.New(), ClientID: client.ID, ProviderAccountID: "acct-1", ExternalThreadID: "chat-9"}

	f := newProcessorFixture()
	f.rawEvents.On("Insert", ctx, mock.MatchedBy(func(e *domain.RawEvent) bool {
		return e.Source == "provider" && e.EventType.String == "message_received"
	})).Run(f.record("raw_insert")).Return(nil)
	f.clients.On("GetByProviderAccountID", ctx, "acct-1").Run(f.record("client_lookup")).Return(client, nil)
	f.messages.On("ListRecentWithRaw", ctx, client.ID, "acct-1", mock.AnythingOfType("time.Time"), 500).
		Return([]*domain.Message{}, nil)
	f.provider.On("GetAttendee", ctx, "acct-1", "att-1").
		Return(&msgprovider.Attendee{Name: "Jane Doe", ProfileURL: "linkedin.com/in/jane-doe"}, nil)
	f.leads.On("ListWithProfileURL", ctx, client.ID).Return([]*domain.Lead{lead}, nil)
	f.threads.On("Upsert", ctx, mock.MatchedBy(func(th *domain.Thread) bool {
		return th.ExternalThreadID == "chat-9" &&
			th.LeadID.Valid && th.LeadID.UUID == lead.ID &&
			th.ContactName.String == "Jane Doe"
	})).Return(nil)
	f.threads.On("FindByExternalID", ctx, client.ID, "acct-1", "chat-9").Return(thread, nil)
	f.messages.On("InsertIfAbsent", ctx, mock.MatchedBy(func(m *domain.Message) bool {
		return m.ExternalMessageID == "m-1" &&
			m.Direction == domain.DirectionInbound &&
			m.SenderName.String == "Jane Doe" &&
			m.ThreadID == thread.ID &&
			len(m.Raw) > 0
	})).Run(f.record("message_insert")).Return(true, nil)
	f.threads.On("RecordLastMessage", ctx, thread.ID, mock.AnythingOfType("time.Time"), "hey", true).Return(nil)
	f.rawEvents.On("MarkProcessed", ctx, mock.AnythingOfType("uuid.UUID"), sql.NullString{}).Return(nil)
	f.notifier.On("Publish", ctx, "outreach.events.new_message", mock.Anything).Return(nil)

	body := json.RawMessage(`{
		"event": "message_received",
		"account_id": "acct-1",
		"chat_id": "chat-9",
		"message_id": "m-1",
		"message": {"text": "hey"},
		"sender_attendee_id": "att-1",
		"timestamp": "2024-03-01T10:00:00Z",
		"user_profile_url": "linkedin.com/in/jane-doe"
	}`)

	kind, err := f.processor.Process(ctx, "provider", body)
	require.NoError(t, err)
	assert.Equal(t, domain.EventNewMessage, kind)

	require.GreaterOrEqual(t, len(f.calls), 3)
	assert.Equal(t, "raw_insert", f.calls[0], "raw payload must persist before any processing")
	f.notifier.AssertExpectations(t)
}

func TestProcessMalformedPayloadStillLogged(t *testing.T) {
	ctx := context.Background()

	f := newProcessorFixture()
	f.rawEvents.On("Insert", ctx, mock.Anything).Return(nil)
	f.rawEvents.On("MarkProcessed", ctx, mock.AnythingOfType("uuid.UUID"), mock.MatchedBy(func(s sql.NullString) bool {
		return s.Valid // a processing error was recorded
	})).Return(nil)

	kind, err := f.processor.Process(ctx, "provider", json.RawMessage(`{not json`))
	require.NoError(t, err, "malformed payloads are logged, never bounced")
	assert.Equal(t, domain.EventUnknown, kind)
	f.rawEvents.AssertExpectations(t)
	f.notifier.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessNonJSONBodyStoredAsJSONString(t *testing.T) {
	ctx := context.Background()
	body := json.RawMessage(`<html>502 Bad Gateway</html>`)

	f := newProcessorFixture()
	f.rawEvents.On("Insert", ctx, mock.MatchedBy(func(e *domain.RawEvent) bool {
		// The stored payload must be valid JSON (the column is JSONB) and
		// must round-trip back to the original bytes.
		var s string
		if err := json.Unmarshal(e.Payload, &s); err != nil {
			return false
		}
		return s == string(body)
	})).Return(nil)
	f.rawEvents.On("MarkProcessed", ctx, mock.AnythingOfType("uuid.UUID"), mock.MatchedBy(func(s sql.NullString) bool {
		return s.Valid
	})).Return(nil)

	kind, err := f.processor.Process(ctx, "provider", body)
	require.NoError(t, err, "an unparseable body is logged and acked, never bounced")
	assert.Equal(t, domain.EventUnknown, kind)
	f.rawEvents.AssertExpectations(t)
	f.notifier.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessUnknownAccountRecordedAsFailure(t *testing.T) {
	ctx := context.Background()

	f := newProcessorFixture()
	f.rawEvents.On("Insert", ctx, mock.Anything).Return(nil)
	f.clients.On("GetByProviderAccountID", ctx, "ghost").Return(nil, domain.ErrNotFound)
	f.rawEvents.On("MarkProcessed", ctx, mock.AnythingOfType("uuid.UUID"), mock.MatchedBy(func(s sql.NullString) bool {
		return s.Valid
	})).Return(nil)

	_, err := f.processor.Process(ctx, "provider", json.RawMessage(`{"event":"message_received","account_id":"ghost"}`))
	require.NoError(t, err)
	f.rawEvents.AssertExpectations(t)
}

func TestProcessInvitationAcceptedRoutesToTracker(t *testing.T) {
	ctx := context.Background()
	client := schedulableClient()

	f := newProcessorFixture()
	f.rawEvents.On("Insert", ctx, mock.Anything).Return(nil)
	f.clients.On("GetByProviderAccountID", ctx, "acct-1").Return(client, nil)
	lastSent := domain.NewInvitation(client.ID, uuid.New(), "acct-1", domain.InvitationSent)
	f.invs.On("LastSent", ctx, client.ID, "acct-1").Return(lastSent, nil)
	f.invs.On("Update", ctx, mock.MatchedBy(func(inv *domain.Invitation) bool {
		return inv.Status == domain.InvitationAccepted && inv.Uncertain
	})).Return(nil)
	f.rawEvents.On("MarkProcessed", ctx, mock.AnythingOfType("uuid.UUID"), sql.NullString{}).Return(nil)
	f.notifier.On("Publish", ctx, "outreach.events.invitation_accepted", mock.Anything).Return(nil)

	kind, err := f.processor.Process(ctx, "provider", json.RawMessage(`{"event":"new_relation","account_id":"acct-1"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.EventInvitationAccepted, kind)
	f.invs.AssertExpectations(t)
}

func TestProcessMessageRead(t *testing.T) {
	ctx := context.Background()
	client := schedulableClient()
	thread := &domain.Thread{ID: uuid.New(), ClientID: client.ID, UnreadCount: 3}

	f := newProcessorFixture()
	f.rawEvents.On("Insert", ctx, mock.Anything).Return(nil)
	f.clients.On("GetByProviderAccountID", ctx, "acct-1").Return(client, nil)
	f.threads.On("FindByExternalID", ctx, client.ID, "acct-1", "chat-9").Return(thread, nil)
	f.threads.On("MarkRead", ctx, thread.ID).Return(nil)
	f.rawEvents.On("MarkProcessed", ctx, mock.AnythingOfType("uuid.UUID"), sql.NullString{}).Return(nil)
	f.notifier.On("Publish", ctx, "outreach.events.message_read", mock.Anything).Return(nil)

	_, err := f.processor.Process(ctx, "provider", json.RawMessage(`{"event":"message_read","account_id":"acct-1","chat_id":"chat-9"}`))
	require.NoError(t, err)
	f.threads.AssertExpectations(t)
}

func TestProcessDuplicateDeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	client := schedulableClient()
	thread := &domain.Thread{ID: uuid.New(), ClientID: client.ID, ProviderAccountID: "acct-1", ExternalThreadID: "chat-9"}

	f := newProcessorFixture()
	f.rawEvents.On("Insert", ctx, mock.Anything).Return(nil)
	f.clients.On("GetByProviderAccountID", ctx, "acct-1").Return(client, nil)
	f.leads.On("ListWithProfileURL", ctx, client.ID).Return([]*domain.Lead{}, nil)
	f.messages.On("ListRecentWithRaw", ctx, client.ID, "acct-1", mock.AnythingOfType("time.Time"), 500).
		Return([]*domain.Message{}, nil)
	f.provider.On("GetAttendee", ctx, "acct-1", "att-1").Return(nil, nil)
	f.provider.On("GetUserProfile", ctx, "acct-1", "att-1").Return(nil, assert.AnError)
	f.provider.On("ListAttendees", ctx, "acct-1", "chat-9").Return([]msgprovider.Attendee{}, nil)
	f.threads.On("Upsert", ctx, mock.Anything).Return(nil)
	f.threads.On("FindByExternalID", ctx, client.ID, "acct-1", "chat-9").Return(thread, nil)
	// Second delivery of the same external message id: constraint says no.
	f.messages.On("InsertIfAbsent", ctx, mock.Anything).Return(false, nil)
	f.rawEvents.On("MarkProcessed", ctx, mock.AnythingOfType("uuid.UUID"), sql.NullString{}).Return(nil)
	f.notifier.On("Publish", ctx, "outreach.events.new_message", mock.Anything).Return(nil)

	body := json.RawMessage(`{"event":"message_received","account_id":"acct-1","chat_id":"chat-9","message_id":"m-1","text":"hey","sender_attendee_id":"att-1"}`)
	_, err := f.processor.Process(ctx, "provider", body)
	require.NoError(t, err)

	f.threads.AssertNotCalled(t, "RecordLastMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
