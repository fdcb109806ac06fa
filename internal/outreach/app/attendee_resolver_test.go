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
)

func newResolverForTest(messages *MockMessageRepository, provider *MockProviderGateway) *AttendeeResolver {
	return NewAttendeeResolver(messages, provider, 7*24*time.Hour, 500, discardLogger())
}

func cachedMessage(attendeeID, senderName string) *domain.Message {
	raw, _ := json.Marshal(map[string]any{"sender_attendee_id": attendeeID, "text": "hi"})
	return &domain.Message{
		ID:         uuid.New(),
		SenderName: sql.NullString{String: senderName, Valid: true},
		SenderURL:  sql.NullString{String: "linkedin.com/in/" + senderName, Valid: true},
		Raw:        raw,
	}
}

func TestAttendeeResolveFromCache(t *testing.T) {
	ctx := context.Background()
	clientID := uuid.New()

	messages := new(MockMessageRepository)
	provider := new(MockProviderGateway)
	messages.On("ListRecentWithRaw", ctx, clientID, "acct-1", mock.AnythingOfType("time.Time"), 500).
		Return([]*domain.Message{cachedMessage("att-other", "bob"), cachedMessage("att-1", "jane")}, nil)

	pass := newResolverForTest(messages, provider).NewPass()
	att, err := pass.Resolve(ctx, clientID, "acct-1", "att-1", "conv-1")
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.Equal(t, "jane", att.Name)

	provider.AssertNotCalled(t, "GetAttendee", mock.Anything, mock.Anything, mock.Anything)
}

func TestAttendeeResolveMemoizesWithinPass(t *testing.T) {
	ctx := context.Background()
	clientID := uuid.New()

	messages := new(MockMessageRepository)
	provider := new(MockProviderGateway)
	messages.On("ListRecentWithRaw", ctx, clientID, "acct-1", mock.AnythingOfType("time.Time"), 500).
		Return([]*domain.Message{}, nil).Once()
	provider.On("GetAttendee", ctx, "acct-1", "att-1").
		Return(&msgprovider.Attendee{ProviderID: "prov-1", Name: "Jane"}, nil).Once()

	pass := newResolverForTest(messages, provider).NewPass()
	for i := 0; i < 3; i++ {
		att, err := pass.Resolve(ctx, clientID, "acct-1", "att-1", "conv-1")
		require.NoError(t, err)
		require.NotNil(t, att)
	}

	provider.AssertNumberOfCalls(t, "GetAttendee", 1)
	messages.AssertNumberOfCalls(t, "ListRecentWithRaw", 1)
}

func TestAttendeeResolveNegativeResultMemoized(t *testing.T) {
	ctx := context.Background()
	clientID := uuid.New()

	messages := new(MockMessageRepository)
	provider := new(MockProviderGateway)
	messages.On("ListRecentWithRaw", ctx, clientID, "acct-1", mock.AnythingOfType("time.Time"), 500).
		Return([]*domain.Message{}, nil).Once()
	provider.On("GetAttendee", ctx, "acct-1", "att-1").Return(nil, nil).Once()
	provider.On("GetUserProfile", ctx, "acct-1", "att-1").Return(nil, assert.AnError).Once()
	provider.On("ListAttendees", ctx, "acct-1", "conv-1").Return([]msgprovider.Attendee{}, nil).Once()

	pass := newResolverForTest(messages, provider).NewPass()
	att, err := pass.Resolve(ctx, clientID, "acct-1", "att-1", "conv-1")
	require.NoError(t, err)
	assert.Nil(t, att, "unknown sender is nil, not an error")

	// Second resolve inside the same pass: no further provider traffic.
	att, err = pass.Resolve(ctx, clientID, "acct-1", "att-1", "conv-1")
	require.NoError(t, err)
	assert.Nil(t, att)
	provider.AssertNumberOfCalls(t, "GetAttendee", 1)
}

func TestAttendeeResolveListFallbackPrefersNonSelf(t *testing.T) {
	ctx := context.Background()
	clientID := uuid.New()

	messages := new(MockMessageRepository)
	provider := new(MockProviderGateway)
	messages.On("ListRecentWithRaw", ctx, clientID, "acct-1", mock.AnythingOfType("time.Time"), 500).
		Return([]*domain.Message{}, nil)
	provider.On("GetAttendee", ctx, "acct-1", "att-1").Return(nil, nil)
	provider.On("GetUserProfile", ctx, "acct-1", "att-1").Return(nil, assert.AnError)
	provider.On("ListAttendees", ctx, "acct-1", "conv-1").Return([]msgprovider.Attendee{
		{ProviderID: "self-1", Name: "Me", IsSelf: true},
		{ProviderID: "prov-2", Name: "Jane"},
	}, nil)

	pass := newResolverForTest(messages, provider).NewPass()
	att, err := pass.Resolve(ctx, clientID, "acct-1", "att-1", "conv-1")
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.Equal(t, "Jane", att.Name)
}

func TestAttendeeResolveEmptyIDIsNil(t *testing.T) {
	pass := newResolverForTest(new(MockMessageRepository), new(MockProviderGateway)).NewPass()
	att, err := pass.Resolve(context.Background(), uuid.New(), "acct-1", "", "conv-1")
	require.NoError(t, err)
	assert.Nil(t, att)
}
