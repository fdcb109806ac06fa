package app

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/leadpilothq/outreach-engine/internal/outreach/adapters/msgprovider"
	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type MockClientRepository struct{ mock.Mock }

func (m *MockClientRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	args := m.Called(ctx, id)
	if c, ok := args.Get(0).(*domain.Client); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClientRepository) GetByProviderAccountID(ctx context.Context, providerAccountID string) (*domain.Client, error) {
	args := m.Called(ctx, providerAccountID)
	if c, ok := args.Get(0).(*domain.Client); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClientRepository) ListSchedulable(ctx context.Context) ([]*domain.Client, error) {
	args := m.Called(ctx)
	if cs, ok := args.Get(0).([]*domain.Client); ok {
		return cs, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockLeadRepository struct{ mock.Mock }

func (m *MockLeadRepository) GetByID(ctx context.Context, clientID, id uuid.UUID) (*domain.Lead, error) {
	args := m.Called(ctx, clientID, id)
	if l, ok := args.Get(0).(*domain.Lead); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLeadRepository) ListWithProfileURL(ctx context.Context, clientID uuid.UUID) ([]*domain.Lead, error) {
	args := m.Called(ctx, clientID)
	if ls, ok := args.Get(0).([]*domain.Lead); ok {
		return ls, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLeadRepository) NextInvitable(ctx context.Context, clientID uuid.UUID) (*domain.Lead, error) {
	args := m.Called(ctx, clientID)
	if l, ok := args.Get(0).(*domain.Lead); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLeadRepository) MarkProcessed(ctx context.Context, clientID, id uuid.UUID) error {
	return m.Called(ctx, clientID, id).Error(0)
}

func (m *MockLeadRepository) MarkMessageSent(ctx context.Context, clientID, id uuid.UUID, nextFollowupAt sql.NullTime) error {
	return m.Called(ctx, clientID, id, nextFollowupAt).Error(0)
}

func (m *MockLeadRepository) CacheProviderIdentity(ctx context.Context, clientID, id uuid.UUID, providerID, publicIdentifier sql.NullString) error {
	return m.Called(ctx, clientID, id, providerID, publicIdentifier).Error(0)
}

type MockInvitationRepository struct{ mock.Mock }

func (m *MockInvitationRepository) Upsert(ctx context.Context, inv *domain.Invitation) error {
	return m.Called(ctx, inv).Error(0)
}

func (m *MockInvitationRepository) FindByLead(ctx context.Context, clientID, leadID uuid.UUID, providerAccountID string) (*domain.Invitation, error) {
	args := m.Called(ctx, clientID, leadID, providerAccountID)
	if inv, ok := args.Get(0).(*domain.Invitation); ok {
		return inv, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockInvitationRepository) LastSent(ctx context.Context, clientID uuid.UUID, providerAccountID string) (*domain.Invitation, error) {
	args := m.Called(ctx, clientID, providerAccountID)
	if inv, ok := args.Get(0).(*domain.Invitation); ok {
		return inv, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockInvitationRepository) CountSentSince(ctx context.Context, clientID uuid.UUID, providerAccountID string, since time.Time) (int, error) {
	args := m.Called(ctx, clientID, providerAccountID, since)
	return args.Int(0), args.Error(1)
}

func (m *MockInvitationRepository) Update(ctx context.Context, inv *domain.Invitation) error {
	return m.Called(ctx, inv).Error(0)
}

type MockThreadRepository struct{ mock.Mock }

func (m *MockThreadRepository) Upsert(ctx context.Context, t *domain.Thread) error {
	return m.Called(ctx, t).Error(0)
}

func (m *MockThreadRepository) FindByExternalID(ctx context.Context, clientID uuid.UUID, providerAccountID, externalThreadID string) (*domain.Thread, error) {
	args := m.Called(ctx, clientID, providerAccountID, externalThreadID)
	if t, ok := args.Get(0).(*domain.Thread); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockThreadRepository) FindByLead(ctx context.Context, clientID uuid.UUID, providerAccountID string, leadID uuid.UUID) (*domain.Thread, error) {
	args := m.Called(ctx, clientID, providerAccountID, leadID)
	if t, ok := args.Get(0).(*domain.Thread); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockThreadRepository) ListRecent(ctx context.Context, clientID uuid.UUID, providerAccountID string, limit int) ([]*domain.Thread, error) {
	args := m.Called(ctx, clientID, providerAccountID, limit)
	if ts, ok := args.Get(0).([]*domain.Thread); ok {
		return ts, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockThreadRepository) RecordLastMessage(ctx context.Context, threadID uuid.UUID, at time.Time, preview string, inbound bool) error {
	return m.Called(ctx, threadID, at, preview, inbound).Error(0)
}

func (m *MockThreadRepository) MarkRead(ctx context.Context, threadID uuid.UUID) error {
	return m.Called(ctx, threadID).Error(0)
}

type MockMessageRepository struct{ mock.Mock }

func (m *MockMessageRepository) InsertIfAbsent(ctx context.Context, msg *domain.Message) (bool, error) {
	args := m.Called(ctx, msg)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageRepository) GetByExternalID(ctx context.Context, clientID uuid.UUID, providerAccountID, externalMessageID string) (*domain.Message, error) {
	args := m.Called(ctx, clientID, providerAccountID, externalMessageID)
	if msg, ok := args.Get(0).(*domain.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessageRepository) PatchSenderFields(ctx context.Context, id uuid.UUID, name, url, avatarURL sql.NullString) error {
	return m.Called(ctx, id, name, url, avatarURL).Error(0)
}

func (m *MockMessageRepository) ListRecentWithRaw(ctx context.Context, clientID uuid.UUID, providerAccountID string, since time.Time, limit int) ([]*domain.Message, error) {
	args := m.Called(ctx, clientID, providerAccountID, since, limit)
	if msgs, ok := args.Get(0).([]*domain.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockRawEventRepository struct{ mock.Mock }

func (m *MockRawEventRepository) Insert(ctx context.Context, e *domain.RawEvent) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockRawEventRepository) MarkProcessed(ctx context.Context, id uuid.UUID, procErr sql.NullString) error {
	return m.Called(ctx, id, procErr).Error(0)
}

type MockProviderGateway struct{ mock.Mock }

func (m *MockProviderGateway) SendMessage(ctx context.Context, accountID, threadID, text string) (*msgprovider.SentMessage, error) {
	args := m.Called(ctx, accountID, threadID, text)
	if s, ok := args.Get(0).(*msgprovider.SentMessage); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProviderGateway) CreateConversation(ctx context.Context, accountID, providerID string) (string, error) {
	args := m.Called(ctx, accountID, providerID)
	return args.String(0), args.Error(1)
}

func (m *MockProviderGateway) SendDirect(ctx context.Context, accountID, providerID, text string) (*msgprovider.SentMessage, error) {
	args := m.Called(ctx, accountID, providerID, text)
	if s, ok := args.Get(0).(*msgprovider.SentMessage); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProviderGateway) SendInvitation(ctx context.Context, accountID, providerID, message string) error {
	return m.Called(ctx, accountID, providerID, message).Error(0)
}

func (m *MockProviderGateway) GetAttendee(ctx context.Context, accountID, attendeeID string) (*msgprovider.Attendee, error) {
	args := m.Called(ctx, accountID, attendeeID)
	if a, ok := args.Get(0).(*msgprovider.Attendee); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProviderGateway) GetUserProfile(ctx context.Context, accountID, identifier string) (*msgprovider.Attendee, error) {
	args := m.Called(ctx, accountID, identifier)
	if a, ok := args.Get(0).(*msgprovider.Attendee); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProviderGateway) ListAttendees(ctx context.Context, accountID, conversationID string) ([]msgprovider.Attendee, error) {
	args := m.Called(ctx, accountID, conversationID)
	if as, ok := args.Get(0).([]msgprovider.Attendee); ok {
		return as, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockNotifier struct{ mock.Mock }

func (m *MockNotifier) Publish(ctx context.Context, subject string, data []byte) error {
	return m.Called(ctx, subject, data).Error(0)
}

// MockRunLock hands out the lock unconditionally unless held is set.
type MockRunLock struct {
	held     bool
	acquired int
	released int
}

func (m *MockRunLock) TryAcquire(_ context.Context, _ int64) (func(), bool, error) {
	if m.held {
		return nil, false, nil
	}
	m.acquired++
	return func() { m.released++ }, true, nil
}
