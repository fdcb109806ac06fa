package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/leadpilothq/outreach-engine/internal/outreach/adapters/msgprovider"
	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
)

func testOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		LockKey:         42,
		WindowStartHour: 8,
		WindowEndHour:   18,
		DefaultQuota:    10,
		InvitationNote:  "",
		TickInterval:    time.Minute,
	}
}

func schedulableClient() *domain.Client {
	return &domain.Client{
		ID:                uuid.New(),
		Name:              "Acme",
		Plan:              domain.PlanFull,
		Timezone:          "UTC",
		DailyInviteQuota:  5,
		ProviderAccountID: "acct-1",
	}
}

func invitableLead(clientID uuid.UUID) *domain.Lead {
	return &domain.Lead{
		ID:         uuid.New(),
		ClientID:   clientID,
		FullName:   "Jane Doe",
		ProfileURL: sql.NullString{String: "https://www.linkedin.com/in/jane-doe/", Valid: true},
	}
}

func newOrchestratorForTest(clients *MockClientRepository, leads *MockLeadRepository, invs *MockInvitationRepository, provider *MockProviderGateway, lock *MockRunLock) *InviteOrchestrator {
	o := NewInviteOrchestrator(clients, leads, invs, provider, lock, testOrchestratorConfig(), discardLogger())
	o.now = func() time.Time { return time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC) }
	return o
}

func TestRunOnceSendsInvitation(t *testing.T) {
	ctx := context.Background()
	client := schedulableClient()
	lead := invitableLead(client.ID)

	clients := new(MockClientRepository)
	leads := new(MockLeadRepository)
	invs := new(MockInvitationRepository)
	provider := new(MockProviderGateway)
	lock := &MockRunLock{}

	clients.On("ListSchedulable", ctx).Return([]*domain.Client{client}, nil)
	invs.On("CountSentSince", ctx, client.ID, "acct-1", mock.AnythingOfType("time.Time")).Return(2, nil)
	leads.On("NextInvitable", ctx, client.ID).Return(lead, nil)
	provider.On("GetUserProfile", ctx, "acct-1", "jane-doe").
		Return(&msgprovider.Attendee{ProviderID: "prov-9", Name: "Jane Doe"}, nil)
	leads.On("CacheProviderIdentity", ctx, client.ID, lead.ID, mock.Anything, mock.Anything).Return(nil)
	provider.On("SendInvitation", ctx, "acct-1", "prov-9", "").Return(nil)
	invs.On("Upsert", ctx, mock.MatchedBy(func(inv *domain.Invitation) bool {
		return inv.Status == domain.InvitationSent &&
			inv.LeadID == lead.ID &&
			inv.ProviderID.String == "prov-9" &&
			inv.SentAt.Valid
	})).Return(nil)
	leads.On("MarkProcessed", ctx, client.ID, lead.ID).Return(nil)

	o := newOrchestratorForTest(clients, leads, invs, provider, lock)
	require.NoError(t, o.RunOnce(ctx))

	invs.AssertExpectations(t)
	leads.AssertExpectations(t)
	provider.AssertExpectations(t)
	assert.Equal(t, 1, lock.released, "lock must be released after the pass")
}

func TestRunOnceQuotaReached(t *testing.T) {
	ctx := context.Background()
	client := schedulableClient()

	clients := new(MockClientRepository)
	leads := new(MockLeadRepository)
	invs := new(MockInvitationRepository)
	provider := new(MockProviderGateway)

	clients.On("ListSchedulable", ctx).Return([]*domain.Client{client}, nil)
	// Quota is 5 and 5 were already recorded today.
	invs.On("CountSentSince", ctx, client.ID, "acct-1", mock.AnythingOfType("time.Time")).Return(5, nil)

	o := newOrchestratorForTest(clients, leads, invs, provider, &MockRunLock{})
	require.NoError(t, o.RunOnce(ctx))

	leads.AssertNotCalled(t, "NextInvitable", mock.Anything, mock.Anything)
	provider.AssertNotCalled(t, "SendInvitation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunOnceOutsideWindow(t *testing.T) {
	ctx := context.Background()
	client := schedulableClient()

	clients := new(MockClientRepository)
	leads := new(MockLeadRepository)
	invs := new(MockInvitationRepository)
	provider := new(MockProviderGateway)

	clients.On("ListSchedulable", ctx).Return([]*domain.Client{client}, nil)

	o := newOrchestratorForTest(clients, leads, invs, provider, &MockRunLock{})
	o.now = func() time.Time { return time.Date(2024, 3, 5, 6, 30, 0, 0, time.UTC) }
	require.NoError(t, o.RunOnce(ctx))

	invs.AssertNotCalled(t, "CountSentSince", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunOnceWindowIsClientLocal(t *testing.T) {
	ctx := context.Background()
	client := schedulableClient()
	client.Timezone = "America/New_York" // UTC-5 in March (EST until the 10th)

	clients := new(MockClientRepository)
	leads := new(MockLeadRepository)
	invs := new(MockInvitationRepository)
	provider := new(MockProviderGateway)

	clients.On("ListSchedulable", ctx).Return([]*domain.Client{client}, nil)

	// 12:00 UTC is 07:00 in New York: before the window opens.
	o := newOrchestratorForTest(clients, leads, invs, provider, &MockRunLock{})
	require.NoError(t, o.RunOnce(ctx))

	invs.AssertNotCalled(t, "CountSentSince", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunOnceSendFailureQueuesInvitation(t *testing.T) {
	ctx := context.Background()
	client := schedulableClient()
	lead := invitableLead(client.ID)
	lead.ProviderID = sql.NullString{String: "prov-9", Valid: true}

	clients := new(MockClientRepository)
	leads := new(MockLeadRepository)
	invs := new(MockInvitationRepository)
	provider := new(MockProviderGateway)

	clients.On("ListSchedulable", ctx).Return([]*domain.Client{client}, nil)
	invs.On("CountSentSince", ctx, client.ID, "acct-1", mock.AnythingOfType("time.Time")).Return(0, nil)
	leads.On("NextInvitable", ctx, client.ID).Return(lead, nil)
	provider.On("SendInvitation", ctx, "acct-1", "prov-9", "").Return(errors.New("rate limited"))
	invs.On("Upsert", ctx, mock.MatchedBy(func(inv *domain.Invitation) bool {
		return inv.Status == domain.InvitationQueued &&
			inv.LeadID == lead.ID &&
			len(inv.Raw) > 0
	})).Return(nil)

	o := newOrchestratorForTest(clients, leads, invs, provider, &MockRunLock{})
	require.NoError(t, o.RunOnce(ctx))

	invs.AssertExpectations(t)
	leads.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunOnceLockHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	clients := new(MockClientRepository)

	o := newOrchestratorForTest(clients, new(MockLeadRepository), new(MockInvitationRepository), new(MockProviderGateway), &MockRunLock{held: true})
	require.NoError(t, o.RunOnce(ctx))

	clients.AssertNotCalled(t, "ListSchedulable", mock.Anything)
}
