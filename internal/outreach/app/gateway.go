// Package app holds the application services of the outreach engine:
// webhook processing, outbound sending, attendee resolution, invitation
// tracking and the invite scheduler.
package app

import (
	"context"

	"github.com/leadpilothq/outreach-engine/internal/outreach/adapters/msgprovider"
)

// ProviderGateway is the slice of the external messaging platform the
// application services use. *msgprovider.Client satisfies it; tests use a
// mock.
type ProviderGateway interface {
	SendMessage(ctx context.Context, accountID, threadID, text string) (*msgprovider.SentMessage, error)
	CreateConversation(ctx context.Context, accountID, providerID string) (string, error)
	SendDirect(ctx context.Context, accountID, providerID, text string) (*msgprovider.SentMessage, error)
	SendInvitation(ctx context.Context, accountID, providerID, message string) error
	GetAttendee(ctx context.Context, accountID, attendeeID string) (*msgprovider.Attendee, error)
	GetUserProfile(ctx context.Context, accountID, identifier string) (*msgprovider.Attendee, error)
	ListAttendees(ctx context.Context, accountID, conversationID string) ([]msgprovider.Attendee, error)
}

// Notifier publishes fire-and-forget notification events. Satisfied by
// platform/messagebroker.NATSClient.
type Notifier interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// RunLock guards singleton scheduler runs across replicas. Satisfied by the
// Postgres advisory lock.
type RunLock interface {
	TryAcquire(ctx context.Context, key int64) (release func(), acquired bool, err error)
}
