package domain

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// InvitationStatus models the connection-request lifecycle. There is no
// explicit declined/timeout terminal state: absence of acceptance is simply
// "still sent".
type InvitationStatus string

const (
	InvitationQueued   InvitationStatus = "queued"
	InvitationSent     InvitationStatus = "sent"
	InvitationAccepted InvitationStatus = "accepted"
)

// Invitation is the local record of one connection request. One row per
// (client, lead, provider account); that triple is the upsert key.
type Invitation struct {
	ID                 uuid.UUID
	ClientID           uuid.UUID
	LeadID             uuid.UUID
	ProviderAccountID  string
	Status             InvitationStatus
	ProviderID         sql.NullString
	ProviderIDConflict bool

	// Raw accumulates one JSON object per lifecycle leg ("invitation",
	// "acceptance", "failure") so reconciliation can always inspect the
	// original payload that produced each transition.
	Raw           json.RawMessage
	Uncertain     bool
	MatchStrategy sql.NullString
	SentAt        sql.NullTime
	AcceptedAt    sql.NullTime
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewInvitation builds an invitation in the given status for upserting.
func NewInvitation(clientID, leadID uuid.UUID, providerAccountID string, status InvitationStatus) *Invitation {
	now := time.Now().UTC()
	inv := &Invitation{
		ID:                uuid.New(),
		ClientID:          clientID,
		LeadID:            leadID,
		ProviderAccountID: providerAccountID,
		Status:            status,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if status == InvitationSent {
		inv.SentAt = sql.NullTime{Time: now, Valid: true}
	}
	return inv
}

// AttachRawLeg merges a payload into the Raw blob under the named leg,
// preserving previously stored legs. A malformed existing blob is replaced
// rather than failing the transition.
func (i *Invitation) AttachRawLeg(leg string, payload json.RawMessage) {
	legs := map[string]json.RawMessage{}
	if len(i.Raw) > 0 {
		if err := json.Unmarshal(i.Raw, &legs); err != nil {
			legs = map[string]json.RawMessage{}
		}
	}
	legs[leg] = payload
	merged, err := json.Marshal(legs)
	if err != nil {
		return
	}
	i.Raw = merged
}

// LearnProviderID records the counterpart's provider id. A conflicting later
// value is not applied; the invitation is flagged instead and
// ErrProviderIDConflict returned.
func (i *Invitation) LearnProviderID(providerID string) error {
	if providerID == "" {
		return nil
	}
	if i.ProviderID.Valid && i.ProviderID.String != providerID {
		i.ProviderIDConflict = true
		return ErrProviderIDConflict
	}
	i.ProviderID = sql.NullString{String: providerID, Valid: true}
	return nil
}

// InvitationRepository defines persistence for invitations.
type InvitationRepository interface {
	// Upsert writes the invitation keyed by (client, lead, provider
	// account), merging rather than replacing enrichable fields.
	Upsert(ctx context.Context, inv *Invitation) error
	FindByLead(ctx context.Context, clientID, leadID uuid.UUID, providerAccountID string) (*Invitation, error)
	// LastSent returns the most recently sent invitation still in "sent"
	// status for the (client, account) pair. ErrNotFound when none exists.
	LastSent(ctx context.Context, clientID uuid.UUID, providerAccountID string) (*Invitation, error)
	// CountSentSince counts invitations in queued/sent/accepted status
	// created at or after the given instant, for quota accounting.
	CountSentSince(ctx context.Context, clientID uuid.UUID, providerAccountID string, since time.Time) (int, error)
	Update(ctx context.Context, inv *Invitation) error
}
