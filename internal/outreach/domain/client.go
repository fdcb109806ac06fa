package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ClientPlan gates which tenants the scheduler works for.
type ClientPlan string

const (
	PlanFull     ClientPlan = "full"
	PlanActive   ClientPlan = "active"
	PlanInactive ClientPlan = "inactive"
)

// Client is a tenant of the outreach product. Every query in the engine is
// scoped by ClientID; tenant isolation lives at the query layer.
type Client struct {
	ID                uuid.UUID
	Name              string
	Plan              ClientPlan
	Timezone          string // IANA name, e.g. "Europe/Berlin"
	DailyInviteQuota  int    // 0 means "use the configured default"
	ProviderAccountID string // linked account on the external platform
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SchedulerEligible reports whether the invite scheduler should work for
// this client at all.
func (c *Client) SchedulerEligible() bool {
	return (c.Plan == PlanFull || c.Plan == PlanActive) && c.ProviderAccountID != ""
}

// EffectiveQuota returns the client's daily invite quota bounded to 1..200,
// falling back to defaultQuota when unset.
func (c *Client) EffectiveQuota(defaultQuota int) int {
	q := c.DailyInviteQuota
	if q <= 0 {
		q = defaultQuota
	}
	if q < 1 {
		q = 1
	}
	if q > 200 {
		q = 200
	}
	return q
}

// Location resolves the client's timezone, falling back to UTC when the
// stored name is empty or invalid.
func (c *Client) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ClientRepository defines read access to tenants.
type ClientRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Client, error)
	// GetByProviderAccountID maps an external platform account to its
	// tenant. This is how webhook deliveries are attributed.
	GetByProviderAccountID(ctx context.Context, providerAccountID string) (*Client, error)
	// ListSchedulable returns clients on a full/active plan with a linked
	// provider account.
	ListSchedulable(ctx context.Context) ([]*Client, error)
}
