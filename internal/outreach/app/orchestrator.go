package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
	"github.com/leadpilothq/outreach-engine/internal/outreach/identity"
)

// OrchestratorConfig carries the scheduler's tunables.
type OrchestratorConfig struct {
	LockKey         int64
	WindowStartHour int // inclusive, client-local
	WindowEndHour   int // exclusive, client-local
	DefaultQuota    int
	InvitationNote  string
	TickInterval    time.Duration
}

// InviteOrchestrator is the cron-driven invitation dispatcher: one pass
// walks every schedulable client and sends at most one invitation per
// client, bounded by the client-local working window and daily quota.
type InviteOrchestrator struct {
	clients     domain.ClientRepository
	leads       domain.LeadRepository
	invitations domain.InvitationRepository
	provider    ProviderGateway
	lock        RunLock
	cfg         OrchestratorConfig
	now         func() time.Time
	logger      *slog.Logger
}

func NewInviteOrchestrator(
	clients domain.ClientRepository,
	leads domain.LeadRepository,
	invitations domain.InvitationRepository,
	provider ProviderGateway,
	lock RunLock,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *InviteOrchestrator {
	return &InviteOrchestrator{
		clients:     clients,
		leads:       leads,
		invitations: invitations,
		provider:    provider,
		lock:        lock,
		cfg:         cfg,
		now:         time.Now,
		logger:      logger.With("component", "invite_orchestrator"),
	}
}

// Run ticks RunOnce until ctx is cancelled.
func (o *InviteOrchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	o.logger.InfoContext(ctx, "invite orchestrator started", "tick_interval", o.cfg.TickInterval)
	for {
		if err := o.RunOnce(ctx); err != nil {
			o.logger.ErrorContext(ctx, "scheduler pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			o.logger.InfoContext(ctx, "invite orchestrator stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes one scheduler pass under the advisory lock. A pass that
// loses the lock race is a silent no-op: another replica is already running.
func (o *InviteOrchestrator) RunOnce(ctx context.Context) error {
	release, acquired, err := o.lock.TryAcquire(ctx, o.cfg.LockKey)
	if err != nil {
		return fmt.Errorf("acquiring scheduler lock: %w", err)
	}
	if !acquired {
		o.logger.DebugContext(ctx, "scheduler lock held elsewhere, skipping pass")
		return nil
	}
	defer release()

	started := o.now()
	defer func() {
		schedulerRunDuration.Observe(o.now().Sub(started).Seconds())
	}()

	clients, err := o.clients.ListSchedulable(ctx)
	if err != nil {
		return fmt.Errorf("listing schedulable clients: %w", err)
	}

	for _, client := range clients {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.processClient(ctx, client); err != nil {
			o.logger.ErrorContext(ctx, "client scheduling failed",
				"error", err, "client_id", client.ID)
		}
	}
	return nil
}

// processClient sends at most one invitation for one client, honoring the
// client-local working window and daily quota.
func (o *InviteOrchestrator) processClient(ctx context.Context, client *domain.Client) error {
	if !client.SchedulerEligible() {
		return nil
	}

	loc := client.Location()
	localNow := o.now().In(loc)
	if localNow.Hour() < o.cfg.WindowStartHour || localNow.Hour() >= o.cfg.WindowEndHour {
		o.logger.DebugContext(ctx, "outside client working window",
			"client_id", client.ID, "local_hour", localNow.Hour())
		return nil
	}

	dayStart := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, loc)
	sentToday, err := o.invitations.CountSentSince(ctx, client.ID, client.ProviderAccountID, dayStart)
	if err != nil {
		return err
	}
	quota := client.EffectiveQuota(o.cfg.DefaultQuota)
	if sentToday >= quota {
		o.logger.DebugContext(ctx, "daily invite quota reached",
			"client_id", client.ID, "sent_today", sentToday, "quota", quota)
		invitationsDispatched.WithLabelValues("quota_reached").Inc()
		return nil
	}

	lead, err := o.leads.NextInvitable(ctx, client.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return o.invite(ctx, client, lead)
}

func (o *InviteOrchestrator) invite(ctx context.Context, client *domain.Client, lead *domain.Lead) error {
	providerID, lookupErr := o.lookupProviderID(ctx, client, lead)
	if lookupErr != nil {
		invitationsDispatched.WithLabelValues("identity_failed").Inc()
		return o.recordFailure(ctx, client, lead, lookupErr)
	}

	if err := o.provider.SendInvitation(ctx, client.ProviderAccountID, providerID, o.cfg.InvitationNote); err != nil {
		invitationsDispatched.WithLabelValues("send_failed").Inc()
		return o.recordFailure(ctx, client, lead, err)
	}

	inv := domain.NewInvitation(client.ID, lead.ID, client.ProviderAccountID, domain.InvitationSent)
	if err := inv.LearnProviderID(providerID); err != nil {
		o.logger.WarnContext(ctx, "provider id conflict on fresh invitation", "lead_id", lead.ID)
	}
	if err := o.invitations.Upsert(ctx, inv); err != nil {
		return err
	}
	if err := o.leads.MarkProcessed(ctx, client.ID, lead.ID); err != nil {
		o.logger.WarnContext(ctx, "failed marking lead processed", "error", err, "lead_id", lead.ID)
	}

	invitationsDispatched.WithLabelValues("sent").Inc()
	o.logger.InfoContext(ctx, "invitation sent",
		"client_id", client.ID, "lead_id", lead.ID)
	return nil
}

func (o *InviteOrchestrator) lookupProviderID(ctx context.Context, client *domain.Client, lead *domain.Lead) (string, error) {
	if lead.ProviderID.Valid && lead.ProviderID.String != "" {
		return lead.ProviderID.String, nil
	}
	slug := identity.ExtractSlug(lead.ProfileURL.String)
	if slug == "" {
		return "", fmt.Errorf("lead %s has no usable profile slug: %w", lead.ID, domain.ErrProviderIDMissing)
	}
	att, err := o.provider.GetUserProfile(ctx, client.ProviderAccountID, slug)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrProviderIDMissing, err)
	}
	if err := o.leads.CacheProviderIdentity(ctx, client.ID, lead.ID,
		nullString(att.ProviderID), nullString(slug)); err != nil {
		o.logger.WarnContext(ctx, "failed caching lead provider identity", "error", err, "lead_id", lead.ID)
	}
	return att.ProviderID, nil
}

// recordFailure writes a queued invitation carrying the failure detail. The
// row also excludes the lead from reselection, so one bad lead cannot pin
// the whole queue.
func (o *InviteOrchestrator) recordFailure(ctx context.Context, client *domain.Client, lead *domain.Lead, cause error) error {
	inv := domain.NewInvitation(client.ID, lead.ID, client.ProviderAccountID, domain.InvitationQueued)
	detail, _ := json.Marshal(map[string]string{
		"error": cause.Error(),
		"at":    o.now().UTC().Format(time.RFC3339),
	})
	inv.AttachRawLeg("failure", detail)
	if err := o.invitations.Upsert(ctx, inv); err != nil {
		return errors.Join(cause, err)
	}
	o.logger.WarnContext(ctx, "invitation dispatch failed, queued with detail",
		"error", cause, "client_id", client.ID, "lead_id", lead.ID)
	return nil
}
