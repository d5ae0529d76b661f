package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sitekeeper/sitekeeper/internal/billing"
	"github.com/sitekeeper/sitekeeper/internal/domain/account"
	"github.com/sitekeeper/sitekeeper/internal/pkg/logger"
	"github.com/sitekeeper/sitekeeper/internal/pkg/metrics"
)

// WebhookService reconciles billing-provider push events into the account
// store. Provider state always wins over local optimism: each handled event
// re-derives the full subscription subtree and overwrites it, so replaying
// the same event is safe.
type WebhookService struct {
	accounts account.Repository
	catalog  *billing.Catalog
	slack    SlackService
	channel  string
	logger   *logger.Logger
	seen     *dedupCache
}

// NewWebhookService creates a new webhook reconciliation service
func NewWebhookService(accounts account.Repository, catalog *billing.Catalog, slack SlackService, channel string, log *logger.Logger) *WebhookService {
	return &WebhookService{
		accounts: accounts,
		catalog:  catalog,
		slack:    slack,
		channel:  channel,
		logger:   log,
		seen:     newDedupCache(30 * time.Minute),
	}
}

// Lean decode targets for provider event payloads. Only the fields the
// reconciliation needs.

type checkoutSessionEvent struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Subscription      string `json:"subscription"`
	ClientReferenceID string `json:"client_reference_id"`
}

type subscriptionEvent struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CanceledAt        int64  `json:"canceled_at"`
	Items             struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type invoiceEvent struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	AmountDue        int64  `json:"amount_due"`
	Currency         string `json:"currency"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
}

// Process applies a verified event. A returned error signals the caller to
// answer 500 so the provider retries delivery; it never means permanent
// rejection.
func (s *WebhookService) Process(ctx context.Context, event *billing.WebhookEvent) error {
	if s.seen.Seen(event.ID) {
		s.logger.With("event_id", event.ID).Debug("duplicate webhook event, skipping")
		metrics.RecordWebhookEvent(event.Type, "duplicate")
		return nil
	}

	var err error
	switch event.Type {
	case "checkout.session.completed":
		err = s.handleCheckoutCompleted(ctx, event.Data)
	case "customer.subscription.created", "customer.subscription.updated":
		err = s.handleSubscriptionChanged(ctx, event.Data)
	case "customer.subscription.deleted":
		err = s.handleSubscriptionDeleted(ctx, event.Data)
	case "invoice.payment_failed":
		err = s.handlePaymentFailed(ctx, event.Data)
	default:
		metrics.RecordWebhookEvent(event.Type, "ignored")
		return nil
	}

	if err != nil {
		metrics.RecordWebhookEvent(event.Type, "error")
		s.logger.WithError(err).With("event_id", event.ID).Error("webhook processing failed")
		return err
	}

	s.seen.Mark(event.ID)
	metrics.RecordWebhookEvent(event.Type, "success")
	return nil
}

// handleCheckoutCompleted links the provider customer and subscription
// references onto the account carried through checkout.
func (s *WebhookService) handleCheckoutCompleted(ctx context.Context, data json.RawMessage) error {
	var sess checkoutSessionEvent
	if err := json.Unmarshal(data, &sess); err != nil {
		return err
	}
	if sess.ClientReferenceID == "" {
		s.logger.Warn("checkout session without client reference, skipping")
		return nil
	}

	acct, err := s.accounts.GetByID(ctx, sess.ClientReferenceID)
	if err != nil {
		return err
	}

	if sess.Customer != "" && acct.StripeCustomerID != sess.Customer {
		if err := s.accounts.SetCustomerID(ctx, acct.ID, sess.Customer); err != nil {
			return err
		}
	}

	if sess.Subscription != "" {
		sub := &account.Subscription{Status: account.StatusActive, StripeSubscriptionID: sess.Subscription}
		if acct.Subscription != nil {
			sub = acct.Subscription
			sub.StripeSubscriptionID = sess.Subscription
			sub.Status = account.StatusActive
		}
		if err := s.accounts.SaveSubscription(ctx, acct.ID, sub); err != nil {
			return err
		}
	}

	s.logger.With("account_id", acct.ID).Info("checkout session linked")
	return nil
}

// handleSubscriptionChanged overwrites the subscription subtree from the
// provider's view. The account is matched by customer reference since the
// event does not carry the account id.
func (s *WebhookService) handleSubscriptionChanged(ctx context.Context, data json.RawMessage) error {
	var ev subscriptionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}

	acct, err := s.accounts.GetByCustomerID(ctx, ev.Customer)
	if err != nil {
		return err
	}

	sub := &account.Subscription{
		Status:               billing.MapStatus(ev.Status),
		StripeSubscriptionID: ev.ID,
		CancelAtPeriodEnd:    ev.CancelAtPeriodEnd,
	}
	if ev.CanceledAt > 0 {
		t := time.Unix(ev.CanceledAt, 0)
		sub.CanceledAt = &t
	}
	if len(ev.Items.Data) > 0 {
		item := ev.Items.Data[0]
		sub.StripePriceID = item.Price.ID
		sub.PeriodStart = time.Unix(item.CurrentPeriodStart, 0)
		sub.PeriodEnd = time.Unix(item.CurrentPeriodEnd, 0)
		if tier, ok := s.catalog.TierForPrice(item.Price.ID); ok {
			sub.Tier = tier
		}
		if cycle, ok := s.catalog.CycleForPrice(item.Price.ID); ok {
			sub.BillingCycle = cycle
		}
	}

	// The event payload carries no coupon detail; keep what checkout stored.
	if prev := acct.Subscription; prev != nil {
		if sub.Tier == "" {
			sub.Tier = prev.Tier
		}
		if sub.BillingCycle == "" {
			sub.BillingCycle = prev.BillingCycle
		}
		sub.Coupon = prev.Coupon
		sub.PercentOff = prev.PercentOff
		sub.AmountOff = prev.AmountOff
		sub.CancellationReason = prev.CancellationReason
		sub.ExpiresAt = prev.ExpiresAt
	}

	if err := s.accounts.SaveSubscription(ctx, acct.ID, sub); err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"account_id": acct.ID,
		"tier":       sub.Tier,
		"status":     sub.Status,
	}).Info("subscription reconciled")
	return nil
}

// handleSubscriptionDeleted marks the matched account canceled.
func (s *WebhookService) handleSubscriptionDeleted(ctx context.Context, data json.RawMessage) error {
	var ev subscriptionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}

	acct, err := s.accounts.GetByCustomerID(ctx, ev.Customer)
	if err != nil {
		return err
	}

	sub := acct.Subscription
	if sub == nil {
		sub = &account.Subscription{StripeSubscriptionID: ev.ID}
	}
	sub.Status = account.StatusCanceled
	sub.CancelAtPeriodEnd = true
	if ev.CanceledAt > 0 {
		t := time.Unix(ev.CanceledAt, 0)
		sub.CanceledAt = &t
	}

	if err := s.accounts.SaveSubscription(ctx, acct.ID, sub); err != nil {
		return err
	}

	s.logger.With("account_id", acct.ID).Info("subscription ended at provider")
	return nil
}

// handlePaymentFailed notifies staff. The status flip to inactive arrives
// separately through the subscription updated event.
func (s *WebhookService) handlePaymentFailed(ctx context.Context, data json.RawMessage) error {
	var ev invoiceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}

	acct, err := s.accounts.GetByCustomerID(ctx, ev.Customer)
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"account_id": acct.ID,
		"invoice_id": ev.ID,
		"amount_due": ev.AmountDue,
	}).Warn("invoice payment failed")

	if s.slack != nil {
		if err := s.slack.Send(ctx, s.channel, "Payment failed for "+acct.Email); err != nil {
			s.logger.WithError(err).Warn("slack notification failed")
		}
	}
	return nil
}

// dedupCache is a best-effort in-process replay guard keyed by event id. It
// offers no cross-instance guarantee; idempotency rests on the
// overwrite-on-apply reconciliation itself.
type dedupCache struct {
	mu  sync.Mutex
	ttl time.Duration
	ids map[string]time.Time
}

func newDedupCache(ttl time.Duration) *dedupCache {
	return &dedupCache{
		ttl: ttl,
		ids: make(map[string]time.Time),
	}
}

func (c *dedupCache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.ids[id]
	if !ok {
		return false
	}
	if time.Since(at) > c.ttl {
		delete(c.ids, id)
		return false
	}
	return true
}

func (c *dedupCache) Mark(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, at := range c.ids {
		if now.Sub(at) > c.ttl {
			delete(c.ids, k)
		}
	}
	c.ids[id] = now
}
