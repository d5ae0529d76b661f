package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sitekeeper/sitekeeper/internal/billing"
	"github.com/sitekeeper/sitekeeper/internal/domain/account"
	apperrors "github.com/sitekeeper/sitekeeper/internal/pkg/errors"
	"github.com/sitekeeper/sitekeeper/internal/pkg/logger"
	"github.com/sitekeeper/sitekeeper/internal/pkg/metrics"
)

// SubscriptionService orchestrates the subscription lifecycle: checkout, tier
// transitions, cancellation, reactivation and coupon validation. Local state
// is written only after the billing provider confirmed a change, except for
// the soft-cancel case where the local record flips to canceled immediately.
type SubscriptionService struct {
	accounts account.Repository
	provider billing.Provider
	catalog  *billing.Catalog
	slack    SlackService
	channel  string
	logger   *logger.Logger
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(accounts account.Repository, provider billing.Provider, catalog *billing.Catalog, slack SlackService, channel string, log *logger.Logger) *SubscriptionService {
	return &SubscriptionService{
		accounts: accounts,
		provider: provider,
		catalog:  catalog,
		slack:    slack,
		channel:  channel,
		logger:   log,
	}
}

// CheckoutInput is the input to direct subscription creation.
type CheckoutInput struct {
	AccountID       string
	Email           string
	Tier            string
	BillingCycle    string
	CouponCode      string
	PaymentMethodID string
}

// DiscountSummary describes an applied coupon.
type DiscountSummary struct {
	Coupon     string   `json:"coupon"`
	PercentOff *float64 `json:"percent_off,omitempty"`
	AmountOff  *int64   `json:"amount_off,omitempty"`
}

// CheckoutResult is returned from direct subscription creation.
type CheckoutResult struct {
	SubscriptionID string           `json:"subscription_id"`
	Status         string           `json:"status"`
	ClientSecret   string           `json:"client_secret,omitempty"`
	Discount       *DiscountSummary `json:"discount,omitempty"`
}

// ChangeResult is returned from tier-change operations.
type ChangeResult struct {
	SubscriptionID string    `json:"subscription_id"`
	Tier           string    `json:"tier"`
	Status         string    `json:"status"`
	PeriodEnd      time.Time `json:"period_end"`
	AmountCharged  *int64    `json:"amount_charged,omitempty"`
	Currency       string    `json:"currency,omitempty"`
}

// CancelResult is returned from a soft cancel.
type CancelResult struct {
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CouponResult is the ephemeral coupon validation outcome. Never persisted.
type CouponResult struct {
	Valid            bool     `json:"valid"`
	PercentOff       *float64 `json:"percent_off,omitempty"`
	AmountOff        *int64   `json:"amount_off,omitempty"`
	Currency         string   `json:"currency,omitempty"`
	Duration         string   `json:"duration,omitempty"`
	DurationInMonths int64    `json:"duration_in_months,omitempty"`
}

// Checkout creates a subscription for an account. The customer reference is
// persisted before the subscription call so a retry after a crash reuses the
// customer instead of creating a duplicate.
func (s *SubscriptionService) Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	priceID, ok := s.catalog.PriceID(in.Tier, in.BillingCycle)
	if !ok {
		metrics.RecordBillingOperation("checkout", "rejected")
		return nil, apperrors.InvalidTier(in.Tier)
	}

	acct, err := s.accounts.GetByID(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}

	customerID, err := s.resolveCustomer(ctx, acct, in.Email)
	if err != nil {
		metrics.RecordBillingOperation("checkout", "error")
		return nil, err
	}

	if in.PaymentMethodID != "" {
		pm, err := s.provider.AttachPaymentMethod(ctx, customerID, in.PaymentMethodID)
		if err != nil {
			metrics.RecordBillingOperation("checkout", "card_error")
			return nil, err
		}
		if err := s.accounts.SetPaymentMethod(ctx, in.AccountID, &account.PaymentMethod{
			StripePaymentMethodID: pm.ID,
			Brand:                 pm.Brand,
			Last4:                 pm.Last4,
			ExpMonth:              pm.ExpMonth,
			ExpYear:               pm.ExpYear,
		}); err != nil {
			return nil, err
		}
	}

	// An invalid coupon drops silently; checkout proceeds without discount.
	couponID := ""
	if in.CouponCode != "" {
		code := normalizeCoupon(in.CouponCode)
		coupon, err := s.provider.GetCoupon(ctx, code)
		if err != nil || !coupon.Valid {
			s.logger.With("account_id", in.AccountID).Warn("coupon invalid at checkout, proceeding without discount")
		} else {
			couponID = coupon.ID
		}
	}

	sub, err := s.provider.CreateSubscription(ctx, billing.CreateSubscriptionParams{
		CustomerID:      customerID,
		PriceID:         priceID,
		PaymentMethodID: in.PaymentMethodID,
		CouponID:        couponID,
	})
	if err != nil {
		metrics.RecordBillingOperation("checkout", "error")
		return nil, translateProviderErr(err, "Subscription")
	}

	stored := subscriptionRecord(sub, in.Tier, in.BillingCycle)
	if err := s.accounts.SaveSubscription(ctx, in.AccountID, stored); err != nil {
		return nil, err
	}

	metrics.RecordBillingOperation("checkout", "success")
	s.logger.WithFields(map[string]interface{}{
		"account_id": in.AccountID,
		"tier":       in.Tier,
		"cycle":      in.BillingCycle,
	}).Info("Subscription created")
	s.notify("New subscription: " + in.Tier + " (" + in.BillingCycle + ")")

	result := &CheckoutResult{
		SubscriptionID: sub.ID,
		Status:         stored.Status,
		ClientSecret:   sub.ClientSecret,
	}
	if sub.CouponID != "" {
		result.Discount = &DiscountSummary{
			Coupon:     sub.CouponID,
			PercentOff: sub.PercentOff,
			AmountOff:  sub.AmountOff,
		}
	}
	return result, nil
}

// CreateCheckoutSession builds a provider-hosted checkout page for the public
// pricing flow.
func (s *SubscriptionService) CreateCheckoutSession(ctx context.Context, tier, cycle, couponCode, successURL, cancelURL string) (*billing.CheckoutSession, error) {
	priceID, ok := s.catalog.PriceID(tier, cycle)
	if !ok {
		return nil, apperrors.InvalidTier(tier)
	}

	couponID := ""
	if couponCode != "" {
		code := normalizeCoupon(couponCode)
		coupon, err := s.provider.GetCoupon(ctx, code)
		if err == nil && coupon.Valid {
			couponID = coupon.ID
		}
	}

	sess, err := s.provider.CreateCheckoutSession(ctx, billing.CheckoutSessionParams{
		PriceID:    priceID,
		CouponID:   couponID,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})
	if err != nil {
		return nil, translateProviderErr(err, "Checkout session")
	}
	return sess, nil
}

// Upgrade moves an active subscription to a strictly higher tier, charging
// the prorated difference immediately.
func (s *SubscriptionService) Upgrade(ctx context.Context, accountID, newTier string) (*ChangeResult, error) {
	acct, sub, err := s.requireSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sub.Status != account.StatusActive {
		metrics.RecordBillingOperation("upgrade", "rejected")
		return nil, apperrors.Conflict("Subscription is not active")
	}
	if billing.TierRank(newTier) == 0 {
		metrics.RecordBillingOperation("upgrade", "rejected")
		return nil, apperrors.InvalidTier(newTier)
	}
	if billing.TierRank(newTier) <= billing.TierRank(sub.Tier) {
		metrics.RecordBillingOperation("upgrade", "rejected")
		return nil, apperrors.InvalidUpgradePath(sub.Tier, newTier)
	}

	priceID, ok := s.catalog.PriceID(newTier, sub.BillingCycle)
	if !ok {
		return nil, apperrors.InvalidTier(newTier)
	}

	updated, err := s.provider.SwapPrice(ctx, billing.SwapParams{
		SubscriptionID: sub.StripeSubscriptionID,
		PriceID:        priceID,
		Proration:      "always_invoice",
	})
	if err != nil {
		metrics.RecordBillingOperation("upgrade", "error")
		return nil, translateProviderErr(err, "Subscription")
	}

	result := &ChangeResult{
		SubscriptionID: updated.ID,
		Tier:           newTier,
		Status:         billing.MapStatus(updated.Status),
		PeriodEnd:      updated.PeriodEnd,
	}
	if updated.LatestInvoiceID != "" {
		if inv, err := s.provider.GetInvoice(ctx, updated.LatestInvoiceID); err == nil {
			result.AmountCharged = &inv.AmountDue
			result.Currency = inv.Currency
		} else {
			s.logger.WithError(err).Warn("failed to fetch proration invoice")
		}
	}

	if err := s.persistChange(ctx, acct.ID, sub, updated, newTier); err != nil {
		return nil, err
	}

	metrics.RecordBillingOperation("upgrade", "success")
	s.logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"from":       sub.Tier,
		"to":         newTier,
	}).Info("Subscription upgraded")
	s.notify("Upgrade: " + sub.Tier + " -> " + newTier)

	return result, nil
}

// Downgrade moves a subscription to any valid tier, crediting unused time
// toward the next invoice.
func (s *SubscriptionService) Downgrade(ctx context.Context, accountID, newTier string) (*ChangeResult, error) {
	acct, sub, err := s.requireSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !billing.ValidTier(newTier) {
		metrics.RecordBillingOperation("downgrade", "rejected")
		return nil, apperrors.InvalidTier(newTier)
	}

	priceID, ok := s.catalog.PriceID(newTier, sub.BillingCycle)
	if !ok {
		return nil, apperrors.InvalidTier(newTier)
	}

	updated, err := s.provider.SwapPrice(ctx, billing.SwapParams{
		SubscriptionID: sub.StripeSubscriptionID,
		PriceID:        priceID,
		Proration:      "create_prorations",
	})
	if err != nil {
		metrics.RecordBillingOperation("downgrade", "error")
		return nil, translateProviderErr(err, "Subscription")
	}

	if err := s.persistChange(ctx, acct.ID, sub, updated, newTier); err != nil {
		return nil, err
	}

	metrics.RecordBillingOperation("downgrade", "success")
	s.logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"from":       sub.Tier,
		"to":         newTier,
	}).Info("Subscription downgraded")
	s.notify("Downgrade: " + sub.Tier + " -> " + newTier)

	return &ChangeResult{
		SubscriptionID: updated.ID,
		Tier:           newTier,
		Status:         billing.MapStatus(updated.Status),
		PeriodEnd:      updated.PeriodEnd,
	}, nil
}

// SwitchSafetyNet moves a subscription onto the reduced safety-net plan,
// keeping the current billing cycle.
func (s *SubscriptionService) SwitchSafetyNet(ctx context.Context, accountID, currentSubscriptionID string) (*ChangeResult, error) {
	acct, sub, err := s.requireSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if currentSubscriptionID != "" && currentSubscriptionID != sub.StripeSubscriptionID {
		metrics.RecordBillingOperation("switch_safety_net", "rejected")
		return nil, apperrors.Conflict("Subscription reference does not match the account")
	}

	priceID, ok := s.catalog.PriceID(billing.TierSafetyNet, sub.BillingCycle)
	if !ok {
		return nil, apperrors.InvalidTier(billing.TierSafetyNet)
	}

	updated, err := s.provider.SwapPrice(ctx, billing.SwapParams{
		SubscriptionID: sub.StripeSubscriptionID,
		PriceID:        priceID,
		Proration:      "create_prorations",
	})
	if err != nil {
		metrics.RecordBillingOperation("switch_safety_net", "error")
		return nil, translateProviderErr(err, "Subscription")
	}

	if err := s.persistChange(ctx, acct.ID, sub, updated, billing.TierSafetyNet); err != nil {
		return nil, err
	}

	metrics.RecordBillingOperation("switch_safety_net", "success")
	s.logger.With("account_id", accountID).Info("Subscription switched to safety-net")
	s.notify("Safety-net switch: " + sub.Tier + " -> " + billing.TierSafetyNet)

	return &ChangeResult{
		SubscriptionID: updated.ID,
		Tier:           billing.TierSafetyNet,
		Status:         billing.MapStatus(updated.Status),
		PeriodEnd:      updated.PeriodEnd,
	}, nil
}

// Cancel soft-cancels at the billing provider and flips the local record to
// canceled immediately. Service continues until the period end.
func (s *SubscriptionService) Cancel(ctx context.Context, accountID, reason string) (*CancelResult, error) {
	acct, sub, err := s.requireSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}

	updated, err := s.provider.CancelAtPeriodEnd(ctx, sub.StripeSubscriptionID, true)
	if err != nil {
		metrics.RecordBillingOperation("cancel", "error")
		return nil, translateProviderErr(err, "Subscription")
	}

	if reason == "" {
		reason = "No reason provided"
	}
	canceledAt := time.Now()
	if updated.CanceledAt != nil {
		canceledAt = *updated.CanceledAt
	}
	if err := s.accounts.SetCancellation(ctx, acct.ID, reason, canceledAt, updated.PeriodEnd); err != nil {
		return nil, err
	}

	metrics.RecordBillingOperation("cancel", "success")
	s.logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"reason":     reason,
	}).Info("Subscription canceled")
	s.notify("Cancellation (" + sub.Tier + "): " + reason)

	return &CancelResult{
		Status:    account.StatusCanceled,
		ExpiresAt: updated.PeriodEnd,
	}, nil
}

// reactivateAction is the outcome of the reactivation decision table.
type reactivateAction int

const (
	reactivateNoCustomer reactivateAction = iota
	reactivateCreateFresh
	reactivateUndoCancelSwap
	reactivatePlainSwap
)

// decideReactivation maps the observable subscription state to a reactivation
// action. Pure so the branch matrix is testable without any provider call.
func decideReactivation(hasCustomerRef, hasSubscriptionRef, providerExists, flaggedForCancel, fullyCanceled bool) reactivateAction {
	if !hasSubscriptionRef || !providerExists {
		if !hasCustomerRef {
			return reactivateNoCustomer
		}
		return reactivateCreateFresh
	}
	if fullyCanceled {
		if !hasCustomerRef {
			return reactivateNoCustomer
		}
		return reactivateCreateFresh
	}
	if flaggedForCancel {
		return reactivateUndoCancelSwap
	}
	return reactivatePlainSwap
}

// Reactivate restores service on the requested tier. The branch is selected
// from the billing provider's view of the subscription, not the local record,
// which may be stale.
func (s *SubscriptionService) Reactivate(ctx context.Context, accountID, newTier string) (*ChangeResult, error) {
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !billing.ValidTier(newTier) {
		metrics.RecordBillingOperation("reactivate", "rejected")
		return nil, apperrors.InvalidTier(newTier)
	}

	cycle := account.CycleMonthly
	subRef := ""
	if acct.Subscription != nil {
		subRef = acct.Subscription.StripeSubscriptionID
		if acct.Subscription.BillingCycle != "" {
			cycle = acct.Subscription.BillingCycle
		}
	}
	priceID, ok := s.catalog.PriceID(newTier, cycle)
	if !ok {
		return nil, apperrors.InvalidTier(newTier)
	}

	var remote *billing.Subscription
	providerExists := false
	if subRef != "" {
		remote, err = s.provider.GetSubscription(ctx, subRef)
		switch {
		case err == nil:
			providerExists = true
		case errors.Is(err, billing.ErrNotFound):
			// fall through to the create-fresh branch
		default:
			metrics.RecordBillingOperation("reactivate", "error")
			return nil, translateProviderErr(err, "Subscription")
		}
	}

	flagged := providerExists && remote.CancelAtPeriodEnd
	canceled := providerExists && remote.Status == "canceled"

	var updated *billing.Subscription
	switch decideReactivation(acct.StripeCustomerID != "", subRef != "", providerExists, flagged, canceled) {
	case reactivateNoCustomer:
		metrics.RecordBillingOperation("reactivate", "rejected")
		return nil, apperrors.NoCustomerOnFile()
	case reactivateCreateFresh:
		updated, err = s.provider.CreateSubscription(ctx, billing.CreateSubscriptionParams{
			CustomerID: acct.StripeCustomerID,
			PriceID:    priceID,
		})
	case reactivateUndoCancelSwap:
		updated, err = s.provider.SwapPrice(ctx, billing.SwapParams{
			SubscriptionID:         subRef,
			PriceID:                priceID,
			Proration:              "create_prorations",
			ClearCancelAtPeriodEnd: true,
		})
	case reactivatePlainSwap:
		updated, err = s.provider.SwapPrice(ctx, billing.SwapParams{
			SubscriptionID: subRef,
			PriceID:        priceID,
			Proration:      "create_prorations",
		})
	}
	if err != nil {
		metrics.RecordBillingOperation("reactivate", "error")
		return nil, translateProviderErr(err, "Subscription")
	}

	// All branches converge on the same record shape: active, new reference,
	// cancellation fields cleared.
	stored := subscriptionRecord(updated, newTier, cycle)
	stored.Status = account.StatusActive
	if err := s.accounts.SaveSubscription(ctx, accountID, stored); err != nil {
		return nil, err
	}

	metrics.RecordBillingOperation("reactivate", "success")
	s.logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"tier":       newTier,
	}).Info("Subscription reactivated")
	s.notify("Reactivation: " + newTier)

	return &ChangeResult{
		SubscriptionID: updated.ID,
		Tier:           newTier,
		Status:         account.StatusActive,
		PeriodEnd:      updated.PeriodEnd,
	}, nil
}

// ValidateCoupon checks a coupon code against the billing provider. An
// unknown or expired code is a normal outcome, not an error.
func (s *SubscriptionService) ValidateCoupon(ctx context.Context, code string) (*CouponResult, error) {
	code = normalizeCoupon(code)
	if code == "" {
		return &CouponResult{Valid: false}, nil
	}

	coupon, err := s.provider.GetCoupon(ctx, code)
	if errors.Is(err, billing.ErrNotFound) {
		return &CouponResult{Valid: false}, nil
	}
	if err != nil {
		return nil, err
	}
	if !coupon.Valid {
		return &CouponResult{Valid: false}, nil
	}

	return &CouponResult{
		Valid:            true,
		PercentOff:       coupon.PercentOff,
		AmountOff:        coupon.AmountOff,
		Currency:         coupon.Currency,
		Duration:         coupon.Duration,
		DurationInMonths: coupon.DurationInMonths,
	}, nil
}

// AttachPaymentMethod attaches a card to the account's customer and stores
// its summary.
func (s *SubscriptionService) AttachPaymentMethod(ctx context.Context, accountID, paymentMethodID string) (*account.PaymentMethod, error) {
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.StripeCustomerID == "" {
		return nil, apperrors.NoCustomerOnFile()
	}

	pm, err := s.provider.AttachPaymentMethod(ctx, acct.StripeCustomerID, paymentMethodID)
	if err != nil {
		metrics.RecordBillingOperation("attach_payment_method", "card_error")
		return nil, err
	}

	summary := &account.PaymentMethod{
		StripePaymentMethodID: pm.ID,
		Brand:                 pm.Brand,
		Last4:                 pm.Last4,
		ExpMonth:              pm.ExpMonth,
		ExpYear:               pm.ExpYear,
	}
	if err := s.accounts.SetPaymentMethod(ctx, accountID, summary); err != nil {
		return nil, err
	}

	metrics.RecordBillingOperation("attach_payment_method", "success")
	return summary, nil
}

// resolveCustomer reuses the stored customer reference or creates a new one,
// persisting the reference before returning.
func (s *SubscriptionService) resolveCustomer(ctx context.Context, acct *account.Account, email string) (string, error) {
	if acct.StripeCustomerID != "" {
		if _, err := s.provider.GetCustomer(ctx, acct.StripeCustomerID); err == nil {
			return acct.StripeCustomerID, nil
		} else if !errors.Is(err, billing.ErrNotFound) {
			return "", err
		}
		// Stored reference is stale at the provider; fall through and
		// create a replacement.
	}

	if email == "" {
		email = acct.Email
	}
	cust, err := s.provider.CreateCustomer(ctx, email, stringValue(acct.CompanyName), acct.ID)
	if err != nil {
		return "", err
	}
	if err := s.accounts.SetCustomerID(ctx, acct.ID, cust.ID); err != nil {
		return "", err
	}
	acct.StripeCustomerID = cust.ID
	return cust.ID, nil
}

// requireSubscription loads the account and its provider-linked subscription.
func (s *SubscriptionService) requireSubscription(ctx context.Context, accountID string) (*account.Account, *account.Subscription, error) {
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	if acct.Subscription == nil || acct.Subscription.StripeSubscriptionID == "" {
		return nil, nil, apperrors.NotFound("Subscription")
	}
	return acct, acct.Subscription, nil
}

// persistChange writes the post-swap subscription subtree, preserving the
// existing cancellation metadata unless the provider cleared the flag.
func (s *SubscriptionService) persistChange(ctx context.Context, accountID string, prev *account.Subscription, updated *billing.Subscription, newTier string) error {
	stored := subscriptionRecord(updated, newTier, prev.BillingCycle)
	if updated.CancelAtPeriodEnd {
		stored.CanceledAt = prev.CanceledAt
		stored.ExpiresAt = prev.ExpiresAt
		stored.CancellationReason = prev.CancellationReason
	}
	if stored.Coupon == nil {
		stored.Coupon = prev.Coupon
		stored.PercentOff = prev.PercentOff
		stored.AmountOff = prev.AmountOff
	}
	return s.accounts.SaveSubscription(ctx, accountID, stored)
}

// subscriptionRecord maps a provider subscription into the stored subtree.
func subscriptionRecord(sub *billing.Subscription, tier, cycle string) *account.Subscription {
	stored := &account.Subscription{
		Tier:                 tier,
		Status:               billing.MapStatus(sub.Status),
		BillingCycle:         cycle,
		StripeSubscriptionID: sub.ID,
		StripePriceID:        sub.PriceID,
		PeriodStart:          sub.PeriodStart,
		PeriodEnd:            sub.PeriodEnd,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		CanceledAt:           sub.CanceledAt,
	}
	if sub.CouponID != "" {
		coupon := sub.CouponID
		stored.Coupon = &coupon
		stored.PercentOff = sub.PercentOff
		stored.AmountOff = sub.AmountOff
	}
	return stored
}

// notify sends a best-effort staff notification. Never blocks or fails the
// calling operation.
func (s *SubscriptionService) notify(message string) {
	if s.slack == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.slack.Send(ctx, s.channel, message); err != nil {
			s.logger.WithError(err).Warn("slack notification failed")
		}
	}()
}

// translateProviderErr maps the ErrNotFound sentinel onto the caller-facing
// taxonomy; card and availability errors already carry their classification.
func translateProviderErr(err error, resource string) error {
	if errors.Is(err, billing.ErrNotFound) {
		return apperrors.NotFound(resource)
	}
	return err
}

func normalizeCoupon(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
