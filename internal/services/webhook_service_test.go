package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/sitekeeper/sitekeeper/internal/billing"
	"github.com/sitekeeper/sitekeeper/internal/domain/account"
	"github.com/sitekeeper/sitekeeper/internal/pkg/logger"
	"github.com/sitekeeper/sitekeeper/internal/testutil"
)

func newTestWebhookService(repo *testutil.MockAccountRepository) *WebhookService {
	log := logger.New(logger.Config{Level: "error", Format: "json"})
	return NewWebhookService(repo, testCatalog(), nil, "", log)
}

func subscriptionEventJSON(subID, customerID, status, priceID string, cancelFlag bool) json.RawMessage {
	start := time.Now().Unix()
	end := time.Now().Add(30 * 24 * time.Hour).Unix()
	payload := fmt.Sprintf(`{
		"id": %q,
		"customer": %q,
		"status": %q,
		"cancel_at_period_end": %t,
		"items": {"data": [{"current_period_start": %d, "current_period_end": %d, "price": {"id": %q}}]}
	}`, subID, customerID, status, cancelFlag, start, end, priceID)
	return json.RawMessage(payload)
}

func TestWebhookService_SubscriptionUpdated_OverwritesTier(t *testing.T) {
	repo := testutil.NewMockAccountRepository()
	service := newTestWebhookService(repo)
	acct := seedAccount(repo, true)
	acct.Subscription.Tier = billing.TierEssential
	acct.Subscription.StripePriceID = "price_ess_a"

	// The provider says the customer is now on the advanced annual price,
	// even though no local operation ever mentioned advanced.
	event := &billing.WebhookEvent{
		ID:   "evt_1",
		Type: "customer.subscription.updated",
		Data: subscriptionEventJSON("sub_1", "cus_1", "active", "price_adv_a", false),
	}

	if err := service.Process(context.Background(), event); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	stored := repo.Accounts["acct_1"].Subscription
	if stored.Tier != billing.TierAdvanced {
		t.Errorf("stored tier = %q, want advanced", stored.Tier)
	}
	if stored.BillingCycle != account.CycleAnnual {
		t.Errorf("stored cycle = %q, want annual", stored.BillingCycle)
	}
	if stored.Status != account.StatusActive {
		t.Errorf("stored status = %q, want active", stored.Status)
	}
}

func TestWebhookService_SubscriptionUpdated_IdempotentReplay(t *testing.T) {
	repo := testutil.NewMockAccountRepository()
	service := newTestWebhookService(repo)
	seedAccount(repo, true)

	data := subscriptionEventJSON("sub_1", "cus_1", "past_due", "price_adv_m", false)

	// Same payload under two distinct event ids, so the dedup cache does not
	// short-circuit the second apply.
	for i, id := range []string{"evt_a", "evt_b"} {
		event := &billing.WebhookEvent{ID: id, Type: "customer.subscription.updated", Data: data}
		if err := service.Process(context.Background(), event); err != nil {
			t.Fatalf("Process() #%d error = %v", i+1, err)
		}
	}

	stored := repo.Accounts["acct_1"].Subscription
	if stored.Status != account.StatusInactive {
		t.Errorf("stored status = %q, want inactive", stored.Status)
	}
	if stored.Tier != billing.TierAdvanced {
		t.Errorf("stored tier = %q, want advanced", stored.Tier)
	}
}

func TestWebhookService_DuplicateEventSkipped(t *testing.T) {
	repo := testutil.NewMockAccountRepository()
	service := newTestWebhookService(repo)
	seedAccount(repo, true)

	event := &billing.WebhookEvent{
		ID:   "evt_dup",
		Type: "customer.subscription.updated",
		Data: subscriptionEventJSON("sub_1", "cus_1", "active", "price_pre_m", false),
	}
	if err := service.Process(context.Background(), event); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	// Mutate the local record, then replay the identical event id. The
	// cached id must prevent a second apply.
	repo.Accounts["acct_1"].Subscription.Tier = billing.TierEssential
	if err := service.Process(context.Background(), event); err != nil {
		t.Fatalf("Process() replay error = %v", err)
	}
	if got := repo.Accounts["acct_1"].Subscription.Tier; got != billing.TierEssential {
		t.Errorf("tier = %q, duplicate event should not have been reapplied", got)
	}
}

func TestWebhookService_SubscriptionDeleted(t *testing.T) {
	repo := testutil.NewMockAccountRepository()
	service := newTestWebhookService(repo)
	seedAccount(repo, true)

	event := &billing.WebhookEvent{
		ID:   "evt_del",
		Type: "customer.subscription.deleted",
		Data: subscriptionEventJSON("sub_1", "cus_1", "canceled", "price_adv_m", true),
	}
	if err := service.Process(context.Background(), event); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	stored := repo.Accounts["acct_1"].Subscription
	if stored.Status != account.StatusCanceled || !stored.CancelAtPeriodEnd {
		t.Errorf("stored subscription = %+v, want canceled with flag set", stored)
	}
}

func TestWebhookService_CheckoutCompleted_LinksReferences(t *testing.T) {
	repo := testutil.NewMockAccountRepository()
	service := newTestWebhookService(repo)
	seedAccount(repo, false)

	data := json.RawMessage(`{
		"id": "cs_1",
		"customer": "cus_new",
		"subscription": "sub_new",
		"client_reference_id": "acct_1"
	}`)
	event := &billing.WebhookEvent{ID: "evt_cs", Type: "checkout.session.completed", Data: data}

	if err := service.Process(context.Background(), event); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	acct := repo.Accounts["acct_1"]
	if acct.StripeCustomerID != "cus_new" {
		t.Errorf("customer ref = %q, want cus_new", acct.StripeCustomerID)
	}
	if acct.Subscription == nil || acct.Subscription.StripeSubscriptionID != "sub_new" {
		t.Errorf("subscription ref not linked: %+v", acct.Subscription)
	}
}

func TestWebhookService_UnknownEventIgnored(t *testing.T) {
	repo := testutil.NewMockAccountRepository()
	service := newTestWebhookService(repo)

	event := &billing.WebhookEvent{ID: "evt_x", Type: "invoice.finalized", Data: json.RawMessage(`{}`)}
	if err := service.Process(context.Background(), event); err != nil {
		t.Errorf("Process() error = %v, unknown events must be acknowledged", err)
	}
}

func TestWebhookService_UnknownCustomerFailsForRetry(t *testing.T) {
	repo := testutil.NewMockAccountRepository()
	service := newTestWebhookService(repo)

	event := &billing.WebhookEvent{
		ID:   "evt_orphan",
		Type: "customer.subscription.updated",
		Data: subscriptionEventJSON("sub_9", "cus_unknown", "active", "price_adv_m", false),
	}
	if err := service.Process(context.Background(), event); err == nil {
		t.Error("Process() = nil, want error so the provider retries delivery")
	}
}

func TestWebhookService_SubscriptionUpdated_PreservesCoupon(t *testing.T) {
	repo := testutil.NewMockAccountRepository()
	service := newTestWebhookService(repo)
	acct := seedAccount(repo, true)
	coupon := "SAVE20"
	percent := 20.0
	acct.Subscription.Coupon = &coupon
	acct.Subscription.PercentOff = &percent

	event := &billing.WebhookEvent{
		ID:   "evt_c",
		Type: "customer.subscription.updated",
		Data: subscriptionEventJSON("sub_1", "cus_1", "active", "price_adv_m", false),
	}
	if err := service.Process(context.Background(), event); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	stored := repo.Accounts["acct_1"].Subscription
	if stored.Coupon == nil || *stored.Coupon != "SAVE20" {
		t.Errorf("coupon = %v, want preserved SAVE20", stored.Coupon)
	}
}
