package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sitekeeper/sitekeeper/internal/api/dto"
	"github.com/sitekeeper/sitekeeper/internal/api/middleware"
	"github.com/sitekeeper/sitekeeper/internal/billing"
	"github.com/sitekeeper/sitekeeper/internal/config"
	"github.com/sitekeeper/sitekeeper/internal/domain/account"
	"github.com/sitekeeper/sitekeeper/internal/pkg/logger"
	"github.com/sitekeeper/sitekeeper/internal/pkg/validator"
	"github.com/sitekeeper/sitekeeper/internal/services"
	"github.com/sitekeeper/sitekeeper/internal/testutil"
)

func newBillingHandler() (*testutil.MockAccountRepository, *testutil.FakeBillingProvider, *BillingHandler) {
	repo := testutil.NewMockAccountRepository()
	provider := testutil.NewFakeBillingProvider()
	log := logger.New(logger.Config{Level: "error", Format: "json"})
	catalog := billing.NewCatalog(config.PriceConfig{
		EssentialMonthly: "price_ess_m",
		EssentialAnnual:  "price_ess_a",
		AdvancedMonthly:  "price_adv_m",
		AdvancedAnnual:   "price_adv_a",
		PremiumMonthly:   "price_prem_m",
		PremiumAnnual:    "price_prem_a",
		SafetyNetMonthly: "price_sn_m",
		SafetyNetAnnual:  "price_sn_a",
	})
	service := services.NewSubscriptionService(repo, provider, catalog, nil, "", log)
	cfg := &config.Config{
		Server: config.ServerConfig{FrontendURL: "http://localhost:5173"},
	}
	return repo, provider, NewBillingHandler(service, cfg, log, validator.New())
}

func seedBillingAccount(repo *testutil.MockAccountRepository, provider *testutil.FakeBillingProvider) {
	repo.Accounts["acct_1"] = &account.Account{
		ID:               "acct_1",
		Email:            "owner@example.com",
		StripeCustomerID: "cus_1",
		Subscription: &account.Subscription{
			Tier:                 billing.TierAdvanced,
			Status:               account.StatusActive,
			BillingCycle:         account.CycleMonthly,
			StripeSubscriptionID: "sub_1",
			StripePriceID:        "price_adv_m",
		},
	}
	provider.Subscriptions["sub_1"] = &billing.Subscription{
		ID:         "sub_1",
		CustomerID: "cus_1",
		Status:     "active",
		PriceID:    "price_adv_m",
		PeriodEnd:  time.Now().Add(20 * 24 * time.Hour),
	}
	provider.NextSubscriptionID = 2
}

func authedRequest(method, target string, body []byte) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	return req.WithContext(context.WithValue(req.Context(), middleware.AccountIDKey, "acct_1"))
}

func TestBillingHandler_ValidateCoupon(t *testing.T) {
	_, provider, handler := newBillingHandler()
	percentOff := 20.0
	provider.Coupons["SAVE20"] = &billing.Coupon{
		ID:         "SAVE20",
		Valid:      true,
		PercentOff: &percentOff,
		Duration:   "repeating",
	}

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		wantValid      bool
	}{
		{
			name:           "known coupon",
			body:           `{"couponCode":"SAVE20"}`,
			expectedStatus: http.StatusOK,
			wantValid:      true,
		},
		{
			name:           "unknown coupon is a normal outcome",
			body:           `{"couponCode":"NOPE"}`,
			expectedStatus: http.StatusOK,
			wantValid:      false,
		},
		{
			name:           "missing code",
			body:           `{}`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/coupon/validate", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()

			handler.ValidateCoupon(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d, body: %s", rr.Code, tt.expectedStatus, rr.Body.String())
			}
			if rr.Code != http.StatusOK {
				return
			}
			var resp struct {
				Data services.CouponResult `json:"data"`
			}
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Data.Valid != tt.wantValid {
				t.Errorf("valid = %v, want %v", resp.Data.Valid, tt.wantValid)
			}
		})
	}
}

func TestBillingHandler_CreateCheckoutSession(t *testing.T) {
	_, _, handler := newBillingHandler()

	tests := []struct {
		name           string
		body           string
		expectedStatus int
	}{
		{
			name:           "valid request",
			body:           `{"tier":"advanced","billingCycle":"monthly"}`,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "unknown billing cycle",
			body:           `{"tier":"advanced","billingCycle":"weekly"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "malformed body",
			body:           `{`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()

			handler.CreateCheckoutSession(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d, body: %s", rr.Code, tt.expectedStatus, rr.Body.String())
			}
		})
	}
}

func TestBillingHandler_CreateSubscription(t *testing.T) {
	repo, _, handler := newBillingHandler()
	repo.Accounts["acct_1"] = &account.Account{ID: "acct_1", Email: "owner@example.com"}

	body, _ := json.Marshal(dto.CreateSubscriptionRequest{
		Tier:         billing.TierPremium,
		BillingCycle: account.CycleAnnual,
	})
	req := authedRequest(http.MethodPost, "/api/v1/checkout/create-subscription", body)
	rr := httptest.NewRecorder()

	handler.CreateSubscription(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	var resp struct {
		Data services.CheckoutResult `json:"data"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Data.SubscriptionID == "" {
		t.Error("expected a subscription id in the response")
	}
	if resp.Data.ClientSecret == "" {
		t.Error("expected a client secret for payment confirmation")
	}
}

func TestBillingHandler_CreateSubscription_Unauthenticated(t *testing.T) {
	_, _, handler := newBillingHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/create-subscription",
		bytes.NewBufferString(`{"tier":"advanced","billingCycle":"monthly"}`))
	rr := httptest.NewRecorder()

	handler.CreateSubscription(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestBillingHandler_Upgrade(t *testing.T) {
	tests := []struct {
		name           string
		newTier        string
		expectedStatus int
	}{
		{
			name:           "higher tier",
			newTier:        "premium",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "same tier rejected",
			newTier:        "advanced",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "lower tier rejected",
			newTier:        "essential",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown tier rejected",
			newTier:        "platinum",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, provider, handler := newBillingHandler()
			seedBillingAccount(repo, provider)

			body, _ := json.Marshal(dto.UpgradeRequest{NewTier: tt.newTier})
			req := authedRequest(http.MethodPost, "/api/v1/subscription/upgrade", body)
			rr := httptest.NewRecorder()

			handler.Upgrade(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d, body: %s", rr.Code, tt.expectedStatus, rr.Body.String())
			}
		})
	}
}

func TestBillingHandler_Cancel_EmptyBody(t *testing.T) {
	repo, provider, handler := newBillingHandler()
	seedBillingAccount(repo, provider)

	req := authedRequest(http.MethodPost, "/api/v1/subscription/cancel", nil)
	rr := httptest.NewRecorder()

	handler.Cancel(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if got := repo.Accounts["acct_1"].Subscription.Status; got != account.StatusCanceled {
		t.Errorf("local status = %q, want %q", got, account.StatusCanceled)
	}
}

func TestBillingHandler_AttachPaymentMethod(t *testing.T) {
	repo, provider, handler := newBillingHandler()
	seedBillingAccount(repo, provider)

	body, _ := json.Marshal(dto.AttachPaymentMethodRequest{PaymentMethodID: "pm_card_visa"})
	req := authedRequest(http.MethodPost, "/api/v1/payment-method/attach", body)
	rr := httptest.NewRecorder()

	handler.AttachPaymentMethod(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	pm := repo.Accounts["acct_1"].PaymentMethod
	if pm == nil || pm.Last4 != "4242" {
		t.Errorf("payment method summary not stored: %+v", pm)
	}
}
