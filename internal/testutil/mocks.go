package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/sitekeeper/sitekeeper/internal/billing"
	"github.com/sitekeeper/sitekeeper/internal/domain/account"
	"github.com/sitekeeper/sitekeeper/internal/domain/resettoken"
	"github.com/sitekeeper/sitekeeper/internal/pkg/errors"
)

// MockAccountRepository is an in-memory implementation of account.Repository
type MockAccountRepository struct {
	Accounts    map[string]*account.Account
	CreateError error
	GetError    error
	SaveError   error
}

func NewMockAccountRepository() *MockAccountRepository {
	return &MockAccountRepository{
		Accounts: make(map[string]*account.Account),
	}
}

func (m *MockAccountRepository) Create(ctx context.Context, a *account.Account) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	m.Accounts[a.ID] = a
	return nil
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*account.Account, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	a, ok := m.Accounts[id]
	if !ok {
		return nil, errors.NotFound("Account")
	}
	return a, nil
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*account.Account, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	for _, a := range m.Accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return nil, errors.NotFound("Account")
}

func (m *MockAccountRepository) GetByCustomerID(ctx context.Context, customerID string) (*account.Account, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	for _, a := range m.Accounts {
		if a.StripeCustomerID == customerID {
			return a, nil
		}
	}
	return nil, errors.NotFound("Account")
}

func (m *MockAccountRepository) SetCustomerID(ctx context.Context, accountID, customerID string) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	a, ok := m.Accounts[accountID]
	if !ok {
		return errors.NotFound("Account")
	}
	a.StripeCustomerID = customerID
	a.UpdatedAt = time.Now()
	return nil
}

func (m *MockAccountRepository) SetPaymentMethod(ctx context.Context, accountID string, pm *account.PaymentMethod) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	a, ok := m.Accounts[accountID]
	if !ok {
		return errors.NotFound("Account")
	}
	a.PaymentMethod = pm
	a.UpdatedAt = time.Now()
	return nil
}

func (m *MockAccountRepository) SaveSubscription(ctx context.Context, accountID string, sub *account.Subscription) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	a, ok := m.Accounts[accountID]
	if !ok {
		return errors.NotFound("Account")
	}
	a.Subscription = sub
	a.UpdatedAt = time.Now()
	return nil
}

func (m *MockAccountRepository) SetCancellation(ctx context.Context, accountID, reason string, canceledAt, expiresAt time.Time) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	a, ok := m.Accounts[accountID]
	if !ok {
		return errors.NotFound("Account")
	}
	if a.Subscription == nil {
		return errors.NotFound("Subscription")
	}
	a.Subscription.Status = account.StatusCanceled
	a.Subscription.CancelAtPeriodEnd = true
	a.Subscription.CanceledAt = &canceledAt
	a.Subscription.ExpiresAt = &expiresAt
	a.Subscription.CancellationReason = &reason
	a.UpdatedAt = time.Now()
	return nil
}

// MockTokenRepository is an in-memory implementation of resettoken.Repository.
// GetCalls counts reads so tests can assert that malformed tokens never reach
// storage.
type MockTokenRepository struct {
	Tokens      map[string]*resettoken.Token
	GetCalls    int
	RevertCalls int
	CreateError error
	GetError    error
	MarkError   error
	RevertError error
}

func NewMockTokenRepository() *MockTokenRepository {
	return &MockTokenRepository{
		Tokens: make(map[string]*resettoken.Token),
	}
}

func (m *MockTokenRepository) Create(ctx context.Context, t *resettoken.Token) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	cp := *t
	m.Tokens[t.Token] = &cp
	return nil
}

func (m *MockTokenRepository) Get(ctx context.Context, token string) (*resettoken.Token, error) {
	m.GetCalls++
	if m.GetError != nil {
		return nil, m.GetError
	}
	t, ok := m.Tokens[token]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *MockTokenRepository) MarkUsed(ctx context.Context, token string, usedAt time.Time) (bool, error) {
	if m.MarkError != nil {
		return false, m.MarkError
	}
	t, ok := m.Tokens[token]
	if !ok || t.Used {
		return false, nil
	}
	t.Used = true
	t.UsedAt = &usedAt
	return true, nil
}

func (m *MockTokenRepository) Revert(ctx context.Context, token string) error {
	m.RevertCalls++
	if m.RevertError != nil {
		return m.RevertError
	}
	if t, ok := m.Tokens[token]; ok {
		t.Used = false
		t.UsedAt = nil
	}
	return nil
}

// FakeBillingProvider is a scriptable in-memory billing.Provider
type FakeBillingProvider struct {
	Customers     map[string]*billing.Customer
	Subscriptions map[string]*billing.Subscription
	Coupons       map[string]*billing.Coupon
	Invoices      map[string]*billing.Invoice

	NextCustomerID     int
	NextSubscriptionID int

	CreateCustomerCalls     int
	CreateSubscriptionCalls int
	SwapCalls               []billing.SwapParams
	CancelCalls             []string

	CreateCustomerError     error
	CreateSubscriptionError error
	SwapError               error
	CancelError             error
	GetSubscriptionError    error

	WebhookEvent *billing.WebhookEvent
	WebhookError error
}

func NewFakeBillingProvider() *FakeBillingProvider {
	return &FakeBillingProvider{
		Customers:          make(map[string]*billing.Customer),
		Subscriptions:      make(map[string]*billing.Subscription),
		Coupons:            make(map[string]*billing.Coupon),
		Invoices:           make(map[string]*billing.Invoice),
		NextCustomerID:     1,
		NextSubscriptionID: 1,
	}
}

func (f *FakeBillingProvider) CreateCustomer(ctx context.Context, email, name, accountID string) (*billing.Customer, error) {
	f.CreateCustomerCalls++
	if f.CreateCustomerError != nil {
		return nil, f.CreateCustomerError
	}
	c := &billing.Customer{
		ID:    fakeID("cus", f.NextCustomerID),
		Email: email,
	}
	f.NextCustomerID++
	f.Customers[c.ID] = c
	return c, nil
}

func (f *FakeBillingProvider) GetCustomer(ctx context.Context, customerID string) (*billing.Customer, error) {
	c, ok := f.Customers[customerID]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return c, nil
}

func (f *FakeBillingProvider) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*billing.PaymentMethod, error) {
	if _, ok := f.Customers[customerID]; !ok {
		return nil, billing.ErrNotFound
	}
	return &billing.PaymentMethod{
		ID:       paymentMethodID,
		Brand:    "visa",
		Last4:    "4242",
		ExpMonth: 12,
		ExpYear:  2030,
	}, nil
}

func (f *FakeBillingProvider) CreateSubscription(ctx context.Context, params billing.CreateSubscriptionParams) (*billing.Subscription, error) {
	f.CreateSubscriptionCalls++
	if f.CreateSubscriptionError != nil {
		return nil, f.CreateSubscriptionError
	}
	now := time.Now()
	sub := &billing.Subscription{
		ID:           fakeID("sub", f.NextSubscriptionID),
		CustomerID:   params.CustomerID,
		Status:       "active",
		PriceID:      params.PriceID,
		PeriodStart:  now,
		PeriodEnd:    now.AddDate(0, 1, 0),
		ClientSecret: "pi_secret_test",
	}
	if params.CouponID != "" {
		sub.CouponID = params.CouponID
		if c, ok := f.Coupons[params.CouponID]; ok {
			sub.PercentOff = c.PercentOff
			sub.AmountOff = c.AmountOff
		}
	}
	f.NextSubscriptionID++
	f.Subscriptions[sub.ID] = sub
	return sub, nil
}

func (f *FakeBillingProvider) GetSubscription(ctx context.Context, subscriptionID string) (*billing.Subscription, error) {
	if f.GetSubscriptionError != nil {
		return nil, f.GetSubscriptionError
	}
	sub, ok := f.Subscriptions[subscriptionID]
	if !ok {
		return nil, billing.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (f *FakeBillingProvider) SwapPrice(ctx context.Context, params billing.SwapParams) (*billing.Subscription, error) {
	f.SwapCalls = append(f.SwapCalls, params)
	if f.SwapError != nil {
		return nil, f.SwapError
	}
	sub, ok := f.Subscriptions[params.SubscriptionID]
	if !ok {
		return nil, billing.ErrNotFound
	}
	sub.PriceID = params.PriceID
	sub.LatestInvoiceID = "in_test_swap"
	if params.ClearCancelAtPeriodEnd {
		sub.CancelAtPeriodEnd = false
		sub.CanceledAt = nil
	}
	cp := *sub
	return &cp, nil
}

func (f *FakeBillingProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*billing.Subscription, error) {
	f.CancelCalls = append(f.CancelCalls, subscriptionID)
	if f.CancelError != nil {
		return nil, f.CancelError
	}
	sub, ok := f.Subscriptions[subscriptionID]
	if !ok {
		return nil, billing.ErrNotFound
	}
	sub.CancelAtPeriodEnd = cancel
	if cancel {
		now := time.Now()
		sub.CanceledAt = &now
	} else {
		sub.CanceledAt = nil
	}
	cp := *sub
	return &cp, nil
}

func (f *FakeBillingProvider) GetInvoice(ctx context.Context, invoiceID string) (*billing.Invoice, error) {
	inv, ok := f.Invoices[invoiceID]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return inv, nil
}

func (f *FakeBillingProvider) GetCoupon(ctx context.Context, couponID string) (*billing.Coupon, error) {
	c, ok := f.Coupons[couponID]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return c, nil
}

func (f *FakeBillingProvider) CreateCheckoutSession(ctx context.Context, params billing.CheckoutSessionParams) (*billing.CheckoutSession, error) {
	return &billing.CheckoutSession{
		ID:  "cs_test",
		URL: "https://checkout.example.com/cs_test",
	}, nil
}

func (f *FakeBillingProvider) VerifyWebhook(payload []byte, signature string) (*billing.WebhookEvent, error) {
	if f.WebhookError != nil {
		return nil, f.WebhookError
	}
	return f.WebhookEvent, nil
}

func fakeID(prefix string, n int) string {
	return fmt.Sprintf("%s_%d", prefix, n)
}
