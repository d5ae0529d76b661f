package billing

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by provider lookups when the referenced object does
// not exist on the billing provider.
var ErrNotFound = errors.New("billing: object not found")

// Customer is the provider-side customer record.
type Customer struct {
	ID    string
	Email string
}

// PaymentMethod is a card on file with the billing provider.
type PaymentMethod struct {
	ID       string
	Brand    string
	Last4    string
	ExpMonth int64
	ExpYear  int64
}

// Subscription is the provider-side subscription state needed for
// reconciliation and lifecycle decisions.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	PriceID           string
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
	LatestInvoiceID   string
	ClientSecret      string
	CouponID          string
	PercentOff        *float64
	AmountOff         *int64
}

// Coupon is a provider discount definition.
type Coupon struct {
	ID               string
	Valid            bool
	PercentOff       *float64
	AmountOff        *int64
	Currency         string
	Duration         string
	DurationInMonths int64
}

// Invoice carries the fields surfaced for payment-failure notifications.
type Invoice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	AmountDue      int64
	Currency       string
	HostedURL      string
}

// CheckoutSession is a provider-hosted payment page reference.
type CheckoutSession struct {
	ID  string
	URL string
}

// WebhookEvent is a verified provider event. Data holds the provider's raw
// object payload for type-specific decoding.
type WebhookEvent struct {
	ID   string
	Type string
	Data json.RawMessage
}

// CreateSubscriptionParams configures subscription creation.
type CreateSubscriptionParams struct {
	CustomerID      string
	PriceID         string
	PaymentMethodID string
	CouponID        string
}

// SwapParams configures an in-place price change on an existing subscription.
type SwapParams struct {
	SubscriptionID string
	PriceID        string
	// Proration is the provider proration behavior, e.g. "always_invoice"
	// for immediate charges on upgrades or "create_prorations" for
	// deferred credits on downgrades.
	Proration string
	// ClearCancelAtPeriodEnd unsets a pending cancellation alongside the
	// price change.
	ClearCancelAtPeriodEnd bool
}

// CheckoutSessionParams configures a provider-hosted checkout page.
type CheckoutSessionParams struct {
	CustomerID string
	PriceID    string
	CouponID   string
	SuccessURL string
	CancelURL  string
}

// Provider abstracts the billing provider. Implementations classify provider
// failures: declined cards surface as card errors with the provider's message
// intact, missing objects as ErrNotFound, everything else as a provider
// availability failure.
type Provider interface {
	CreateCustomer(ctx context.Context, email, name, accountID string) (*Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*PaymentMethod, error)
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	SwapPrice(ctx context.Context, params SwapParams) (*Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*Subscription, error)
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	GetCoupon(ctx context.Context, couponID string) (*Coupon, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
