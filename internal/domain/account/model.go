package account

import "time"

// Account represents a customer account in the system. The subscription and
// payment method are embedded subtrees, mirrored from the billing provider.
type Account struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	CompanyName      *string        `json:"company_name,omitempty"`
	StripeCustomerID string         `json:"-"` // empty until first purchase
	PaymentMethod    *PaymentMethod `json:"payment_method,omitempty"`
	Subscription     *Subscription  `json:"subscription,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// PaymentMethod is a card summary, never the full card.
type PaymentMethod struct {
	StripePaymentMethodID string `json:"-"`
	Brand                 string `json:"brand"`
	Last4                 string `json:"last4"`
	ExpMonth              int64  `json:"exp_month"`
	ExpYear               int64  `json:"exp_year"`
}

// Subscription is the locally mirrored subscription state. Webhook
// reconciliation overwrites this subtree wholesale; user-initiated operations
// update it only after the billing provider confirmed the change.
type Subscription struct {
	Tier                 string     `json:"tier"`
	Status               string     `json:"status"`
	BillingCycle         string     `json:"billing_cycle"`
	StripeSubscriptionID string     `json:"-"`
	StripePriceID        string     `json:"-"`
	PeriodStart          time.Time  `json:"period_start"`
	PeriodEnd            time.Time  `json:"period_end"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	CanceledAt           *time.Time `json:"canceled_at,omitempty"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	CancellationReason   *string    `json:"cancellation_reason,omitempty"`
	Coupon               *string    `json:"coupon,omitempty"`
	PercentOff           *float64   `json:"percent_off,omitempty"`
	AmountOff            *int64     `json:"amount_off,omitempty"`
}

// Subscription statuses
const (
	StatusActive   = "active"
	StatusInactive = "inactive" // past_due / unpaid / incomplete at the provider
	StatusCanceled = "canceled"
)

// Billing cycles
const (
	CycleMonthly = "monthly"
	CycleAnnual  = "annual"
)
