package dto

// CheckoutSessionRequest creates a provider-hosted checkout page.
type CheckoutSessionRequest struct {
	Tier         string `json:"tier" validate:"required"`
	BillingCycle string `json:"billingCycle" validate:"required,oneof=monthly annual"`
	CouponCode   string `json:"couponCode,omitempty"`
}

// CreateSubscriptionRequest creates a subscription directly for the
// authenticated account.
type CreateSubscriptionRequest struct {
	Email           string `json:"email" validate:"omitempty,email"`
	Tier            string `json:"tier" validate:"required"`
	BillingCycle    string `json:"billingCycle" validate:"required,oneof=monthly annual"`
	CouponCode      string `json:"couponCode,omitempty"`
	PaymentMethodID string `json:"paymentMethodId,omitempty"`
}

// UpgradeRequest moves the subscription to a higher tier.
type UpgradeRequest struct {
	NewTier string `json:"newTier" validate:"required"`
}

// DowngradeRequest moves the subscription to another tier.
type DowngradeRequest struct {
	NewTier     string `json:"newTier" validate:"required"`
	CurrentTier string `json:"currentTier,omitempty"`
}

// CancelRequest soft-cancels the subscription.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ReactivateRequest restores service on the requested tier.
type ReactivateRequest struct {
	NewTier string `json:"newTier" validate:"required"`
}

// SwitchSafetyNetRequest moves the subscription to the reduced plan.
type SwitchSafetyNetRequest struct {
	CurrentSubscriptionID string `json:"currentSubscriptionId,omitempty"`
}

// ValidateCouponRequest checks a coupon code.
type ValidateCouponRequest struct {
	CouponCode string `json:"couponCode" validate:"required"`
}

// AttachPaymentMethodRequest attaches a card to the account.
type AttachPaymentMethodRequest struct {
	PaymentMethodID string `json:"paymentMethodId" validate:"required"`
}
