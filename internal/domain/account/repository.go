package account

import (
	"context"
	"time"
)

// Repository defines the interface for account data access. Mutations are
// targeted field updates rather than whole-document writes so that concurrent
// edits to unrelated fields are not clobbered.
type Repository interface {
	// Create creates a new account
	Create(ctx context.Context, a *Account) error

	// GetByID retrieves an account by its identifier
	GetByID(ctx context.Context, id string) (*Account, error)

	// GetByEmail retrieves an account by email
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// GetByCustomerID retrieves the account linked to a billing-provider
	// customer reference
	GetByCustomerID(ctx context.Context, customerID string) (*Account, error)

	// SetCustomerID persists the billing-provider customer reference
	SetCustomerID(ctx context.Context, accountID, customerID string) error

	// SetPaymentMethod persists the payment method summary
	SetPaymentMethod(ctx context.Context, accountID string, pm *PaymentMethod) error

	// SaveSubscription overwrites the subscription subtree
	SaveSubscription(ctx context.Context, accountID string, sub *Subscription) error

	// SetCancellation records a soft cancel: status, flag, reason and expiry,
	// leaving the rest of the subscription subtree untouched
	SetCancellation(ctx context.Context, accountID, reason string, canceledAt, expiresAt time.Time) error
}
