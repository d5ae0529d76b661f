package resettoken

import (
	"context"
	"time"
)

// Repository defines the interface for reset token storage. Tokens are keyed
// by their raw value; implementations must never log that key.
type Repository interface {
	// Create stores a newly issued token
	Create(ctx context.Context, t *Token) error

	// Get retrieves a token by its raw value. Returns (nil, nil) when absent
	// so callers can produce non-enumerating responses.
	Get(ctx context.Context, token string) (*Token, error)

	// MarkUsed atomically flips used from false to true, returning whether
	// this call won the flip. A false return means the token was already
	// consumed (or absent).
	MarkUsed(ctx context.Context, token string, usedAt time.Time) (bool, error)

	// Revert clears the used flag after a failed downstream credential
	// update so the holder can retry.
	Revert(ctx context.Context, token string) error
}
