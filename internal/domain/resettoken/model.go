package resettoken

import "time"

// Token is a single-use, time-boxed password reset credential. The raw token
// value is the store's primary key; only SecondaryID may appear in logs.
type Token struct {
	Token       string     `json:"-"`
	SecondaryID string     `json:"secondary_id"`
	Email       string     `json:"email"`
	AccountID   string     `json:"account_id"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Used        bool       `json:"used"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
}

// TTL is the validity window of a token from issuance.
const TTL = time.Hour

// Expired reports whether the token is past its expiry at the given instant.
// Expiry is enforced at read time only; there is no background sweep.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
