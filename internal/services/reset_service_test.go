package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sitekeeper/sitekeeper/internal/domain/account"
	"github.com/sitekeeper/sitekeeper/internal/domain/resettoken"
	"github.com/sitekeeper/sitekeeper/internal/pkg/logger"
	"github.com/sitekeeper/sitekeeper/internal/pkg/ratelimit"
	"github.com/sitekeeper/sitekeeper/internal/testutil"
)

type resetFixture struct {
	service     *ResetService
	tokens      *testutil.MockTokenRepository
	accounts    *testutil.MockAccountRepository
	credentials *InMemoryCredentials
	email       *InMemoryEmail
}

func newResetFixture() *resetFixture {
	tokens := testutil.NewMockTokenRepository()
	accounts := testutil.NewMockAccountRepository()
	credentials := NewInMemoryCredentials()
	email := &InMemoryEmail{}
	limiter := ratelimit.NewWindow(5, time.Hour)
	log := logger.New(logger.Config{Level: "error", Format: "json"})

	accounts.Accounts["acct_1"] = &account.Account{ID: "acct_1", Email: "owner@example.com"}

	return &resetFixture{
		service:     NewResetService(tokens, accounts, credentials, email, limiter, "https://app.example.com/reset", log),
		tokens:      tokens,
		accounts:    accounts,
		credentials: credentials,
		email:       email,
	}
}

func (f *resetFixture) issuedToken(t *testing.T) string {
	t.Helper()
	if err := f.service.Request(context.Background(), "owner@example.com"); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	for raw := range f.tokens.Tokens {
		return raw
	}
	t.Fatal("no token issued")
	return ""
}

func TestResetService_Request(t *testing.T) {
	f := newResetFixture()

	if err := f.service.Request(context.Background(), "owner@example.com"); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if len(f.tokens.Tokens) != 1 {
		t.Fatalf("token count = %d, want 1", len(f.tokens.Tokens))
	}
	for raw, token := range f.tokens.Tokens {
		if len(raw) != 64 {
			t.Errorf("token length = %d, want 64", len(raw))
		}
		if token.SecondaryID == "" || token.SecondaryID == raw {
			t.Error("secondary id must be set and decorrelated from the token")
		}
		if token.Used {
			t.Error("new token must not be marked used")
		}
		if got := token.ExpiresAt.Sub(token.CreatedAt); got != time.Hour {
			t.Errorf("expiry window = %v, want 1h", got)
		}
	}
	if len(f.email.Sent) != 1 || f.email.Sent[0] != "owner@example.com" {
		t.Errorf("email dispatch = %v, want one to owner", f.email.Sent)
	}
}

func TestResetService_Request_UnknownEmailUniform(t *testing.T) {
	f := newResetFixture()

	if err := f.service.Request(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("Request() error = %v, unknown email must not be revealed", err)
	}
	if len(f.tokens.Tokens) != 0 {
		t.Error("no token should be created for an unknown email")
	}
}

func TestResetService_Request_RateLimitedUniform(t *testing.T) {
	f := newResetFixture()

	for i := 0; i < 5; i++ {
		if err := f.service.Request(context.Background(), "owner@example.com"); err != nil {
			t.Fatalf("Request() #%d error = %v", i+1, err)
		}
	}
	if len(f.tokens.Tokens) != 5 {
		t.Fatalf("token count = %d, want 5", len(f.tokens.Tokens))
	}

	// The 6th request returns the same success shape and creates nothing.
	if err := f.service.Request(context.Background(), "owner@example.com"); err != nil {
		t.Fatalf("Request() #6 error = %v, want uniform success", err)
	}
	if len(f.tokens.Tokens) != 5 {
		t.Errorf("token count = %d after rate-limited request, want 5", len(f.tokens.Tokens))
	}
}

func TestResetService_Request_EmailFailureSwallowed(t *testing.T) {
	f := newResetFixture()
	failing := &failingEmail{}
	f.service.email = failing

	if err := f.service.Request(context.Background(), "owner@example.com"); err != nil {
		t.Fatalf("Request() error = %v, dispatch failure must not surface", err)
	}
	if len(f.tokens.Tokens) != 1 {
		t.Error("token should still be stored when dispatch fails")
	}
}

type failingEmail struct{}

func (failingEmail) SendPasswordReset(ctx context.Context, email, resetURL string) error {
	return errors.New("smtp down")
}

func TestResetService_Validate(t *testing.T) {
	f := newResetFixture()
	raw := f.issuedToken(t)

	email, err := f.service.Validate(context.Background(), raw)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if email != "owner@example.com" {
		t.Errorf("email = %q, want owner@example.com", email)
	}
}

func TestResetService_Validate_MalformedSkipsStorage(t *testing.T) {
	f := newResetFixture()

	tests := []struct {
		name string
		raw  string
	}{
		{"too short", "abc123"},
		{"too long", strings.Repeat("a", 65)},
		{"non-hex", strings.Repeat("z", 64)},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.tokens.GetCalls
			if _, err := f.service.Validate(context.Background(), tt.raw); err == nil {
				t.Error("Validate() = nil, want error")
			}
			if f.tokens.GetCalls != before {
				t.Error("malformed token must be rejected before any storage read")
			}
		})
	}
}

func TestResetService_Validate_ExpiredToken(t *testing.T) {
	f := newResetFixture()
	raw := f.issuedToken(t)

	f.service.now = func() time.Time { return time.Now().Add(61 * time.Minute) }

	if _, err := f.service.Validate(context.Background(), raw); err == nil {
		t.Error("Validate() = nil, want error for expired token")
	}
}

func TestResetService_Consume(t *testing.T) {
	f := newResetFixture()
	raw := f.issuedToken(t)

	if err := f.service.Consume(context.Background(), raw, "newpassword1"); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if !f.tokens.Tokens[raw].Used {
		t.Error("token must remain used after success")
	}
	if f.credentials.Passwords["acct_1"] != "newpassword1" {
		t.Error("credential was not updated")
	}

	// Replay with the same token fails.
	if err := f.service.Consume(context.Background(), raw, "anotherpass1"); err == nil {
		t.Error("Consume() replay = nil, want error")
	}
}

func TestResetService_Consume_ShortPassword(t *testing.T) {
	f := newResetFixture()
	raw := f.issuedToken(t)

	if err := f.service.Consume(context.Background(), raw, "short"); err == nil {
		t.Error("Consume() = nil, want validation error")
	}
	if f.tokens.Tokens[raw].Used {
		t.Error("token must not be consumed by a rejected password")
	}
}

func TestResetService_Consume_DownstreamFailureReverts(t *testing.T) {
	f := newResetFixture()
	raw := f.issuedToken(t)

	f.credentials.FailNext = errors.New("weak password rejected")
	if err := f.service.Consume(context.Background(), raw, "password123"); err == nil {
		t.Fatal("Consume() = nil, want downstream error surfaced")
	}
	if f.tokens.Tokens[raw].Used {
		t.Fatal("used flag must revert after a downstream failure")
	}

	// The same token works on retry.
	if err := f.service.Consume(context.Background(), raw, "password456"); err != nil {
		t.Fatalf("Consume() retry error = %v", err)
	}
	if f.credentials.Passwords["acct_1"] != "password456" {
		t.Error("retry did not apply the new credential")
	}
}

func TestResetService_Consume_MarkUsedPrecedesDownstream(t *testing.T) {
	f := newResetFixture()
	raw := f.issuedToken(t)

	// Observe the used flag from inside the downstream call.
	observed := false
	f.service.credentials = credentialProbe{fn: func(ctx context.Context) error {
		t2, _ := f.tokens.Get(ctx, raw)
		observed = t2.Used
		return nil
	}}

	if err := f.service.Consume(context.Background(), raw, "password123"); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if !observed {
		t.Error("used flag must be set before the downstream credential call")
	}
}

type credentialProbe struct {
	fn func(ctx context.Context) error
}

func (p credentialProbe) UpdatePassword(ctx context.Context, accountID, newPassword string) error {
	return p.fn(ctx)
}

var _ resettoken.Repository = (*testutil.MockTokenRepository)(nil)
