package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sitekeeper/sitekeeper/internal/domain/account"
	"github.com/sitekeeper/sitekeeper/internal/domain/resettoken"
	apperrors "github.com/sitekeeper/sitekeeper/internal/pkg/errors"
	"github.com/sitekeeper/sitekeeper/internal/pkg/logger"
	"github.com/sitekeeper/sitekeeper/internal/pkg/metrics"
	"github.com/sitekeeper/sitekeeper/internal/pkg/ratelimit"
)

const tokenHexLen = 64 // 256 bits

// ResetService implements the single-use password reset token flow. The raw
// token never appears in logs; only the secondary id does.
type ResetService struct {
	tokens      resettoken.Repository
	accounts    account.Repository
	credentials CredentialService
	email       EmailService
	limiter     ratelimit.Admitter
	resetURL    string
	logger      *logger.Logger
	now         func() time.Time
}

// NewResetService creates a new reset token service
func NewResetService(tokens resettoken.Repository, accounts account.Repository, credentials CredentialService, email EmailService, limiter ratelimit.Admitter, resetURL string, log *logger.Logger) *ResetService {
	return &ResetService{
		tokens:      tokens,
		accounts:    accounts,
		credentials: credentials,
		email:       email,
		limiter:     limiter,
		resetURL:    resetURL,
		logger:      log,
		now:         time.Now,
	}
}

// Request issues a reset token for the email's account. Unknown emails and
// rate-limited requesters get the same success response as genuine issuance
// so callers cannot probe which addresses exist.
func (s *ResetService) Request(ctx context.Context, email string) error {
	if !s.limiter.Allow(email) {
		s.logger.Info("reset request rate limited")
		metrics.RecordResetToken("request", "rate_limited")
		return nil
	}

	acct, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if appErr, ok := err.(*apperrors.AppError); ok && appErr.Code == apperrors.ErrCodeNotFound {
			metrics.RecordResetToken("request", "unknown_email")
			return nil
		}
		return err
	}

	raw, err := generateToken()
	if err != nil {
		return apperrors.Internal("Failed to generate reset token", err)
	}

	now := s.now()
	token := &resettoken.Token{
		Token:       raw,
		SecondaryID: uuid.New().String(),
		Email:       acct.Email,
		AccountID:   acct.ID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(resettoken.TTL),
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return err
	}

	s.logger.With("token_id", token.SecondaryID).Info("reset token issued")
	metrics.RecordResetToken("request", "issued")

	// Dispatch failure does not change the response.
	if s.email != nil {
		url := fmt.Sprintf("%s?token=%s", s.resetURL, raw)
		if err := s.email.SendPasswordReset(ctx, acct.Email, url); err != nil {
			s.logger.WithError(err).With("token_id", token.SecondaryID).Warn("reset email dispatch failed")
		}
	}
	return nil
}

// Validate checks a token without consuming it, returning the associated
// email. Malformed tokens are rejected before any storage read.
func (s *ResetService) Validate(ctx context.Context, raw string) (string, error) {
	token, err := s.lookup(ctx, raw)
	if err != nil {
		return "", err
	}
	return token.Email, nil
}

// Consume validates a token and applies the new credential. The token is
// marked used before the downstream call so a concurrent submission cannot
// reuse it mid-flight; a failed downstream call reverts the mark so the
// holder can retry.
func (s *ResetService) Consume(ctx context.Context, raw, newPassword string) error {
	if len(newPassword) < 8 {
		return apperrors.ValidationError("Password must be at least 8 characters", nil)
	}

	token, err := s.lookup(ctx, raw)
	if err != nil {
		return err
	}

	won, err := s.tokens.MarkUsed(ctx, raw, s.now())
	if err != nil {
		return err
	}
	if !won {
		metrics.RecordResetToken("consume", "replayed")
		return invalidToken()
	}

	if err := s.credentials.UpdatePassword(ctx, token.AccountID, newPassword); err != nil {
		// Downstream rejected the change; give the token back. The revert
		// is best-effort.
		if revertErr := s.tokens.Revert(ctx, raw); revertErr != nil {
			s.logger.WithError(revertErr).With("token_id", token.SecondaryID).Error("failed to revert reset token")
		}
		metrics.RecordResetToken("consume", "downstream_failed")
		return err
	}

	s.logger.With("token_id", token.SecondaryID).Info("password reset completed")
	metrics.RecordResetToken("consume", "success")
	return nil
}

// lookup shape-checks the raw token, reads it and enforces the single-use
// and expiry rules. All failures collapse into the same non-enumerating
// error.
func (s *ResetService) lookup(ctx context.Context, raw string) (*resettoken.Token, error) {
	if !tokenShapeOK(raw) {
		metrics.RecordResetToken("validate", "malformed")
		return nil, invalidToken()
	}

	token, err := s.tokens.Get(ctx, raw)
	if err != nil {
		return nil, err
	}
	if token == nil {
		metrics.RecordResetToken("validate", "not_found")
		return nil, invalidToken()
	}
	if token.Used {
		metrics.RecordResetToken("validate", "used")
		return nil, invalidToken()
	}
	if token.Expired(s.now()) {
		metrics.RecordResetToken("validate", "expired")
		return nil, invalidToken()
	}
	return token, nil
}

func invalidToken() error {
	return apperrors.BadRequest("Invalid or expired reset token")
}

// tokenShapeOK reports whether raw looks like an issued token. Checked
// before any storage read so malformed probes never reach the store.
func tokenShapeOK(raw string) bool {
	if len(raw) != tokenHexLen {
		return false
	}
	for _, c := range raw {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func generateToken() (string, error) {
	buf := make([]byte, tokenHexLen/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
