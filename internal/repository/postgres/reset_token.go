package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/sitekeeper/sitekeeper/internal/domain/resettoken"
	"github.com/sitekeeper/sitekeeper/internal/pkg/errors"
)

// ResetTokenRepository implements resettoken.Repository
type ResetTokenRepository struct {
	db *sql.DB
}

// NewResetTokenRepository creates a new reset token repository
func NewResetTokenRepository(db *sql.DB) resettoken.Repository {
	return &ResetTokenRepository{db: db}
}

// Create stores a newly issued token
func (r *ResetTokenRepository) Create(ctx context.Context, t *resettoken.Token) error {
	query := `
		INSERT INTO reset_tokens (token, secondary_id, email, account_id, created_at, expires_at, used)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`

	_, err := r.db.ExecContext(ctx, query,
		t.Token, t.SecondaryID, t.Email, t.AccountID, t.CreatedAt.Unix(), t.ExpiresAt.Unix(),
	)
	if err != nil {
		return errors.DatabaseError("Failed to create reset token", err)
	}

	return nil
}

// Get retrieves a token by its raw value
func (r *ResetTokenRepository) Get(ctx context.Context, token string) (*resettoken.Token, error) {
	query := `
		SELECT token, secondary_id, email, account_id, created_at, expires_at, used, used_at
		FROM reset_tokens WHERE token = ?
	`

	var t resettoken.Token
	var createdAt, expiresAt int64
	var used int
	var usedAt sql.NullInt64

	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&t.Token, &t.SecondaryID, &t.Email, &t.AccountID, &createdAt, &expiresAt, &used, &usedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.DatabaseError("Failed to get reset token", err)
	}

	t.CreatedAt = time.Unix(createdAt, 0)
	t.ExpiresAt = time.Unix(expiresAt, 0)
	t.Used = used == 1
	if usedAt.Valid {
		ua := time.Unix(usedAt.Int64, 0)
		t.UsedAt = &ua
	}

	return &t, nil
}

// MarkUsed atomically flips used from false to true. The conditional update
// makes concurrent consumers race on rows-affected; exactly one wins.
func (r *ResetTokenRepository) MarkUsed(ctx context.Context, token string, usedAt time.Time) (bool, error) {
	query := `UPDATE reset_tokens SET used = 1, used_at = ? WHERE token = ? AND used = 0`

	result, err := r.db.ExecContext(ctx, query, usedAt.Unix(), token)
	if err != nil {
		return false, errors.DatabaseError("Failed to mark reset token used", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.DatabaseError("Failed to get affected rows", err)
	}

	return rows == 1, nil
}

// Revert clears the used flag so the holder can retry after a downstream
// failure
func (r *ResetTokenRepository) Revert(ctx context.Context, token string) error {
	query := `UPDATE reset_tokens SET used = 0, used_at = NULL WHERE token = ?`

	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return errors.DatabaseError("Failed to revert reset token", err)
	}

	return nil
}
