package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/sitekeeper/sitekeeper/internal/domain/account"
	"github.com/sitekeeper/sitekeeper/internal/pkg/errors"
)

// AccountRepository implements account.Repository
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *sql.DB) account.Repository {
	return &AccountRepository{db: db}
}

const accountColumns = `
	id, email, company_name, stripe_customer_id,
	pm_stripe_id, pm_brand, pm_last4, pm_exp_month, pm_exp_year,
	sub_tier, sub_status, sub_billing_cycle, sub_stripe_id, sub_stripe_price_id,
	sub_period_start, sub_period_end, sub_cancel_at_period_end,
	sub_canceled_at, sub_expires_at, sub_cancellation_reason,
	sub_coupon, sub_percent_off, sub_amount_off,
	created_at, updated_at
`

// Create creates a new account
func (r *AccountRepository) Create(ctx context.Context, a *account.Account) error {
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	query := `
		INSERT INTO accounts (id, email, company_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Email, a.CompanyName, now.Unix(), now.Unix(),
	)
	if err != nil {
		return errors.DatabaseError("Failed to create account", err)
	}

	return nil
}

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*account.Account, error) {
	query := `SELECT` + accountColumns + `FROM accounts WHERE id = ?`
	return r.getOne(ctx, query, id)
}

// GetByEmail retrieves an account by email
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*account.Account, error) {
	query := `SELECT` + accountColumns + `FROM accounts WHERE email = ?`
	return r.getOne(ctx, query, email)
}

// GetByCustomerID retrieves an account by its billing customer reference
func (r *AccountRepository) GetByCustomerID(ctx context.Context, customerID string) (*account.Account, error) {
	query := `SELECT` + accountColumns + `FROM accounts WHERE stripe_customer_id = ?`
	return r.getOne(ctx, query, customerID)
}

func (r *AccountRepository) getOne(ctx context.Context, query string, arg interface{}) (*account.Account, error) {
	row := r.db.QueryRowContext(ctx, query, arg)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("Account")
	}
	if err != nil {
		return nil, errors.DatabaseError("Failed to get account", err)
	}
	return a, nil
}

// SetCustomerID records the billing customer reference for an account
func (r *AccountRepository) SetCustomerID(ctx context.Context, accountID, customerID string) error {
	query := `UPDATE accounts SET stripe_customer_id = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, customerID, time.Now().Unix(), accountID)
	if err != nil {
		return errors.DatabaseError("Failed to set customer ID", err)
	}
	return requireRow(result)
}

// SetPaymentMethod overwrites the card on file for an account
func (r *AccountRepository) SetPaymentMethod(ctx context.Context, accountID string, pm *account.PaymentMethod) error {
	query := `
		UPDATE accounts
		SET pm_stripe_id = ?, pm_brand = ?, pm_last4 = ?, pm_exp_month = ?, pm_exp_year = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		pm.StripePaymentMethodID, pm.Brand, pm.Last4, pm.ExpMonth, pm.ExpYear,
		time.Now().Unix(), accountID,
	)
	if err != nil {
		return errors.DatabaseError("Failed to set payment method", err)
	}
	return requireRow(result)
}

// SaveSubscription overwrites the subscription subtree for an account
func (r *AccountRepository) SaveSubscription(ctx context.Context, accountID string, sub *account.Subscription) error {
	query := `
		UPDATE accounts
		SET sub_tier = ?, sub_status = ?, sub_billing_cycle = ?,
		    sub_stripe_id = ?, sub_stripe_price_id = ?,
		    sub_period_start = ?, sub_period_end = ?, sub_cancel_at_period_end = ?,
		    sub_canceled_at = ?, sub_expires_at = ?, sub_cancellation_reason = ?,
		    sub_coupon = ?, sub_percent_off = ?, sub_amount_off = ?,
		    updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		sub.Tier, sub.Status, sub.BillingCycle,
		sub.StripeSubscriptionID, sub.StripePriceID,
		sub.PeriodStart.Unix(), sub.PeriodEnd.Unix(), boolToInt(sub.CancelAtPeriodEnd),
		unixOrNil(sub.CanceledAt), unixOrNil(sub.ExpiresAt), sub.CancellationReason,
		sub.Coupon, sub.PercentOff, sub.AmountOff,
		time.Now().Unix(), accountID,
	)
	if err != nil {
		return errors.DatabaseError("Failed to save subscription", err)
	}
	return requireRow(result)
}

// SetCancellation records a pending cancellation without touching the rest of
// the subscription subtree
func (r *AccountRepository) SetCancellation(ctx context.Context, accountID string, reason string, canceledAt, expiresAt time.Time) error {
	query := `
		UPDATE accounts
		SET sub_status = ?, sub_cancel_at_period_end = 1, sub_canceled_at = ?, sub_expires_at = ?,
		    sub_cancellation_reason = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		account.StatusCanceled, canceledAt.Unix(), expiresAt.Unix(), reason, time.Now().Unix(), accountID,
	)
	if err != nil {
		return errors.DatabaseError("Failed to set cancellation", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.DatabaseError("Failed to get affected rows", err)
	}
	if rows == 0 {
		return errors.NotFound("Account")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*account.Account, error) {
	var a account.Account
	var companyName, customerID sql.NullString
	var pmID, pmBrand, pmLast4 sql.NullString
	var pmExpMonth, pmExpYear sql.NullInt64
	var subTier, subStatus, subCycle, subID, subPriceID sql.NullString
	var periodStart, periodEnd sql.NullInt64
	var cancelAtPeriodEnd sql.NullInt64
	var canceledAt, expiresAt sql.NullInt64
	var cancellationReason, coupon sql.NullString
	var percentOff sql.NullFloat64
	var amountOff sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&a.ID, &a.Email, &companyName, &customerID,
		&pmID, &pmBrand, &pmLast4, &pmExpMonth, &pmExpYear,
		&subTier, &subStatus, &subCycle, &subID, &subPriceID,
		&periodStart, &periodEnd, &cancelAtPeriodEnd,
		&canceledAt, &expiresAt, &cancellationReason,
		&coupon, &percentOff, &amountOff,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if companyName.Valid {
		a.CompanyName = &companyName.String
	}
	if customerID.Valid {
		a.StripeCustomerID = customerID.String
	}
	if pmID.Valid {
		a.PaymentMethod = &account.PaymentMethod{
			StripePaymentMethodID: pmID.String,
			Brand:                 pmBrand.String,
			Last4:                 pmLast4.String,
			ExpMonth:              pmExpMonth.Int64,
			ExpYear:               pmExpYear.Int64,
		}
	}
	if subID.Valid || subTier.Valid {
		sub := &account.Subscription{
			Tier:                 subTier.String,
			Status:               subStatus.String,
			BillingCycle:         subCycle.String,
			StripeSubscriptionID: subID.String,
			StripePriceID:        subPriceID.String,
			CancelAtPeriodEnd:    cancelAtPeriodEnd.Int64 == 1,
		}
		if periodStart.Valid {
			sub.PeriodStart = time.Unix(periodStart.Int64, 0)
		}
		if periodEnd.Valid {
			sub.PeriodEnd = time.Unix(periodEnd.Int64, 0)
		}
		if canceledAt.Valid {
			t := time.Unix(canceledAt.Int64, 0)
			sub.CanceledAt = &t
		}
		if expiresAt.Valid {
			t := time.Unix(expiresAt.Int64, 0)
			sub.ExpiresAt = &t
		}
		if cancellationReason.Valid {
			sub.CancellationReason = &cancellationReason.String
		}
		if coupon.Valid {
			sub.Coupon = &coupon.String
		}
		if percentOff.Valid {
			sub.PercentOff = &percentOff.Float64
		}
		if amountOff.Valid {
			sub.AmountOff = &amountOff.Int64
		}
		a.Subscription = sub
	}
	a.CreatedAt = time.Unix(createdAt, 0)
	a.UpdatedAt = time.Unix(updatedAt, 0)

	return &a, nil
}
