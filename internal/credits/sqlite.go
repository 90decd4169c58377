package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/docversions/internal/apperr"
)

// Compile-time interface compliance check.
var _ Ledger = (*SQLiteLedger)(nil)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS credit_balances (
	user_id        TEXT PRIMARY KEY,
	credits        INTEGER NOT NULL,
	next_refill_at INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
)`

// SQLiteLedger stores balances in a local SQLite table. The refill and the
// conditional decrement are each a single UPDATE statement.
type SQLiteLedger struct {
	db     *sql.DB
	policy RefillPolicy
}

// NewSQLiteLedger creates the balance table if needed.
func NewSQLiteLedger(ctx context.Context, db *sql.DB, policy RefillPolicy) (*SQLiteLedger, error) {
	if _, err := db.ExecContext(ctx, ledgerSchema); err != nil {
		return nil, fmt.Errorf("create credit_balances: %w", err)
	}
	return &SQLiteLedger{db: db, policy: policy}, nil
}

// prepare makes sure the row exists and any due refill has been applied.
func (l *SQLiteLedger) prepare(ctx context.Context, userID string) (time.Time, error) {
	now := l.policy.now()
	init := l.policy.initial(now)
	if _, err := l.db.ExecContext(ctx,
		`INSERT INTO credit_balances (user_id, credits, next_refill_at, updated_at)
		 VALUES (?, ?, ?, ?) ON CONFLICT(user_id) DO NOTHING`,
		userID, init.Credits, init.NextRefillDate.UnixMilli(), now.UnixMilli(),
	); err != nil {
		return now, err
	}
	_, err := l.db.ExecContext(ctx,
		`UPDATE credit_balances
		 SET credits = MAX(credits, ?), next_refill_at = ?, updated_at = ?
		 WHERE user_id = ? AND next_refill_at <= ?`,
		l.policy.MonthlyAllowance, now.AddDate(0, 1, 0).UnixMilli(), now.UnixMilli(),
		userID, now.UnixMilli(),
	)
	return now, err
}

func (l *SQLiteLedger) read(ctx context.Context, userID string) (Balance, error) {
	var credits int
	var nextRefill int64
	err := l.db.QueryRowContext(ctx,
		`SELECT credits, next_refill_at FROM credit_balances WHERE user_id = ?`, userID,
	).Scan(&credits, &nextRefill)
	if err != nil {
		return Balance{}, err
	}
	return Balance{Credits: credits, NextRefillDate: time.UnixMilli(nextRefill).UTC()}, nil
}

func (l *SQLiteLedger) CheckBalance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, apperr.ErrAuthRequired
	}
	if _, err := l.prepare(ctx, userID); err != nil {
		return Balance{}, fmt.Errorf("check balance for %s: %w: %w", userID, apperr.ErrLedgerUnavailable, err)
	}
	b, err := l.read(ctx, userID)
	if err != nil {
		return Balance{}, fmt.Errorf("check balance for %s: %w: %w", userID, apperr.ErrLedgerUnavailable, err)
	}
	return b, nil
}

func (l *SQLiteLedger) Deduct(ctx context.Context, userID string, amount int) (DeductResult, error) {
	if userID == "" {
		return DeductResult{}, apperr.ErrAuthRequired
	}
	now, err := l.prepare(ctx, userID)
	if err != nil {
		return DeductResult{}, fmt.Errorf("deduct from %s: %w: %w", userID, apperr.ErrLedgerUnavailable, err)
	}
	amount = max(amount, 0)

	var newBalance int
	err = l.db.QueryRowContext(ctx,
		`UPDATE credit_balances SET credits = credits - ?, updated_at = ?
		 WHERE user_id = ? AND credits >= ?
		 RETURNING credits`,
		amount, now.UnixMilli(), userID, amount,
	).Scan(&newBalance)
	switch {
	case err == nil:
		return DeductResult{Success: true, NewBalance: newBalance, Available: newBalance + amount}, nil
	case errors.Is(err, sql.ErrNoRows):
		b, err := l.read(ctx, userID)
		if err != nil {
			return DeductResult{}, fmt.Errorf("deduct from %s: %w: %w", userID, apperr.ErrLedgerUnavailable, err)
		}
		return DeductResult{Available: b.Credits, NewBalance: b.Credits, Reason: "insufficient credits"}, nil
	default:
		return DeductResult{}, fmt.Errorf("deduct from %s: %w: %w", userID, apperr.ErrLedgerUnavailable, err)
	}
}

func (l *SQLiteLedger) Refund(ctx context.Context, userID string, amount int) (int, error) {
	if userID == "" {
		return 0, apperr.ErrAuthRequired
	}
	if amount < 0 {
		return 0, errors.New("refund amount must not be negative")
	}
	now, err := l.prepare(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("refund to %s: %w: %w", userID, apperr.ErrLedgerUnavailable, err)
	}
	var newBalance int
	err = l.db.QueryRowContext(ctx,
		`UPDATE credit_balances SET credits = credits + ?, updated_at = ?
		 WHERE user_id = ?
		 RETURNING credits`,
		amount, now.UnixMilli(), userID,
	).Scan(&newBalance)
	if err != nil {
		return 0, fmt.Errorf("refund to %s: %w: %w", userID, apperr.ErrLedgerUnavailable, err)
	}
	return newBalance, nil
}

// SetBalance overwrites a user's balance. Used to seed local databases.
func (l *SQLiteLedger) SetBalance(ctx context.Context, userID string, b Balance) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO credit_balances (user_id, credits, next_refill_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET credits = excluded.credits,
		 	next_refill_at = excluded.next_refill_at, updated_at = excluded.updated_at`,
		userID, b.Credits, b.NextRefillDate.UnixMilli(), l.policy.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set balance for %s: %w", userID, err)
	}
	return nil
}
