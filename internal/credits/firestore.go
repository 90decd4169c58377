package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/docversions/internal/apperr"
	"github.com/Lllllllleong/docversions/internal/gcp"
)

// Compile-time interface compliance check.
var _ Ledger = (*FirestoreLedger)(nil)

// balanceDoc is the stored shape of one user's balance.
type balanceDoc struct {
	Credits        int       `firestore:"credits"`
	NextRefillDate time.Time `firestore:"nextRefillDate"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

// FirestoreLedger keeps one document per user, keyed by user ID. Every
// operation runs in a transaction, which makes Deduct's check and decrement
// a single atomic step.
type FirestoreLedger struct {
	client     *firestore.Client
	collection string
	policy     RefillPolicy
}

// NewFirestoreLedger creates a ledger over collection.
func NewFirestoreLedger(client *firestore.Client, collection string, policy RefillPolicy) *FirestoreLedger {
	return &FirestoreLedger{client: client, collection: collection, policy: policy}
}

func (l *FirestoreLedger) ref(userID string) *firestore.DocumentRef {
	return l.client.Collection(l.collection).Doc(userID)
}

// load reads the balance inside tx, initialising or refilling it as needed.
// dirty reports whether the returned balance differs from what is stored.
func (l *FirestoreLedger) load(tx *firestore.Transaction, ref *firestore.DocumentRef, now time.Time) (b Balance, dirty bool, err error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if gcp.IsNotFound(err) {
			return l.policy.initial(now), true, nil
		}
		return Balance{}, false, err
	}
	var doc balanceDoc
	if err := snap.DataTo(&doc); err != nil {
		return Balance{}, false, err
	}
	b, dirty = l.policy.apply(Balance{Credits: doc.Credits, NextRefillDate: doc.NextRefillDate}, now)
	return b, dirty, nil
}

func (l *FirestoreLedger) CheckBalance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, apperr.ErrAuthRequired
	}
	ref := l.ref(userID)
	var out Balance
	err := l.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := l.policy.now()
		b, dirty, err := l.load(tx, ref, now)
		if err != nil {
			return err
		}
		out = b
		if !dirty {
			return nil
		}
		return tx.Set(ref, balanceDoc{Credits: b.Credits, NextRefillDate: b.NextRefillDate, UpdatedAt: now})
	})
	if err != nil {
		return Balance{}, fmt.Errorf("check balance for %s: %w: %w", userID, apperr.ErrLedgerUnavailable, err)
	}
	return out, nil
}

func (l *FirestoreLedger) Deduct(ctx context.Context, userID string, amount int) (DeductResult, error) {
	if userID == "" {
		return DeductResult{}, apperr.ErrAuthRequired
	}
	ref := l.ref(userID)
	var res DeductResult
	err := l.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := l.policy.now()
		b, dirty, err := l.load(tx, ref, now)
		if err != nil {
			return err
		}
		if amount > b.Credits {
			res = DeductResult{Available: b.Credits, NewBalance: b.Credits, Reason: "insufficient credits"}
			if !dirty {
				return nil
			}
			return tx.Set(ref, balanceDoc{Credits: b.Credits, NextRefillDate: b.NextRefillDate, UpdatedAt: now})
		}
		newBalance := b.Credits - max(amount, 0)
		res = DeductResult{Success: true, NewBalance: newBalance, Available: b.Credits}
		return tx.Set(ref, balanceDoc{Credits: newBalance, NextRefillDate: b.NextRefillDate, UpdatedAt: now})
	})
	if err != nil {
		return DeductResult{}, fmt.Errorf("deduct %d from %s: %w: %w", amount, userID, apperr.ErrLedgerUnavailable, err)
	}
	return res, nil
}

func (l *FirestoreLedger) Refund(ctx context.Context, userID string, amount int) (int, error) {
	if userID == "" {
		return 0, apperr.ErrAuthRequired
	}
	if amount < 0 {
		return 0, errors.New("refund amount must not be negative")
	}
	ref := l.ref(userID)
	var newBalance int
	err := l.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := l.policy.now()
		b, _, err := l.load(tx, ref, now)
		if err != nil {
			return err
		}
		newBalance = b.Credits + amount
		return tx.Set(ref, balanceDoc{Credits: newBalance, NextRefillDate: b.NextRefillDate, UpdatedAt: now})
	})
	if err != nil {
		return 0, fmt.Errorf("refund %d to %s: %w: %w", amount, userID, apperr.ErrLedgerUnavailable, err)
	}
	return newBalance, nil
}
