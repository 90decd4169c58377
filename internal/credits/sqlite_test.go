package credits_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lllllllleong/docversions/internal/apperr"
	"github.com/Lllllllleong/docversions/internal/credits"
	"github.com/Lllllllleong/docversions/internal/sqlitedb"
)

var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newLedger(t *testing.T) *credits.SQLiteLedger {
	t.Helper()
	policy := credits.RefillPolicy{
		MonthlyAllowance: 100,
		Now:              func() time.Time { return fixedNow },
	}
	l, err := credits.NewSQLiteLedger(context.Background(), sqlitedb.OpenTemp(t), policy)
	if err != nil {
		t.Fatalf("NewSQLiteLedger: %v", err)
	}
	return l
}

func TestSQLiteLedger_NewUserGetsAllowance(t *testing.T) {
	t.Parallel()
	l := newLedger(t)

	b, err := l.CheckBalance(context.Background(), "alice")
	if err != nil {
		t.Fatalf("CheckBalance: %v", err)
	}
	if b.Credits != 100 {
		t.Errorf("Credits = %d, want 100", b.Credits)
	}
	if want := fixedNow.AddDate(0, 1, 0); !b.NextRefillDate.Equal(want) {
		t.Errorf("NextRefillDate = %v, want %v", b.NextRefillDate, want)
	}
}

func TestSQLiteLedger_Refill(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		seed        credits.Balance
		wantCredits int
		wantNext    time.Time
	}{
		{
			name:        "due refill tops up",
			seed:        credits.Balance{Credits: 12, NextRefillDate: fixedNow.Add(-time.Hour)},
			wantCredits: 100,
			wantNext:    fixedNow.AddDate(0, 1, 0),
		},
		{
			name:        "refill never lowers",
			seed:        credits.Balance{Credits: 250, NextRefillDate: fixedNow},
			wantCredits: 250,
			wantNext:    fixedNow.AddDate(0, 1, 0),
		},
		{
			name:        "not yet due",
			seed:        credits.Balance{Credits: 7, NextRefillDate: fixedNow.Add(time.Hour)},
			wantCredits: 7,
			wantNext:    fixedNow.Add(time.Hour),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l := newLedger(t)
			ctx := context.Background()
			if err := l.SetBalance(ctx, "bob", tt.seed); err != nil {
				t.Fatalf("SetBalance: %v", err)
			}
			b, err := l.CheckBalance(ctx, "bob")
			if err != nil {
				t.Fatalf("CheckBalance: %v", err)
			}
			if b.Credits != tt.wantCredits {
				t.Errorf("Credits = %d, want %d", b.Credits, tt.wantCredits)
			}
			if !b.NextRefillDate.Equal(tt.wantNext) {
				t.Errorf("NextRefillDate = %v, want %v", b.NextRefillDate, tt.wantNext)
			}
		})
	}
}

func TestSQLiteLedger_DeductAndRefund(t *testing.T) {
	t.Parallel()
	l := newLedger(t)
	ctx := context.Background()

	res, err := l.Deduct(ctx, "carol", 30)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if !res.Success || res.NewBalance != 70 {
		t.Fatalf("Deduct = %+v, want success with 70", res)
	}

	res, err = l.Deduct(ctx, "carol", 71)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if res.Success {
		t.Fatalf("Deduct of 71 from 70 succeeded")
	}
	if res.Available != 70 || res.Reason == "" {
		t.Errorf("Deduct = %+v, want available 70 with reason", res)
	}

	got, err := l.Refund(ctx, "carol", 30)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if got != 100 {
		t.Errorf("Refund balance = %d, want 100", got)
	}
}

func TestSQLiteLedger_ConcurrentDeductsNeverOverspend(t *testing.T) {
	t.Parallel()
	l := newLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Deduct(ctx, "dave", 10)
			if err != nil {
				t.Errorf("Deduct: %v", err)
				return
			}
			if res.Success {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := succeeded.Load(); got != 10 {
		t.Errorf("successful deductions = %d, want 10", got)
	}
	b, err := l.CheckBalance(ctx, "dave")
	if err != nil {
		t.Fatalf("CheckBalance: %v", err)
	}
	if b.Credits != 0 {
		t.Errorf("Credits = %d, want 0", b.Credits)
	}
}

func TestSQLiteLedger_RequiresUser(t *testing.T) {
	t.Parallel()
	l := newLedger(t)
	ctx := context.Background()

	if _, err := l.CheckBalance(ctx, ""); !errors.Is(err, apperr.ErrAuthRequired) {
		t.Errorf("CheckBalance err = %v, want ErrAuthRequired", err)
	}
	if _, err := l.Deduct(ctx, "", 1); !errors.Is(err, apperr.ErrAuthRequired) {
		t.Errorf("Deduct err = %v, want ErrAuthRequired", err)
	}
	if _, err := l.Refund(ctx, "", 1); !errors.Is(err, apperr.ErrAuthRequired) {
		t.Errorf("Refund err = %v, want ErrAuthRequired", err)
	}
}

func TestSQLiteLedger_UnavailableWhenClosed(t *testing.T) {
	t.Parallel()
	db := sqlitedb.OpenTemp(t)
	l, err := credits.NewSQLiteLedger(context.Background(), db, credits.DefaultRefillPolicy())
	if err != nil {
		t.Fatalf("NewSQLiteLedger: %v", err)
	}
	db.Close()

	if _, err := l.CheckBalance(context.Background(), "erin"); !errors.Is(err, apperr.ErrLedgerUnavailable) {
		t.Errorf("err = %v, want ErrLedgerUnavailable", err)
	}
}
