// Package credits meters generation against a per-user credit balance.
//
// Credits are reserved by deducting before generation starts and given back
// with Refund when the background task fails. Deduct is an atomic
// conditional decrement in every backend, so concurrent requests from one
// user can never overspend.
package credits

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/Lllllllleong/docversions/internal/models"
)

// DefaultMonthlyAllowance is the balance a user is topped up to on refill.
const DefaultMonthlyAllowance = 100

// Balance is a user's spendable credits and when they next refill.
type Balance struct {
	Credits        int       `json:"credits"`
	NextRefillDate time.Time `json:"nextRefillDate"`
}

// DeductResult reports the outcome of a deduction. On failure nothing was
// deducted and Available holds the balance at the time of the call.
type DeductResult struct {
	Success    bool
	NewBalance int
	Available  int
	Reason     string
}

// Ledger is the credit ledger the version orchestrator talks to.
type Ledger interface {
	// CheckBalance returns the balance after applying any due monthly refill.
	CheckBalance(ctx context.Context, userID string) (Balance, error)
	// Deduct removes amount if, and only if, the balance covers it.
	Deduct(ctx context.Context, userID string, amount int) (DeductResult, error)
	// Refund adds amount back and returns the new balance.
	Refund(ctx context.Context, userID string, amount int) (int, error)
}

// RefillPolicy decides when and how far balances are topped up.
type RefillPolicy struct {
	MonthlyAllowance int
	Now              func() time.Time
}

// DefaultRefillPolicy tops up to DefaultMonthlyAllowance on the wall clock.
func DefaultRefillPolicy() RefillPolicy {
	return RefillPolicy{MonthlyAllowance: DefaultMonthlyAllowance, Now: time.Now}
}

func (p RefillPolicy) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}

// initial is the balance of a user the ledger has never seen.
func (p RefillPolicy) initial(now time.Time) Balance {
	return Balance{Credits: p.MonthlyAllowance, NextRefillDate: now.AddDate(0, 1, 0)}
}

// apply refills b when its refill date has passed. Refill never lowers a
// balance that is already above the allowance.
func (p RefillPolicy) apply(b Balance, now time.Time) (Balance, bool) {
	if now.Before(b.NextRefillDate) {
		return b, false
	}
	return Balance{
		Credits:        max(b.Credits, p.MonthlyAllowance),
		NextRefillDate: now.AddDate(0, 1, 0),
	}, true
}

// Characters charged per credit at each processing level.
var charactersPerCredit = map[int]int{
	models.LevelOriginal:       2000,
	models.LevelNatural:        1000,
	models.LevelLecture:        1000,
	models.LevelConversational: 1000,
}

// Lecture duration tiers.
const (
	DurationShort  = "short"
	DurationMedium = "medium"
	DurationLong   = "long"
)

// DurationTier is the cost multiplier and planned topic count of a lecture length.
type DurationTier struct {
	Name       string
	Multiplier float64
	Topics     int
}

var durationTiers = map[string]DurationTier{
	DurationShort:  {Name: DurationShort, Multiplier: 1.0, Topics: 3},
	DurationMedium: {Name: DurationMedium, Multiplier: 1.5, Topics: 5},
	DurationLong:   {Name: DurationLong, Multiplier: 2.0, Topics: 8},
}

// Tier resolves a requested lecture duration, defaulting to medium.
func Tier(duration string) DurationTier {
	if t, ok := durationTiers[strings.ToLower(strings.TrimSpace(duration))]; ok {
		return t
	}
	return durationTiers[DurationMedium]
}

// Cost returns the credits needed to process textLength characters at level.
// Only the lecture level applies the duration multiplier. A charged request
// always costs at least one credit.
func Cost(textLength, level int, duration string) int {
	rate, ok := charactersPerCredit[level]
	if !ok {
		rate = charactersPerCredit[models.LevelNatural]
	}
	multiplier := 1.0
	if level == models.LevelLecture {
		multiplier = Tier(duration).Multiplier
	}
	cost := int(math.Ceil(float64(textLength) / float64(rate) * multiplier))
	return max(cost, 1)
}
