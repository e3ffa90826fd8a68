package rules_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/corepath/rewards-ledger/ledger"
	"github.com/corepath/rewards-ledger/rules"
)

func defaultEngine() *rules.Engine {
	return rules.New(100, 500, decimal.RequireFromString("0.01"), 100, 5)
}

func TestEngine_OrderAccrual_FloorsNeverRounds(t *testing.T) {
	e := defaultEngine()

	tests := []struct {
		name  string
		total string
		want  int64
	}{
		{"just below one point", "99.99", 0},    // floor(0.9999) = 0
		{"exactly one point", "100.00", 1},
		{"large order", "10000", 100},
		{"fractional result floors down", "250.00", 2}, // floor(2.5) = 2
		{"zero total", "0", 0},
		{"negative total", "-50.00", 0},
		{"tiny total", "0.01", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.OrderAccrual(decimal.RequireFromString(tt.total))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_OrderAccrual_Monotonic(t *testing.T) {
	// Identical inputs must yield identical outputs, and a larger total
	// must never yield fewer points.
	e := defaultEngine()

	prev := int64(0)
	for cents := int64(0); cents <= 50000; cents += 997 {
		total := decimal.New(cents, -2)
		got := e.OrderAccrual(total)
		assert.GreaterOrEqual(t, got, prev, "accrual regressed at total %s", total)
		assert.Equal(t, got, e.OrderAccrual(total), "accrual not deterministic at %s", total)
		prev = got
	}
}

func TestEngine_FixedBonuses(t *testing.T) {
	e := defaultEngine()
	assert.Equal(t, int64(100), e.SignupBonus())
	assert.Equal(t, int64(500), e.ReferralBonus())
	assert.Equal(t, int64(100), e.MinRedemption())
	assert.Equal(t, 5, e.CycleDepth())
}

func TestEngine_IsReferralEligible(t *testing.T) {
	e := defaultEngine()

	assert.False(t, e.IsReferralEligible(ledger.ReferralEdge{Status: ledger.EdgePending}),
		"pending edge is not eligible")
	assert.True(t, e.IsReferralEligible(ledger.ReferralEdge{Status: ledger.EdgeCompleted}),
		"completed edge is eligible")
	assert.False(t, e.IsReferralEligible(ledger.ReferralEdge{Status: ledger.EdgeBonusPaid}),
		"bonus_paid edge must not be paid twice")
}
