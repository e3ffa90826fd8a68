/*
Package rules is the stateless policy evaluator for point accrual.

PURPOSE:
  Computes how many points an event should yield and whether it is
  eligible. Pure functions over configured constants: no I/O, no shared
  mutable state, fully deterministic for identical inputs. That determinism
  is what makes idempotency verification and testing possible.

ROUNDING:
  Order accrual uses floor, never round. floor(total * rate) guarantees the
  system never over-credits due to rounding and keeps the function
  monotonic in the order total.

SEE ALSO:
  - accrual/coordinator.go: The only caller on the accrual path
  - config/config.go: Where the constants come from
*/
package rules

import (
	"github.com/shopspring/decimal"

	"github.com/corepath/rewards-ledger/ledger"
)

// Engine evaluates accrual policy from configured constants.
type Engine struct {
	signupBonus   int64
	referralBonus int64
	orderRate     decimal.Decimal
	minRedemption int64
	cycleDepth    int
}

// New builds an Engine. orderRate is the fraction of the order total
// credited as points (e.g. "0.01" = 1 point per 100 spent).
func New(signupBonus, referralBonus int64, orderRate decimal.Decimal, minRedemption int64, cycleDepth int) *Engine {
	return &Engine{
		signupBonus:   signupBonus,
		referralBonus: referralBonus,
		orderRate:     orderRate,
		minRedemption: minRedemption,
		cycleDepth:    cycleDepth,
	}
}

// SignupBonus is the fixed credit for a completed signup.
func (e *Engine) SignupBonus() int64 { return e.signupBonus }

// ReferralBonus is the fixed credit paid to the referrer when a referral
// completes.
func (e *Engine) ReferralBonus() int64 { return e.referralBonus }

// OrderAccrual computes floor(total * rate). Non-positive totals yield 0.
func (e *Engine) OrderAccrual(total decimal.Decimal) int64 {
	if !total.IsPositive() {
		return 0
	}
	return total.Mul(e.orderRate).Floor().IntPart()
}

// IsReferralEligible reports whether the edge can be paid: completed and
// not yet bonus_paid. The coordinator still re-validates inside its
// transaction; this is the stateless policy check.
func (e *Engine) IsReferralEligible(edge ledger.ReferralEdge) bool {
	return edge.Status == ledger.EdgeCompleted
}

// MinRedemption is the smallest point amount a redemption may spend.
func (e *Engine) MinRedemption() int64 { return e.minRedemption }

// CycleDepth bounds the ancestor walk of the referral cycle guard.
func (e *Engine) CycleDepth() int { return e.cycleDepth }
