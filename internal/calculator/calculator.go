// Package calculator implements the fine calculation algorithm.
//
// Amounts are integer cents and policy percentages are basis points, so every
// result is exact and independent of floating point formatting. Rounding is
// half-up, which for the non-negative amounts handled here equals rounding
// half away from zero.
package calculator

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/opensource-finance/sanctiond/internal/domain"
)

const bpScale = 10000

// Calculator computes fines from a rule, a recidivism count and an optional
// operator-chosen amount. It is safe for concurrent use.
type Calculator struct {
	policy domain.PolicyConfig
}

// New creates a calculator for the given policy.
func New(policy domain.PolicyConfig) *Calculator {
	return &Calculator{policy: policy}
}

// Policy returns the policy constants in use.
func (c *Calculator) Policy() domain.PolicyConfig {
	return c.policy
}

// Input holds everything a calculation depends on.
type Input struct {
	Rule            *domain.ViolationRule
	StructureID     string
	RecidivismCount int
	CustomAmount    *int64
}

// Calculate runs the fine algorithm. It has no side effects.
func (c *Calculator) Calculate(in Input) (*domain.CalculationResult, error) {
	rule := in.Rule
	if rule == nil || !rule.Enabled {
		return nil, domain.ErrRuleNotFound
	}
	if in.RecidivismCount < 0 {
		verr := &domain.ValidationError{}
		verr.Add("recidivismCount", "must not be negative")
		return nil, verr
	}

	base := rule.BaseFine
	if in.CustomAmount != nil {
		amount := *in.CustomAmount
		if rule.FixedAmount() {
			return nil, &domain.AmountOutOfRangeError{Amount: amount, Min: rule.MinFine, Max: rule.MaxFine, Fixed: true}
		}
		if amount < rule.MinFine || amount > rule.MaxFine {
			return nil, &domain.AmountOutOfRangeError{Amount: amount, Min: rule.MinFine, Max: rule.MaxFine}
		}
		base = amount
	}

	multiplierBP := c.multiplierBP(in.RecidivismCount)
	calculated, ok := mulDivRound(base, multiplierBP, bpScale)
	if !ok {
		return nil, overflowError("calculatedAmount", base, multiplierBP)
	}
	final := clamp(calculated, rule.MinFine, rule.MaxFine)
	state, ok := mulDivRound(final, c.policy.StateShareBP, bpScale)
	if !ok {
		return nil, overflowError("amountState", final, c.policy.StateShareBP)
	}

	var custom *int64
	if in.CustomAmount != nil {
		v := *in.CustomAmount
		custom = &v
	}

	return &domain.CalculationResult{
		ViolationCode: rule.Code,
		StructureID:   in.StructureID,
		Category:      rule.Category,
		Snapshot: domain.Snapshot{
			BaseAmount:           base,
			CustomAmount:         custom,
			CalculatedAmount:     calculated,
			FinalAmount:          final,
			Multiplier:           float64(multiplierBP) / bpScale,
			RecidivismCount:      in.RecidivismCount,
			AmountState:          state,
			AmountRegion:         final - state,
			LegalBasis:           legalBasis(rule),
			CanTriggerSuspension: rule.CanTriggerSuspension && in.RecidivismCount >= c.policy.SuspensionThreshold,
		},
		MinFine:             rule.MinFine,
		MaxFine:             rule.MaxFine,
		StateBudgetCode:     c.policy.StateBudgetCode,
		RegionBudgetCode:    c.policy.RegionBudgetCode,
		PaymentDeadlineDays: c.policy.PaymentDeadlineDays,
		AppealDeadlineDays:  c.policy.AppealDeadlineDays,
	}, nil
}

// multiplierBP returns 1 + min(count, cap) * step, in basis points.
func (c *Calculator) multiplierBP(count int) int64 {
	capped := count
	if capped > c.policy.RecidivismCap {
		capped = c.policy.RecidivismCap
	}
	if capped < 0 {
		capped = 0
	}
	return bpScale + int64(capped)*c.policy.RecidivismStepBP
}

func legalBasis(rule *domain.ViolationRule) string {
	if rule.LegalReference == "" {
		return rule.Name
	}
	return fmt.Sprintf("%s (%s)", rule.LegalReference, rule.Name)
}

// mulDivRound returns round(a*b/d) with halves rounded up, using a 128-bit
// intermediate product. ok is false when an operand is out of range or the
// quotient does not fit in int64.
func mulDivRound(a, b, d int64) (q int64, ok bool) {
	if a < 0 || b < 0 || d <= 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	lo, carry := bits.Add64(lo, uint64(d/2), 0)
	hi += carry
	if hi >= uint64(d) {
		return 0, false
	}
	uq, _ := bits.Div64(hi, lo, uint64(d))
	if uq > math.MaxInt64 {
		return 0, false
	}
	return int64(uq), true
}

func overflowError(field string, amount, bp int64) error {
	verr := &domain.ValidationError{}
	verr.Add(field, fmt.Sprintf("%d x %d bp is out of range", amount, bp))
	return verr
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
