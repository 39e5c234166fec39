// Package validation decides whether the amount a gateway reports for a
// payment matches what the order owes.
package validation

import (
	"fmt"
	"slices"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/shopspring/decimal"
)

// Decision is one of Match, AutoCorrected or Blocked.
type Decision interface {
	Kind() string
	decision()
}

// Match means the reported amount equals the order total within tolerance.
type Match struct {
	Amount payment.Amount
}

// AutoCorrected means the reported amount differed from the order total by
// exactly an allowed unit-confusion multiplier. Corrected is the amount to
// settle with; both values must be audit-logged.
type AutoCorrected struct {
	Original   payment.Amount
	Corrected  payment.Amount
	Multiplier int64
	Direction  Direction
}

// Blocked means the payment must not be settled and needs manual review.
type Blocked struct {
	Expected payment.Amount
	Reported payment.Amount
	// Ratio is expected/reported, zero when reported is zero.
	Ratio  decimal.Decimal
	Reason string
}

func (Match) Kind() string         { return "match" }
func (AutoCorrected) Kind() string { return "auto_corrected" }
func (Blocked) Kind() string       { return "blocked" }

func (Match) decision()         {}
func (AutoCorrected) decision() {}
func (Blocked) decision()       {}

// Blocked reasons.
const (
	ReasonAmountMismatch   = "amount_mismatch"
	ReasonCurrencyMismatch = "currency_mismatch"
	ReasonOrderNotFound    = "order_not_found"
)

// Direction says which side of a mismatch may be auto-corrected.
type Direction string

const (
	// DirectionReportedSmaller corrects only when the gateway reported less
	// than the order total, e.g. naira sent where kobo was expected.
	DirectionReportedSmaller Direction = "reported_smaller"
	DirectionReportedLarger  Direction = "reported_larger"
	DirectionBoth            Direction = "both"
)

func (d Direction) allows(other Direction) bool {
	return d == DirectionBoth || d == other
}

// Policy configures the guard.
type Policy struct {
	ToleranceMinor int64
	Multipliers    []int64
	Direction      Direction
}

// DefaultPolicy corrects only a 100x shortfall and tolerates one minor unit of rounding.
func DefaultPolicy() Policy {
	return Policy{
		ToleranceMinor: 1,
		Multipliers:    []int64{100},
		Direction:      DirectionReportedSmaller,
	}
}

// Validate checks the policy.
func (p Policy) Validate() error {
	if p.ToleranceMinor < 0 {
		return domainErrors.NewValidationError("tolerance_minor", "must not be negative")
	}
	for _, m := range p.Multipliers {
		if m <= 1 {
			return domainErrors.NewValidationError("auto_correct_multipliers", fmt.Sprintf("multiplier %d must be greater than 1", m))
		}
	}
	switch p.Direction {
	case DirectionReportedSmaller, DirectionReportedLarger, DirectionBoth:
	default:
		return domainErrors.NewValidationError("auto_correct_direction", fmt.Sprintf("unknown direction %q", p.Direction))
	}
	return nil
}

// Guard compares reported amounts against order totals. It holds no state
// beyond its policy.
type Guard struct {
	policy Policy
}

func NewGuard(policy Policy) (*Guard, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Guard{policy: policy}, nil
}

// Validate decides how the event's reported amount relates to the order total.
func (g *Guard) Validate(event payment.WebhookEvent, order payment.Order) Decision {
	return g.Compare(event.Amount, order.Total)
}

// Compare is Validate on bare amounts, both in minor units.
func (g *Guard) Compare(reported, expected payment.Amount) Decision {
	if reported.Currency != expected.Currency {
		return Blocked{Expected: expected, Reported: reported, Ratio: ratio(expected, reported), Reason: ReasonCurrencyMismatch}
	}

	diff := expected.Minor - reported.Minor
	if diff < 0 {
		diff = -diff
	}
	if diff <= g.policy.ToleranceMinor {
		return Match{Amount: reported}
	}

	if reported.Minor > 0 && expected.Minor > 0 {
		if reported.Minor < expected.Minor && expected.Minor%reported.Minor == 0 {
			m := expected.Minor / reported.Minor
			if g.allowed(m, DirectionReportedSmaller) {
				return AutoCorrected{
					Original:   reported,
					Corrected:  payment.NewAmount(reported.Minor*m, reported.Currency),
					Multiplier: m,
					Direction:  DirectionReportedSmaller,
				}
			}
		}
		if reported.Minor > expected.Minor && reported.Minor%expected.Minor == 0 {
			m := reported.Minor / expected.Minor
			if g.allowed(m, DirectionReportedLarger) {
				return AutoCorrected{
					Original:   reported,
					Corrected:  payment.NewAmount(reported.Minor/m, reported.Currency),
					Multiplier: m,
					Direction:  DirectionReportedLarger,
				}
			}
		}
	}

	return Blocked{Expected: expected, Reported: reported, Ratio: ratio(expected, reported), Reason: ReasonAmountMismatch}
}

func (g *Guard) allowed(multiplier int64, dir Direction) bool {
	return g.policy.Direction.allows(dir) && slices.Contains(g.policy.Multipliers, multiplier)
}

func ratio(expected, reported payment.Amount) decimal.Decimal {
	if reported.Minor == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(expected.Minor).DivRound(decimal.NewFromInt(reported.Minor), 6)
}
