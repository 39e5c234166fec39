package payment

import (
	"fmt"
	"math"
	"strings"

	"github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/shopspring/decimal"
)

// CurrencyNGN is the only currency the Nigerian gateways settle in today.
const CurrencyNGN = "NGN"

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

var zeroDecimalCurrencies = map[string]struct{}{
	"JPY": {},
	"KRW": {},
	"XOF": {},
	"XAF": {},
}

// Amount represents a monetary amount in the smallest currency unit (e.g. kobo).
type Amount struct {
	Minor    int64
	Currency string
}

// NewAmount builds an amount from minor units.
func NewAmount(minor int64, currency string) Amount {
	return Amount{Minor: minor, Currency: strings.ToUpper(strings.TrimSpace(currency))}
}

// String returns a human-readable representation of the amount.
func (a Amount) String() string {
	return fmt.Sprintf("%s %s", a.Major().StringFixed(CurrencyScale(a.Currency)), a.Currency)
}

// Major returns the amount in major units (e.g. naira).
func (a Amount) Major() decimal.Decimal {
	return MinorToMajor(a.Minor, a.Currency)
}

// Validate checks that the amount is valid.
func (a Amount) Validate() error {
	if a.Minor <= 0 {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if a.Currency == "" {
		return errors.NewValidationError("currency", "cannot be empty")
	}
	if len(a.Currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}

// CurrencyScale returns the number of minor-unit digits for a currency.
func CurrencyScale(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return 0
	}
	return 2
}

// MajorToMinor converts a major-unit amount to minor units. Amounts with more
// precision than the currency allows are rejected rather than rounded.
func MajorToMinor(major decimal.Decimal, currency string) (int64, error) {
	minor := major.Shift(CurrencyScale(currency))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %s has sub-minor precision for %s", errors.ErrInvalidAmount, major.String(), currency)
	}
	return toInt64(minor)
}

// toInt64 converts an integral decimal, rejecting values IntPart would wrap.
func toInt64(minor decimal.Decimal) (int64, error) {
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return 0, fmt.Errorf("%w: %s minor units out of range", errors.ErrInvalidAmount, minor.String())
	}
	return minor.IntPart(), nil
}

// MinorToMajor converts minor units to a major-unit decimal.
func MinorToMajor(minor int64, currency string) decimal.Decimal {
	return decimal.NewFromInt(minor).Shift(-CurrencyScale(currency))
}

// ParseMajor parses a major-unit string (e.g. "2500.00") into minor units.
func ParseMajor(s string, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errors.ErrInvalidAmount, s)
	}
	return MajorToMinor(d, currency)
}

// ParseMinor parses a minor-unit string (e.g. "49160") as sent by some gateways.
func ParseMinor(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || !d.IsInteger() {
		return 0, fmt.Errorf("%w: %q is not an integer minor amount", errors.ErrInvalidAmount, s)
	}
	return toInt64(d)
}
