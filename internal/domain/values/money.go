package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value in minor currency units (cents).
// All arithmetic and comparison happens on the integer cent amount;
// decimal is used only at the parse/format boundary so price invariants
// can never be violated by rounding.
type Money struct {
	cents int64
}

// NewMoneyFromCents creates Money from integer cents (smallest unit)
func NewMoneyFromCents(cents int64) Money {
	return Money{cents: cents}
}

// NewMoneyFromString creates Money from a user-entered decimal string
// such as "12.50". Fractions below one cent are rejected.
func NewMoneyFromString(amount string) (Money, error) {
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}

	cents := dec.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() {
		return Money{}, fmt.Errorf("amount %q has sub-cent precision", amount)
	}

	return Money{cents: cents.IntPart()}, nil
}

// MustNewMoneyFromString creates Money and panics on error (for constants/tests)
func MustNewMoneyFromString(amount string) Money {
	m, err := NewMoneyFromString(amount)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero Money value
func Zero() Money {
	return Money{}
}

// Cents returns the amount in integer cents
func (m Money) Cents() int64 {
	return m.cents
}

// String returns the formatted dollar amount (e.g., "$123.45")
func (m Money) String() string {
	return "$" + decimal.NewFromInt(m.cents).Div(decimal.NewFromInt(100)).StringFixed(2)
}

// IsZero checks if the amount is zero
func (m Money) IsZero() bool {
	return m.cents == 0
}

// IsPositive checks if the amount is positive
func (m Money) IsPositive() bool {
	return m.cents > 0
}

// Equal checks if two Money values are equal
func (m Money) Equal(other Money) bool {
	return m.cents == other.cents
}

// Compare returns -1, 0, or 1
func (m Money) Compare(other Money) int {
	switch {
	case m.cents < other.cents:
		return -1
	case m.cents > other.cents:
		return 1
	default:
		return 0
	}
}

// GreaterThan reports whether m exceeds other
func (m Money) GreaterThan(other Money) bool {
	return m.cents > other.cents
}

// Add adds two Money values
func (m Money) Add(other Money) Money {
	return Money{cents: m.cents + other.cents}
}

// Sub subtracts other from m
func (m Money) Sub(other Money) Money {
	return Money{cents: m.cents - other.cents}
}

// JSON marshaling: Money is wired as plain integer cents, matching the
// listings.current_price / bids.amount columns.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.cents)
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var cents int64
	if err := json.Unmarshal(data, &cents); err != nil {
		return fmt.Errorf("invalid money value: %w", err)
	}
	m.cents = cents
	return nil
}

// Database scanning (implements sql.Scanner)
func (m *Money) Scan(value interface{}) error {
	if value == nil {
		*m = Money{}
		return nil
	}

	switch v := value.(type) {
	case int64:
		m.cents = v
		return nil
	case int32:
		m.cents = int64(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Money", value)
	}
}

// Database value (implements driver.Valuer)
func (m Money) Value() (driver.Value, error) {
	return m.cents, nil
}
