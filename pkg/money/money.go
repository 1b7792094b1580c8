// Package money converts between dollar amounts and integer cents.
package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidAmount is returned when an amount string cannot be parsed.
var ErrInvalidAmount = errors.New("money: invalid amount")

// Cents is an amount in the smallest currency unit.
type Cents int64

// FromDollars converts a dollar float to cents with round(float*100).
func FromDollars(d float64) Cents {
	return Cents(math.Round(d * 100))
}

// Parse converts a dollar string such as "45.5", "$12.00" or "1,250.75" to cents.
func Parse(s string) (Cents, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, ErrInvalidAmount
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDollars(f), nil
}

// Dollars returns the amount as a float with two decimal places of precision.
func (c Cents) Dollars() float64 {
	return float64(c) / 100
}

// String formats the amount as dollars with two decimals, without a sign.
func (c Cents) String() string {
	neg := c < 0
	if neg {
		c = -c
	}
	s := fmt.Sprintf("%d.%02d", int64(c)/100, int64(c)%100)
	if neg {
		return "-" + s
	}
	return s
}

// Format formats the amount with a leading dollar sign.
func (c Cents) Format() string {
	if c < 0 {
		return "-$" + (-c).String()
	}
	return "$" + c.String()
}
