package model

import (
	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// Money is an exact decimal amount in the project's display currency.
type Money = decimal.Decimal

var Zero = decimal.Zero

func NewMoney(units int64) Money {
	return decimal.NewFromInt(units)
}

func ParseMoney(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// FormatMoney renders an amount the way messages show it, e.g. "$25,000".
func FormatMoney(m Money) string {
	if m.IsNegative() {
		return "-$" + humanize.Commaf(m.Abs().InexactFloat64())
	}
	return "$" + humanize.Commaf(m.InexactFloat64())
}
