package db

import "github.com/shopspring/decimal"

// decOrZero parses a stored TEXT decimal, treating empty or malformed
// values as zero. Monetary columns are written by this package only, so a
// parse failure means a hand-edited database; zero is the safe reading.
func decOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
