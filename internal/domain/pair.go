// Package domain defines core data structures used throughout the trading bot.
package domain

import "fmt"

// Pair cryptocurrency trading pair.
type Pair struct {
	// Base currency symbol, e.g. "SOL".
	Base string `json:"base"`
	// Quote currency symbol, e.g. "KRW".
	Quote string `json:"quote"`
}

// String returns the slash representation, e.g. "SOL/KRW".
func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.Base, p.Quote)
}

// Symbol returns the concatenated representation, e.g. "SOLKRW".
func (p Pair) Symbol() string {
	return fmt.Sprintf("%s%s", p.Base, p.Quote)
}
