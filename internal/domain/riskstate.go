package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskState process-wide risk bookkeeping for one bot session. Realized
// P&L entries are append-only; daily counters reset when the UTC date
// rolls, drawdown resets only on manual clear.
type RiskState struct {
	// DailyStartEquity is total equity observed at the start of the
	// current trading day.
	DailyStartEquity decimal.Decimal `json:"daily_start_equity"`
	DailyDate        string          `json:"daily_date"`
	RealizedDailyPnL decimal.Decimal `json:"realized_daily_pnl"`

	PeakEquity decimal.Decimal `json:"peak_equity"`

	ConsecutiveLosses int `json:"consecutive_losses"`

	BreakerTripped bool      `json:"breaker_tripped"`
	TripReason     string    `json:"trip_reason,omitempty"`
	TripTime       time.Time `json:"trip_time,omitempty"`
}

// Drawdown returns (peak-current)/peak for the given equity, zero when no
// peak has been observed yet.
func (s RiskState) Drawdown(currentEquity decimal.Decimal) decimal.Decimal {
	if s.PeakEquity.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return s.PeakEquity.Sub(currentEquity).Div(s.PeakEquity)
}

// DailyLoss returns the fraction of the day-start equity lost so far,
// zero when the day is flat or positive.
func (s RiskState) DailyLoss(currentEquity decimal.Decimal) decimal.Decimal {
	if s.DailyStartEquity.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	loss := s.DailyStartEquity.Sub(currentEquity).Div(s.DailyStartEquity)
	if loss.IsNegative() {
		return decimal.Zero
	}
	return loss
}
