package domain

// EMAStatus qualitative relationship between the fast and slow EMA.
type EMAStatus string

const (
	EMAUptrend           EMAStatus = "uptrend"
	EMADowntrend         EMAStatus = "downtrend"
	EMAGoldenCrossRecent EMAStatus = "golden_cross_recent"
	EMADeadCrossRecent   EMAStatus = "dead_cross_recent"
	EMAFlat              EMAStatus = "flat"
)

// Bullish reports whether the status counts as an up move, including a
// fresh golden cross.
func (s EMAStatus) Bullish() bool {
	return s == EMAUptrend || s == EMAGoldenCrossRecent
}

// Bearish reports whether the status counts as a down move, including a
// fresh dead cross.
func (s EMAStatus) Bearish() bool {
	return s == EMADowntrend || s == EMADeadCrossRecent
}

// IndicatorSet snapshot of derived technical signals for one symbol and
// one timeframe. Derived data, never mutated after creation.
type IndicatorSet struct {
	Timeframe    Timeframe
	CurrentPrice float64
	EMA20        float64
	EMA50        float64
	EMAStatus    EMAStatus
	RSI          float64
	ADX          float64
	MACD         float64
	MACDSignal   float64
	ATR          float64
	// ATRPct is ATR expressed as a percentage of the last close.
	ATRPct float64
	// VolumeRatio is last volume over its 20-period average.
	VolumeRatio float64
	// Change24h is the percent move over the trailing 24 hours,
	// populated only for intraday timeframes with enough history.
	Change24h float64
}
