package domain

// TrendDirection long-term trend bucket derived from daily and weekly
// indicators.
type TrendDirection string

const (
	TrendStrongBull TrendDirection = "strong_bull"
	TrendBull       TrendDirection = "bull"
	TrendNeutral    TrendDirection = "neutral"
	TrendBear       TrendDirection = "bear"
	TrendStrongBear TrendDirection = "strong_bear"
)

// Bullish reports whether the direction is an up bucket.
func (d TrendDirection) Bullish() bool {
	return d == TrendStrongBull || d == TrendBull
}

// Bearish reports whether the direction is a down bucket.
func (d TrendDirection) Bearish() bool {
	return d == TrendStrongBear || d == TrendBear
}

// Momentum per-timeframe direction of price action.
type Momentum string

const (
	MomentumRising  Momentum = "rising"
	MomentumFlat    Momentum = "flat"
	MomentumFalling Momentum = "falling"
)

// Recommendation operator-facing summary of a trend assessment.
type Recommendation string

const (
	RecommendStrongBuy  Recommendation = "strong_buy"
	RecommendBuy        Recommendation = "buy"
	RecommendWait       Recommendation = "wait"
	RecommendSell       Recommendation = "sell"
	RecommendStrongSell Recommendation = "strong_sell"
)

// TrendAssessment long-term trend analysis result. Owned by the trend
// analyzer, consumed read-only downstream.
type TrendAssessment struct {
	Direction      TrendDirection
	Strength       float64
	WeeklyMomentum Momentum
	DailyMomentum  Momentum
	Recommendation Recommendation
	// SLAdjustment widens the stop-loss when timeframes disagree or the
	// long-term trend is down; always in [1.0, 1.5].
	SLAdjustment float64
}

// Aligned reports whether the long-term trend agrees with the short-term
// market condition.
func (t TrendAssessment) Aligned(condition MarketCondition) bool {
	switch {
	case t.Direction.Bullish():
		return condition.Bullish()
	case t.Direction.Bearish():
		return condition.Bearish()
	default:
		return condition == ConditionSideways || condition == ConditionHighVolatility
	}
}
