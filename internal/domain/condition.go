package domain

// MarketCondition enumerated market regime derived from an IndicatorSet.
type MarketCondition string

const (
	ConditionStrongUptrend   MarketCondition = "strong_uptrend"
	ConditionWeakUptrend     MarketCondition = "weak_uptrend"
	ConditionSideways        MarketCondition = "sideways"
	ConditionWeakDowntrend   MarketCondition = "weak_downtrend"
	ConditionStrongDowntrend MarketCondition = "strong_downtrend"
	ConditionHighVolatility  MarketCondition = "high_volatility"
)

// Valid reports whether s names a known market condition.
func (c MarketCondition) Valid() bool {
	switch c {
	case ConditionStrongUptrend, ConditionWeakUptrend, ConditionSideways,
		ConditionWeakDowntrend, ConditionStrongDowntrend, ConditionHighVolatility:
		return true
	}
	return false
}

// Bullish reports whether the condition is an uptrend regime.
func (c MarketCondition) Bullish() bool {
	return c == ConditionStrongUptrend || c == ConditionWeakUptrend
}

// Bearish reports whether the condition is a downtrend regime.
func (c MarketCondition) Bearish() bool {
	return c == ConditionStrongDowntrend || c == ConditionWeakDowntrend
}

// VolatilityGrade ATR-based volatility bucket.
type VolatilityGrade string

const (
	VolatilityLow     VolatilityGrade = "low"
	VolatilityNormal  VolatilityGrade = "normal"
	VolatilityHigh    VolatilityGrade = "high"
	VolatilityExtreme VolatilityGrade = "extreme"
)

// ConditionReport full market condition classification.
type ConditionReport struct {
	Condition  MarketCondition
	Volatility VolatilityGrade
	// Strength ranges -3..+3, negative for downtrends.
	Strength   int
	Confidence float64
	Reason     string
}
