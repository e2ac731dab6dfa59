// Package condition classifies the market regime from a single
// timeframe's indicator set. The classification is deterministic and
// feeds both the model prompt and the risk layer, so the same inputs
// must always produce the same report.
package condition

import (
	"fmt"

	"github.com/corvusbit/ember/internal/domain"
)

const (
	// adxTrending separates a strong trend from a weak one.
	adxTrending = 25.0

	// highVolATRPct short-circuits trend classification entirely; above
	// this the regime is volatility, not direction.
	highVolATRPct = 5.0

	rsiOverbought = 70.0
	rsiOversold   = 30.0

	volumeSurge = 2.0
)

// Detector derives a ConditionReport from indicators. Stateless.
type Detector struct{}

func NewDetector() *Detector {
	return &Detector{}
}

// Detect classifies the regime. High volatility wins over any
// directional reading; RSI extremes and volume surges only scale
// confidence, never flip the condition.
func (d *Detector) Detect(set domain.IndicatorSet) domain.ConditionReport {
	report := domain.ConditionReport{
		Condition:  domain.ConditionSideways,
		Volatility: volatilityGrade(set.ATRPct),
		Confidence: 0.5,
	}

	if set.ATRPct > highVolATRPct {
		report.Condition = domain.ConditionHighVolatility
		report.Strength = 0
		report.Confidence = 0.7
		report.Reason = fmt.Sprintf("ATR %.1f%% (high volatility)", set.ATRPct)
		return report
	}

	switch {
	case set.EMAStatus.Bullish():
		if set.ADX >= adxTrending {
			report.Condition = domain.ConditionStrongUptrend
			report.Strength = 3
			report.Confidence = 0.8
		} else {
			report.Condition = domain.ConditionWeakUptrend
			report.Strength = 1
			report.Confidence = 0.6
		}
		if set.EMAStatus == domain.EMAGoldenCrossRecent {
			report.Reason = "golden cross"
		} else {
			report.Reason = fmt.Sprintf("uptrend (ADX %.0f)", set.ADX)
		}

	case set.EMAStatus.Bearish():
		if set.ADX >= adxTrending {
			report.Condition = domain.ConditionStrongDowntrend
			report.Strength = -3
			report.Confidence = 0.8
		} else {
			report.Condition = domain.ConditionWeakDowntrend
			report.Strength = -1
			report.Confidence = 0.6
		}
		if set.EMAStatus == domain.EMADeadCrossRecent {
			report.Reason = "dead cross"
		} else {
			report.Reason = fmt.Sprintf("downtrend (ADX %.0f)", set.ADX)
		}

	default:
		report.Condition = domain.ConditionSideways
		report.Strength = 0
		report.Confidence = 0.5
		report.Reason = "ranging"
	}

	if set.RSI > rsiOverbought {
		report.Confidence *= 0.8
		report.Reason += fmt.Sprintf(" | RSI overbought (%.0f)", set.RSI)
	} else if set.RSI < rsiOversold {
		report.Confidence *= 0.8
		report.Reason += fmt.Sprintf(" | RSI oversold (%.0f)", set.RSI)
	}

	if set.VolumeRatio > volumeSurge {
		report.Confidence *= 1.1
		report.Reason += fmt.Sprintf(" | volume surge (%.1fx)", set.VolumeRatio)
	}

	return report
}

func volatilityGrade(atrPct float64) domain.VolatilityGrade {
	switch {
	case atrPct > 7:
		return domain.VolatilityExtreme
	case atrPct > 5:
		return domain.VolatilityHigh
	case atrPct > 3:
		return domain.VolatilityNormal
	default:
		return domain.VolatilityLow
	}
}

// EntryRatio returns the fraction of the allotted budget to deploy on
// the first entry in the given regime. The remainder is held back for
// averaging in.
func EntryRatio(c domain.MarketCondition) float64 {
	switch c {
	case domain.ConditionStrongUptrend:
		return 0.60
	case domain.ConditionWeakUptrend:
		return 0.40
	case domain.ConditionSideways:
		return 0.30
	case domain.ConditionWeakDowntrend:
		return 0.25
	case domain.ConditionStrongDowntrend:
		return 0.20
	case domain.ConditionHighVolatility:
		return 0.25
	}
	return 0.30
}
