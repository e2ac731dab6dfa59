// Package trend analyzes daily and weekly indicators into a long-term
// assessment. The weekly timeframe owns the direction call; the daily
// one only scales strength and widens the stop when the two disagree.
package trend

import (
	"math"

	"github.com/corvusbit/ember/internal/domain"
)

const (
	adxTrending = 25.0

	// stop-loss band and the ATR multiplier ladder feeding DynamicStopLoss
	slMin = 0.03
	slMax = 0.07

	atrMultLow     = 2.0
	atrMultMedium  = 1.8
	atrMultHigh    = 1.5
	atrMultExtreme = 1.2
)

// Analyzer derives TrendAssessments. Stateless.
type Analyzer struct{}

func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze combines weekly and daily indicator sets. Either may be nil
// when history is missing; the assessment then degrades toward neutral
// rather than guessing. The weekly direction is never overturned by the
// daily one: disagreement weakens the signal and widens the stop, it
// does not flip the call.
func (a *Analyzer) Analyze(daily, weekly *domain.IndicatorSet) domain.TrendAssessment {
	result := domain.TrendAssessment{
		Direction:      domain.TrendNeutral,
		Strength:       0.5,
		WeeklyMomentum: domain.MomentumFlat,
		DailyMomentum:  domain.MomentumFlat,
		Recommendation: domain.RecommendWait,
		SLAdjustment:   1.0,
	}

	if weekly != nil {
		switch {
		case weekly.EMAStatus.Bullish():
			result.WeeklyMomentum = domain.MomentumRising
			if weekly.ADX >= adxTrending {
				result.Direction = domain.TrendStrongBull
				result.Strength = 0.9
			} else {
				result.Direction = domain.TrendBull
				result.Strength = 0.7
			}
		case weekly.EMAStatus.Bearish():
			result.WeeklyMomentum = domain.MomentumFalling
			if weekly.ADX >= adxTrending {
				result.Direction = domain.TrendStrongBear
				result.Strength = 0.9
			} else {
				result.Direction = domain.TrendBear
				result.Strength = 0.7
			}
		}
	}

	if daily != nil {
		switch {
		case daily.EMAStatus.Bullish():
			result.DailyMomentum = domain.MomentumRising
		case daily.EMAStatus.Bearish():
			result.DailyMomentum = domain.MomentumFalling
		}

		if result.DailyMomentum == result.WeeklyMomentum {
			result.Strength = math.Min(result.Strength+0.1, 1.0)
		} else if result.WeeklyMomentum != domain.MomentumFlat && result.DailyMomentum != domain.MomentumFlat {
			result.Strength = math.Max(result.Strength-0.2, 0.3)
			result.SLAdjustment = 1.3
		}
	}

	switch result.Direction {
	case domain.TrendStrongBull:
		result.Recommendation = domain.RecommendStrongBuy
	case domain.TrendBull:
		result.Recommendation = domain.RecommendBuy
	case domain.TrendStrongBear:
		result.Recommendation = domain.RecommendStrongSell
		result.SLAdjustment = 1.5
	case domain.TrendBear:
		result.Recommendation = domain.RecommendSell
		result.SLAdjustment = 1.3
	default:
		result.Recommendation = domain.RecommendWait
	}

	return result
}

// DynamicStopLoss sizes the stop from current volatility, scaled wider
// in downtrends and high-volatility regimes, then clamped into
// [slMin, slMax]. Returned as a fraction, e.g. 0.045 for 4.5%.
func DynamicStopLoss(atrPct float64, cond domain.MarketCondition, assessment *domain.TrendAssessment) float64 {
	var mult float64
	switch {
	case atrPct <= 2:
		mult = atrMultLow
	case atrPct <= 4:
		mult = atrMultMedium
	case atrPct <= 6:
		mult = atrMultHigh
	default:
		mult = atrMultExtreme
	}

	sl := (atrPct / 100) * mult
	if assessment != nil {
		sl *= assessment.SLAdjustment
	}

	switch cond {
	case domain.ConditionHighVolatility:
		sl *= 1.2
	case domain.ConditionStrongDowntrend:
		sl *= 1.3
	}

	if sl < slMin {
		sl = slMin
	}
	if sl > slMax {
		sl = slMax
	}

	return math.Round(sl*10000) / 10000
}

// ShouldAvoidEntry reports whether new entries are off the table under
// the long-term trend, with the reason when they are.
func ShouldAvoidEntry(assessment *domain.TrendAssessment) (bool, string) {
	if assessment == nil {
		return false, ""
	}

	if assessment.Direction.Bearish() {
		return true, "weekly downtrend (" + string(assessment.Recommendation) + ")"
	}

	if assessment.WeeklyMomentum != domain.MomentumFlat &&
		assessment.DailyMomentum != domain.MomentumFlat &&
		assessment.WeeklyMomentum != assessment.DailyMomentum {
		return true, "weekly/daily momentum disagree"
	}

	return false, ""
}

// TPSLGuide is the per-regime take-profit and stop-loss band handed to
// the model as guardrails.
type TPSLGuide struct {
	TPMin float64
	TPMax float64
	SLMin float64
	SLMax float64
}

// GuideFor returns the TP/SL band for a market regime, stretched when
// current volatility is unusually high and tightened when it is low.
func GuideFor(cond domain.MarketCondition, atrPct float64) TPSLGuide {
	var g TPSLGuide
	switch cond {
	case domain.ConditionStrongUptrend:
		g = TPSLGuide{TPMin: 0.05, TPMax: 0.10, SLMin: slMin, SLMax: 0.05}
	case domain.ConditionWeakUptrend:
		g = TPSLGuide{TPMin: 0.03, TPMax: 0.05, SLMin: slMin, SLMax: 0.04}
	case domain.ConditionWeakDowntrend:
		g = TPSLGuide{TPMin: 0.02, TPMax: 0.03, SLMin: slMin, SLMax: 0.05}
	case domain.ConditionStrongDowntrend:
		g = TPSLGuide{TPMin: 0.015, TPMax: 0.025, SLMin: slMin, SLMax: slMax}
	case domain.ConditionHighVolatility:
		g = TPSLGuide{TPMin: 0.02, TPMax: 0.04, SLMin: slMin, SLMax: 0.06}
	default:
		g = TPSLGuide{TPMin: 0.015, TPMax: 0.03, SLMin: slMin, SLMax: 0.04}
	}

	switch {
	case atrPct > 4:
		g.TPMin *= 1.3
		g.TPMax *= 1.3
		g.SLMin *= 1.3
		g.SLMax *= 1.3
	case atrPct < 2:
		g.TPMin *= 0.9
		g.TPMax *= 0.9
		g.SLMin *= 0.9
		g.SLMax *= 0.9
	}

	// the stop band never leaves the configured envelope
	g.SLMin = math.Max(g.SLMin, slMin)
	g.SLMax = math.Min(g.SLMax, slMax)

	return g
}
