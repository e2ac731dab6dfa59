package trend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvusbit/ember/internal/domain"
)

func weekly(status domain.EMAStatus, adx float64) *domain.IndicatorSet {
	return &domain.IndicatorSet{Timeframe: domain.TimeframeWeekly, EMAStatus: status, ADX: adx, RSI: 50}
}

func daily(status domain.EMAStatus) *domain.IndicatorSet {
	return &domain.IndicatorSet{Timeframe: domain.TimeframeDaily, EMAStatus: status, RSI: 50}
}

func TestAnalyzeNoDataIsNeutral(t *testing.T) {
	a := NewAnalyzer()

	got := a.Analyze(nil, nil)
	require.Equal(t, domain.TrendNeutral, got.Direction)
	require.Equal(t, domain.RecommendWait, got.Recommendation)
	require.InDelta(t, 0.5, got.Strength, 1e-9)
	require.InDelta(t, 1.0, got.SLAdjustment, 1e-9)
}

func TestWeeklyDrivesDirection(t *testing.T) {
	a := NewAnalyzer()

	strong := a.Analyze(nil, weekly(domain.EMAUptrend, 30))
	require.Equal(t, domain.TrendStrongBull, strong.Direction)
	require.InDelta(t, 0.9, strong.Strength, 1e-9)
	require.Equal(t, domain.RecommendStrongBuy, strong.Recommendation)

	mild := a.Analyze(nil, weekly(domain.EMAUptrend, 20))
	require.Equal(t, domain.TrendBull, mild.Direction)
	require.InDelta(t, 0.7, mild.Strength, 1e-9)
	require.Equal(t, domain.RecommendBuy, mild.Recommendation)
}

func TestAgreementStrengthensSignal(t *testing.T) {
	a := NewAnalyzer()

	got := a.Analyze(daily(domain.EMAUptrend), weekly(domain.EMAUptrend, 30))
	require.InDelta(t, 1.0, got.Strength, 1e-9) // 0.9 + 0.1 capped
	require.InDelta(t, 1.0, got.SLAdjustment, 1e-9)
}

func TestDisagreementWeakensAndWidensStop(t *testing.T) {
	a := NewAnalyzer()

	got := a.Analyze(daily(domain.EMADowntrend), weekly(domain.EMAUptrend, 30))

	// weekly still owns the direction
	require.Equal(t, domain.TrendStrongBull, got.Direction)
	require.InDelta(t, 0.7, got.Strength, 1e-9)
	require.InDelta(t, 1.3, got.SLAdjustment, 1e-9)
}

func TestBearTrendWidensStopFurther(t *testing.T) {
	a := NewAnalyzer()

	bear := a.Analyze(nil, weekly(domain.EMADowntrend, 20))
	require.Equal(t, domain.TrendBear, bear.Direction)
	require.Equal(t, domain.RecommendSell, bear.Recommendation)
	require.InDelta(t, 1.3, bear.SLAdjustment, 1e-9)

	strongBear := a.Analyze(nil, weekly(domain.EMADowntrend, 30))
	require.Equal(t, domain.TrendStrongBear, strongBear.Direction)
	require.Equal(t, domain.RecommendStrongSell, strongBear.Recommendation)
	require.InDelta(t, 1.5, strongBear.SLAdjustment, 1e-9)
}

func TestDynamicStopLossLadder(t *testing.T) {
	// low volatility: 1.5% * 2.0 = 3.0%
	require.InDelta(t, 0.03, DynamicStopLoss(1.5, domain.ConditionSideways, nil), 1e-9)

	// medium: 3% * 1.8 = 5.4%
	require.InDelta(t, 0.054, DynamicStopLoss(3.0, domain.ConditionSideways, nil), 1e-9)

	// high: 5% * 1.5 = 7.5% -> clamped to 7%
	require.InDelta(t, 0.07, DynamicStopLoss(5.0, domain.ConditionSideways, nil), 1e-9)

	// extreme: 8% * 1.2 = 9.6% -> clamped
	require.InDelta(t, 0.07, DynamicStopLoss(8.0, domain.ConditionSideways, nil), 1e-9)
}

func TestDynamicStopLossAdjustments(t *testing.T) {
	assessment := &domain.TrendAssessment{SLAdjustment: 1.3}

	// 2% * 2.0 * 1.3 = 5.2%
	require.InDelta(t, 0.052, DynamicStopLoss(2.0, domain.ConditionSideways, assessment), 1e-9)

	// high volatility adds x1.2: 2% * 2.0 * 1.2 = 4.8%
	require.InDelta(t, 0.048, DynamicStopLoss(2.0, domain.ConditionHighVolatility, nil), 1e-9)

	// strong downtrend adds x1.3: 2% * 2.0 * 1.3 = 5.2%
	require.InDelta(t, 0.052, DynamicStopLoss(2.0, domain.ConditionStrongDowntrend, nil), 1e-9)

	// floor applies
	require.InDelta(t, 0.03, DynamicStopLoss(0.5, domain.ConditionSideways, nil), 1e-9)
}

func TestShouldAvoidEntry(t *testing.T) {
	avoid, reason := ShouldAvoidEntry(&domain.TrendAssessment{
		Direction:      domain.TrendBear,
		Recommendation: domain.RecommendSell,
	})
	require.True(t, avoid)
	require.Contains(t, reason, "downtrend")

	avoid, reason = ShouldAvoidEntry(&domain.TrendAssessment{
		Direction:      domain.TrendStrongBull,
		WeeklyMomentum: domain.MomentumRising,
		DailyMomentum:  domain.MomentumFalling,
	})
	require.True(t, avoid)
	require.Contains(t, reason, "disagree")

	avoid, _ = ShouldAvoidEntry(&domain.TrendAssessment{
		Direction:      domain.TrendStrongBull,
		WeeklyMomentum: domain.MomentumRising,
		DailyMomentum:  domain.MomentumRising,
	})
	require.False(t, avoid)

	avoid, _ = ShouldAvoidEntry(nil)
	require.False(t, avoid)
}

func TestGuideForScalesWithVolatility(t *testing.T) {
	base := GuideFor(domain.ConditionStrongUptrend, 3.0)
	require.InDelta(t, 0.05, base.TPMin, 1e-9)
	require.InDelta(t, 0.10, base.TPMax, 1e-9)

	hot := GuideFor(domain.ConditionStrongUptrend, 5.0)
	require.InDelta(t, 0.065, hot.TPMin, 1e-9)
	// the stop ceiling never exceeds the envelope
	require.LessOrEqual(t, hot.SLMax, 0.07)

	calm := GuideFor(domain.ConditionSideways, 1.0)
	require.InDelta(t, 0.0135, calm.TPMin, 1e-9)
	// the stop floor never drops under the envelope
	require.GreaterOrEqual(t, calm.SLMin, 0.03)
}
