package condition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvusbit/ember/internal/domain"
)

func TestHighVolatilityShortCircuits(t *testing.T) {
	d := NewDetector()

	// directional signals present but ATR dominates
	report := d.Detect(domain.IndicatorSet{
		ATRPct:    6.2,
		EMAStatus: domain.EMAUptrend,
		ADX:       40,
		RSI:       50,
	})

	require.Equal(t, domain.ConditionHighVolatility, report.Condition)
	require.Equal(t, domain.VolatilityHigh, report.Volatility)
	require.Zero(t, report.Strength)
	require.InDelta(t, 0.7, report.Confidence, 1e-9)
}

func TestStrongUptrendNeedsADX(t *testing.T) {
	d := NewDetector()

	strong := d.Detect(domain.IndicatorSet{
		ATRPct: 2, EMAStatus: domain.EMAUptrend, ADX: 30, RSI: 55, VolumeRatio: 1,
	})
	require.Equal(t, domain.ConditionStrongUptrend, strong.Condition)
	require.Equal(t, 3, strong.Strength)
	require.InDelta(t, 0.8, strong.Confidence, 1e-9)

	weak := d.Detect(domain.IndicatorSet{
		ATRPct: 2, EMAStatus: domain.EMAUptrend, ADX: 18, RSI: 55, VolumeRatio: 1,
	})
	require.Equal(t, domain.ConditionWeakUptrend, weak.Condition)
	require.Equal(t, 1, weak.Strength)
	require.InDelta(t, 0.6, weak.Confidence, 1e-9)
}

func TestDowntrendMirrors(t *testing.T) {
	d := NewDetector()

	report := d.Detect(domain.IndicatorSet{
		ATRPct: 2, EMAStatus: domain.EMADeadCrossRecent, ADX: 28, RSI: 45, VolumeRatio: 1,
	})
	require.Equal(t, domain.ConditionStrongDowntrend, report.Condition)
	require.Equal(t, -3, report.Strength)
	require.Contains(t, report.Reason, "dead cross")
}

func TestSidewaysWhenFlat(t *testing.T) {
	d := NewDetector()

	report := d.Detect(domain.IndicatorSet{
		ATRPct: 1.5, EMAStatus: domain.EMAFlat, ADX: 15, RSI: 50, VolumeRatio: 1,
	})
	require.Equal(t, domain.ConditionSideways, report.Condition)
	require.InDelta(t, 0.5, report.Confidence, 1e-9)
}

func TestRSIExtremesScaleConfidenceOnly(t *testing.T) {
	d := NewDetector()

	report := d.Detect(domain.IndicatorSet{
		ATRPct: 2, EMAStatus: domain.EMAUptrend, ADX: 30, RSI: 78, VolumeRatio: 1,
	})

	// condition unchanged, confidence dampened
	require.Equal(t, domain.ConditionStrongUptrend, report.Condition)
	require.InDelta(t, 0.8*0.8, report.Confidence, 1e-9)
}

func TestVolumeSurgeBoostsConfidence(t *testing.T) {
	d := NewDetector()

	report := d.Detect(domain.IndicatorSet{
		ATRPct: 2, EMAStatus: domain.EMAUptrend, ADX: 30, RSI: 55, VolumeRatio: 2.5,
	})
	require.InDelta(t, 0.8*1.1, report.Confidence, 1e-9)
}

func TestVolatilityGrades(t *testing.T) {
	require.Equal(t, domain.VolatilityLow, volatilityGrade(2.9))
	require.Equal(t, domain.VolatilityNormal, volatilityGrade(3.1))
	require.Equal(t, domain.VolatilityHigh, volatilityGrade(5.5))
	require.Equal(t, domain.VolatilityExtreme, volatilityGrade(7.5))
}

func TestEntryRatioPerCondition(t *testing.T) {
	require.InDelta(t, 0.60, EntryRatio(domain.ConditionStrongUptrend), 1e-9)
	require.InDelta(t, 0.20, EntryRatio(domain.ConditionStrongDowntrend), 1e-9)
	require.InDelta(t, 0.30, EntryRatio(domain.MarketCondition("unknown")), 1e-9)
}
