package indicators

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/corvusbit/ember/internal/domain"
)

// series builds n candles walking close prices through fn(i).
func series(n int, fn func(i int) float64) []domain.Candle {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, n)
	for i := 0; i < n; i++ {
		c := fn(i)
		candles[i] = domain.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     decimal.NewFromFloat(c * 0.999),
			High:     decimal.NewFromFloat(c * 1.005),
			Low:      decimal.NewFromFloat(c * 0.995),
			Close:    decimal.NewFromFloat(c),
			Volume:   decimal.NewFromInt(100),
		}
	}
	return candles
}

func TestComputeRejectsShortHistory(t *testing.T) {
	e := NewEngine()

	_, err := e.Compute(domain.Timeframe1h, series(MinHistory-1, func(i int) float64 { return 100 }))
	require.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestComputeRejectsUnorderedSeries(t *testing.T) {
	e := NewEngine()

	candles := series(MinHistory+10, func(i int) float64 { return 100 })
	candles[5].OpenTime = candles[50].OpenTime

	_, err := e.Compute(domain.Timeframe1h, candles)
	require.Error(t, err)
}

func TestComputeUptrend(t *testing.T) {
	e := NewEngine()

	// steady climb: fast EMA above slow, RSI elevated
	candles := series(120, func(i int) float64 { return 100 + float64(i) })

	set, err := e.Compute(domain.Timeframe1h, candles)
	require.NoError(t, err)

	require.Equal(t, domain.Timeframe1h, set.Timeframe)
	require.InDelta(t, 219, set.CurrentPrice, 0.001)
	require.Greater(t, set.EMA20, set.EMA50)
	require.True(t, set.EMAStatus.Bullish(), "status %s", set.EMAStatus)
	require.Greater(t, set.RSI, 50.0)
	require.Greater(t, set.ATR, 0.0)
	require.Greater(t, set.ATRPct, 0.0)
}

func TestComputeDowntrend(t *testing.T) {
	e := NewEngine()

	candles := series(120, func(i int) float64 { return 500 - float64(i)*2 })

	set, err := e.Compute(domain.Timeframe1h, candles)
	require.NoError(t, err)

	require.Less(t, set.EMA20, set.EMA50)
	require.True(t, set.EMAStatus.Bearish(), "status %s", set.EMAStatus)
	require.Less(t, set.RSI, 50.0)
}

func TestComputeFlatMarket(t *testing.T) {
	e := NewEngine()

	candles := series(120, func(i int) float64 { return 100 })

	set, err := e.Compute(domain.Timeframe1h, candles)
	require.NoError(t, err)
	require.Equal(t, domain.EMAFlat, set.EMAStatus)
}

func TestGoldenCrossDetected(t *testing.T) {
	e := NewEngine()

	// long decline, then a sharp reversal near the end so the fast EMA
	// crosses above the slow within the lookback
	candles := series(150, func(i int) float64 {
		if i < 120 {
			return 300 - float64(i)
		}
		return 180 + float64(i-120)*12
	})

	set, err := e.Compute(domain.Timeframe1h, candles)
	require.NoError(t, err)
	require.True(t, set.EMAStatus == domain.EMAGoldenCrossRecent || set.EMAStatus == domain.EMAUptrend,
		"status %s", set.EMAStatus)
}

func TestVolumeRatioSpike(t *testing.T) {
	candles := series(120, func(i int) float64 { return 100 })
	candles[len(candles)-1].Volume = decimal.NewFromInt(300)

	e := NewEngine()
	set, err := e.Compute(domain.Timeframe1h, candles)
	require.NoError(t, err)
	require.InDelta(t, 3.0, set.VolumeRatio, 0.01)
}

func TestChange24hIntradayOnly(t *testing.T) {
	e := NewEngine()

	// 1h timeframe: 24 bars back at +1/bar means +24 over the day
	candles := series(120, func(i int) float64 { return 100 + float64(i) })

	set, err := e.Compute(domain.Timeframe1h, candles)
	require.NoError(t, err)
	require.Greater(t, set.Change24h, 0.0)

	daily, err := e.Compute(domain.TimeframeDaily, candles)
	require.NoError(t, err)
	require.Zero(t, daily.Change24h)
}
