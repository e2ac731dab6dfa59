// Package indicators derives the technical signal set consumed by the
// condition detector, the trend analyzer and the model prompt. EMA,
// RSI, MACD and ATR come from the cinar/indicator library; ADX from
// go-talib, which cinar does not cover.
package indicators

import (
	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	talib "github.com/markcheno/go-talib"
	"github.com/pkg/errors"

	"github.com/corvusbit/ember/internal/domain"
)

// ErrInsufficientHistory is returned when the candle series is too
// short to warm up every indicator.
var ErrInsufficientHistory = errors.New("insufficient candle history")

const (
	// MinHistory is the shortest series the engine accepts: EMA50 plus
	// enough tail to detect a recent cross.
	MinHistory = 60

	emaFastPeriod  = 20
	emaSlowPeriod  = 50
	rsiPeriod      = 14
	adxPeriod      = 14
	atrPeriod      = 14
	volumeLookback = 20

	// crossLookback is how many of the most recent bars count as a
	// "recent" EMA cross.
	crossLookback = 3

	// emaFlatBand is the relative fast/slow gap below which the EMAs
	// are considered flat rather than trending.
	emaFlatBand = 0.001
)

// Engine computes an IndicatorSet from a candle series. Stateless and
// safe for concurrent use.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Compute derives the full indicator set for one timeframe. The series
// must be oldest first; the last candle may still be forming.
func (e *Engine) Compute(tf domain.Timeframe, candles []domain.Candle) (domain.IndicatorSet, error) {
	if len(candles) < MinHistory {
		return domain.IndicatorSet{}, errors.Wrapf(ErrInsufficientHistory,
			"timeframe %s: need %d candles, got %d", tf, MinHistory, len(candles))
	}
	if !domain.ValidateSeries(candles) {
		return domain.IndicatorSet{}, errors.Errorf("timeframe %s: candle series out of order", tf)
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i], _ = c.Close.Float64()
		highs[i], _ = c.High.Float64()
		lows[i], _ = c.Low.Float64()
		volumes[i], _ = c.Volume.Float64()
	}

	price := closes[len(closes)-1]

	ema20 := computeEMA(closes, emaFastPeriod)
	ema50 := computeEMA(closes, emaSlowPeriod)
	macdLine, signalLine := computeMACD(closes)
	rsi := computeRSI(closes, rsiPeriod)
	atr := computeATR(highs, lows, closes, atrPeriod)
	adx := talib.Adx(highs, lows, closes, adxPeriod)

	if len(ema20) == 0 || len(ema50) == 0 || len(macdLine) == 0 ||
		len(signalLine) == 0 || len(rsi) == 0 || len(atr) == 0 || len(adx) == 0 {
		return domain.IndicatorSet{}, errors.Wrapf(ErrInsufficientHistory,
			"timeframe %s: indicator warmup not reached", tf)
	}

	lastATR := atr[len(atr)-1]
	atrPct := 0.0
	if price > 0 {
		atrPct = lastATR / price * 100
	}

	set := domain.IndicatorSet{
		Timeframe:    tf,
		CurrentPrice: price,
		EMA20:        ema20[len(ema20)-1],
		EMA50:        ema50[len(ema50)-1],
		EMAStatus:    emaStatus(ema20, ema50),
		RSI:          rsi[len(rsi)-1],
		ADX:          adx[len(adx)-1],
		MACD:         macdLine[len(macdLine)-1],
		MACDSignal:   signalLine[len(signalLine)-1],
		ATR:          lastATR,
		ATRPct:       atrPct,
		VolumeRatio:  volumeRatio(volumes),
		Change24h:    change24h(tf, closes),
	}

	return set, nil
}

func computeEMA(closes []float64, period int) []float64 {
	ema := trend.NewEmaWithPeriod[float64](period)
	return helper.ChanToSlice(ema.Compute(helper.SliceToChan(closes)))
}

func computeRSI(closes []float64, period int) []float64 {
	rsi := momentum.NewRsiWithPeriod[float64](period)
	return helper.ChanToSlice(rsi.Compute(helper.SliceToChan(closes)))
}

// computeMACD returns the MACD and signal lines. Both output channels
// must be drained or the indicator pipeline deadlocks.
func computeMACD(closes []float64) ([]float64, []float64) {
	macd := trend.NewMacd[float64]()
	macdChan, signalChan := macd.Compute(helper.SliceToChan(closes))

	var signal []float64
	done := make(chan struct{})
	go func() {
		signal = helper.ChanToSlice(signalChan)
		close(done)
	}()

	line := helper.ChanToSlice(macdChan)
	<-done

	return line, signal
}

func computeATR(highs, lows, closes []float64, period int) []float64 {
	atr := volatility.NewAtrWithPeriod[float64](period)
	return helper.ChanToSlice(atr.Compute(
		helper.SliceToChan(highs),
		helper.SliceToChan(lows),
		helper.SliceToChan(closes),
	))
}

// emaStatus classifies the fast/slow EMA relationship, flagging crosses
// that happened within the last few bars. Series are tail-aligned since
// the slower EMA has a longer warmup.
func emaStatus(ema20, ema50 []float64) domain.EMAStatus {
	n := len(ema20)
	if len(ema50) < n {
		n = len(ema50)
	}
	if n == 0 {
		return domain.EMAFlat
	}

	fast := ema20[len(ema20)-n:]
	slow := ema50[len(ema50)-n:]

	diff := make([]float64, n)
	for i := 0; i < n; i++ {
		diff[i] = fast[i] - slow[i]
	}

	last := diff[n-1]

	// a sign flip inside the lookback is a fresh cross
	steps := crossLookback
	if steps > n-1 {
		steps = n - 1
	}
	for i := n - steps; i < n; i++ {
		if diff[i-1] <= 0 && diff[i] > 0 && last > 0 {
			return domain.EMAGoldenCrossRecent
		}
		if diff[i-1] >= 0 && diff[i] < 0 && last < 0 {
			return domain.EMADeadCrossRecent
		}
	}

	ref := slow[n-1]
	if ref != 0 && abs(last/ref) < emaFlatBand {
		return domain.EMAFlat
	}
	if last > 0 {
		return domain.EMAUptrend
	}
	if last < 0 {
		return domain.EMADowntrend
	}
	return domain.EMAFlat
}

// volumeRatio relates the last bar's volume to its trailing average.
// Returns 1 when there is no usable baseline.
func volumeRatio(volumes []float64) float64 {
	if len(volumes) < volumeLookback+1 {
		return 1
	}

	window := volumes[len(volumes)-volumeLookback-1 : len(volumes)-1]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	avg := sum / float64(len(window))
	if avg <= 0 {
		return 1
	}

	return volumes[len(volumes)-1] / avg
}

// change24h computes the trailing 24 hour percent move for intraday
// timeframes. Daily and weekly report zero, the value is meaningless
// there.
func change24h(tf domain.Timeframe, closes []float64) float64 {
	var barsPerDay int
	switch tf {
	case domain.Timeframe5m:
		barsPerDay = 288
	case domain.Timeframe15m:
		barsPerDay = 96
	case domain.Timeframe30m:
		barsPerDay = 48
	case domain.Timeframe1h:
		barsPerDay = 24
	case domain.Timeframe4h:
		barsPerDay = 6
	default:
		return 0
	}

	if len(closes) <= barsPerDay {
		return 0
	}

	ref := closes[len(closes)-1-barsPerDay]
	if ref == 0 {
		return 0
	}
	return (closes[len(closes)-1] - ref) / ref * 100
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
