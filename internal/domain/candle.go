package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe identifies a candle interval.
type Timeframe string

const (
	Timeframe5m     Timeframe = "5m"
	Timeframe15m    Timeframe = "15m"
	Timeframe30m    Timeframe = "30m"
	Timeframe1h     Timeframe = "1h"
	Timeframe4h     Timeframe = "4h"
	TimeframeDaily  Timeframe = "1d"
	TimeframeWeekly Timeframe = "1w"
)

// Candle single OHLCV bar. A candle series is ordered by strictly
// increasing OpenTime and is immutable once produced.
type Candle struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// ValidateSeries reports whether candles are strictly ordered by OpenTime.
func ValidateSeries(candles []Candle) bool {
	for i := 1; i < len(candles); i++ {
		if !candles[i].OpenTime.After(candles[i-1].OpenTime) {
			return false
		}
	}
	return true
}

// ResampleWeekly aggregates daily candles into weekly ones, anchored on
// Monday. The exchange does not serve weekly candles directly, so the
// weekly timeframe is always derived from the daily series.
func ResampleWeekly(daily []Candle) []Candle {
	if len(daily) == 0 {
		return nil
	}

	var weekly []Candle
	var cur *Candle

	for _, c := range daily {
		year, week := c.OpenTime.ISOWeek()
		if cur != nil {
			cy, cw := cur.OpenTime.ISOWeek()
			if cy == year && cw == week {
				if c.High.GreaterThan(cur.High) {
					cur.High = c.High
				}
				if c.Low.LessThan(cur.Low) {
					cur.Low = c.Low
				}
				cur.Close = c.Close
				cur.Volume = cur.Volume.Add(c.Volume)
				continue
			}
			weekly = append(weekly, *cur)
		}
		cc := c
		cur = &cc
	}
	weekly = append(weekly, *cur)

	return weekly
}
