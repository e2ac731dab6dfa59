package clients

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/corvusbit/ember/internal/domain"
)

// BinanceClient adapts the Binance spot API to the Exchange interface.
// Unlike Bithumb every timeframe is served natively, including weekly.
type BinanceClient struct {
	client *binance.Client
}

func NewBinanceClient(apiKey, apiSecret string) *BinanceClient {
	return &BinanceClient{client: binance.NewClient(apiKey, apiSecret)}
}

func (c *BinanceClient) Ticker(ctx context.Context, pair domain.Pair) (Ticker, error) {
	stats, err := c.client.NewListPriceChangeStatsService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return Ticker{}, errors.Wrapf(err, "ticker %s", pair)
	}
	if len(stats) == 0 {
		return Ticker{}, errors.Errorf("no ticker data for %s", pair)
	}

	last, err := decimal.NewFromString(stats[0].LastPrice)
	if err != nil {
		return Ticker{}, errors.Wrap(err, "parse last price")
	}
	change, err := decimal.NewFromString(stats[0].PriceChangePercent)
	if err != nil {
		return Ticker{}, errors.Wrap(err, "parse price change")
	}
	volume, err := decimal.NewFromString(stats[0].Volume)
	if err != nil {
		return Ticker{}, errors.Wrap(err, "parse volume")
	}

	return Ticker{Pair: pair, Last: last, Change24h: change, Volume24h: volume}, nil
}

func (c *BinanceClient) Balances(ctx context.Context) (map[string]Balance, error) {
	acct, err := c.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch account")
	}

	balances := make(map[string]Balance)
	for _, b := range acct.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, errors.Wrapf(err, "parse free balance %s", b.Asset)
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			return nil, errors.Wrapf(err, "parse locked balance %s", b.Asset)
		}
		if free.IsZero() && locked.IsZero() {
			continue
		}
		balances[b.Asset] = Balance{Currency: b.Asset, Free: free, Locked: locked}
	}

	return balances, nil
}

func (c *BinanceClient) Candles(ctx context.Context, pair domain.Pair, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	svc := c.client.NewKlinesService().Symbol(pair.Symbol()).Interval(string(tf))
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "candles %s %s", pair, tf)
	}

	candles := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := klineToCandle(k)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}

	return candles, nil
}

func klineToCandle(k *binance.Kline) (domain.Candle, error) {
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return domain.Candle{}, errors.Wrap(err, "parse open")
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return domain.Candle{}, errors.Wrap(err, "parse high")
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return domain.Candle{}, errors.Wrap(err, "parse low")
	}
	cls, err := decimal.NewFromString(k.Close)
	if err != nil {
		return domain.Candle{}, errors.Wrap(err, "parse close")
	}
	vol, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return domain.Candle{}, errors.Wrap(err, "parse volume")
	}

	return domain.Candle{
		OpenTime: time.UnixMilli(k.OpenTime).UTC(),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    cls,
		Volume:   vol,
	}, nil
}

func (c *BinanceClient) Markets(ctx context.Context) (map[string]MarketInfo, error) {
	info, err := c.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch exchange info")
	}

	markets := make(map[string]MarketInfo, len(info.Symbols))
	for _, s := range info.Symbols {
		pair := domain.Pair{Base: s.BaseAsset, Quote: s.QuoteAsset}
		mi := MarketInfo{Pair: pair, Active: s.Status == "TRADING"}

		if f := s.LotSizeFilter(); f != nil {
			step, err := decimal.NewFromString(f.StepSize)
			if err == nil {
				mi.QtyStep = step
			}
		}
		if f := s.NotionalFilter(); f != nil {
			mn, err := decimal.NewFromString(f.MinNotional)
			if err == nil {
				mi.MinNotional = mn
			}
		}

		markets[pair.String()] = mi
	}

	return markets, nil
}

func (c *BinanceClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	side := binance.SideTypeBuy
	if req.Side == SideSell {
		side = binance.SideTypeSell
	}

	svc := c.client.NewCreateOrderService().
		Symbol(req.Pair.Symbol()).
		Side(side).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Price(req.Price.String()).
		Quantity(req.Quantity.String())
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return OrderResult{}, errors.Wrapf(err, "place %s order %s", req.Side, req.Pair)
	}

	return OrderResult{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Pair:          req.Pair,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
	}, nil
}
