package clients

import (
	"context"
	"strconv"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/corvusbit/ember/internal/domain"
)

// BybitClient adapts the Bybit V5 spot API to the Exchange interface.
type BybitClient struct {
	client *bybit.Client
}

func NewBybitClient(apiKey, apiSecret string) *BybitClient {
	return &BybitClient{client: bybit.NewClient().WithAuth(apiKey, apiSecret)}
}

func bybitInterval(tf domain.Timeframe) (bybit.Interval, bool) {
	switch tf {
	case domain.Timeframe5m:
		return bybit.Interval("5"), true
	case domain.Timeframe15m:
		return bybit.Interval("15"), true
	case domain.Timeframe30m:
		return bybit.Interval("30"), true
	case domain.Timeframe1h:
		return bybit.Interval("60"), true
	case domain.Timeframe4h:
		return bybit.Interval("240"), true
	case domain.TimeframeDaily:
		return bybit.Interval("D"), true
	case domain.TimeframeWeekly:
		return bybit.Interval("W"), true
	}
	return "", false
}

func (c *BybitClient) Ticker(ctx context.Context, pair domain.Pair) (Ticker, error) {
	symbol := bybit.SymbolV5(pair.Symbol())
	result, err := c.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &symbol,
	})
	if err != nil {
		return Ticker{}, errors.Wrapf(err, "ticker %s", pair)
	}
	if len(result.Result.Spot.List) == 0 {
		return Ticker{}, errors.Errorf("no ticker data for %s", pair)
	}

	item := result.Result.Spot.List[0]
	last, err := decimal.NewFromString(item.LastPrice)
	if err != nil {
		return Ticker{}, errors.Wrap(err, "parse last price")
	}
	pcnt, err := decimal.NewFromString(item.Price24HPcnt)
	if err != nil {
		return Ticker{}, errors.Wrap(err, "parse 24h change")
	}
	volume, err := decimal.NewFromString(item.Volume24H)
	if err != nil {
		return Ticker{}, errors.Wrap(err, "parse 24h volume")
	}

	// venue reports change as a fraction, normalize to percent
	return Ticker{
		Pair:      pair,
		Last:      last,
		Change24h: pcnt.Mul(decimal.NewFromInt(100)),
		Volume24h: volume,
	}, nil
}

func (c *BybitClient) Balances(ctx context.Context) (map[string]Balance, error) {
	res, err := c.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5("UNIFIED"), nil)
	if err != nil {
		return nil, errors.Wrap(err, "fetch wallet balance")
	}

	balances := make(map[string]Balance)
	for _, acct := range res.Result.List {
		for _, coin := range acct.Coin {
			total, err := decimal.NewFromString(coin.WalletBalance)
			if err != nil {
				return nil, errors.Wrapf(err, "parse balance %s", coin.Coin)
			}
			locked := decimal.Zero
			if coin.Locked != "" {
				locked, err = decimal.NewFromString(coin.Locked)
				if err != nil {
					return nil, errors.Wrapf(err, "parse locked %s", coin.Coin)
				}
			}
			if total.IsZero() {
				continue
			}
			cur := string(coin.Coin)
			balances[cur] = Balance{
				Currency: cur,
				Free:     total.Sub(locked),
				Locked:   locked,
			}
		}
	}

	return balances, nil
}

func (c *BybitClient) Candles(ctx context.Context, pair domain.Pair, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	interval, ok := bybitInterval(tf)
	if !ok {
		return nil, errors.Errorf("unsupported timeframe %s", tf)
	}

	param := bybit.V5GetKlineParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(pair.Symbol()),
		Interval: interval,
	}
	if limit > 0 {
		param.Limit = &limit
	}

	result, err := c.client.V5().Market().GetKline(param)
	if err != nil {
		return nil, errors.Wrapf(err, "candles %s %s", pair, tf)
	}

	list := result.Result.List
	// venue returns newest first
	candles := make([]domain.Candle, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		k := list[i]
		ms, err := strconv.ParseInt(k.StartTime, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse candle timestamp %q", k.StartTime)
		}
		open, err := decimal.NewFromString(k.Open)
		if err != nil {
			return nil, errors.Wrap(err, "parse open")
		}
		high, err := decimal.NewFromString(k.High)
		if err != nil {
			return nil, errors.Wrap(err, "parse high")
		}
		low, err := decimal.NewFromString(k.Low)
		if err != nil {
			return nil, errors.Wrap(err, "parse low")
		}
		cls, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, errors.Wrap(err, "parse close")
		}
		vol, err := decimal.NewFromString(k.Volume)
		if err != nil {
			return nil, errors.Wrap(err, "parse volume")
		}
		candles = append(candles, domain.Candle{
			OpenTime: time.UnixMilli(ms).UTC(),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    cls,
			Volume:   vol,
		})
	}

	return candles, nil
}

func (c *BybitClient) Markets(ctx context.Context) (map[string]MarketInfo, error) {
	result, err := c.client.V5().Market().GetInstrumentsInfo(bybit.V5GetInstrumentsInfoParam{
		Category: bybit.CategoryV5Spot,
	})
	if err != nil {
		return nil, errors.Wrap(err, "fetch instruments")
	}

	markets := make(map[string]MarketInfo)
	for _, item := range result.Result.Spot.List {
		pair := domain.Pair{Base: string(item.BaseCoin), Quote: string(item.QuoteCoin)}
		mi := MarketInfo{Pair: pair, Active: string(item.Status) == "Trading"}

		if step, err := decimal.NewFromString(item.LotSizeFilter.BasePrecision); err == nil {
			mi.QtyStep = step
		}
		if mn, err := decimal.NewFromString(item.LotSizeFilter.MinOrderAmt); err == nil {
			mi.MinNotional = mn
		}

		markets[pair.String()] = mi
	}

	return markets, nil
}

func (c *BybitClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	side := bybit.SideBuy
	if req.Side == SideSell {
		side = bybit.SideSell
	}

	price := req.Price.String()
	param := bybit.V5CreateOrderParam{
		Category:  bybit.CategoryV5Spot,
		Symbol:    bybit.SymbolV5(req.Pair.Symbol()),
		Side:      side,
		OrderType: bybit.OrderTypeLimit,
		Qty:       req.Quantity.String(),
		Price:     &price,
	}
	if req.ClientOrderID != "" {
		param.OrderLinkID = &req.ClientOrderID
	}

	res, err := c.client.V5().Order().CreateOrder(param)
	if err != nil {
		return OrderResult{}, errors.Wrapf(err, "place %s order %s", req.Side, req.Pair)
	}

	return OrderResult{
		OrderID:       res.Result.OrderID,
		ClientOrderID: res.Result.OrderLinkID,
		Pair:          req.Pair,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
	}, nil
}
