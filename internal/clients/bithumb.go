package clients

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/corvusbit/ember/internal/domain"
)

const bithumbBaseURL = "https://api.bithumb.com"

// StatusError is a non-2xx venue response. Temporary reports whether a
// retry could succeed.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("venue returned status %d: %s", e.Code, e.Body)
}

// Temporary is true for rate limiting and server-side failures.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// BithumbClient talks to the Bithumb KRW spot venue. Public market data
// uses the unauthenticated endpoints; balance and order endpoints sign
// each request with HMAC-SHA512 over endpoint, form body and nonce.
type BithumbClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
	nonce      func() string
}

// NewBithumbClient creates a Bithumb adapter. Keys may be empty for a
// market-data-only client; private calls will then fail.
func NewBithumbClient(apiKey, apiSecret string) *BithumbClient {
	return &BithumbClient{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   bithumbBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		nonce: func() string {
			return strconv.FormatInt(time.Now().UnixMilli(), 10)
		},
	}
}

// bithumbEnvelope is the common response wrapper. Status "0000" is
// success, anything else carries a venue error message.
type bithumbEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *BithumbClient) Ticker(ctx context.Context, pair domain.Pair) (Ticker, error) {
	var data struct {
		ClosingPrice  string `json:"closing_price"`
		FluctateRate  string `json:"fluctate_rate_24H"`
		UnitsTraded24 string `json:"units_traded_24H"`
	}
	path := fmt.Sprintf("/public/ticker/%s_%s", pair.Base, pair.Quote)
	if err := c.public(ctx, path, &data); err != nil {
		return Ticker{}, errors.Wrapf(err, "ticker %s", pair)
	}

	last, err := decimal.NewFromString(data.ClosingPrice)
	if err != nil {
		return Ticker{}, errors.Wrapf(err, "parse closing price %q", data.ClosingPrice)
	}
	change, err := decimal.NewFromString(data.FluctateRate)
	if err != nil {
		return Ticker{}, errors.Wrapf(err, "parse fluctate rate %q", data.FluctateRate)
	}
	volume, err := decimal.NewFromString(data.UnitsTraded24)
	if err != nil {
		return Ticker{}, errors.Wrapf(err, "parse 24h volume %q", data.UnitsTraded24)
	}

	return Ticker{Pair: pair, Last: last, Change24h: change, Volume24h: volume}, nil
}

func (c *BithumbClient) Balances(ctx context.Context) (map[string]Balance, error) {
	raw, err := c.private(ctx, "/info/balance", url.Values{"currency": {"ALL"}})
	if err != nil {
		return nil, errors.Wrap(err, "fetch balances")
	}

	var fields map[string]string
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Wrap(err, "decode balance data")
	}

	balances := make(map[string]Balance)
	for key, val := range fields {
		var cur string
		var free bool
		switch {
		case strings.HasPrefix(key, "available_"):
			cur, free = strings.ToUpper(strings.TrimPrefix(key, "available_")), true
		case strings.HasPrefix(key, "in_use_"):
			cur = strings.ToUpper(strings.TrimPrefix(key, "in_use_"))
		default:
			continue
		}

		amount, err := decimal.NewFromString(val)
		if err != nil {
			return nil, errors.Wrapf(err, "parse balance %s=%q", key, val)
		}
		b := balances[cur]
		b.Currency = cur
		if free {
			b.Free = amount
		} else {
			b.Locked = amount
		}
		balances[cur] = b
	}

	for cur, b := range balances {
		if b.Total().IsZero() {
			delete(balances, cur)
		}
	}

	return balances, nil
}

// bithumbInterval maps a timeframe onto the venue's chart intervals.
// Timeframes the venue does not serve are aggregated from a finer one.
func bithumbInterval(tf domain.Timeframe) (interval string, group int, ok bool) {
	switch tf {
	case domain.Timeframe5m:
		return "5m", 1, true
	case domain.Timeframe15m:
		return "5m", 3, true
	case domain.Timeframe30m:
		return "30m", 1, true
	case domain.Timeframe1h:
		return "1h", 1, true
	case domain.Timeframe4h:
		return "1h", 4, true
	case domain.TimeframeDaily, domain.TimeframeWeekly:
		return "24h", 1, true
	}
	return "", 0, false
}

func (c *BithumbClient) Candles(ctx context.Context, pair domain.Pair, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	interval, group, ok := bithumbInterval(tf)
	if !ok {
		return nil, errors.Errorf("unsupported timeframe %s", tf)
	}

	// candlestick rows are [ts_ms, open, close, high, low, volume]
	var rows [][]json.Number
	path := fmt.Sprintf("/public/candlestick/%s_%s/%s", pair.Base, pair.Quote, interval)
	if err := c.public(ctx, path, &rows); err != nil {
		return nil, errors.Wrapf(err, "candles %s %s", pair, tf)
	}

	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, errors.Errorf("malformed candle row, %d fields", len(row))
		}
		ms, err := row[0].Int64()
		if err != nil {
			return nil, errors.Wrap(err, "parse candle timestamp")
		}
		vals := make([]decimal.Decimal, 5)
		for i := 1; i < 6; i++ {
			vals[i-1], err = decimal.NewFromString(row[i].String())
			if err != nil {
				return nil, errors.Wrapf(err, "parse candle field %d", i)
			}
		}
		candles = append(candles, domain.Candle{
			OpenTime: time.UnixMilli(ms).UTC(),
			Open:     vals[0],
			Close:    vals[1],
			High:     vals[2],
			Low:      vals[3],
			Volume:   vals[4],
		})
	}

	if group > 1 {
		candles = aggregateCandles(candles, group)
	}
	if tf == domain.TimeframeWeekly {
		candles = domain.ResampleWeekly(candles)
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}

	return candles, nil
}

// aggregateCandles merges consecutive candles in groups of n, aligned to
// the end of the series so the most recent bar is always complete up to
// the current interval.
func aggregateCandles(candles []domain.Candle, n int) []domain.Candle {
	if n <= 1 || len(candles) == 0 {
		return candles
	}

	offset := len(candles) % n
	out := make([]domain.Candle, 0, len(candles)/n+1)
	for i := offset; i < len(candles); i += n {
		group := candles[i:min(i+n, len(candles))]
		agg := group[0]
		for _, c := range group[1:] {
			if c.High.GreaterThan(agg.High) {
				agg.High = c.High
			}
			if c.Low.LessThan(agg.Low) {
				agg.Low = c.Low
			}
			agg.Close = c.Close
			agg.Volume = agg.Volume.Add(c.Volume)
		}
		out = append(out, agg)
	}
	return out
}

func (c *BithumbClient) Markets(ctx context.Context) (map[string]MarketInfo, error) {
	var data map[string]json.RawMessage
	if err := c.public(ctx, "/public/ticker/ALL_KRW", &data); err != nil {
		return nil, errors.Wrap(err, "fetch markets")
	}

	markets := make(map[string]MarketInfo, len(data))
	for base := range data {
		if base == "date" {
			continue
		}
		pair := domain.Pair{Base: base, Quote: "KRW"}
		markets[pair.String()] = MarketInfo{
			Pair:        pair,
			MinNotional: decimal.NewFromInt(5000),
			Active:      true,
		}
	}

	return markets, nil
}

func (c *BithumbClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	side := "bid"
	if req.Side == SideSell {
		side = "ask"
	}

	params := url.Values{
		"order_currency":   {req.Pair.Base},
		"payment_currency": {req.Pair.Quote},
		"units":            {req.Quantity.String()},
		"price":            {req.Price.String()},
		"type":             {side},
	}

	raw, err := c.private(ctx, "/trade/place", params)
	if err != nil {
		return OrderResult{}, errors.Wrapf(err, "place %s order %s", req.Side, req.Pair)
	}

	var data struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return OrderResult{}, errors.Wrap(err, "decode order ack")
	}

	return OrderResult{
		OrderID:       data.OrderID,
		ClientOrderID: req.ClientOrderID,
		Pair:          req.Pair,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
	}, nil
}

func (c *BithumbClient) public(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "http request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var env bithumbEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return errors.Wrap(err, "decode envelope")
	}
	if env.Status != "0000" {
		return errors.Errorf("venue error %s: %s", env.Status, env.Message)
	}

	return json.Unmarshal(env.Data, out)
}

// private posts a signed form request and returns the data payload.
func (c *BithumbClient) private(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, errors.New("private endpoint requires api credentials")
	}

	params.Set("endpoint", endpoint)
	encoded := params.Encode()
	nonce := c.nonce()

	mac := hmac.New(sha512.New, []byte(c.apiSecret))
	mac.Write([]byte(endpoint + "\x00" + encoded + "\x00" + nonce))
	sign := base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(mac.Sum(nil))))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, strings.NewReader(encoded))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("Api-Sign", sign)
	req.Header.Set("Api-Nonce", nonce)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "http request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var env bithumbEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Wrap(err, "decode envelope")
	}
	if env.Status != "0000" {
		return nil, errors.Errorf("venue error %s: %s", env.Status, env.Message)
	}

	return env.Data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
