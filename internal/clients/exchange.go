// Package clients holds the venue adapters and the LLM client. Each
// venue implements the Exchange interface; everything above this layer
// is venue-agnostic.
package clients

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/corvusbit/ember/internal/domain"
)

// Side is the order direction on the venue.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Ticker is a venue's last-trade snapshot for one pair.
type Ticker struct {
	Pair      domain.Pair
	Last      decimal.Decimal
	Change24h decimal.Decimal // percent, signed
	Volume24h decimal.Decimal
}

// Balance is one currency's free and locked amounts.
type Balance struct {
	Currency string
	Free     decimal.Decimal
	Locked   decimal.Decimal
}

// Total returns free plus locked.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// MarketInfo is the venue's static metadata for one tradable pair.
type MarketInfo struct {
	Pair        domain.Pair
	MinNotional decimal.Decimal
	QtyStep     decimal.Decimal
	Active      bool
}

// OrderRequest is a fully-normalized order ready for the wire. Price
// and Quantity must already sit on the venue's tick and lot grids.
// ClientOrderID makes retried submissions idempotent on venues that
// honor it.
type OrderRequest struct {
	Pair          domain.Pair
	Side          Side
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	ClientOrderID string
}

// OrderResult is the venue's acknowledgment of a placed order.
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Pair          domain.Pair
	Side          Side
	Price         decimal.Decimal
	Quantity      decimal.Decimal
}

// Exchange is the venue surface the gateway consumes. Implementations
// must be safe for concurrent use; read methods return raw venue state
// with no caching, that belongs to the gateway.
type Exchange interface {
	// Ticker returns the current snapshot for one pair.
	Ticker(ctx context.Context, pair domain.Pair) (Ticker, error)

	// Balances returns all non-zero account balances keyed by currency.
	Balances(ctx context.Context) (map[string]Balance, error)

	// Candles returns up to limit most recent candles for the pair and
	// timeframe, oldest first, the last entry possibly still forming.
	Candles(ctx context.Context, pair domain.Pair, tf domain.Timeframe, limit int) ([]domain.Candle, error)

	// Markets returns metadata for all tradable pairs keyed by symbol.
	Markets(ctx context.Context) (map[string]MarketInfo, error)

	// PlaceOrder submits a limit order and returns the venue ack.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}
