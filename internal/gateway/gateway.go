package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/corvusbit/ember/internal/clients"
	"github.com/corvusbit/ember/internal/domain"
)

// ErrTransientUnavailable marks venue failures that persisted through
// the retry budget. The data is stale or missing, not wrong; callers
// should degrade, not act.
var ErrTransientUnavailable = errors.New("venue temporarily unavailable")

// Cache lifetimes per data class. Ticker data goes stale fastest, venue
// metadata barely moves.
const (
	tickerTTL  = 5 * time.Second
	balanceTTL = 10 * time.Second
	candlesTTL = 30 * time.Second
	marketsTTL = time.Hour
)

const (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 5 * time.Second
	retryMaxElapsed      = 20 * time.Second
)

// Stats is a point-in-time snapshot of gateway health counters.
type Stats struct {
	CacheHits      uint64
	CacheMisses    uint64
	VenueCalls     uint64
	VenueErrors    uint64
	WindowOccupied int
}

// Gateway is the sole venue access path. All reads are cached and
// deduplicated: concurrent identical requests collapse into one venue
// call whose result every waiter shares. Orders bypass the cache and
// invalidate cached balances on success.
type Gateway struct {
	venue  clients.Exchange
	lg     *zap.Logger
	flight singleflight.Group
	limit  *slidingLimiter

	tickers  *ttlCache[clients.Ticker]
	balances *ttlCache[map[string]clients.Balance]
	candles  *ttlCache[[]domain.Candle]
	markets  *ttlCache[map[string]clients.MarketInfo]

	venueCalls  atomicCounter
	venueErrors atomicCounter
}

// New creates a gateway over the given venue client.
func New(venue clients.Exchange, lg *zap.Logger) *Gateway {
	return &Gateway{
		venue:    venue,
		lg:       lg,
		limit:    newSlidingLimiter(defaultWindowLimit, defaultWindow),
		tickers:  newTTLCache[clients.Ticker](tickerTTL, nil),
		balances: newTTLCache[map[string]clients.Balance](balanceTTL, nil),
		candles:  newTTLCache[[]domain.Candle](candlesTTL, nil),
		markets:  newTTLCache[map[string]clients.MarketInfo](marketsTTL, nil),
	}
}

// Ticker returns the pair's snapshot, cached for a few seconds.
func (g *Gateway) Ticker(ctx context.Context, pair domain.Pair) (clients.Ticker, error) {
	key := "ticker:" + pair.String()
	if t, ok := g.tickers.get(key); ok {
		return t, nil
	}

	v, err, _ := g.flight.Do(key, func() (any, error) {
		if t, ok := g.tickers.get(key); ok {
			return t, nil
		}
		t, err := callVenue(ctx, g, func() (clients.Ticker, error) {
			return g.venue.Ticker(ctx, pair)
		})
		if err != nil {
			return nil, err
		}
		g.tickers.set(key, t)
		return t, nil
	})
	if err != nil {
		return clients.Ticker{}, err
	}
	return v.(clients.Ticker), nil
}

// Balances returns account balances, cached briefly. The cache is
// dropped whenever an order goes through.
func (g *Gateway) Balances(ctx context.Context) (map[string]clients.Balance, error) {
	const key = "balances"
	if b, ok := g.balances.get(key); ok {
		return b, nil
	}

	v, err, _ := g.flight.Do(key, func() (any, error) {
		if b, ok := g.balances.get(key); ok {
			return b, nil
		}
		b, err := callVenue(ctx, g, func() (map[string]clients.Balance, error) {
			return g.venue.Balances(ctx)
		})
		if err != nil {
			return nil, err
		}
		g.balances.set(key, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]clients.Balance), nil
}

// Candles returns the pair's candle series for a timeframe, oldest
// first.
func (g *Gateway) Candles(ctx context.Context, pair domain.Pair, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	key := fmt.Sprintf("candles:%s:%s:%d", pair, tf, limit)
	if c, ok := g.candles.get(key); ok {
		return c, nil
	}

	v, err, _ := g.flight.Do(key, func() (any, error) {
		if c, ok := g.candles.get(key); ok {
			return c, nil
		}
		c, err := callVenue(ctx, g, func() ([]domain.Candle, error) {
			return g.venue.Candles(ctx, pair, tf, limit)
		})
		if err != nil {
			return nil, err
		}
		if !domain.ValidateSeries(c) {
			return nil, errors.Errorf("venue returned unordered candles for %s %s", pair, tf)
		}
		g.candles.set(key, c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Candle), nil
}

// Markets returns venue pair metadata, cached for an hour.
func (g *Gateway) Markets(ctx context.Context) (map[string]clients.MarketInfo, error) {
	const key = "markets"
	if m, ok := g.markets.get(key); ok {
		return m, nil
	}

	v, err, _ := g.flight.Do(key, func() (any, error) {
		if m, ok := g.markets.get(key); ok {
			return m, nil
		}
		m, err := callVenue(ctx, g, func() (map[string]clients.MarketInfo, error) {
			return g.venue.Markets(ctx)
		})
		if err != nil {
			return nil, err
		}
		g.markets.set(key, m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]clients.MarketInfo), nil
}

// PlaceOrder submits an order. Never cached and never deduplicated, but
// transient failures are retried with the same bounded backoff as reads:
// the request carries a client order id, so a resubmission of an order
// the venue already booked is rejected as a duplicate rather than
// doubled. A successful fill invalidates the balance cache.
func (g *Gateway) PlaceOrder(ctx context.Context, req clients.OrderRequest) (clients.OrderResult, error) {
	res, err := callVenue(ctx, g, func() (clients.OrderResult, error) {
		return g.venue.PlaceOrder(ctx, req)
	})
	if err != nil {
		return clients.OrderResult{}, err
	}

	g.balances.invalidate("balances")
	g.lg.Info("order placed",
		zap.String("pair", req.Pair.String()),
		zap.String("side", string(req.Side)),
		zap.String("price", req.Price.String()),
		zap.String("qty", req.Quantity.String()),
		zap.String("order_id", res.OrderID))

	return res, nil
}

// InvalidateBalances drops the cached balances immediately.
func (g *Gateway) InvalidateBalances() {
	g.balances.invalidate("balances")
}

// Stats returns a snapshot of cache and venue counters.
func (g *Gateway) Stats() Stats {
	th, tm := g.tickers.stats()
	bh, bm := g.balances.stats()
	ch, cm := g.candles.stats()
	mh, mm := g.markets.stats()

	return Stats{
		CacheHits:      th + bh + ch + mh,
		CacheMisses:    tm + bm + cm + mm,
		VenueCalls:     g.venueCalls.load(),
		VenueErrors:    g.venueErrors.load(),
		WindowOccupied: g.limit.inFlight(),
	}
}

// callVenue runs one venue read under the rate limit with bounded
// retry. Temporary failures are retried with jittered backoff; anything
// still failing afterwards comes back as ErrTransientUnavailable.
func callVenue[T any](ctx context.Context, g *Gateway, fn func() (T, error)) (T, error) {
	var out T

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = retryMaxElapsed

	err := backoff.Retry(func() error {
		if err := g.limit.acquire(ctx); err != nil {
			return backoff.Permanent(err)
		}

		g.venueCalls.inc()
		v, err := fn()
		if err != nil {
			g.venueErrors.inc()
			if !isTemporary(err) {
				return backoff.Permanent(err)
			}
			g.lg.Debug("venue call failed, retrying", zap.Error(err))
			return err
		}
		out = v
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		if errors.Is(err, ErrBudgetExhausted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return out, err
		}
		if isTemporary(err) {
			return out, errors.Wrapf(ErrTransientUnavailable, "%v", err)
		}
		return out, err
	}

	return out, nil
}

// isTemporary classifies an error as retryable: explicit venue signals
// plus anything that looks like a transport failure.
func isTemporary(err error) bool {
	var se *clients.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	type temporary interface{ Temporary() bool }
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	type timeout interface{ Timeout() bool }
	var to timeout
	if errors.As(err, &to) {
		return to.Timeout()
	}
	return false
}
