// Package precision snaps raw prices and quantities onto the exchange's
// tick and lot grids. All functions are pure; rounding is deterministic
// with ties resolved half-away-from-zero, never banker's rounding, since
// the result feeds order placement directly.
package precision

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Direction controls which way a value is snapped onto its grid.
type Direction int

const (
	// Down floors onto the grid. Default for quantities so an order can
	// never exceed the requested notional.
	Down Direction = iota
	// Up ceils onto the grid.
	Up
	// Nearest rounds half-away-from-zero.
	Nearest
)

// tickRule maps a minimum price to the KRW quote tick at that level.
type tickRule struct {
	minPrice decimal.Decimal
	tick     decimal.Decimal
}

// KRW order book price units, largest bracket first.
var tickRules = []tickRule{
	{decimal.NewFromInt(1_000_000), decimal.NewFromInt(1000)},
	{decimal.NewFromInt(100_000), decimal.NewFromInt(100)},
	{decimal.NewFromInt(10_000), decimal.NewFromInt(10)},
	{decimal.NewFromInt(1_000), decimal.NewFromInt(1)},
	{decimal.NewFromInt(100), decimal.RequireFromString("0.1")},
	{decimal.NewFromInt(10), decimal.RequireFromString("0.01")},
}

var smallestTick = decimal.RequireFromString("0.001")

// MinOrderNotional is the exchange minimum order amount in KRW.
var MinOrderNotional = decimal.NewFromInt(5000)

// qtyPrecisionOverrides lists symbols whose market metadata disagrees
// with the price-band heuristic.
var qtyPrecisionOverrides = map[string]int32{}

// TickSize returns the price step for the given price level.
func TickSize(price decimal.Decimal) decimal.Decimal {
	if price.LessThanOrEqual(decimal.Zero) {
		return smallestTick
	}
	for _, r := range tickRules {
		if price.GreaterThanOrEqual(r.minPrice) {
			return r.tick
		}
	}
	return smallestTick
}

// RoundToTick snaps price onto the tick grid in the requested direction.
// Idempotent: rounding an already-snapped price is a no-op.
func RoundToTick(price decimal.Decimal, dir Direction) decimal.Decimal {
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	tick := TickSize(price)
	steps := price.Div(tick)

	var snapped decimal.Decimal
	switch dir {
	case Up:
		snapped = steps.Ceil()
	case Down:
		snapped = steps.Floor()
	default:
		snapped = steps.Round(0)
	}

	return snapped.Mul(tick)
}

// QuantityPrecision returns the allowed decimal places for an order
// quantity, resolved from the override table first and the price band
// otherwise.
func QuantityPrecision(symbol string, price decimal.Decimal) int32 {
	if p, ok := qtyPrecisionOverrides[ExtractBase(symbol)]; ok {
		return p
	}
	switch {
	case price.GreaterThanOrEqual(decimal.NewFromInt(1000)):
		return 4
	case price.GreaterThanOrEqual(decimal.NewFromInt(100)):
		return 2
	case price.GreaterThanOrEqual(decimal.NewFromInt(10)):
		return 1
	default:
		return 0
	}
}

// RoundQuantity snaps qty onto the symbol's lot grid. A quantity that
// rounds to or below zero returns exactly zero, signaling "order not
// viable" rather than erroring.
func RoundQuantity(qty decimal.Decimal, symbol string, price decimal.Decimal, dir Direction) decimal.Decimal {
	if qty.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	prec := QuantityPrecision(symbol, price)

	var out decimal.Decimal
	switch dir {
	case Up:
		out = qty.RoundCeil(prec)
	case Nearest:
		out = qty.Round(prec)
	default:
		out = qty.RoundFloor(prec)
	}

	if out.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return out
}

// NormalizeSymbol converts any accepted spelling to the canonical
// "BASE/KRW" form: "sol" -> "SOL/KRW", "SOL-KRW" -> "SOL/KRW".
func NormalizeSymbol(sym string) string {
	sym = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(sym), "-", "/"))
	if !strings.Contains(sym, "/KRW") {
		sym = strings.SplitN(sym, "/", 2)[0] + "/KRW"
	}
	return sym
}

// ExtractBase returns the base currency of a canonical symbol:
// "SOL/KRW" -> "SOL".
func ExtractBase(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	symbol = strings.TrimSuffix(symbol, "/KRW")
	symbol = strings.TrimSuffix(symbol, "-KRW")
	return symbol
}

// OrderParams normalized, exchange-legal order parameters.
type OrderParams struct {
	Symbol   string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Notional decimal.Decimal
}

// Viable reports whether the order survived normalization.
func (o OrderParams) Viable() bool {
	return o.Quantity.GreaterThan(decimal.Zero) && o.Price.GreaterThan(decimal.Zero)
}

// PrepareBuyOrder converts a KRW budget into tick- and lot-legal buy
// parameters. The price is ceiled by the slippage allowance, the
// quantity floored, so the resulting notional never exceeds the budget.
// A zero-quantity result means the budget is below the minimum lot.
func PrepareBuyOrder(symbol string, krwBudget, currentPrice, slippage decimal.Decimal) OrderParams {
	symbol = NormalizeSymbol(symbol)

	if krwBudget.LessThan(MinOrderNotional) || currentPrice.LessThanOrEqual(decimal.Zero) {
		return OrderParams{Symbol: symbol}
	}

	price := currentPrice
	if slippage.GreaterThan(decimal.Zero) {
		price = RoundToTick(currentPrice.Mul(decimal.NewFromInt(1).Add(slippage)), Up)
	} else {
		price = RoundToTick(currentPrice, Nearest)
	}

	qty := RoundQuantity(krwBudget.Div(price), symbol, price, Down)
	if qty.IsZero() {
		return OrderParams{Symbol: symbol, Price: price}
	}

	return OrderParams{
		Symbol:   symbol,
		Price:    price,
		Quantity: qty,
		Notional: price.Mul(qty),
	}
}

// PrepareSellOrder normalizes an exit. The price is floored by the
// slippage allowance so a limit sell still crosses; quantity floored to
// the lot grid.
func PrepareSellOrder(symbol string, qty, currentPrice, slippage decimal.Decimal) OrderParams {
	symbol = NormalizeSymbol(symbol)

	if currentPrice.LessThanOrEqual(decimal.Zero) {
		return OrderParams{Symbol: symbol}
	}

	price := currentPrice
	if slippage.GreaterThan(decimal.Zero) {
		price = RoundToTick(currentPrice.Mul(decimal.NewFromInt(1).Sub(slippage)), Down)
	} else {
		price = RoundToTick(currentPrice, Nearest)
	}

	out := RoundQuantity(qty, symbol, price, Down)
	if out.IsZero() {
		return OrderParams{Symbol: symbol, Price: price}
	}

	return OrderParams{
		Symbol:   symbol,
		Price:    price,
		Quantity: out,
		Notional: price.Mul(out),
	}
}
