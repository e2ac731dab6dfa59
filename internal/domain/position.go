package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// TrailingStop trailing stop state attached to a position.
type TrailingStop struct {
	Armed     bool            `json:"armed"`
	PeakPrice decimal.Decimal `json:"peak_price"`
}

// Position open spot position. Mutated only by the execution-result
// handler on fill and close events; everything else reads.
type Position struct {
	Symbol     string          `json:"symbol"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryTime  time.Time       `json:"entry_time"`
	// DCACount is the number of additional entries after the first buy.
	DCACount int          `json:"dca_count"`
	Trailing TrailingStop `json:"trailing"`
	// TakeProfit and StopLoss are exit levels as fractions of the entry
	// price, carried over from the decision that opened the position.
	TakeProfit float64 `json:"take_profit"`
	StopLoss   float64 `json:"stop_loss"`
}

// NewPosition constructs a position opened by an executed buy.
func NewPosition(symbol string, quantity, entryPrice decimal.Decimal, entryTime time.Time) (*Position, error) {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("position quantity must be greater than zero")
	}
	if entryPrice.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("entry price must be greater than zero")
	}

	return &Position{
		Symbol:     symbol,
		EntryPrice: entryPrice,
		Quantity:   quantity,
		EntryTime:  entryTime,
	}, nil
}

// AddFill averages an additional buy into the position and bumps the
// DCA counter.
func (p *Position) AddFill(quantity, price decimal.Decimal) error {
	if quantity.LessThanOrEqual(decimal.Zero) || price.LessThanOrEqual(decimal.Zero) {
		return errors.New("fill quantity and price must be greater than zero")
	}

	oldNotional := p.EntryPrice.Mul(p.Quantity)
	addNotional := price.Mul(quantity)
	newQty := p.Quantity.Add(quantity)

	p.EntryPrice = oldNotional.Add(addNotional).Div(newQty)
	p.Quantity = newQty
	p.DCACount++
	return nil
}

// ObservePrice updates the trailing stop peak for the given market price.
func (p *Position) ObservePrice(price decimal.Decimal) {
	if !p.Trailing.Armed {
		return
	}
	if price.GreaterThan(p.Trailing.PeakPrice) {
		p.Trailing.PeakPrice = price
	}
}

// PnL calculates unrealized profit and loss at the given market price.
func (p *Position) PnL(currentPrice decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return currentPrice.Sub(p.EntryPrice).Mul(p.Quantity)
}

// Notional returns the position value at the given market price.
func (p *Position) Notional(currentPrice decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return p.Quantity.Mul(currentPrice)
}
