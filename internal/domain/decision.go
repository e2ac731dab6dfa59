package domain

// Action trading action chosen by the decision engine.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// ValidAction reports whether s names a known action.
func ValidAction(s string) bool {
	switch Action(s) {
	case ActionBuy, ActionSell, ActionHold:
		return true
	}
	return false
}

// PositionType expected holding style for a decision.
type PositionType string

const (
	PositionScalp PositionType = "scalp"
	PositionSwing PositionType = "swing"
)

// Decision normalized trading decision, produced once per evaluation
// cycle per symbol. StopLoss always lies inside the configured band;
// any failure upstream degrades to {ActionHold, Confidence 0}, never to
// a buy.
type Decision struct {
	Pair       Pair    `json:"pair"`
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	// TakeProfit and StopLoss are fractions of entry price, e.g. 0.05.
	TakeProfit float64 `json:"take_profit"`
	StopLoss   float64 `json:"stop_loss"`
	// PositionWeight is the suggested fraction of capital for the entry.
	PositionWeight  float64         `json:"position_weight"`
	Condition       MarketCondition `json:"condition"`
	PositionType    PositionType    `json:"position_type,omitempty"`
	HoldingPeriod   string          `json:"holding_period,omitempty"`
	LongTermAligned bool            `json:"long_term_aligned"`
	Reason          string          `json:"reason,omitempty"`
	RiskNote        string          `json:"risk_note,omitempty"`
}

// HoldDecision builds the safe fallback decision used whenever analysis
// fails. Confidence zero keeps it from ever being sized into an order.
func HoldDecision(pair Pair, condition MarketCondition, reason string) Decision {
	return Decision{
		Pair:       pair,
		Action:     ActionHold,
		Confidence: 0,
		Condition:  condition,
		Reason:     reason,
	}
}

// IsEntry reports whether the decision opens or adds to a position.
func (d Decision) IsEntry() bool {
	return d.Action == ActionBuy
}

// IsExit reports whether the decision reduces or closes a position.
func (d Decision) IsExit() bool {
	return d.Action == ActionSell
}
