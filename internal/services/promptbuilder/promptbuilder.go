// Package promptbuilder formats market state into the prompts sent to
// the decision model. Prompts are deliberately compact: multi-timeframe
// indicator tables, regime and long-term trend summaries, the open
// position if any, and the TP/SL guardrails the response must respect.
package promptbuilder

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/corvusbit/ember/internal/domain"
	"github.com/corvusbit/ember/internal/services/trend"
)

// SystemPrompt defines the global system instructions for the trading model.
const SystemPrompt = `You are a spot cryptocurrency trading analyst for a KRW-quoted market. You analyze multi-timeframe technical data and decide whether to buy, sell, or hold. Spot only: no shorting, no leverage.

## OBJECTIVE
Grow the account while protecting capital. Missing a trade costs nothing; a bad entry costs real money. When the picture is unclear, hold.

## DECISION OUTPUT FORMAT

Respond with ONLY a valid JSON object. No markdown fences, no commentary before or after.

{
  "decision": "buy|sell|hold",
  "confidence": 0.0,
  "market_condition": "strong_uptrend|weak_uptrend|sideways|weak_downtrend|strong_downtrend|high_volatility",
  "position_type": "scalp|swing",
  "holding_period": "expected holding period, e.g. 4h-2d",
  "tp": 0.05,
  "sl": 0.04,
  "position_weight": 0.25,
  "reason": "what drove the decision",
  "risk_note": "main risk to this trade"
}

Field rules:
- confidence: 0.0-1.0. Below 0.6 the system will not act on a buy.
- tp: take-profit as a fraction of entry (0.01-0.15). Stay inside the provided guide band.
- sl: stop-loss as a fraction of entry. Use the recommended ATR-based value unless you have a specific reason to deviate; never leave the allowed band.
- position_weight: fraction of allotted capital for this entry (0.15-0.35).
- reason: under 500 characters. risk_note: under 200 characters.

## RULES
1. Never recommend a buy against the weekly trend.
2. In high volatility, prefer hold or small scalp entries with wide stops.
3. A stop tighter than the ATR band gets shaken out by normal noise; respect the recommended SL.
4. Holding is a valid decision and costs nothing.`

// MarketContext carries everything the prompt needs for one evaluation
// of one symbol.
type MarketContext struct {
	Pair domain.Pair

	// Sets holds the indicator snapshot per timeframe, in the order the
	// prompt should present them.
	Sets []domain.IndicatorSet

	Condition domain.ConditionReport
	Trend     *domain.TrendAssessment

	Guide         trend.TPSLGuide
	RecommendedSL float64
	AvoidEntry    bool
	AvoidReason   string

	Position     *domain.Position
	CurrentPrice decimal.Decimal
	QuoteBalance decimal.Decimal
}

// Builder renders MarketContext into the user prompt.
type Builder struct {
	logger *zap.Logger
}

func NewBuilder(logger *zap.Logger) *Builder {
	return &Builder{logger: logger}
}

// BuildUserPrompt constructs the complete user prompt.
func (b *Builder) BuildUserPrompt(ctx MarketContext) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s analysis\n\n", ctx.Pair)
	fmt.Fprintf(&sb, "Current price: %s KRW\n", ctx.CurrentPrice)
	fmt.Fprintf(&sb, "Available balance: %s KRW\n\n", ctx.QuoteBalance.Round(0))

	sb.WriteString(b.formatIndicators(ctx.Sets))
	sb.WriteString(b.formatCondition(ctx.Condition))
	sb.WriteString(b.formatTrend(ctx.Trend))
	sb.WriteString(b.formatGuide(ctx))
	sb.WriteString(b.formatPosition(ctx))

	if ctx.AvoidEntry {
		fmt.Fprintf(&sb, "## Entry restriction\nNew entries are blocked: %s. Only sell or hold are acceptable.\n\n", ctx.AvoidReason)
	}

	sb.WriteString("Respond with the JSON object only.")

	prompt := sb.String()
	b.logger.Debug("built user prompt",
		zap.String("pair", ctx.Pair.String()),
		zap.Int("length", len(prompt)))

	return prompt
}

func (b *Builder) formatIndicators(sets []domain.IndicatorSet) string {
	if len(sets) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Indicators by timeframe\n")
	sb.WriteString("| TF | Price | EMA20 | EMA50 | EMA status | RSI | ADX | MACD | Signal | ATR% | Vol ratio | 24h% |\n")
	sb.WriteString("|---|---|---|---|---|---|---|---|---|---|---|---|\n")
	for _, s := range sets {
		fmt.Fprintf(&sb, "| %s | %.4g | %.4g | %.4g | %s | %.1f | %.1f | %.4g | %.4g | %.2f | %.2f | %.2f |\n",
			s.Timeframe, s.CurrentPrice, s.EMA20, s.EMA50, s.EMAStatus,
			s.RSI, s.ADX, s.MACD, s.MACDSignal, s.ATRPct, s.VolumeRatio, s.Change24h)
	}
	sb.WriteString("\n")
	return sb.String()
}

func (b *Builder) formatCondition(report domain.ConditionReport) string {
	var sb strings.Builder
	sb.WriteString("## Market condition\n")
	fmt.Fprintf(&sb, "- Condition: %s (strength %+d, confidence %.2f)\n",
		report.Condition, report.Strength, report.Confidence)
	fmt.Fprintf(&sb, "- Volatility: %s\n", report.Volatility)
	if report.Reason != "" {
		fmt.Fprintf(&sb, "- Basis: %s\n", report.Reason)
	}
	sb.WriteString("\n")
	return sb.String()
}

func (b *Builder) formatTrend(t *domain.TrendAssessment) string {
	if t == nil {
		return "## Long-term trend\nInsufficient daily/weekly history; treat the long-term trend as unknown and be conservative.\n\n"
	}

	var sb strings.Builder
	sb.WriteString("## Long-term trend\n")
	fmt.Fprintf(&sb, "- Direction: %s (strength %.2f)\n", t.Direction, t.Strength)
	fmt.Fprintf(&sb, "- Weekly momentum: %s, daily momentum: %s\n", t.WeeklyMomentum, t.DailyMomentum)
	fmt.Fprintf(&sb, "- Recommendation: %s\n\n", t.Recommendation)
	return sb.String()
}

func (b *Builder) formatGuide(ctx MarketContext) string {
	var sb strings.Builder
	sb.WriteString("## TP/SL guardrails\n")
	fmt.Fprintf(&sb, "- TP band: %.1f%% - %.1f%%\n", ctx.Guide.TPMin*100, ctx.Guide.TPMax*100)
	fmt.Fprintf(&sb, "- SL band: %.1f%% - %.1f%%\n", ctx.Guide.SLMin*100, ctx.Guide.SLMax*100)
	if ctx.RecommendedSL > 0 {
		fmt.Fprintf(&sb, "- Recommended SL (ATR-based): %.1f%%\n", ctx.RecommendedSL*100)
	}
	sb.WriteString("\n")
	return sb.String()
}

func (b *Builder) formatPosition(ctx MarketContext) string {
	if ctx.Position == nil {
		return "## Position\nNo open position.\n\n"
	}

	p := ctx.Position
	var sb strings.Builder
	sb.WriteString("## Position\n")
	fmt.Fprintf(&sb, "- Entry price: %s KRW, quantity: %s\n", p.EntryPrice, p.Quantity)
	fmt.Fprintf(&sb, "- Averaged in %d time(s)\n", p.DCACount)
	if !ctx.CurrentPrice.IsZero() && !p.EntryPrice.IsZero() {
		pnl := ctx.CurrentPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
		fmt.Fprintf(&sb, "- Unrealized PnL: %s%%\n", pnl.Round(2))
	}
	sb.WriteString("\n")
	return sb.String()
}
