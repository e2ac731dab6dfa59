// Package decision turns market context into a normalized trading
// decision via the model. Every failure path, from a dead API to
// garbage output, terminates in a hold: the engine can fail to trade,
// it cannot fail into a trade.
package decision

import (
	"context"

	"go.uber.org/zap"

	"github.com/corvusbit/ember/internal/clients"
	"github.com/corvusbit/ember/internal/domain"
	"github.com/corvusbit/ember/internal/services/promptbuilder"
)

// minEntryConfidence is the floor under which a buy is not acted on.
const minEntryConfidence = 0.6

// Engine drives the prompt -> model -> parse -> validate pipeline.
type Engine struct {
	llm     clients.LLMClient
	builder *promptbuilder.Builder
	lg      *zap.Logger
}

func NewEngine(llm clients.LLMClient, builder *promptbuilder.Builder, lg *zap.Logger) *Engine {
	return &Engine{llm: llm, builder: builder, lg: lg}
}

// Decide evaluates one symbol. The returned decision is always safe to
// act on: on any error it is a hold with zero confidence, and the error
// is returned alongside for logging. A non-nil error never accompanies
// a buy or sell.
func (e *Engine) Decide(ctx context.Context, mctx promptbuilder.MarketContext) (domain.Decision, error) {
	userPrompt := e.builder.BuildUserPrompt(mctx)

	raw, err := e.llm.Complete(ctx, promptbuilder.SystemPrompt, userPrompt)
	if err != nil {
		e.lg.Warn("model call failed, holding",
			zap.String("pair", mctx.Pair.String()),
			zap.Error(err))
		return domain.HoldDecision(mctx.Pair, mctx.Condition.Condition, "model unavailable"), err
	}

	d := parseResponse(raw, mctx.Pair, mctx.Condition.Condition, e.lg)

	return e.applyGuards(d, mctx), nil
}

// applyGuards enforces the rules the model is told about but cannot be
// trusted to follow.
func (e *Engine) applyGuards(d domain.Decision, mctx promptbuilder.MarketContext) domain.Decision {
	if mctx.Trend != nil {
		d.LongTermAligned = mctx.Trend.Aligned(d.Condition)
	}

	if d.Action == domain.ActionBuy {
		if mctx.AvoidEntry {
			e.lg.Info("buy vetoed by entry restriction",
				zap.String("pair", mctx.Pair.String()),
				zap.String("restriction", mctx.AvoidReason))
			d.Action = domain.ActionHold
			d.Reason = "entry blocked: " + mctx.AvoidReason
			return d
		}

		if d.Confidence < minEntryConfidence {
			e.lg.Info("buy below confidence floor, holding",
				zap.String("pair", mctx.Pair.String()),
				zap.Float64("confidence", d.Confidence))
			d.Action = domain.ActionHold
			return d
		}
	}

	if d.Action == domain.ActionSell && mctx.Position == nil {
		e.lg.Info("sell without position, holding",
			zap.String("pair", mctx.Pair.String()))
		d.Action = domain.ActionHold
		d.Reason = "nothing to sell"
	}

	return d
}
