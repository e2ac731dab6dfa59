package decision

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corvusbit/ember/internal/domain"
	"github.com/corvusbit/ember/internal/services/promptbuilder"
)

var pairSOL = domain.Pair{Base: "SOL", Quote: "KRW"}

func TestExtractJSONDirect(t *testing.T) {
	data, ok := extractJSON(`{"decision":"buy","confidence":0.8}`)
	require.True(t, ok)
	require.Equal(t, "buy", data["decision"])
}

func TestExtractJSONFencedBlock(t *testing.T) {
	raw := "Here is my analysis:\n```json\n{\"decision\":\"sell\"}\n```\nGood luck."
	data, ok := extractJSON(raw)
	require.True(t, ok)
	require.Equal(t, "sell", data["decision"])
}

func TestExtractJSONBracePattern(t *testing.T) {
	raw := `some text {"decision":"buy","confidence":1.4,"tp":0.05,"sl":0.02}`
	data, ok := extractJSON(raw)
	require.True(t, ok)
	require.Equal(t, "buy", data["decision"])
}

func TestExtractJSONFailure(t *testing.T) {
	_, ok := extractJSON("no json here at all")
	require.False(t, ok)
	_, ok = extractJSON("")
	require.False(t, ok)
}

func TestParseResponseClampsEverything(t *testing.T) {
	raw := `some text {"decision":"buy","confidence":1.4,"tp":0.05,"sl":0.02}`

	d := parseResponse(raw, pairSOL, domain.ConditionSideways, zap.NewNop())

	require.Equal(t, domain.ActionBuy, d.Action)
	require.InDelta(t, 1.0, d.Confidence, 1e-9) // clamped from 1.4
	require.InDelta(t, 0.05, d.TakeProfit, 1e-9)
	require.InDelta(t, 0.03, d.StopLoss, 1e-9) // 0.02 raised to band floor
	require.InDelta(t, 0.2, d.PositionWeight, 1e-9)
	require.Equal(t, domain.ConditionSideways, d.Condition)
}

func TestParseResponsePercentInputs(t *testing.T) {
	raw := `{"decision":"buy","confidence":0.9,"tp":5,"sl":4,"position_weight":25}`

	d := parseResponse(raw, pairSOL, domain.ConditionSideways, zap.NewNop())

	require.InDelta(t, 0.05, d.TakeProfit, 1e-9)
	require.InDelta(t, 0.04, d.StopLoss, 1e-9)
	require.InDelta(t, 0.25, d.PositionWeight, 1e-9)
}

func TestParseResponseUnknownActionHolds(t *testing.T) {
	raw := `{"decision":"short","confidence":0.9}`

	d := parseResponse(raw, pairSOL, domain.ConditionSideways, zap.NewNop())
	require.Equal(t, domain.ActionHold, d.Action)
}

func TestParseResponseGarbageHolds(t *testing.T) {
	d := parseResponse("total nonsense", pairSOL, domain.ConditionWeakUptrend, zap.NewNop())

	require.Equal(t, domain.ActionHold, d.Action)
	require.Equal(t, domain.ConditionWeakUptrend, d.Condition)
	require.Zero(t, d.Confidence)
}

func TestParseResponseEmptyHoldsWithZeroConfidence(t *testing.T) {
	d := parseResponse("", pairSOL, domain.ConditionSideways, zap.NewNop())

	require.Equal(t, domain.ActionHold, d.Action)
	require.Zero(t, d.Confidence)
}

func TestParseResponseTruncatesText(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	raw := `{"decision":"hold","reason":"` + string(long) + `"}`

	d := parseResponse(raw, pairSOL, domain.ConditionSideways, zap.NewNop())
	require.Len(t, d.Reason, reasonMaxLen)
}

func TestParseResponseHoldingPeriodDefaults(t *testing.T) {
	scalp := parseResponse(`{"decision":"buy","position_type":"scalp"}`, pairSOL, domain.ConditionSideways, zap.NewNop())
	require.Equal(t, "hours", scalp.HoldingPeriod)

	swing := parseResponse(`{"decision":"buy"}`, pairSOL, domain.ConditionSideways, zap.NewNop())
	require.Equal(t, domain.PositionSwing, swing.PositionType)
	require.Equal(t, "1-3d", swing.HoldingPeriod)
}

func TestSafeFloatVariants(t *testing.T) {
	require.InDelta(t, 0.5, safeFloat(nil, 0.5), 1e-9)
	require.InDelta(t, 0.7, safeFloat(0.7, 0.5), 1e-9)
	require.InDelta(t, 0.7, safeFloat("0.7", 0.5), 1e-9)
	require.InDelta(t, 5.0, safeFloat("5%", 0.5), 1e-9)
	require.InDelta(t, 0.5, safeFloat("abc", 0.5), 1e-9)
	require.InDelta(t, 0.5, safeFloat([]any{}, 0.5), 1e-9)
}

type stubLLM struct {
	response string
	err      error
}

func (s *stubLLM) Complete(ctx context.Context, system, user string) (string, error) {
	return s.response, s.err
}

func baseMarketContext() promptbuilder.MarketContext {
	return promptbuilder.MarketContext{
		Pair: pairSOL,
		Condition: domain.ConditionReport{
			Condition:  domain.ConditionWeakUptrend,
			Confidence: 0.6,
		},
	}
}

func TestDecideModelFailureHolds(t *testing.T) {
	e := NewEngine(&stubLLM{err: errors.New("boom")}, promptbuilder.NewBuilder(zap.NewNop()), zap.NewNop())

	d, err := e.Decide(context.Background(), baseMarketContext())
	require.Error(t, err)
	require.Equal(t, domain.ActionHold, d.Action)
	require.Zero(t, d.Confidence)
}

func TestDecideBuyPassesThroughGuards(t *testing.T) {
	e := NewEngine(&stubLLM{
		response: `{"decision":"buy","confidence":0.85,"tp":0.06,"sl":0.04,"position_weight":0.3}`,
	}, promptbuilder.NewBuilder(zap.NewNop()), zap.NewNop())

	d, err := e.Decide(context.Background(), baseMarketContext())
	require.NoError(t, err)
	require.Equal(t, domain.ActionBuy, d.Action)
	require.InDelta(t, 0.85, d.Confidence, 1e-9)
}

func TestDecideBuyVetoedByEntryRestriction(t *testing.T) {
	e := NewEngine(&stubLLM{
		response: `{"decision":"buy","confidence":0.9}`,
	}, promptbuilder.NewBuilder(zap.NewNop()), zap.NewNop())

	mctx := baseMarketContext()
	mctx.AvoidEntry = true
	mctx.AvoidReason = "weekly downtrend"

	d, err := e.Decide(context.Background(), mctx)
	require.NoError(t, err)
	require.Equal(t, domain.ActionHold, d.Action)
	require.Contains(t, d.Reason, "weekly downtrend")
}

func TestDecideLowConfidenceBuyHolds(t *testing.T) {
	e := NewEngine(&stubLLM{
		response: `{"decision":"buy","confidence":0.5}`,
	}, promptbuilder.NewBuilder(zap.NewNop()), zap.NewNop())

	d, err := e.Decide(context.Background(), baseMarketContext())
	require.NoError(t, err)
	require.Equal(t, domain.ActionHold, d.Action)
}

func TestDecideSellWithoutPositionHolds(t *testing.T) {
	e := NewEngine(&stubLLM{
		response: `{"decision":"sell","confidence":0.9}`,
	}, promptbuilder.NewBuilder(zap.NewNop()), zap.NewNop())

	d, err := e.Decide(context.Background(), baseMarketContext())
	require.NoError(t, err)
	require.Equal(t, domain.ActionHold, d.Action)
}

func TestDecideAlignmentComputedFromTrend(t *testing.T) {
	e := NewEngine(&stubLLM{
		response: `{"decision":"buy","confidence":0.8,"market_condition":"strong_uptrend"}`,
	}, promptbuilder.NewBuilder(zap.NewNop()), zap.NewNop())

	mctx := baseMarketContext()
	mctx.Trend = &domain.TrendAssessment{Direction: domain.TrendStrongBull}

	d, err := e.Decide(context.Background(), mctx)
	require.NoError(t, err)
	require.True(t, d.LongTermAligned)
}
