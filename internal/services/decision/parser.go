package decision

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/corvusbit/ember/internal/domain"
)

// Clamping limits for model output. Whatever the model says, the
// normalized decision never leaves these ranges.
const (
	confidenceMin = 0.0
	confidenceMax = 1.0

	tpMin = 0.01
	tpMax = 0.15

	slMin = 0.03
	slMax = 0.07

	weightMin = 0.15
	weightMax = 0.35

	reasonMaxLen   = 500
	riskNoteMaxLen = 200
)

// Normalization defaults when a field is missing or unparseable. The
// decision default is hold: a broken response must never buy.
const (
	defaultConfidence = 0.5
	defaultTP         = 0.03
	defaultSL         = 0.03
	defaultWeight     = 0.2
)

var (
	fencedBlockRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	braceRe       = regexp.MustCompile(`\{[\s\S]*\}`)
)

// extractJSON pulls the first parseable JSON object out of model
// output. Tried in order: the whole text, fenced code blocks, then the
// widest brace span.
func extractJSON(text string) (map[string]any, bool) {
	if strings.TrimSpace(text) == "" {
		return nil, false
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, true
	}

	for _, m := range fencedBlockRe.FindAllStringSubmatch(text, -1) {
		if err := json.Unmarshal([]byte(m[1]), &out); err == nil {
			return out, true
		}
	}

	for _, m := range braceRe.FindAllString(text, -1) {
		if err := json.Unmarshal([]byte(m), &out); err == nil {
			return out, true
		}
	}

	return nil, false
}

// parseResponse extracts and normalizes a model response into a
// Decision. Any extraction failure yields the hold defaults; individual
// bad fields fall back per-field without discarding the rest.
func parseResponse(raw string, pair domain.Pair, hint domain.MarketCondition, lg *zap.Logger) domain.Decision {
	data, ok := extractJSON(raw)
	if !ok {
		lg.Warn("model response had no parseable JSON, holding",
			zap.String("pair", pair.String()))
		d := holdDefaults(pair, hint)
		d.Reason = "unparseable model response"
		return d
	}

	return normalize(data, pair, hint)
}

func holdDefaults(pair domain.Pair, hint domain.MarketCondition) domain.Decision {
	return domain.Decision{
		Pair:           pair,
		Action:         domain.ActionHold,
		Confidence:     0,
		TakeProfit:     defaultTP,
		StopLoss:       slMin,
		PositionWeight: defaultWeight,
		Condition:      hint,
		PositionType:   domain.PositionSwing,
		HoldingPeriod:  "1-3d",
	}
}

func normalize(data map[string]any, pair domain.Pair, hint domain.MarketCondition) domain.Decision {
	d := domain.Decision{Pair: pair}

	action := safeString(data["decision"], string(domain.ActionHold))
	if !domain.ValidAction(action) {
		action = string(domain.ActionHold)
	}
	d.Action = domain.Action(action)

	d.Confidence = clamp(safeFloat(data["confidence"], defaultConfidence), confidenceMin, confidenceMax)

	cond := domain.MarketCondition(safeString(data["market_condition"], string(hint)))
	if !cond.Valid() {
		cond = hint
	}
	d.Condition = cond

	pt := safeString(data["position_type"], string(domain.PositionSwing))
	if pt != string(domain.PositionScalp) && pt != string(domain.PositionSwing) {
		pt = string(domain.PositionSwing)
	}
	d.PositionType = domain.PositionType(pt)

	if hp := safeString(data["holding_period"], ""); hp != "" {
		d.HoldingPeriod = hp
	} else if d.PositionType == domain.PositionScalp {
		d.HoldingPeriod = "hours"
	} else {
		d.HoldingPeriod = "1-3d"
	}

	// percent-style values (5 meaning 5%) are converted before clamping
	tp := safeFloat(data["tp"], defaultTP)
	if tp > 1 {
		tp /= 100
	}
	d.TakeProfit = clamp(tp, tpMin, tpMax)

	sl := safeFloat(data["sl"], defaultSL)
	if sl > 1 {
		sl /= 100
	}
	d.StopLoss = clamp(sl, slMin, slMax)

	w := safeFloat(data["position_weight"], defaultWeight)
	if w > 1 {
		w /= 100
	}
	d.PositionWeight = clamp(w, weightMin, weightMax)

	if aligned, ok := data["long_term_aligned"].(bool); ok {
		d.LongTermAligned = aligned
	}

	d.Reason = truncate(rawString(data["reason"]), reasonMaxLen)
	d.RiskNote = truncate(rawString(data["risk_note"]), riskNoteMaxLen)

	return d
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// safeFloat accepts numbers and numeric strings (with an optional
// trailing percent sign), rejecting NaN and infinities.
func safeFloat(v any, def float64) float64 {
	var f float64
	switch t := v.(type) {
	case nil:
		return def
	case float64:
		f = t
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(t), "%")
		if s == "" {
			return def
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return def
		}
		f = parsed
	default:
		return def
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}

func safeString(v any, def string) string {
	s, ok := v.(string)
	if !ok {
		return def
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return def
	}
	return s
}

// rawString keeps the original casing, for free-text fields.
func rawString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
