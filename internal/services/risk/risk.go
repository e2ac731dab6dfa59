// Package risk owns every veto between a decision and an order. All
// state lives behind one mutex and is persisted through a StateStore,
// so a restart resumes with the same daily counters, peak equity and
// breaker status it stopped with.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/corvusbit/ember/internal/domain"
	"github.com/corvusbit/ember/internal/services/condition"
)

// Limits bounds the book. Zero values fall back to defaults.
type Limits struct {
	MaxOpenPositions  int
	PositionWeightCap float64
	MaxDCACount       int
	DailyLossLimit    float64
	DrawdownLimit     float64
	MinOrderKRW       decimal.Decimal
}

// DefaultLimits mirrors the production configuration.
func DefaultLimits() Limits {
	return Limits{
		MaxOpenPositions:  2,
		PositionWeightCap: 0.55,
		MaxDCACount:       2,
		DailyLossLimit:    0.05,
		DrawdownLimit:     0.10,
		MinOrderKRW:       decimal.NewFromInt(5000),
	}
}

// StateStore persists RiskState across restarts.
type StateStore interface {
	Load() (domain.RiskState, error)
	Save(domain.RiskState) error
}

// Snapshot is the account view the caller assembles for one evaluation.
type Snapshot struct {
	// Equity is total account value in KRW, positions included.
	Equity decimal.Decimal
	// FreeKRW is the immediately spendable quote balance.
	FreeKRW decimal.Decimal
	// OpenPositions counts currently held symbols.
	OpenPositions int
	// Position is the currently held position for the evaluated symbol,
	// nil when flat.
	Position *domain.Position
	// PositionValue is the current KRW value of that position.
	PositionValue decimal.Decimal
}

// Verdict is the outcome of a risk evaluation.
type Verdict struct {
	Allowed bool
	Reason  string
	// Amount is the KRW to deploy for an approved entry; zero for exits
	// and refusals.
	Amount decimal.Decimal
}

func vetoed(reason string) Verdict {
	return Verdict{Allowed: false, Reason: reason}
}

// Manager is the single writer of risk state. Safe for concurrent use;
// every mutation goes through its mutex and is flushed to the store
// before the method returns.
type Manager struct {
	mu      sync.Mutex
	limits  Limits
	breaker breakerConfig
	state   domain.RiskState
	store   StateStore
	lg      *zap.Logger
	now     func() time.Time
}

// NewManager loads persisted state from the store. A missing or empty
// store starts clean.
func NewManager(limits Limits, store StateStore, lg *zap.Logger) (*Manager, error) {
	if limits.MaxOpenPositions == 0 {
		limits = DefaultLimits()
	}

	m := &Manager{
		limits:  limits,
		breaker: defaultBreakerConfig(),
		store:   store,
		lg:      lg,
		now:     time.Now,
	}

	if store != nil {
		state, err := store.Load()
		if err != nil {
			return nil, errors.Wrap(err, "load risk state")
		}
		m.state = state
	}

	return m, nil
}

// Evaluate applies the veto chain to a decision. Exits are always
// allowed: reducing risk must never be blocked, even with the breaker
// tripped. Entries are checked in fixed priority order so the reported
// reason is deterministic: breaker, daily loss, drawdown, position
// count, exposure cap, averaging cap.
func (m *Manager) Evaluate(d domain.Decision, snap Snapshot) Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.IsExit() {
		return Verdict{Allowed: true}
	}
	if !d.IsEntry() {
		return vetoed("hold decision")
	}

	m.rollDayLocked(snap.Equity)
	m.observeEquityLocked(snap.Equity)

	if m.breakerActiveLocked() {
		return vetoed("circuit breaker tripped: " + m.state.TripReason)
	}

	if loss := m.state.DailyLoss(snap.Equity); loss.GreaterThanOrEqual(decimal.NewFromFloat(m.limits.DailyLossLimit)) {
		m.tripLocked(fmt.Sprintf("daily loss %.1f%%", lossPct(loss)))
		return vetoed(fmt.Sprintf("daily loss limit reached (%.1f%%)", lossPct(loss)))
	}

	if dd := m.state.Drawdown(snap.Equity); dd.GreaterThanOrEqual(decimal.NewFromFloat(m.limits.DrawdownLimit)) {
		m.tripLocked(fmt.Sprintf("drawdown %.1f%%", lossPct(dd)))
		return vetoed(fmt.Sprintf("drawdown limit reached (%.1f%%)", lossPct(dd)))
	}

	isDCA := snap.Position != nil
	if !isDCA && snap.OpenPositions >= m.limits.MaxOpenPositions {
		return vetoed(fmt.Sprintf("max open positions (%d/%d)", snap.OpenPositions, m.limits.MaxOpenPositions))
	}

	amount := m.entryAmountLocked(d, snap)
	if !amount.GreaterThanOrEqual(m.limits.MinOrderKRW) {
		return vetoed("sized below minimum order")
	}

	if isDCA && snap.Position.DCACount >= m.limits.MaxDCACount {
		return vetoed(fmt.Sprintf("averaging cap reached (%d/%d)", snap.Position.DCACount, m.limits.MaxDCACount))
	}

	return Verdict{Allowed: true, Amount: amount}
}

// entryAmountLocked sizes an approved entry: decision weight times
// confidence multiplier, capped by the per-symbol exposure limit and
// the spendable balance. First entries deploy only the per-regime entry
// ratio of that target; the rest stays back for averaging in.
func (m *Manager) entryAmountLocked(d domain.Decision, snap Snapshot) decimal.Decimal {
	if snap.Equity.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	target := snap.Equity.
		Mul(decimal.NewFromFloat(d.PositionWeight)).
		Mul(decimal.NewFromFloat(confidenceMultiplier(d.Confidence)))

	if snap.Position == nil {
		target = target.Mul(decimal.NewFromFloat(condition.EntryRatio(d.Condition)))
	}

	// per-symbol exposure cap: existing value plus the new entry may
	// not exceed the cap share of equity
	capKRW := snap.Equity.Mul(decimal.NewFromFloat(m.limits.PositionWeightCap)).Sub(snap.PositionValue)
	if capKRW.IsNegative() {
		capKRW = decimal.Zero
	}
	if target.GreaterThan(capKRW) {
		target = capKRW
	}

	// keep a buffer of the free balance for fees and slippage
	spendable := snap.FreeKRW.Mul(decimal.NewFromFloat(0.85))
	if target.GreaterThan(spendable) {
		target = spendable
	}

	return target
}

// confidenceMultiplier scales position size with model conviction.
func confidenceMultiplier(confidence float64) float64 {
	switch {
	case confidence >= 0.85:
		return 1.5
	case confidence >= 0.70:
		return 1.2
	case confidence >= 0.60:
		return 1.0
	default:
		return 0.7
	}
}

// ObserveEquity records an equity reading outside an evaluation, for
// peak tracking and the daily rollover.
func (m *Manager) ObserveEquity(equity decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDayLocked(equity)
	m.observeEquityLocked(equity)
	m.persistLocked()
}

// RecordTradeResult feeds a realized exit back into the loss streak and
// the daily P&L. A losing streak at the breaker threshold trips it.
func (m *Manager) RecordTradeResult(pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.RealizedDailyPnL = m.state.RealizedDailyPnL.Add(pnl)

	if pnl.IsNegative() {
		m.state.ConsecutiveLosses++
		m.lg.Warn("realized loss",
			zap.String("pnl", pnl.String()),
			zap.Int("streak", m.state.ConsecutiveLosses))
		if m.state.ConsecutiveLosses >= m.breaker.maxConsecutiveLosses {
			m.tripLocked(fmt.Sprintf("%d consecutive losses", m.state.ConsecutiveLosses))
		}
	} else {
		m.state.ConsecutiveLosses = 0
	}

	m.persistLocked()
}

// State returns a copy of the current risk state.
func (m *Manager) State() domain.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func lossPct(frac decimal.Decimal) float64 {
	f, _ := frac.Mul(decimal.NewFromInt(100)).Float64()
	return f
}

// rollDayLocked resets daily counters when the UTC date changes.
func (m *Manager) rollDayLocked(equity decimal.Decimal) {
	today := m.now().UTC().Format("2006-01-02")
	if m.state.DailyDate == today {
		return
	}

	m.state.DailyDate = today
	m.state.DailyStartEquity = equity
	m.state.RealizedDailyPnL = decimal.Zero
	m.lg.Info("daily risk counters reset",
		zap.String("date", today),
		zap.String("start_equity", equity.String()))
}

func (m *Manager) observeEquityLocked(equity decimal.Decimal) {
	if equity.GreaterThan(m.state.PeakEquity) {
		m.state.PeakEquity = equity
	}
}

func (m *Manager) persistLocked() {
	if m.store == nil {
		return
	}
	if err := m.store.Save(m.state); err != nil {
		m.lg.Error("persist risk state failed", zap.Error(err))
	}
}
