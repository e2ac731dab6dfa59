package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corvusbit/ember/internal/domain"
)

type memStore struct {
	state domain.RiskState
	saves int
}

func (s *memStore) Load() (domain.RiskState, error) { return s.state, nil }

func (s *memStore) Save(state domain.RiskState) error {
	s.state = state
	s.saves++
	return nil
}

func newTestManager(t *testing.T) (*Manager, *memStore) {
	t.Helper()
	store := &memStore{}
	m, err := NewManager(DefaultLimits(), store, zap.NewNop())
	require.NoError(t, err)
	return m, store
}

func buyDecision(weight, confidence float64) domain.Decision {
	return domain.Decision{
		Pair:           domain.Pair{Base: "BTC", Quote: "KRW"},
		Action:         domain.ActionBuy,
		Confidence:     confidence,
		PositionWeight: weight,
	}
}

func snapshot() Snapshot {
	return Snapshot{
		Equity:  decimal.NewFromInt(1_000_000),
		FreeKRW: decimal.NewFromInt(1_000_000),
	}
}

func TestEvaluateApprovesEntry(t *testing.T) {
	m, _ := newTestManager(t)

	v := m.Evaluate(buyDecision(0.2, 0.65), snapshot())

	require.True(t, v.Allowed)
	// 1,000,000 * 0.2 * 1.0, first entry deploys the 0.30 default ratio
	require.True(t, v.Amount.Equal(decimal.NewFromInt(60_000)), v.Amount.String())
}

func TestConfidenceScalesSize(t *testing.T) {
	m, _ := newTestManager(t)

	high := m.Evaluate(buyDecision(0.2, 0.9), snapshot())
	mid := m.Evaluate(buyDecision(0.2, 0.75), snapshot())
	low := m.Evaluate(buyDecision(0.2, 0.5), snapshot())

	require.True(t, high.Amount.Equal(decimal.NewFromInt(90_000)), high.Amount.String())
	require.True(t, mid.Amount.Equal(decimal.NewFromInt(72_000)), mid.Amount.String())
	require.True(t, low.Amount.Equal(decimal.NewFromInt(42_000)), low.Amount.String())
}

func TestFirstEntryScaledByRegimeRatio(t *testing.T) {
	m, _ := newTestManager(t)

	d := buyDecision(0.2, 0.65)
	d.Condition = domain.ConditionStrongUptrend

	// strong uptrend deploys 0.60 of the 200,000 target up front
	v := m.Evaluate(d, snapshot())
	require.True(t, v.Allowed)
	require.True(t, v.Amount.Equal(decimal.NewFromInt(120_000)), v.Amount.String())

	// averaging into an existing position uses the full target
	pos, err := domain.NewPosition("BTC/KRW", decimal.NewFromInt(1), decimal.NewFromInt(100_000), time.Now())
	require.NoError(t, err)

	snap := snapshot()
	snap.OpenPositions = 1
	snap.Position = pos
	snap.PositionValue = decimal.NewFromInt(100_000)

	v = m.Evaluate(d, snap)
	require.True(t, v.Allowed)
	require.True(t, v.Amount.Equal(decimal.NewFromInt(200_000)), v.Amount.String())
}

func TestExposureCapLimitsEntry(t *testing.T) {
	m, _ := newTestManager(t)

	pos, err := domain.NewPosition("BTC/KRW", decimal.NewFromInt(1), decimal.NewFromInt(400_000), time.Now())
	require.NoError(t, err)

	snap := snapshot()
	snap.OpenPositions = 1
	snap.Position = pos
	snap.PositionValue = decimal.NewFromInt(400_000)

	// target would be 1,000,000 * 0.35 * 1.5 = 525,000 but the cap
	// leaves only 550,000 - 400,000 = 150,000
	v := m.Evaluate(buyDecision(0.35, 0.9), snap)

	require.True(t, v.Allowed)
	require.True(t, v.Amount.Equal(decimal.NewFromInt(150_000)), v.Amount.String())
}

func TestFreeBalanceBufferLimitsEntry(t *testing.T) {
	m, _ := newTestManager(t)

	snap := snapshot()
	snap.FreeKRW = decimal.NewFromInt(100_000)

	v := m.Evaluate(buyDecision(0.3, 0.9), snap)

	require.True(t, v.Allowed)
	require.True(t, v.Amount.Equal(decimal.NewFromInt(85_000)), v.Amount.String())
}

func TestBelowMinimumOrderVetoed(t *testing.T) {
	m, _ := newTestManager(t)

	snap := snapshot()
	snap.FreeKRW = decimal.NewFromInt(5000)

	v := m.Evaluate(buyDecision(0.2, 0.65), snap)

	require.False(t, v.Allowed)
	require.Contains(t, v.Reason, "minimum order")
}

func TestMaxOpenPositionsVetoesNewSymbol(t *testing.T) {
	m, _ := newTestManager(t)

	snap := snapshot()
	snap.OpenPositions = 2

	v := m.Evaluate(buyDecision(0.2, 0.65), snap)

	require.False(t, v.Allowed)
	require.Contains(t, v.Reason, "max open positions")
}

func TestAveragingAllowedAtPositionLimit(t *testing.T) {
	m, _ := newTestManager(t)

	pos, err := domain.NewPosition("BTC/KRW", decimal.NewFromInt(1), decimal.NewFromInt(100_000), time.Now())
	require.NoError(t, err)

	snap := snapshot()
	snap.OpenPositions = 2
	snap.Position = pos
	snap.PositionValue = decimal.NewFromInt(100_000)

	v := m.Evaluate(buyDecision(0.2, 0.65), snap)

	require.True(t, v.Allowed)
}

func TestAveragingCapVetoed(t *testing.T) {
	m, _ := newTestManager(t)

	pos, err := domain.NewPosition("BTC/KRW", decimal.NewFromInt(1), decimal.NewFromInt(100_000), time.Now())
	require.NoError(t, err)
	require.NoError(t, pos.AddFill(decimal.NewFromInt(1), decimal.NewFromInt(90_000)))
	require.NoError(t, pos.AddFill(decimal.NewFromInt(1), decimal.NewFromInt(80_000)))

	snap := snapshot()
	snap.OpenPositions = 1
	snap.Position = pos
	snap.PositionValue = decimal.NewFromInt(240_000)

	v := m.Evaluate(buyDecision(0.2, 0.65), snap)

	require.False(t, v.Allowed)
	require.Contains(t, v.Reason, "averaging cap")
}

func TestExitAlwaysAllowed(t *testing.T) {
	m, _ := newTestManager(t)
	m.TripBreaker("testing")

	v := m.Evaluate(domain.Decision{Pair: domain.Pair{Base: "BTC", Quote: "KRW"}, Action: domain.ActionSell}, snapshot())

	require.True(t, v.Allowed)
}

func TestHoldVetoed(t *testing.T) {
	m, _ := newTestManager(t)

	v := m.Evaluate(domain.Decision{Pair: domain.Pair{Base: "BTC", Quote: "KRW"}, Action: domain.ActionHold}, snapshot())

	require.False(t, v.Allowed)
}

func TestDailyLossLimitTripsBreaker(t *testing.T) {
	m, _ := newTestManager(t)

	// set the daily baseline
	m.ObserveEquity(decimal.NewFromInt(1_000_000))

	snap := snapshot()
	snap.Equity = decimal.NewFromInt(940_000)

	v := m.Evaluate(buyDecision(0.2, 0.65), snap)

	require.False(t, v.Allowed)
	require.Contains(t, v.Reason, "daily loss")
	require.True(t, m.State().BreakerTripped)
}

func TestDrawdownLimitVetoes(t *testing.T) {
	m, _ := newTestManager(t)

	m.ObserveEquity(decimal.NewFromInt(1_000_000))

	// within today's loss budget relative to the daily baseline reset,
	// so force a fresh day baseline at the lower equity first
	m.mu.Lock()
	m.state.DailyStartEquity = decimal.NewFromInt(880_000)
	m.mu.Unlock()

	snap := snapshot()
	snap.Equity = decimal.NewFromInt(880_000)

	v := m.Evaluate(buyDecision(0.2, 0.65), snap)

	require.False(t, v.Allowed)
	require.Contains(t, v.Reason, "drawdown")
}

func TestDrawdownTripsBreakerAndLatches(t *testing.T) {
	m, _ := newTestManager(t)

	m.ObserveEquity(decimal.NewFromInt(1_000_000))
	m.mu.Lock()
	m.state.DailyStartEquity = decimal.NewFromInt(880_000)
	m.mu.Unlock()

	snap := snapshot()
	snap.Equity = decimal.NewFromInt(880_000)

	v := m.Evaluate(buyDecision(0.2, 0.65), snap)
	require.False(t, v.Allowed)
	require.True(t, m.BreakerTripped())

	// recovering equity must not un-latch the breaker
	recovered := snapshot()
	recovered.Equity = decimal.NewFromInt(960_000)

	v = m.Evaluate(buyDecision(0.2, 0.65), recovered)
	require.False(t, v.Allowed)
	require.Contains(t, v.Reason, "circuit breaker")

	// only an explicit reset reopens entries
	m.ResetBreaker()
	v = m.Evaluate(buyDecision(0.2, 0.65), recovered)
	require.True(t, v.Allowed)
}

func TestConsecutiveLossesTripBreaker(t *testing.T) {
	m, _ := newTestManager(t)

	for i := 0; i < 4; i++ {
		m.RecordTradeResult(decimal.NewFromInt(-1000))
	}
	require.False(t, m.BreakerTripped())

	m.RecordTradeResult(decimal.NewFromInt(-1000))
	require.True(t, m.BreakerTripped())

	v := m.Evaluate(buyDecision(0.2, 0.65), snapshot())
	require.False(t, v.Allowed)
	require.Contains(t, v.Reason, "circuit breaker")
}

func TestWinResetsLossStreak(t *testing.T) {
	m, _ := newTestManager(t)

	for i := 0; i < 4; i++ {
		m.RecordTradeResult(decimal.NewFromInt(-1000))
	}
	m.RecordTradeResult(decimal.NewFromInt(500))
	require.Equal(t, 0, m.State().ConsecutiveLosses)

	m.RecordTradeResult(decimal.NewFromInt(-1000))
	require.False(t, m.BreakerTripped())
}

func TestBreakerCooldownAutoReleases(t *testing.T) {
	m, _ := newTestManager(t)

	base := time.Now()
	m.now = func() time.Time { return base }
	m.TripBreaker("testing")
	require.True(t, m.BreakerTripped())

	m.now = func() time.Time { return base.Add(29 * time.Minute) }
	require.True(t, m.BreakerTripped())

	m.now = func() time.Time { return base.Add(31 * time.Minute) }
	require.False(t, m.BreakerTripped())

	v := m.Evaluate(buyDecision(0.2, 0.65), snapshot())
	require.True(t, v.Allowed)
}

func TestManualResetClearsStreak(t *testing.T) {
	m, _ := newTestManager(t)

	for i := 0; i < 5; i++ {
		m.RecordTradeResult(decimal.NewFromInt(-1000))
	}
	require.True(t, m.BreakerTripped())

	m.ResetBreaker()

	require.False(t, m.BreakerTripped())
	require.Equal(t, 0, m.State().ConsecutiveLosses)
}

func TestDailyRollResetsCounters(t *testing.T) {
	m, _ := newTestManager(t)

	base := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	m.ObserveEquity(decimal.NewFromInt(1_000_000))
	m.RecordTradeResult(decimal.NewFromInt(-40_000))

	m.now = func() time.Time { return base.Add(2 * time.Hour) }
	m.ObserveEquity(decimal.NewFromInt(960_000))

	st := m.State()
	require.Equal(t, "2026-03-02", st.DailyDate)
	require.True(t, st.RealizedDailyPnL.IsZero())
	require.True(t, st.DailyStartEquity.Equal(decimal.NewFromInt(960_000)))
	// loss streak survives the date roll
	require.Equal(t, 1, st.ConsecutiveLosses)
}

func TestStatePersistedOnMutation(t *testing.T) {
	m, store := newTestManager(t)

	m.RecordTradeResult(decimal.NewFromInt(-1000))

	require.Equal(t, 1, store.state.ConsecutiveLosses)
	require.Positive(t, store.saves)
}

func TestManagerResumesFromStore(t *testing.T) {
	store := &memStore{state: domain.RiskState{
		ConsecutiveLosses: 4,
		PeakEquity:        decimal.NewFromInt(2_000_000),
	}}

	m, err := NewManager(DefaultLimits(), store, zap.NewNop())
	require.NoError(t, err)

	m.RecordTradeResult(decimal.NewFromInt(-1000))
	require.True(t, m.BreakerTripped())
}
