package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corvusbit/ember/internal/domain"
	"github.com/corvusbit/ember/internal/gateway"
	"github.com/corvusbit/ember/internal/services/approval"
	"github.com/corvusbit/ember/internal/storage/decisions"
)

type stubBot struct {
	positions []domain.Position
	triggered []domain.Pair
	closed    []domain.Pair
	closeErr  error
}

func (s *stubBot) Positions() []domain.Position { return s.positions }
func (s *stubBot) TriggerCycle(pair domain.Pair) {
	s.triggered = append(s.triggered, pair)
}

func (s *stubBot) ClosePosition(_ context.Context, pair domain.Pair) (string, error) {
	if s.closeErr != nil {
		return "", s.closeErr
	}
	s.closed = append(s.closed, pair)
	return "ord-1", nil
}

type stubRisk struct {
	state   domain.RiskState
	tripped bool
	trips   []string
	resets  int
}

func (s *stubRisk) State() domain.RiskState { return s.state }
func (s *stubRisk) BreakerTripped() bool    { return s.tripped }
func (s *stubRisk) TripBreaker(reason string) {
	s.tripped = true
	s.trips = append(s.trips, reason)
}

func (s *stubRisk) ResetBreaker() {
	s.tripped = false
	s.resets++
}

type stubGateway struct {
	stats gateway.Stats
}

func (s *stubGateway) Stats() gateway.Stats { return s.stats }

type stubJournal struct {
	records []decisions.Record
}

func (s *stubJournal) CurrentIndex() uint64 { return uint64(len(s.records)) }
func (s *stubJournal) RecordsAfter(index uint64) ([]decisions.Record, error) {
	if index >= uint64(len(s.records)) {
		return nil, nil
	}
	return s.records[index:], nil
}

func TestStatusEndpoint(t *testing.T) {
	bot := &stubBot{positions: []domain.Position{{
		Symbol:     "BTC/KRW",
		EntryPrice: decimal.NewFromInt(50_000_000),
		Quantity:   decimal.NewFromFloat(0.01),
		EntryTime:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		TakeProfit: 0.05,
		StopLoss:   0.03,
	}}}
	risk := &stubRisk{state: domain.RiskState{ConsecutiveLosses: 2}, tripped: true}
	gw := &stubGateway{stats: gateway.Stats{CacheHits: 7, VenueCalls: 3}}

	srv := NewServer(":0", bot, risk, gw, nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Positions, 1)
	require.Equal(t, "BTC/KRW", resp.Positions[0].Symbol)
	require.Equal(t, 0.05, resp.Positions[0].TakeProfit)
	require.True(t, resp.BreakerTripped)
	require.NotNil(t, resp.RiskState)
	require.Equal(t, 2, resp.RiskState.ConsecutiveLosses)
	require.NotNil(t, resp.Gateway)
	require.Equal(t, uint64(7), resp.Gateway.CacheHits)
}

func TestTriggerEndpoint(t *testing.T) {
	bot := &stubBot{}
	srv := NewServer(":0", bot, nil, nil, nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.handleTrigger(rec, httptest.NewRequest(http.MethodPost, "/trigger?pair=sol_krw", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []domain.Pair{{Base: "SOL", Quote: "KRW"}}, bot.triggered)

	rec = httptest.NewRecorder()
	srv.handleTrigger(rec, httptest.NewRequest(http.MethodPost, "/trigger?pair=garbage", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.handleTrigger(rec, httptest.NewRequest(http.MethodGet, "/trigger?pair=BTC/KRW", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDecisionStreamReplaysJournal(t *testing.T) {
	journal := &stubJournal{records: []decisions.Record{{
		Time: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Decision: domain.Decision{
			Pair:       domain.Pair{Base: "BTC", Quote: "KRW"},
			Action:     domain.ActionBuy,
			Confidence: 0.8,
		},
		RiskApproved: true,
		Executed:     true,
	}}}
	srv := NewServer(":0", nil, nil, nil, nil, journal, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/decisions/stream", nil).WithContext(ctx)
	srv.handleDecisionStream(rec, req)

	body := rec.Body.String()
	require.Contains(t, body, "event: decision")
	require.Contains(t, body, `"action":"buy"`)
	require.Contains(t, body, `"base":"BTC"`)
	require.Contains(t, body, `"executed":true`)
}

func TestParsePairParam(t *testing.T) {
	pair, err := parsePairParam("btc/krw")
	require.NoError(t, err)
	require.Equal(t, domain.Pair{Base: "BTC", Quote: "KRW"}, pair)

	pair, err = parsePairParam("ETH_KRW")
	require.NoError(t, err)
	require.Equal(t, domain.Pair{Base: "ETH", Quote: "KRW"}, pair)

	_, err = parsePairParam("")
	require.Error(t, err)
}

func TestCloseEndpoint(t *testing.T) {
	bot := &stubBot{}
	srv := NewServer(":0", bot, nil, nil, nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.handleClose(rec, httptest.NewRequest(http.MethodPost, "/close?pair=btc_krw", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []domain.Pair{{Base: "BTC", Quote: "KRW"}}, bot.closed)

	bot.closeErr = errors.New("no open position for ETH/KRW")
	rec = httptest.NewRecorder()
	srv.handleClose(rec, httptest.NewRequest(http.MethodPost, "/close?pair=eth_krw", nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	srv.handleClose(rec, httptest.NewRequest(http.MethodGet, "/close?pair=btc_krw", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBreakerEndpoint(t *testing.T) {
	risk := &stubRisk{}
	srv := NewServer(":0", nil, risk, nil, nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.handleBreaker(rec, httptest.NewRequest(http.MethodPost, "/breaker?action=trip", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"operator command"}, risk.trips)
	require.True(t, risk.tripped)

	rec = httptest.NewRecorder()
	srv.handleBreaker(rec, httptest.NewRequest(http.MethodPost, "/breaker?action=reset", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, risk.resets)
	require.False(t, risk.tripped)

	rec = httptest.NewRecorder()
	srv.handleBreaker(rec, httptest.NewRequest(http.MethodPost, "/breaker?action=explode", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModeEndpoint(t *testing.T) {
	coord := approval.NewCoordinator(approval.ModeAuto, nil, zap.NewNop())
	srv := NewServer(":0", nil, nil, nil, coord, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.handleMode(rec, httptest.NewRequest(http.MethodPost, "/mode?mode=semi", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, approval.ModeSemi, coord.Mode())

	rec = httptest.NewRecorder()
	srv.handleMode(rec, httptest.NewRequest(http.MethodPost, "/mode?mode=bogus", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, approval.ModeSemi, coord.Mode())
}
