// Package internal wires the trading pipeline together: market data
// through the gateway, indicator and condition analysis, the model
// decision, risk and approval gates, and finally order placement.
package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/corvusbit/ember/internal/clients"
	"github.com/corvusbit/ember/internal/domain"
	"github.com/corvusbit/ember/internal/gateway"
	"github.com/corvusbit/ember/internal/precision"
	"github.com/corvusbit/ember/internal/services/approval"
	"github.com/corvusbit/ember/internal/services/condition"
	"github.com/corvusbit/ember/internal/services/decision"
	"github.com/corvusbit/ember/internal/services/indicators"
	"github.com/corvusbit/ember/internal/services/promptbuilder"
	"github.com/corvusbit/ember/internal/services/risk"
	"github.com/corvusbit/ember/internal/services/trend"
	"github.com/corvusbit/ember/internal/storage/decisions"
)

// Notifier pushes operator-facing messages. Both methods must be safe
// to call from multiple goroutines.
type Notifier interface {
	Notify(text string)
	Alert(text string)
}

// PositionStore persists the open position book.
type PositionStore interface {
	Save(pos *domain.Position) error
	Close(symbol string) error
	Load() (map[string]*domain.Position, error)
}

// BotConfig holds the orchestration knobs.
type BotConfig struct {
	Pairs []domain.Pair
	// AnalysisTimeframes drive the model prompt; the first one is the
	// primary frame used for condition detection.
	AnalysisTimeframes []domain.Timeframe
	CandleLimit        int
	AnalysisInterval   time.Duration
	MonitorInterval    time.Duration
	// Slippage is the limit-price allowance as a fraction, e.g. 0.002.
	Slippage decimal.Decimal
	// TrailingArm arms the trailing stop once unrealized profit exceeds
	// this fraction; TrailingStop then exits on that pullback from the
	// peak. Zero disables trailing.
	TrailingArm  float64
	TrailingStop float64
	Quote        string
}

func (c *BotConfig) applyDefaults() {
	if len(c.AnalysisTimeframes) == 0 {
		c.AnalysisTimeframes = []domain.Timeframe{domain.Timeframe15m, domain.Timeframe1h, domain.Timeframe4h}
	}
	if c.CandleLimit == 0 {
		c.CandleLimit = 120
	}
	if c.AnalysisInterval == 0 {
		c.AnalysisInterval = 10 * time.Minute
	}
	if c.MonitorInterval == 0 {
		c.MonitorInterval = 30 * time.Second
	}
	if c.Slippage.IsZero() {
		c.Slippage = decimal.NewFromFloat(0.002)
	}
	if c.Quote == "" {
		c.Quote = "KRW"
	}
}

// TradingBot runs one analysis loop per pair plus a shared protective
// exit monitor. Cycles for the same pair never overlap; cycles for
// different pairs run concurrently.
type TradingBot struct {
	cfg      BotConfig
	gw       *gateway.Gateway
	ind      *indicators.Engine
	detector *condition.Detector
	analyzer *trend.Analyzer
	engine   *decision.Engine
	riskMgr  *risk.Manager
	approver *approval.Coordinator
	notify   Notifier
	posStore PositionStore
	journal  *decisions.WALStore
	lg       *zap.Logger

	mu   sync.Mutex
	book map[string]*domain.Position

	cycleMu map[string]*sync.Mutex
	trigger chan domain.Pair
}

// NewTradingBot loads the persisted position book and prepares the
// per-pair cycle locks.
func NewTradingBot(
	cfg BotConfig,
	gw *gateway.Gateway,
	engine *decision.Engine,
	riskMgr *risk.Manager,
	approver *approval.Coordinator,
	notify Notifier,
	posStore PositionStore,
	journal *decisions.WALStore,
	lg *zap.Logger,
) (*TradingBot, error) {
	cfg.applyDefaults()
	if len(cfg.Pairs) == 0 {
		return nil, errors.New("at least one trading pair is required")
	}

	book := make(map[string]*domain.Position)
	if posStore != nil {
		loaded, err := posStore.Load()
		if err != nil {
			return nil, errors.Wrap(err, "load position book")
		}
		book = loaded
	}

	cycleMu := make(map[string]*sync.Mutex, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		cycleMu[p.String()] = &sync.Mutex{}
	}

	return &TradingBot{
		cfg:      cfg,
		gw:       gw,
		ind:      indicators.NewEngine(),
		detector: condition.NewDetector(),
		analyzer: trend.NewAnalyzer(),
		engine:   engine,
		riskMgr:  riskMgr,
		approver: approver,
		notify:   notify,
		posStore: posStore,
		journal:  journal,
		lg:       lg,
		book:     book,
		cycleMu:  cycleMu,
		trigger:  make(chan domain.Pair, len(cfg.Pairs)),
	}, nil
}

// Run blocks until ctx is done or a loop fails fatally.
func (b *TradingBot) Run(ctx context.Context) error {
	b.lg.Info("trading bot starting",
		zap.Int("pairs", len(b.cfg.Pairs)),
		zap.Duration("analysis_interval", b.cfg.AnalysisInterval),
		zap.Duration("monitor_interval", b.cfg.MonitorInterval))

	g, ctx := errgroup.WithContext(ctx)

	for _, pair := range b.cfg.Pairs {
		g.Go(func() error { return b.pairLoop(ctx, pair) })
	}
	g.Go(func() error { return b.monitorLoop(ctx) })
	g.Go(func() error { return b.triggerLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// TriggerCycle schedules an immediate analysis cycle for the pair,
// e.g. from an operator command. Non-blocking; a full queue drops the
// request since a cycle is already coming.
func (b *TradingBot) TriggerCycle(pair domain.Pair) {
	select {
	case b.trigger <- pair:
	default:
	}
}

func (b *TradingBot) pairLoop(ctx context.Context, pair domain.Pair) error {
	ticker := time.NewTicker(b.cfg.AnalysisInterval)
	defer ticker.Stop()

	b.runCycle(ctx, pair)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.runCycle(ctx, pair)
		}
	}
}

func (b *TradingBot) triggerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pair := <-b.trigger:
			b.runCycle(ctx, pair)
		}
	}
}

// runCycle performs one full analyze-decide-execute pass for a pair.
// If the previous cycle for this pair is still running the tick is
// skipped rather than queued.
func (b *TradingBot) runCycle(ctx context.Context, pair domain.Pair) {
	mu, ok := b.cycleMu[pair.String()]
	if !ok {
		return
	}
	if !mu.TryLock() {
		b.lg.Debug("previous cycle still running, skipping", zap.String("pair", pair.String()))
		return
	}
	defer mu.Unlock()

	lg := b.lg.With(zap.String("pair", pair.String()))
	if err := b.cycle(ctx, pair, lg); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		lg.Error("analysis cycle failed", zap.Error(err))
	}
}

func (b *TradingBot) cycle(ctx context.Context, pair domain.Pair, lg *zap.Logger) error {
	sets, err := b.computeSets(ctx, pair)
	if err != nil {
		return err
	}

	primary := sets.analysis[0]
	report := b.detector.Detect(primary)
	assessment := b.analyzer.Analyze(sets.daily, sets.weekly)

	avoid, avoidReason := trend.ShouldAvoidEntry(&assessment)
	mctx := promptbuilder.MarketContext{
		Pair:          pair,
		Sets:          sets.analysis,
		Condition:     report,
		Trend:         &assessment,
		Guide:         trend.GuideFor(report.Condition, primary.ATRPct),
		RecommendedSL: trend.DynamicStopLoss(primary.ATRPct, report.Condition, &assessment),
		AvoidEntry:    avoid,
		AvoidReason:   avoidReason,
		Position:      b.position(pair.String()),
	}

	tick, err := b.gw.Ticker(ctx, pair)
	if err != nil {
		return errors.Wrap(err, "fetch ticker")
	}
	mctx.CurrentPrice = tick.Last

	freeQuote, equity, err := b.accountState(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch account state")
	}
	mctx.QuoteBalance = freeQuote
	// keep peak equity and the daily baseline moving on every cycle,
	// not just on buy evaluations
	b.riskMgr.ObserveEquity(equity)

	d, err := b.engine.Decide(ctx, mctx)
	if err != nil {
		// the engine already degraded to hold; journal it and move on
		lg.Warn("decision engine degraded to hold", zap.Error(err))
		b.record(decisions.Record{Time: time.Now().UTC(), Decision: d, RiskReason: "model unavailable"})
		return nil
	}

	lg.Info("decision",
		zap.String("action", string(d.Action)),
		zap.Float64("confidence", d.Confidence),
		zap.String("condition", string(d.Condition)),
		zap.String("reason", d.Reason))

	rec := decisions.Record{Time: time.Now().UTC(), Decision: d}
	if !d.IsEntry() && !d.IsExit() {
		b.record(rec)
		return nil
	}

	pos := b.position(pair.String())
	verdict := b.riskMgr.Evaluate(d, risk.Snapshot{
		Equity:        equity,
		FreeKRW:       freeQuote,
		OpenPositions: b.openCount(),
		Position:      pos,
		PositionValue: pos.Notional(tick.Last),
	})
	rec.RiskApproved = verdict.Allowed
	rec.RiskReason = verdict.Reason
	if !verdict.Allowed {
		lg.Info("risk veto", zap.String("reason", verdict.Reason))
		b.record(rec)
		return nil
	}

	// only entries wait for the operator; a model-driven sell reduces
	// risk and goes straight through, like take-profit and trailing exits
	rec.OperatorApproved = true
	if d.IsEntry() {
		approved := b.approver.Confirm(ctx, approval.Request{Decision: d, Amount: verdict.Amount})
		rec.OperatorApproved = approved.Approved
		rec.OperatorReason = approved.Reason
		if !approved.Approved {
			lg.Info("decision not confirmed", zap.String("reason", approved.Reason))
			b.record(rec)
			return nil
		}
	}

	orderID, err := b.execute(ctx, pair, d, verdict.Amount, tick.Last, lg)
	if err != nil {
		b.alert(fmt.Sprintf("%s %s failed: %v", d.Action, pair, err))
		b.record(rec)
		return errors.Wrap(err, "execute decision")
	}

	rec.Executed = orderID != ""
	rec.OrderID = orderID
	b.record(rec)
	return nil
}

type indicatorSets struct {
	analysis []domain.IndicatorSet
	daily    *domain.IndicatorSet
	weekly   *domain.IndicatorSet
}

// computeSets fetches candles and computes indicators for every frame.
// Analysis frames are mandatory; missing daily or weekly history only
// degrades the trend assessment.
func (b *TradingBot) computeSets(ctx context.Context, pair domain.Pair) (indicatorSets, error) {
	var out indicatorSets

	for _, tf := range b.cfg.AnalysisTimeframes {
		set, err := b.frame(ctx, pair, tf)
		if err != nil {
			return out, errors.Wrapf(err, "compute %s frame", tf)
		}
		out.analysis = append(out.analysis, *set)
	}

	if set, err := b.frame(ctx, pair, domain.TimeframeDaily); err == nil {
		out.daily = set
	}
	if set, err := b.frame(ctx, pair, domain.TimeframeWeekly); err == nil {
		out.weekly = set
	}

	return out, nil
}

func (b *TradingBot) frame(ctx context.Context, pair domain.Pair, tf domain.Timeframe) (*domain.IndicatorSet, error) {
	candles, err := b.gw.Candles(ctx, pair, tf, b.cfg.CandleLimit)
	if err != nil {
		return nil, err
	}

	set, err := b.ind.Compute(tf, candles)
	if err != nil {
		return nil, err
	}
	return &set, nil
}

// accountState returns the free quote balance and total account equity
// valued at current prices.
func (b *TradingBot) accountState(ctx context.Context) (free, equity decimal.Decimal, err error) {
	balances, err := b.gw.Balances(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	quote := balances[b.cfg.Quote]
	free = quote.Free
	equity = quote.Total()

	for _, pos := range b.openPositions() {
		tick, err := b.gw.Ticker(ctx, domain.Pair{Base: precision.ExtractBase(pos.Symbol), Quote: b.cfg.Quote})
		if err != nil {
			// value the position at entry rather than failing the cycle
			equity = equity.Add(pos.Notional(pos.EntryPrice))
			continue
		}
		equity = equity.Add(pos.Notional(tick.Last))
	}

	return free, equity, nil
}

// execute turns an approved decision into a limit order and updates the
// position book from the submitted quantity.
func (b *TradingBot) execute(ctx context.Context, pair domain.Pair, d domain.Decision, amount, price decimal.Decimal, lg *zap.Logger) (string, error) {
	if d.Action == domain.ActionBuy {
		return b.executeBuy(ctx, pair, d, amount, price, lg)
	}
	return b.executeSell(ctx, pair, price, d.Reason, lg)
}

func (b *TradingBot) executeBuy(ctx context.Context, pair domain.Pair, d domain.Decision, amount, price decimal.Decimal, lg *zap.Logger) (string, error) {
	params := precision.PrepareBuyOrder(pair.String(), amount, price, b.cfg.Slippage)
	if !params.Viable() {
		lg.Info("buy not viable after rounding", zap.String("budget", amount.String()))
		return "", nil
	}

	res, err := b.gw.PlaceOrder(ctx, clients.OrderRequest{
		Pair:          pair,
		Side:          clients.SideBuy,
		Price:         params.Price,
		Quantity:      params.Quantity,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	pos := b.book[pair.String()]
	if pos == nil {
		pos, err = domain.NewPosition(pair.String(), params.Quantity, params.Price, time.Now().UTC())
		if err != nil {
			return res.OrderID, err
		}
		b.book[pair.String()] = pos
	} else if err := pos.AddFill(params.Quantity, params.Price); err != nil {
		return res.OrderID, err
	}
	pos.TakeProfit = d.TakeProfit
	pos.StopLoss = d.StopLoss
	if b.cfg.TrailingArm > 0 && !pos.Trailing.Armed {
		pos.Trailing = domain.TrailingStop{}
	}
	b.persistPosition(pos)

	b.send(fmt.Sprintf("bought %s %s at %s (%s %s)",
		params.Quantity.String(), pair.Base, params.Price.String(), params.Notional.StringFixed(0), pair.Quote))
	lg.Info("buy executed",
		zap.String("order_id", res.OrderID),
		zap.String("price", params.Price.String()),
		zap.String("quantity", params.Quantity.String()))
	return res.OrderID, nil
}

func (b *TradingBot) executeSell(ctx context.Context, pair domain.Pair, price decimal.Decimal, reason string, lg *zap.Logger) (string, error) {
	pos := b.position(pair.String())
	if pos == nil {
		return "", errors.New("no open position to sell")
	}

	params := precision.PrepareSellOrder(pair.String(), pos.Quantity, price, b.cfg.Slippage)
	if !params.Viable() {
		return "", errors.New("sell not viable after rounding")
	}

	res, err := b.gw.PlaceOrder(ctx, clients.OrderRequest{
		Pair:          pair,
		Side:          clients.SideSell,
		Price:         params.Price,
		Quantity:      params.Quantity,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return "", err
	}

	pnl := pos.PnL(params.Price)
	b.riskMgr.RecordTradeResult(pnl)

	b.mu.Lock()
	delete(b.book, pair.String())
	if b.posStore != nil {
		if err := b.posStore.Close(pair.String()); err != nil {
			b.lg.Error("tombstone position failed", zap.Error(err))
		}
	}
	b.mu.Unlock()

	b.send(fmt.Sprintf("sold %s %s at %s, pnl %s %s (%s)",
		params.Quantity.String(), pair.Base, params.Price.String(), pnl.StringFixed(0), pair.Quote, reason))
	lg.Info("sell executed",
		zap.String("order_id", res.OrderID),
		zap.String("price", params.Price.String()),
		zap.String("pnl", pnl.String()),
		zap.String("reason", reason))
	return res.OrderID, nil
}

// ClosePosition sells the pair's open position at the current price on
// an operator command, bypassing model and approval.
func (b *TradingBot) ClosePosition(ctx context.Context, pair domain.Pair) (string, error) {
	if b.position(pair.String()) == nil {
		return "", errors.Errorf("no open position for %s", pair)
	}

	tick, err := b.gw.Ticker(ctx, pair)
	if err != nil {
		return "", errors.Wrap(err, "fetch ticker")
	}

	lg := b.lg.With(zap.String("pair", pair.String()))
	orderID, err := b.executeSell(ctx, pair, tick.Last, "manual close", lg)
	if err != nil {
		return "", err
	}

	b.record(decisions.Record{
		Time: time.Now().UTC(),
		Decision: domain.Decision{
			Pair:       pair,
			Action:     domain.ActionSell,
			Confidence: 1,
			Reason:     "manual close",
		},
		RiskApproved:     true,
		OperatorApproved: true,
		OperatorReason:   "operator command",
		Executed:         orderID != "",
		OrderID:          orderID,
	})
	return orderID, nil
}

// monitorLoop watches open positions for protective exits. These
// bypass the model; stop-loss exits still pass the approval gate so an
// operator in semi mode confirms realized losses.
func (b *TradingBot) monitorLoop(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, pos := range b.openPositions() {
				b.checkPosition(ctx, pos)
			}
		}
	}
}

func (b *TradingBot) checkPosition(ctx context.Context, pos *domain.Position) {
	pair := domain.Pair{Base: precision.ExtractBase(pos.Symbol), Quote: b.cfg.Quote}
	lg := b.lg.With(zap.String("pair", pair.String()))

	tick, err := b.gw.Ticker(ctx, pair)
	if err != nil {
		lg.Warn("monitor ticker fetch failed", zap.Error(err))
		return
	}
	price := tick.Last

	b.mu.Lock()
	pos.ObservePrice(price)
	if b.cfg.TrailingArm > 0 && !pos.Trailing.Armed {
		armAt := pos.EntryPrice.Mul(decimal.NewFromFloat(1 + b.cfg.TrailingArm))
		if price.GreaterThanOrEqual(armAt) {
			pos.Trailing = domain.TrailingStop{Armed: true, PeakPrice: price}
			b.persistPosition(pos)
			lg.Info("trailing stop armed", zap.String("peak", price.String()))
		}
	}
	reason := exitReason(pos, price, b.cfg.TrailingStop)
	b.mu.Unlock()

	if reason == "" {
		return
	}

	d := domain.Decision{
		Pair:       pair,
		Action:     domain.ActionSell,
		Confidence: 1,
		Reason:     reason,
	}

	lg.Info("protective exit triggered", zap.String("reason", reason))

	// Stop-loss exits wait for the operator in semi mode; a discarded
	// request leaves the position for the next monitor tick. Take-profit
	// and trailing exits lock in gains and go straight through.
	opReason := "protective exit"
	if reason == "stop loss hit" && b.approver != nil {
		verdict := b.approver.Confirm(ctx, approval.Request{Decision: d})
		if !verdict.Approved {
			lg.Warn("stop loss exit not approved", zap.String("reason", verdict.Reason))
			b.record(decisions.Record{
				Time:           time.Now().UTC(),
				Decision:       d,
				RiskApproved:   true,
				OperatorReason: verdict.Reason,
			})
			return
		}
		opReason = verdict.Reason
	}

	orderID, err := b.executeSell(ctx, pair, price, reason, lg)
	if err != nil {
		lg.Error("protective exit failed", zap.Error(err))
		b.alert(fmt.Sprintf("protective exit for %s failed: %v", pair, err))
		return
	}

	b.record(decisions.Record{
		Time:             time.Now().UTC(),
		Decision:         d,
		RiskApproved:     true,
		OperatorApproved: true,
		OperatorReason:   opReason,
		Executed:         orderID != "",
		OrderID:          orderID,
	})
}

// exitReason returns a non-empty reason when the position must be
// closed at the given price.
func exitReason(pos *domain.Position, price decimal.Decimal, trailingStop float64) string {
	if pos.StopLoss > 0 {
		stopAt := pos.EntryPrice.Mul(decimal.NewFromFloat(1 - pos.StopLoss))
		if price.LessThanOrEqual(stopAt) {
			return "stop loss hit"
		}
	}
	if pos.TakeProfit > 0 {
		targetAt := pos.EntryPrice.Mul(decimal.NewFromFloat(1 + pos.TakeProfit))
		if price.GreaterThanOrEqual(targetAt) {
			return "take profit hit"
		}
	}
	if trailingStop > 0 && pos.Trailing.Armed && pos.Trailing.PeakPrice.IsPositive() {
		floor := pos.Trailing.PeakPrice.Mul(decimal.NewFromFloat(1 - trailingStop))
		if price.LessThanOrEqual(floor) {
			return "trailing stop hit"
		}
	}
	return ""
}

func (b *TradingBot) position(symbol string) *domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.book[symbol]
}

func (b *TradingBot) openPositions() []*domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*domain.Position, 0, len(b.book))
	for _, pos := range b.book {
		out = append(out, pos)
	}
	return out
}

// Positions returns a copy of the open position book.
func (b *TradingBot) Positions() []domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.Position, 0, len(b.book))
	for _, pos := range b.book {
		out = append(out, *pos)
	}
	return out
}

func (b *TradingBot) openCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.book)
}

// persistPosition must be called with b.mu held.
func (b *TradingBot) persistPosition(pos *domain.Position) {
	if b.posStore == nil {
		return
	}
	if err := b.posStore.Save(pos); err != nil {
		b.lg.Error("persist position failed", zap.Error(err))
	}
}

func (b *TradingBot) record(rec decisions.Record) {
	if b.journal == nil {
		return
	}
	if err := b.journal.Save(rec); err != nil {
		b.lg.Error("journal decision failed", zap.Error(err))
	}
}

func (b *TradingBot) send(text string) {
	if b.notify != nil {
		b.notify.Notify(text)
	}
}

func (b *TradingBot) alert(text string) {
	if b.notify != nil {
		b.notify.Alert(text)
	}
}
