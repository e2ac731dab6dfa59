// Package web serves a small operator dashboard: live decision journal
// over SSE plus a JSON status endpoint with positions, risk state and
// gateway counters.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/corvusbit/ember/internal/domain"
	"github.com/corvusbit/ember/internal/gateway"
	"github.com/corvusbit/ember/internal/services/approval"
	"github.com/corvusbit/ember/internal/storage/decisions"
)

const journalPollInterval = 2 * time.Second

type decisionJournal interface {
	RecordsAfter(index uint64) ([]decisions.Record, error)
	CurrentIndex() uint64
}

type botStatus interface {
	Positions() []domain.Position
	TriggerCycle(pair domain.Pair)
	ClosePosition(ctx context.Context, pair domain.Pair) (string, error)
}

type riskStatus interface {
	State() domain.RiskState
	BreakerTripped() bool
	TripBreaker(reason string)
	ResetBreaker()
}

type gatewayStats interface {
	Stats() gateway.Stats
}

type modeSwitch interface {
	Mode() approval.Mode
	SetMode(mode approval.Mode) error
}

// Server exposes HTTP endpoints serving the HTML UI, a JSON status
// snapshot and an SSE stream of decision records.
type Server struct {
	addr    string
	bot     botStatus
	risk    riskStatus
	gw      gatewayStats
	modes   modeSwitch
	journal decisionJournal
	lg      *zap.Logger
}

// NewServer creates a new dashboard server.
func NewServer(addr string, bot botStatus, risk riskStatus, gw gatewayStats, modes modeSwitch, journal decisionJournal, lg *zap.Logger) *Server {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Server{addr: addr, bot: bot, risk: risk, gw: gw, modes: modes, journal: journal, lg: lg}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/decisions/stream", s.handleDecisionStream)
	mux.HandleFunc("/trigger", s.handleTrigger)
	mux.HandleFunc("/close", s.handleClose)
	mux.HandleFunc("/mode", s.handleMode)
	mux.HandleFunc("/breaker", s.handleBreaker)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

type positionView struct {
	Symbol     string    `json:"symbol"`
	EntryPrice string    `json:"entry_price"`
	Quantity   string    `json:"quantity"`
	EntryTime  time.Time `json:"entry_time"`
	DCACount   int       `json:"dca_count"`
	TakeProfit float64   `json:"take_profit"`
	StopLoss   float64   `json:"stop_loss"`
}

type statusResponse struct {
	Time           time.Time         `json:"time"`
	Mode           string            `json:"mode,omitempty"`
	Positions      []positionView    `json:"positions"`
	RiskState      *domain.RiskState `json:"risk_state,omitempty"`
	BreakerTripped bool              `json:"breaker_tripped"`
	Gateway        *gateway.Stats    `json:"gateway,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Time: time.Now().UTC(), Positions: []positionView{}}

	if s.bot != nil {
		for _, pos := range s.bot.Positions() {
			resp.Positions = append(resp.Positions, positionView{
				Symbol:     pos.Symbol,
				EntryPrice: pos.EntryPrice.String(),
				Quantity:   pos.Quantity.String(),
				EntryTime:  pos.EntryTime,
				DCACount:   pos.DCACount,
				TakeProfit: pos.TakeProfit,
				StopLoss:   pos.StopLoss,
			})
		}
	}
	if s.risk != nil {
		state := s.risk.State()
		resp.RiskState = &state
		resp.BreakerTripped = s.risk.BreakerTripped()
	}
	if s.gw != nil {
		stats := s.gw.Stats()
		resp.Gateway = &stats
	}
	if s.modes != nil {
		resp.Mode = string(s.modes.Mode())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.lg.Error("encode status response", zap.Error(err))
	}
}

// handleTrigger requests an out-of-schedule analysis cycle for one pair.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.bot == nil {
		http.Error(w, "bot not available", http.StatusServiceUnavailable)
		return
	}

	pair, err := parsePairParam(r.URL.Query().Get("pair"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.bot.TriggerCycle(pair)
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, "cycle queued for %s", pair)
}

// handleClose sells an open position on operator command.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.bot == nil {
		http.Error(w, "bot not available", http.StatusServiceUnavailable)
		return
	}

	pair, err := parsePairParam(r.URL.Query().Get("pair"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	orderID, err := s.bot.ClosePosition(r.Context(), pair)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	fmt.Fprintf(w, "position %s closed, order %s", pair, orderID)
}

// handleBreaker trips or resets the circuit breaker on operator command.
func (s *Server) handleBreaker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.risk == nil {
		http.Error(w, "risk manager not available", http.StatusServiceUnavailable)
		return
	}

	switch action := strings.ToLower(r.URL.Query().Get("action")); action {
	case "trip":
		s.risk.TripBreaker("operator command")
		fmt.Fprint(w, "breaker tripped")
	case "reset":
		s.risk.ResetBreaker()
		fmt.Fprint(w, "breaker reset")
	default:
		http.Error(w, fmt.Sprintf("action must be trip or reset, got %q", action), http.StatusBadRequest)
	}
}

// handleMode switches the approval mode; effective on the next cycle.
func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.modes == nil {
		http.Error(w, "mode switching not available", http.StatusServiceUnavailable)
		return
	}

	mode := approval.Mode(strings.ToLower(r.URL.Query().Get("mode")))
	if err := s.modes.SetMode(mode); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fmt.Fprintf(w, "mode set to %s", mode)
}

func parsePairParam(raw string) (domain.Pair, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	raw = strings.ReplaceAll(raw, "_", "/")
	base, quote, ok := strings.Cut(raw, "/")
	if !ok || base == "" || quote == "" {
		return domain.Pair{}, fmt.Errorf("pair must look like BTC/KRW, got %q", raw)
	}
	return domain.Pair{Base: base, Quote: quote}, nil
}

func (s *Server) handleDecisionStream(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "decision journal not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// send a comment heartbeat every 30s so proxies keep connection
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(journalPollInterval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	sendRecords := func() error {
		current := s.journal.CurrentIndex()
		if current <= lastIndex {
			return nil
		}
		records, err := s.journal.RecordsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			payload, err := json.Marshal(record)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "event: decision\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		flusher.Flush()
		lastIndex = current
		return nil
	}

	if err := sendRecords(); err != nil {
		http.Error(w, "failed to load decision journal", http.StatusInternalServerError)
		s.lg.Error("decision stream initial load", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendRecords(); err != nil {
				s.lg.Warn("decision stream poll", zap.Error(err))
			}
		}
	}
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Ember</title>
  <link href="https://fonts.googleapis.com/css2?family=Space+Mono:wght@400;700&display=swap" rel="stylesheet">
  <style>
    :root {
      --bg:#ffffff;
      --ink:#111111;
      --ink-mid:#4d4d4d;
      --ink-soft:#9c9c9c;
      --panel:#f6f6f6;
    }
    * { box-sizing:border-box; }
    body {
      margin:0;
      min-height:100vh;
      padding:2rem;
      background:var(--bg);
      color:var(--ink);
      font-family:'Space Mono','JetBrains Mono',monospace;
    }
    #app {
      width:min(1200px, 96vw);
      margin:0 auto;
      background:var(--panel);
      border:3px solid var(--ink);
      padding:2rem;
      box-shadow:12px 12px 0 rgba(0,0,0,.15);
      display:grid;
      grid-template-columns:1fr 420px;
      gap:2rem;
    }
    header { grid-column:1 / -1; display:flex; justify-content:space-between; align-items:center; }
    h1 { font-size:1rem; text-transform:uppercase; letter-spacing:.2em; margin:0; }
    .status {
      font-size:.65rem;
      text-transform:uppercase;
      letter-spacing:.1em;
      border:2px solid var(--ink);
      padding:.4rem .9rem;
      background:#ffffff;
    }
    .panel {
      border:3px solid var(--ink);
      padding:1.2rem;
      background:#fff;
      box-shadow:6px 6px 0 rgba(0,0,0,.12);
    }
    .panel h2 {
      font-size:.7rem;
      text-transform:uppercase;
      letter-spacing:.15em;
      margin:0 0 1rem;
      padding-bottom:.6rem;
      border-bottom:2px solid var(--ink);
    }
    table { width:100%; border-collapse:collapse; font-size:.7rem; }
    th, td { text-align:left; padding:.4rem .5rem; border-bottom:1px dashed var(--ink-soft); }
    th { text-transform:uppercase; letter-spacing:.1em; color:var(--ink-mid); }
    .pill {
      font-size:.55rem;
      letter-spacing:.12em;
      text-transform:uppercase;
      padding:.3rem .6rem;
      border:2px solid var(--ink);
      background:#fefefe;
      display:inline-block;
      margin:.2rem .2rem 0 0;
    }
    .pill.bad { border-color:#d7263d; color:#d7263d; }
    .decision-card {
      border:2px solid var(--ink);
      padding:.9rem;
      background:#fff;
      font-size:.68rem;
      line-height:1.4;
      margin-bottom:.8rem;
    }
    .decision-head { display:flex; justify-content:space-between; margin-bottom:.5rem; }
    .action { font-weight:700; text-transform:uppercase; letter-spacing:.1em; }
    .action.buy { color:#1b9aaa; }
    .action.sell { color:#d7263d; }
    .action.hold { color:#9c9c9c; }
    .reason { margin-top:.5rem; color:var(--ink-mid); font-style:italic; }
    .feed { max-height:calc(100vh - 12rem); overflow-y:auto; }
    .empty { color:var(--ink-mid); font-size:.7rem; text-transform:uppercase; letter-spacing:.1em; }
  </style>
</head>
<body>
  <div id="app">
    <header>
      <h1>ember</h1>
      <div id="sse-status" class="status">Connecting…</div>
    </header>
    <div>
      <section class="panel">
        <h2>Open positions</h2>
        <table>
          <thead><tr><th>Symbol</th><th>Entry</th><th>Qty</th><th>DCA</th><th>TP/SL</th></tr></thead>
          <tbody id="positions"><tr><td colspan="5" class="empty">none</td></tr></tbody>
        </table>
      </section>
      <section class="panel" style="margin-top:1.5rem">
        <h2>Risk</h2>
        <div id="risk" class="empty">waiting…</div>
      </section>
      <section class="panel" style="margin-top:1.5rem">
        <h2>Gateway</h2>
        <div id="gateway" class="empty">waiting…</div>
      </section>
    </div>
    <aside class="panel">
      <h2>Decisions</h2>
      <div id="decisions" class="feed"></div>
    </aside>
  </div>
<script>
const statusEl = document.getElementById('sse-status');
const positionsEl = document.getElementById('positions');
const riskEl = document.getElementById('risk');
const gatewayEl = document.getElementById('gateway');
const decisionsEl = document.getElementById('decisions');
const MAX_DECISIONS = 50;

const pill = (text, bad) => {
  const span = document.createElement('span');
  span.className = bad ? 'pill bad' : 'pill';
  span.textContent = text;
  return span;
};

function renderStatus(payload){
  positionsEl.innerHTML = '';
  if(!payload.positions || payload.positions.length === 0){
    positionsEl.innerHTML = '<tr><td colspan="5" class="empty">none</td></tr>';
  } else {
    for(const pos of payload.positions){
      const row = document.createElement('tr');
      const tp = (pos.take_profit * 100).toFixed(1);
      const sl = (pos.stop_loss * 100).toFixed(1);
      row.innerHTML = '<td>' + pos.symbol + '</td><td>' + pos.entry_price +
        '</td><td>' + pos.quantity + '</td><td>' + pos.dca_count +
        '</td><td>+' + tp + '% / -' + sl + '%</td>';
      positionsEl.appendChild(row);
    }
  }

  riskEl.innerHTML = '';
  riskEl.className = '';
  if(payload.risk_state){
    const rs = payload.risk_state;
    riskEl.append(
      pill('daily pnl ' + rs.realized_daily_pnl),
      pill('losses ' + rs.consecutive_losses),
      pill(payload.breaker_tripped ? 'breaker TRIPPED' : 'breaker ok', payload.breaker_tripped)
    );
    if(payload.breaker_tripped && rs.trip_reason){
      riskEl.append(pill(rs.trip_reason, true));
    }
  }

  gatewayEl.innerHTML = '';
  gatewayEl.className = '';
  if(payload.gateway){
    const gw = payload.gateway;
    gatewayEl.append(
      pill('hits ' + gw.CacheHits),
      pill('misses ' + gw.CacheMisses),
      pill('calls ' + gw.VenueCalls),
      pill('errors ' + gw.VenueErrors, gw.VenueErrors > 0)
    );
  }
}

async function pollStatus(){
  try{
    const resp = await fetch('/status');
    renderStatus(await resp.json());
  }catch(err){
    console.error('status poll', err);
  }
}
pollStatus();
setInterval(pollStatus, 5000);

function formatTime(ts){
  if(!ts) return '';
  const date = new Date(ts);
  if(Number.isNaN(date.getTime())) return '';
  return date.toLocaleTimeString([], { hour12:false });
}

function createDecisionCard(rec){
  const d = rec.decision || {};
  const card = document.createElement('div');
  card.className = 'decision-card';

  const head = document.createElement('div');
  head.className = 'decision-head';
  const action = document.createElement('span');
  action.className = 'action ' + (d.action || 'hold');
  action.textContent = (d.action || 'hold') + ' ' + (d.pair ? d.pair.base + '/' + d.pair.quote : '');
  const time = document.createElement('span');
  time.textContent = formatTime(rec.time);
  head.append(action, time);
  card.appendChild(head);

  card.append(
    pill('conf ' + (d.confidence || 0).toFixed(2)),
    pill(d.condition || '—'),
    pill(rec.risk_approved ? 'risk ok' : 'risk veto', !rec.risk_approved),
    pill(rec.executed ? 'executed' : 'not executed', false)
  );

  if(rec.risk_reason){ card.append(pill(rec.risk_reason, true)); }
  if(rec.operator_reason){ card.append(pill(rec.operator_reason, false)); }

  if(d.reason){
    const reason = document.createElement('div');
    reason.className = 'reason';
    reason.textContent = '"' + d.reason + '"';
    card.appendChild(reason);
  }
  return card;
}

function connectSSE(){
  const source = new EventSource('/decisions/stream');
  statusEl.textContent = 'Status: receiving data';
  source.addEventListener('decision', (event) => {
    try{
      const rec = JSON.parse(event.data);
      decisionsEl.insertBefore(createDecisionCard(rec), decisionsEl.firstChild);
      while(decisionsEl.children.length > MAX_DECISIONS){
        decisionsEl.removeChild(decisionsEl.lastChild);
      }
    }catch(err){
      console.error('decision parse', err);
    }
  });
  source.addEventListener('error', () => {
    statusEl.textContent = 'Reconnecting…';
    source.close();
    setTimeout(connectSSE, 2000);
  });
}
connectSSE();
</script>
</body>
</html>`
