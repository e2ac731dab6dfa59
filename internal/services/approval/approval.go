// Package approval gates order placement behind an operator. In AUTO
// mode every risk-cleared decision passes straight through; in SEMI
// mode it is forwarded to an Approver (normally the Telegram notifier)
// and executes only on an explicit yes.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/corvusbit/ember/internal/domain"
)

// Mode selects how decisions are confirmed.
type Mode string

const (
	// ModeAuto executes risk-cleared decisions without confirmation.
	ModeAuto Mode = "auto"
	// ModeSemi requires an operator to confirm each entry and exit.
	ModeSemi Mode = "semi"
)

func (m Mode) Valid() bool { return m == ModeAuto || m == ModeSemi }

// DefaultTimeout is how long a confirmation request stays open before
// it is treated as a rejection.
const DefaultTimeout = 10 * time.Minute

// Request is one decision awaiting confirmation.
type Request struct {
	Decision domain.Decision
	// Amount is the KRW size for entries, zero for exits.
	Amount decimal.Decimal
}

// Approver presents a request to the operator and blocks until they
// answer or ctx is done.
type Approver interface {
	RequestApproval(ctx context.Context, req Request) (bool, error)
}

// Verdict is the coordinator's answer.
type Verdict struct {
	Approved bool
	Reason   string
}

// Coordinator routes decisions through the configured mode. A new
// request for a symbol supersedes any still-pending one: the market has
// moved on, so the stale question is withdrawn rather than left to be
// answered against old prices.
type Coordinator struct {
	mode     Mode
	approver Approver
	timeout  time.Duration
	lg       *zap.Logger

	mu      sync.Mutex
	pending map[string]pendingRequest
}

// pendingRequest ties a pending slot to the context it was created for,
// so clear can tell its own entry from a successor's.
type pendingRequest struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewCoordinator(mode Mode, approver Approver, lg *zap.Logger) *Coordinator {
	return &Coordinator{
		mode:     mode,
		approver: approver,
		timeout:  DefaultTimeout,
		lg:       lg,
		pending:  make(map[string]pendingRequest),
	}
}

// Mode returns the current confirmation mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches between auto and semi. The switch applies to the
// next Confirm call; requests already waiting keep their original mode.
func (c *Coordinator) SetMode(mode Mode) error {
	if !mode.Valid() {
		return errors.Errorf("unknown approval mode %q", mode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if mode != c.mode {
		c.lg.Info("approval mode changed",
			zap.String("from", string(c.mode)),
			zap.String("to", string(mode)))
	}
	c.mode = mode
	return nil
}

// Confirm resolves one decision. It never returns an error: any failure
// of the approval channel degrades to a rejection, the safe direction.
func (c *Coordinator) Confirm(ctx context.Context, req Request) Verdict {
	if c.Mode() == ModeAuto || c.approver == nil {
		return Verdict{Approved: true, Reason: "auto mode"}
	}

	pair := req.Decision.Pair.String()
	reqCtx := c.supersede(ctx, pair)
	defer c.clear(pair, reqCtx)

	approved, err := c.approver.RequestApproval(reqCtx, req)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return Verdict{Reason: "shutting down"}
		case reqCtx.Err() == context.DeadlineExceeded:
			c.lg.Warn("approval request timed out",
				zap.String("pair", pair),
				zap.String("action", string(req.Decision.Action)))
			return Verdict{Reason: "approval timed out"}
		case reqCtx.Err() == context.Canceled:
			return Verdict{Reason: "superseded by a newer decision"}
		default:
			c.lg.Error("approval request failed", zap.Error(err))
			return Verdict{Reason: "approval channel unavailable"}
		}
	}

	if !approved {
		return Verdict{Reason: "rejected by operator"}
	}
	return Verdict{Approved: true, Reason: "approved by operator"}
}

// supersede cancels any pending request for the pair and registers a
// fresh deadline context for this one.
func (c *Coordinator) supersede(ctx context.Context, pair string) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.pending[pair]; ok {
		prev.cancel()
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	c.pending[pair] = pendingRequest{ctx: reqCtx, cancel: cancel}
	return reqCtx
}

// clear releases this request's pending slot. A successor that already
// replaced the slot is left untouched, whatever state our own context
// ended in.
func (c *Coordinator) clear(pair string, reqCtx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[pair]
	if !ok || p.ctx != reqCtx {
		return
	}
	p.cancel()
	delete(c.pending, pair)
}
