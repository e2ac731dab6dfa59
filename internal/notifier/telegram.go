// Package notifier delivers operator-facing messages over Telegram:
// trade confirmations in semi-auto mode, fill reports and risk alerts.
package notifier

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/corvusbit/ember/internal/services/approval"
)

const (
	callbackApprove = "approve"
	callbackReject  = "reject"
)

// Telegram is an approval.Approver backed by one bot chat. Run must be
// started for callbacks to be delivered.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	lg     *zap.Logger

	mu      sync.Mutex
	pending map[string]chan bool
}

func NewTelegram(token string, chatID int64, lg *zap.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot init")
	}

	lg.Info("telegram notifier ready", zap.String("bot", bot.Self.UserName))

	return &Telegram{
		bot:     bot,
		chatID:  chatID,
		lg:      lg,
		pending: make(map[string]chan bool),
	}, nil
}

// Run consumes bot updates until ctx is done. Button presses are
// matched to pending approval requests by the token embedded in the
// callback data; everything else is ignored.
func (t *Telegram) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 60
	updates := t.bot.GetUpdatesChan(cfg)

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.CallbackQuery != nil {
				t.handleCallback(update.CallbackQuery)
			}
		}
	}
}

func (t *Telegram) handleCallback(cb *tgbotapi.CallbackQuery) {
	verb, token, ok := strings.Cut(cb.Data, ":")
	if !ok {
		return
	}

	t.mu.Lock()
	ch, found := t.pending[token]
	if found {
		delete(t.pending, token)
	}
	t.mu.Unlock()

	ack := "expired"
	if found {
		switch verb {
		case callbackApprove:
			ch <- true
			ack = "approved"
		case callbackReject:
			ch <- false
			ack = "rejected"
		}
	}

	if _, err := t.bot.Request(tgbotapi.NewCallback(cb.ID, ack)); err != nil {
		t.lg.Warn("callback ack failed", zap.Error(err))
	}
	if cb.Message != nil {
		edit := tgbotapi.NewEditMessageText(t.chatID, cb.Message.MessageID,
			cb.Message.Text+"\n\n=> "+ack)
		if _, err := t.bot.Send(edit); err != nil {
			t.lg.Warn("callback message edit failed", zap.Error(err))
		}
	}
}

// RequestApproval posts the decision with approve/reject buttons and
// blocks for the operator's answer or ctx expiry.
func (t *Telegram) RequestApproval(ctx context.Context, req approval.Request) (bool, error) {
	token := uuid.NewString()
	ch := make(chan bool, 1)

	t.mu.Lock()
	t.pending[token] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, token)
		t.mu.Unlock()
	}()

	msg := tgbotapi.NewMessage(t.chatID, formatApprovalRequest(req))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Approve", callbackApprove+":"+token),
			tgbotapi.NewInlineKeyboardButtonData("Reject", callbackReject+":"+token),
		),
	)
	if _, err := t.bot.Send(msg); err != nil {
		return false, errors.Wrap(err, "send approval request")
	}

	select {
	case answer := <-ch:
		return answer, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func formatApprovalRequest(req approval.Request) string {
	d := req.Decision
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", strings.ToUpper(string(d.Action)), d.Pair)
	fmt.Fprintf(&b, "confidence %.2f, condition %s\n", d.Confidence, d.Condition)
	if d.IsEntry() {
		fmt.Fprintf(&b, "size %s KRW, weight %.2f\n", req.Amount.StringFixed(0), d.PositionWeight)
		fmt.Fprintf(&b, "TP %.1f%% / SL %.1f%%\n", d.TakeProfit*100, d.StopLoss*100)
	}
	if d.Reason != "" {
		fmt.Fprintf(&b, "\n%s", d.Reason)
	}
	return b.String()
}

// Notify posts a plain informational message. Failures are logged and
// swallowed; notifications must never break the trading loop.
func (t *Telegram) Notify(text string) {
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		t.lg.Warn("telegram notify failed", zap.Error(err))
	}
}

// Alert posts a prefixed high-priority message, used for circuit
// breaker trips and order failures.
func (t *Telegram) Alert(text string) {
	t.Notify("ALERT: " + text)
}
