// Command ember runs the AI-assisted spot trading bot. Market data and
// orders go through an exchange gateway (Bithumb, Binance or Bybit),
// every decision passes the risk manager, and in semi-auto mode each
// order waits for Telegram approval.
//
// Usage:
//
//	ember --config config.yaml
//	ember --setup (interactive wizard, then start)
//
// Required environment variables:
//
//	<VENUE>_API_KEY, <VENUE>_API_SECRET, LLM_API_KEY
//	For Telegram: TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/corvusbit/ember/config"
	"github.com/corvusbit/ember/internal"
	"github.com/corvusbit/ember/internal/clients"
	"github.com/corvusbit/ember/internal/gateway"
	"github.com/corvusbit/ember/internal/notifier"
	"github.com/corvusbit/ember/internal/services/approval"
	"github.com/corvusbit/ember/internal/services/decision"
	"github.com/corvusbit/ember/internal/services/promptbuilder"
	"github.com/corvusbit/ember/internal/services/risk"
	"github.com/corvusbit/ember/internal/setup"
	"github.com/corvusbit/ember/internal/storage/decisions"
	"github.com/corvusbit/ember/internal/storage/positions"
	"github.com/corvusbit/ember/internal/storage/riskstate"
	"github.com/corvusbit/ember/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	runSetup := flag.Bool("setup", false, "launch the interactive configuration wizard first")
	flag.Parse()

	if *runSetup {
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
		*configPath = setup.GeneratedFile
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("bot stopped", zap.Error(err))
	}
}

func run(cfg config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	venue, err := newVenueClient(cfg)
	if err != nil {
		return err
	}
	gw := gateway.New(venue, lg)

	llm := clients.NewOpenAICompatibleClient(cfg.LLM.APIURL, cfg.LLM.APIKey, cfg.LLM.Model)
	engine := decision.NewEngine(llm, promptbuilder.NewBuilder(lg), lg)

	posStore, err := positions.NewWALStore(filepath.Join(cfg.DataDir, "positions"))
	if err != nil {
		return errors.Wrap(err, "open position store")
	}
	defer posStore.Shutdown()

	riskStore, err := riskstate.NewWALStore(filepath.Join(cfg.DataDir, "riskstate"))
	if err != nil {
		return errors.Wrap(err, "open risk state store")
	}
	defer riskStore.Shutdown()

	journal, err := decisions.NewWALStore(filepath.Join(cfg.DataDir, "decisions"))
	if err != nil {
		return errors.Wrap(err, "open decision journal")
	}
	defer journal.Shutdown()

	riskMgr, err := risk.NewManager(riskLimits(cfg.Risk), riskStore, lg)
	if err != nil {
		return errors.Wrap(err, "init risk manager")
	}

	var (
		tg       *notifier.Telegram
		approver approval.Approver
		notify   internal.Notifier
	)
	if cfg.Telegram.Enabled {
		tg, err = notifier.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, lg)
		if err != nil {
			return errors.Wrap(err, "init telegram")
		}
		approver = tg
		notify = tg
	}
	coordinator := approval.NewCoordinator(approval.Mode(cfg.Mode), approver, lg)

	bot, err := internal.NewTradingBot(botConfig(cfg), gw, engine, riskMgr, coordinator, notify, posStore, journal, lg)
	if err != nil {
		return errors.Wrap(err, "init trading bot")
	}

	lg.Info("starting",
		zap.String("venue", cfg.Venue),
		zap.String("mode", cfg.Mode),
		zap.Int("pairs", len(cfg.Pairs)))

	g, gctx := errgroup.WithContext(ctx)
	if tg != nil {
		g.Go(func() error {
			tg.Run(gctx)
			return nil
		})
	}
	if cfg.ListenAddr != "" {
		srv := web.NewServer(cfg.ListenAddr, bot, riskMgr, gw, coordinator, journal, lg)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}
	g.Go(func() error {
		return bot.Run(gctx)
	})

	return g.Wait()
}

func newVenueClient(cfg config.Config) (clients.Exchange, error) {
	switch cfg.Venue {
	case "bithumb":
		return clients.NewBithumbClient(cfg.APIKey, cfg.APISecret), nil
	case "binance":
		return clients.NewBinanceClient(cfg.APIKey, cfg.APISecret), nil
	case "bybit":
		return clients.NewBybitClient(cfg.APIKey, cfg.APISecret), nil
	default:
		return nil, errors.Errorf("unsupported venue %q", cfg.Venue)
	}
}

func riskLimits(r config.Risk) risk.Limits {
	return risk.Limits{
		MaxOpenPositions:  r.MaxOpenPositions,
		PositionWeightCap: r.PositionWeightCap,
		MaxDCACount:       r.MaxDCACount,
		DailyLossLimit:    r.DailyLossLimit,
		DrawdownLimit:     r.DrawdownLimit,
		MinOrderKRW:       decimal.NewFromInt(r.MinOrderKRW),
	}
}

func botConfig(cfg config.Config) internal.BotConfig {
	return internal.BotConfig{
		Pairs:              cfg.Pairs,
		AnalysisTimeframes: cfg.AnalysisTimeframes,
		CandleLimit:        cfg.CandleLimit,
		AnalysisInterval:   cfg.AnalysisInterval,
		MonitorInterval:    cfg.MonitorInterval,
		Slippage:           cfg.Slippage,
		TrailingArm:        cfg.TrailingArm,
		TrailingStop:       cfg.TrailingStop,
		Quote:              cfg.Quote,
	}
}
