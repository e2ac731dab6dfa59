package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvusbit/ember/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	t.Setenv("BITHUMB_API_KEY", "key")
	t.Setenv("BITHUMB_API_SECRET", "secret")
	t.Setenv("LLM_API_KEY", "llm-key")

	path := writeConfig(t, `
venue: bithumb
pairs: [BTC, eth_krw]
mode: auto
analysis_timeframes: [15m, 1h, 4h]
candle_limit: 200
analysis_interval: 5m
monitor_interval: 10s
slippage: "0.003"
trailing_arm: 0.03
trailing_stop: 0.02
risk:
  max_open_positions: 3
  daily_loss_limit: 0.04
llm:
  model: qwen/qwen-2.5-72b
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "bithumb", cfg.Venue)
	require.Equal(t, []domain.Pair{{Base: "BTC", Quote: "KRW"}, {Base: "ETH", Quote: "KRW"}}, cfg.Pairs)
	require.Equal(t, "auto", cfg.Mode)
	require.Len(t, cfg.AnalysisTimeframes, 3)
	require.Equal(t, 200, cfg.CandleLimit)
	require.Equal(t, "5m0s", cfg.AnalysisInterval.String())
	require.Equal(t, "0.003", cfg.Slippage.String())
	require.Equal(t, 3, cfg.Risk.MaxOpenPositions)
	require.Equal(t, "qwen/qwen-2.5-72b", cfg.LLM.Model)
	require.Equal(t, "key", cfg.APIKey)
	require.Equal(t, "llm-key", cfg.LLM.APIKey)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BITHUMB_API_KEY", "key")
	t.Setenv("BITHUMB_API_SECRET", "secret")
	t.Setenv("LLM_API_KEY", "llm-key")

	cfg, err := Load(writeConfig(t, "pairs: [SOL]\nmode: auto\n"))
	require.NoError(t, err)

	require.Equal(t, "bithumb", cfg.Venue)
	require.Equal(t, "KRW", cfg.Quote)
	require.Equal(t, "10m0s", cfg.AnalysisInterval.String())
	require.Equal(t, "30s", cfg.MonitorInterval.String())
	require.Equal(t, "0.002", cfg.Slippage.String())
	require.Equal(t, "./wal", cfg.DataDir)
}

func TestMissingVenueCredentials(t *testing.T) {
	t.Setenv("BITHUMB_API_KEY", "")
	t.Setenv("BITHUMB_API_SECRET", "")
	t.Setenv("LLM_API_KEY", "llm-key")

	_, err := Load(writeConfig(t, "pairs: [SOL]\nmode: auto\n"))
	require.ErrorContains(t, err, "BITHUMB_API_KEY")
}

func TestSemiModeRequiresTelegram(t *testing.T) {
	t.Setenv("BITHUMB_API_KEY", "key")
	t.Setenv("BITHUMB_API_SECRET", "secret")
	t.Setenv("LLM_API_KEY", "llm-key")

	_, err := Load(writeConfig(t, "pairs: [SOL]\nmode: semi\n"))
	require.ErrorContains(t, err, "telegram")
}

func TestUnsupportedVenue(t *testing.T) {
	t.Setenv("KRAKEN_API_KEY", "key")
	t.Setenv("KRAKEN_API_SECRET", "secret")
	t.Setenv("LLM_API_KEY", "llm-key")

	_, err := Load(writeConfig(t, "venue: kraken\npairs: [SOL]\nmode: auto\n"))
	require.ErrorContains(t, err, "unsupported venue")
}

func TestParsePair(t *testing.T) {
	pair, err := ParsePair("sol", "KRW")
	require.NoError(t, err)
	require.Equal(t, domain.Pair{Base: "SOL", Quote: "KRW"}, pair)

	pair, err = ParsePair("BTC/USDT", "KRW")
	require.NoError(t, err)
	require.Equal(t, domain.Pair{Base: "BTC", Quote: "USDT"}, pair)

	_, err = ParsePair("", "KRW")
	require.Error(t, err)
}

func TestBadTimeframeRejected(t *testing.T) {
	t.Setenv("BITHUMB_API_KEY", "key")
	t.Setenv("BITHUMB_API_SECRET", "secret")
	t.Setenv("LLM_API_KEY", "llm-key")

	_, err := Load(writeConfig(t, "pairs: [SOL]\nmode: auto\nanalysis_timeframes: [2h]\n"))
	require.ErrorContains(t, err, "unsupported timeframe")
}
