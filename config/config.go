// Package config loads the bot configuration: trading parameters from
// a YAML file, secrets from the environment (optionally a .env file).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/corvusbit/ember/internal/domain"
)

// Risk bounds the account-level limits.
type Risk struct {
	MaxOpenPositions  int     `yaml:"max_open_positions"`
	PositionWeightCap float64 `yaml:"position_weight_cap"`
	MaxDCACount       int     `yaml:"max_dca_count"`
	DailyLossLimit    float64 `yaml:"daily_loss_limit"`
	DrawdownLimit     float64 `yaml:"drawdown_limit"`
	MinOrderKRW       int64   `yaml:"min_order_krw"`
}

// LLM points at an OpenAI-compatible chat completion endpoint. The API
// key always comes from the LLM_API_KEY environment variable.
type LLM struct {
	APIURL string `yaml:"api_url"`
	Model  string `yaml:"model"`
	APIKey string `yaml:"-"`
}

// Telegram credentials come from TELEGRAM_BOT_TOKEN and
// TELEGRAM_CHAT_ID; the section only enables the integration.
type Telegram struct {
	Enabled bool `yaml:"enabled"`
	Token   string
	ChatID  int64
}

// Config is the fully resolved runtime configuration.
type Config struct {
	Venue string        `yaml:"venue"`
	Pairs []domain.Pair `yaml:"-"`
	Quote string        `yaml:"quote"`

	// Mode is "auto" or "semi"; semi routes every order through the
	// Telegram approval flow.
	Mode string `yaml:"mode"`

	AnalysisTimeframes []domain.Timeframe `yaml:"-"`
	CandleLimit        int                `yaml:"candle_limit"`
	AnalysisInterval   time.Duration      `yaml:"analysis_interval"`
	MonitorInterval    time.Duration      `yaml:"monitor_interval"`

	Slippage     decimal.Decimal `yaml:"-"`
	TrailingArm  float64         `yaml:"trailing_arm"`
	TrailingStop float64         `yaml:"trailing_stop"`

	Risk     Risk     `yaml:"risk"`
	LLM      LLM      `yaml:"llm"`
	Telegram Telegram `yaml:"telegram"`

	// DataDir is the root for WAL directories.
	DataDir string `yaml:"data_dir"`
	// ListenAddr serves the status API when non-empty.
	ListenAddr string `yaml:"listen_addr"`

	// venue API credentials, from <VENUE>_API_KEY / <VENUE>_API_SECRET
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

// File is the raw YAML shape before parsing and defaulting.
type File struct {
	Venue              string   `yaml:"venue"`
	Pairs              []string `yaml:"pairs"`
	Quote              string   `yaml:"quote"`
	Mode               string   `yaml:"mode"`
	AnalysisTimeframes []string `yaml:"analysis_timeframes"`
	CandleLimit        int      `yaml:"candle_limit"`
	AnalysisInterval   string   `yaml:"analysis_interval"`
	MonitorInterval    string   `yaml:"monitor_interval"`
	Slippage           string   `yaml:"slippage"`
	TrailingArm        float64  `yaml:"trailing_arm"`
	TrailingStop       float64  `yaml:"trailing_stop"`
	Risk               Risk     `yaml:"risk"`
	LLM                LLM      `yaml:"llm"`
	Telegram           Telegram `yaml:"telegram"`
	DataDir            string   `yaml:"data_dir"`
	ListenAddr         string   `yaml:"listen_addr"`
}

// Load reads the YAML file at path and overlays environment secrets. A
// .env file next to the binary is honored when present.
func Load(path string) (Config, error) {
	// a .env file is optional; real environment variables win either way
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var fc File
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg, err := fromFile(fc)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.loadSecrets(); err != nil {
		return Config{}, err
	}

	return cfg, cfg.validate()
}

func fromFile(fc File) (Config, error) {
	cfg := Config{
		Venue:        strings.ToLower(fc.Venue),
		Quote:        strings.ToUpper(fc.Quote),
		Mode:         strings.ToLower(fc.Mode),
		CandleLimit:  fc.CandleLimit,
		TrailingArm:  fc.TrailingArm,
		TrailingStop: fc.TrailingStop,
		Risk:         fc.Risk,
		LLM:          fc.LLM,
		Telegram:     fc.Telegram,
		DataDir:      fc.DataDir,
		ListenAddr:   fc.ListenAddr,
	}

	if cfg.Venue == "" {
		cfg.Venue = "bithumb"
	}
	if cfg.Quote == "" {
		cfg.Quote = "KRW"
	}
	if cfg.Mode == "" {
		cfg.Mode = "semi"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./wal"
	}
	if cfg.LLM.APIURL == "" {
		cfg.LLM.APIURL = "https://openrouter.ai/api/v1/chat/completions"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "deepseek/deepseek-chat"
	}

	for _, p := range fc.Pairs {
		pair, err := ParsePair(p, cfg.Quote)
		if err != nil {
			return Config{}, err
		}
		cfg.Pairs = append(cfg.Pairs, pair)
	}

	for _, tf := range fc.AnalysisTimeframes {
		parsed, err := parseTimeframe(tf)
		if err != nil {
			return Config{}, err
		}
		cfg.AnalysisTimeframes = append(cfg.AnalysisTimeframes, parsed)
	}

	var err error
	if cfg.AnalysisInterval, err = parseDuration(fc.AnalysisInterval, 10*time.Minute); err != nil {
		return Config{}, fmt.Errorf("analysis_interval: %w", err)
	}
	if cfg.MonitorInterval, err = parseDuration(fc.MonitorInterval, 30*time.Second); err != nil {
		return Config{}, fmt.Errorf("monitor_interval: %w", err)
	}

	cfg.Slippage = decimal.NewFromFloat(0.002)
	if fc.Slippage != "" {
		if cfg.Slippage, err = decimal.NewFromString(fc.Slippage); err != nil {
			return Config{}, fmt.Errorf("slippage: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) loadSecrets() error {
	prefix := strings.ToUpper(c.Venue)
	c.APIKey = os.Getenv(prefix + "_API_KEY")
	c.APISecret = os.Getenv(prefix + "_API_SECRET")
	c.LLM.APIKey = os.Getenv("LLM_API_KEY")

	if c.Telegram.Enabled {
		c.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
		chatID := os.Getenv("TELEGRAM_CHAT_ID")
		if c.Telegram.Token == "" || chatID == "" {
			return fmt.Errorf("telegram enabled but TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID is not set")
		}
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		c.Telegram.ChatID = id
	}

	return nil
}

func (c *Config) validate() error {
	switch c.Venue {
	case "bithumb", "binance", "bybit":
	default:
		return fmt.Errorf("unsupported venue %q", c.Venue)
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("at least one pair is required")
	}
	if c.Mode != "auto" && c.Mode != "semi" {
		return fmt.Errorf("mode must be auto or semi, got %q", c.Mode)
	}
	if c.APIKey == "" || c.APISecret == "" {
		return fmt.Errorf("%s_API_KEY and %s_API_SECRET must be set",
			strings.ToUpper(c.Venue), strings.ToUpper(c.Venue))
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY must be set")
	}
	if c.Mode == "semi" && !c.Telegram.Enabled {
		return fmt.Errorf("semi mode requires the telegram section to be enabled")
	}
	return nil
}

// ParsePair parses "SOL", "SOL/KRW" or "SOL_KRW" into a Pair,
// defaulting the quote currency.
func ParsePair(s, defaultQuote string) (domain.Pair, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "/")
	if s == "" {
		return domain.Pair{}, fmt.Errorf("empty pair")
	}

	base, quote, found := strings.Cut(s, "/")
	if !found {
		quote = defaultQuote
	}
	if base == "" || quote == "" {
		return domain.Pair{}, fmt.Errorf("invalid pair %q", s)
	}
	return domain.Pair{Base: base, Quote: quote}, nil
}

func parseTimeframe(s string) (domain.Timeframe, error) {
	tf := domain.Timeframe(strings.ToLower(strings.TrimSpace(s)))
	switch tf {
	case domain.Timeframe5m, domain.Timeframe15m, domain.Timeframe30m,
		domain.Timeframe1h, domain.Timeframe4h, domain.TimeframeDaily, domain.TimeframeWeekly:
		return tf, nil
	}
	return "", fmt.Errorf("unsupported timeframe %q", s)
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
