// Package setup provides the interactive first-run configuration wizard.
package setup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/corvusbit/ember/config"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// GeneratedFile is where the wizard writes its result.
const GeneratedFile = "config.gen.yaml"

func header(step string) {
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("EMBER CONFIG WIZARD"))
	if step != "" {
		fmt.Println(stepStyle.Render(step))
	}
}

// RunTUI launches the terminal configuration wizard and writes the
// generated YAML to config.gen.yaml. Exchange and LLM credentials stay
// out of the file; they are read from the environment at startup.
func RunTUI() error {
	var (
		venue       string
		pairsStr    string
		mode        string
		intervalStr string
		apiURL      string
		model       string
		tgEnabled   bool
		listenAddr  string
		confirm     bool
	)

	// defaults
	intervalStr = "10m"
	apiURL = "https://openrouter.ai/api/v1/chat/completions"
	model = "deepseek/deepseek-chat"
	listenAddr = ":8080"

	header("")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's get your bot trading in style.\n"))

	header("STEP 1: EXCHANGE")
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Exchange Venue").
				Options(
					huh.NewOption("Bithumb", "bithumb"),
					huh.NewOption("Binance", "binance"),
					huh.NewOption("Bybit", "bybit"),
				).
				Value(&venue),
		),
	).Run()
	if err != nil {
		return err
	}

	header("STEP 2: ASSETS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trading Pairs").
				Description("Comma separated, e.g. BTC/KRW,ETH/KRW or just BTC,ETH").
				Value(&pairsStr).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("at least one pair is required")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	header("STEP 3: APPROVAL MODE")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("How should orders be approved?").
				Options(
					huh.NewOption("Semi-auto (Telegram confirmation before every order)", "semi"),
					huh.NewOption("Full auto (risk checks only)", "auto"),
				).
				Value(&mode),
		),
	).Run()
	if err != nil {
		return err
	}

	header("STEP 4: TIMING")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Analysis Interval").
				Description("Duration string (e.g. 5m, 10m, 1h)").
				Value(&intervalStr).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	header("STEP 5: MODEL")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("LLM API URL").
				Value(&apiURL),
			huh.NewInput().
				Title("Model Name").
				Value(&model),
		),
	).Run()
	if err != nil {
		return err
	}

	header("STEP 6: EXTRAS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable Telegram notifications?").
				Description("Required for semi-auto mode. Token and chat id come from env.").
				Value(&tgEnabled),
			huh.NewInput().
				Title("Dashboard Listen Address").
				Description("Empty disables the web dashboard").
				Value(&listenAddr),
		),
	).Run()
	if err != nil {
		return err
	}

	if mode == "semi" {
		tgEnabled = true
	}

	pairs := splitList(pairsStr)

	header("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Venue: %s\nPairs: %s\nMode: %s\nInterval: %s\nModel: %s\nTelegram: %v\n",
		venue, strings.Join(pairs, ", "), mode, intervalStr, model, tgEnabled,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	fc := config.File{
		Venue:            venue,
		Pairs:            pairs,
		Mode:             mode,
		AnalysisInterval: intervalStr,
		LLM: config.LLM{
			APIURL: apiURL,
			Model:  model,
		},
		Telegram:   config.Telegram{Enabled: tgEnabled},
		ListenAddr: listenAddr,
	}

	data, err := yaml.Marshal(fc)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	if err := os.WriteFile(GeneratedFile, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	envHint := fmt.Sprintf("%s_API_KEY, %s_API_SECRET, LLM_API_KEY", strings.ToUpper(venue), strings.ToUpper(venue))
	if tgEnabled {
		envHint += ", TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID"
	}
	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(
		fmt.Sprintf("\n✓ Configuration saved to %s\nSet these environment variables before starting: %s", GeneratedFile, envHint)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
