// Package main is the entry point for the Relay CLI.
// Relay routes prompts between a local OpenAI-compatible server and
// OpenRouter, translating Russian prompts for English-only local models,
// answering repeat questions from a rated knowledge base, and exposing
// the whole dispatch pipeline over an HTTP/WebSocket gateway.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/relay/internal/bus"
	"github.com/normanking/relay/internal/config"
	"github.com/normanking/relay/internal/dispatch"
	"github.com/normanking/relay/internal/gateway"
	"github.com/normanking/relay/internal/knowledge"
	"github.com/normanking/relay/internal/llm"
	"github.com/normanking/relay/internal/logging"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool
	log     *logging.Logger
)

// Output styles, shared by every command.
var (
	stylePrimary = lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7")).Bold(true)
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ece6a"))
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("#565f89"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay - smart prompt dispatch between local and cloud models",
		Long: `Relay routes prompts to a local OpenAI-compatible server or to
OpenRouter. It picks the model by task category, translates Russian
prompts for English-only local models, falls back across providers on
failure, and answers repeat questions from a rated knowledge base.

One-shot question:  relay ask "How do I reverse a string in Go?"
Provider status:    relay models
Gateway:            relay serve`,
		PersistentPreRunE: initLogging,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.relay/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Relay v%s\n", version)
		},
	})

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(translateCmd())
	rootCmd.AddCommand(knowledgeCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGING INITIALIZATION
// ═══════════════════════════════════════════════════════════════════════════════

func initLogging(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	filePath := ""
	if cfg, err := loadConfig(); err == nil {
		level = logging.ParseLevel(cfg.Logging.Level)
		filePath = cfg.Logging.File
	}
	if verbose {
		level = logging.LevelDebug
	}

	lc := logging.DefaultConfig()
	lc.Level = level
	if filePath != "" {
		if err := os.MkdirAll(filepath.Dir(filePath), 0755); err == nil {
			lc.FilePath = filePath
		} else {
			fmt.Fprintf(os.Stderr, "Warning: failed to create log directory: %v\n", err)
		}
	}

	log = logging.New(lc)
	logging.SetGlobal(log)

	if verbose {
		log.Debug("Verbose logging enabled")
		log.Debug("Config path: %s", configPath())
	}
	return nil
}

// newZerolog builds the structured logger handed to the service-facing
// packages (gateway, knowledge store).
func newZerolog(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}

	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// loadEnvFile loads provider credentials from ~/.relay/.env into the
// process environment, so OPENROUTER_API_KEY does not have to live in the
// config file or the shell profile.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}

	data, err := os.ReadFile(filepath.Join(home, ".relay", ".env"))
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.Trim(strings.TrimSpace(line[idx+1:]), `"'`)

		// Real environment wins over the .env file.
		if os.Getenv(key) == "" && value != "" {
			os.Setenv(key, value)
			if log != nil {
				log.Debug("[Env] Loaded %s from .env file", key)
			}
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// WIRING
// ═══════════════════════════════════════════════════════════════════════════════

// loadConfig reads the config file, honoring the --config flag.
func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFromPath(cfgPath)
	}
	return config.Load()
}

func configPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.Default().GetConfigPath()
}

// storeLookup adapts the knowledge store to the dispatcher's lookup
// interface.
type storeLookup struct {
	store      *knowledge.Store
	maxResults int
}

func (k *storeLookup) Lookup(ctx context.Context, prompt string) ([]dispatch.KnowledgeAnswer, error) {
	entries, err := k.store.LookupSimilar(ctx, prompt, k.maxResults)
	if err != nil {
		return nil, err
	}

	answers := make([]dispatch.KnowledgeAnswer, 0, len(entries))
	for _, e := range entries {
		answers = append(answers, dispatch.KnowledgeAnswer{
			Question:      e.Question,
			Answer:        e.Answer,
			AverageRating: e.AverageRating(),
			RatingCount:   e.RatingCount,
		})
	}
	return answers, nil
}

// buildDispatcher wires the full dispatch stack: configuration, metrics-
// wrapped providers, event bus and (when enabled) the knowledge base. The
// returned store is nil when the knowledge base is disabled or failed to
// open; the cleanup closes everything that was opened.
func buildDispatcher() (*dispatch.Dispatcher, *config.Config, *bus.Bus, *knowledge.Store, func(), error) {
	loadEnvFile()

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	events := bus.New()
	var cleanups []func()
	cleanups = append(cleanups, func() { _ = events.Close() })
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	local := llm.NewMetricsProvider(llm.NewLocalProvider(cfg.LLM.Local))
	cloud := llm.NewMetricsProvider(llm.NewOpenRouterProvider(cfg.LLM.OpenRouter))
	llm.RegisterMetricsProvider(local)
	llm.RegisterMetricsProvider(cloud)

	opts := []dispatch.Option{
		dispatch.WithLocalProvider(local),
		dispatch.WithCloudProvider(cloud),
		dispatch.WithBus(events),
	}

	var store *knowledge.Store
	if cfg.Knowledge.Enabled {
		store, err = knowledge.Open(cfg.Knowledge.DBPath, newZerolog(cfg))
		if err != nil {
			log.Warn("Knowledge base unavailable: %v", err)
			store = nil
		} else {
			cleanups = append(cleanups, func() { _ = store.Close() })
			opts = append(opts, dispatch.WithKnowledgeBase(&storeLookup{
				store:      store,
				maxResults: cfg.Knowledge.MaxResults,
			}))
		}
	}

	d, err := dispatch.New(cfg, opts...)
	if err != nil {
		cleanup()
		return nil, nil, nil, nil, nil, err
	}

	return d, cfg, events, store, cleanup, nil
}

// openKnowledge opens the configured knowledge store for the direct CLI
// commands that do not need a dispatcher.
func openKnowledge() (*knowledge.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store, err := knowledge.Open(cfg.Knowledge.DBPath, newZerolog(cfg))
	if err != nil {
		return nil, fmt.Errorf("open knowledge base: %w", err)
	}
	return store, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// ASK COMMAND (One-shot dispatch)
// ═══════════════════════════════════════════════════════════════════════════════

func askCmd() *cobra.Command {
	var (
		model       string
		cloudModel  string
		forceCloud  bool
		forceLocal  bool
		noKnowledge bool
		saveAnswer  bool
		temperature float64
		maxTokens   int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Dispatch a prompt and print the answer",
		Long: `Dispatch a prompt to the best provider and model.

Examples:
  relay ask "Write a binary search in Go"
  relay ask --model reasoning "Why is the sky blue?"
  relay ask --cloud "Сравни Go и Rust"
  relay ask --cloud-model deepseek/deepseek-chat "Explain monads"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")

			if forceCloud && forceLocal {
				return fmt.Errorf("--cloud and --local are mutually exclusive")
			}

			d, _, _, store, cleanup, err := buildDispatcher()
			if err != nil {
				return err
			}
			defer cleanup()

			opts := dispatch.Options{
				Model:             model,
				OpenRouterModel:   cloudModel,
				SkipKnowledgeBase: noKnowledge,
			}
			if forceCloud {
				use := true
				opts.UseOpenRouter = &use
			} else if forceLocal {
				use := false
				opts.UseOpenRouter = &use
			}
			if cmd.Flags().Changed("temperature") {
				opts.Temperature = &temperature
			}
			if cmd.Flags().Changed("max-tokens") {
				opts.MaxTokens = &maxTokens
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			result, err := d.Send(ctx, prompt, opts)
			if err != nil {
				return renderDispatchError(err)
			}

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(result)
			}

			fmt.Println(result.Content)
			fmt.Fprintln(os.Stderr, styleMuted.Render(resultFooter(result)))

			if saveAnswer && !result.FromKnowledgeBase {
				if store == nil {
					log.Warn("Cannot save answer: knowledge base is disabled")
					return nil
				}
				entry := &knowledge.Entry{
					Question: prompt,
					Answer:   result.Content,
					Provider: string(result.UsedProvider),
					Model:    result.UsedModel,
					Language: string(result.Language),
					Category: string(result.Category),
				}
				if err := store.Save(ctx, entry); err != nil {
					log.Warn("Failed to save answer: %v", err)
				} else {
					fmt.Fprintln(os.Stderr, styleMuted.Render(
						fmt.Sprintf("saved as %s (rate it: relay knowledge rate %s 5)", entry.ID, entry.ID)))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "logical model name (chat, code, reasoning, translator)")
	cmd.Flags().StringVar(&cloudModel, "cloud-model", "", "exact OpenRouter model, implies --cloud")
	cmd.Flags().BoolVar(&forceCloud, "cloud", false, "force the OpenRouter provider")
	cmd.Flags().BoolVar(&forceLocal, "local", false, "force the local provider")
	cmd.Flags().BoolVar(&noKnowledge, "no-knowledge", false, "skip the stored-answer lookup")
	cmd.Flags().BoolVar(&saveAnswer, "save", false, "store the answer in the knowledge base")
	cmd.Flags().Float64VarP(&temperature, "temperature", "t", 0.7, "sampling temperature")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "completion token cap")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

// resultFooter renders the one-line provenance trailer printed to stderr
// under an answer.
func resultFooter(result *dispatch.Result) string {
	var parts []string
	if result.FromKnowledgeBase {
		parts = append(parts, "knowledge base")
	} else {
		parts = append(parts, fmt.Sprintf("%s/%s", result.UsedProvider, result.UsedModel))
	}
	parts = append(parts, fmt.Sprintf("%s/%s", result.Language, result.Category))
	if result.Translated {
		parts = append(parts, "translated")
	}
	if result.FallbackUsed {
		parts = append(parts, "fallback")
	}
	if result.Usage != nil {
		parts = append(parts, fmt.Sprintf("%d tokens", result.Usage.TotalTokens))
	}
	parts = append(parts, fmt.Sprintf("%dms", result.ElapsedMs))
	return strings.Join(parts, " · ")
}

// renderDispatchError surfaces the recovery hint when the failure carries
// one, then hands the error back for cobra's exit handling.
func renderDispatchError(err error) error {
	if de, ok := llm.AsDispatchError(err); ok && de.Suggestion != "" {
		fmt.Fprintln(os.Stderr, styleMuted.Render("hint: "+de.Suggestion))
	}
	return err
}

// ═══════════════════════════════════════════════════════════════════════════════
// MODELS COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func modelsCmd() *cobra.Command {
	var showUsage bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models each provider advertises",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, cfg, _, _, cleanup, err := buildDispatcher()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			list := d.AvailableModels(ctx)

			fmt.Println(stylePrimary.Render("Local") + "  " + styleMuted.Render(cfg.LLM.Local.BaseURL))
			switch {
			case !cfg.LLM.Local.Enabled:
				fmt.Println(styleMuted.Render("  disabled"))
			case len(list.Local) == 0:
				fmt.Println(styleMuted.Render("  unreachable"))
			default:
				for _, model := range list.Local {
					fmt.Printf("  %s\n", model)
				}
			}

			fmt.Println()
			fmt.Println(stylePrimary.Render("OpenRouter") + "  " + styleMuted.Render(cfg.LLM.OpenRouter.BaseURL))
			switch {
			case !cfg.LLM.OpenRouter.Enabled:
				fmt.Println(styleMuted.Render("  disabled"))
			case !cfg.LLM.OpenRouter.Credentialed():
				fmt.Println(styleMuted.Render("  no API key (set OPENROUTER_API_KEY or llm.openrouter.api_key)"))
			case len(list.External) == 0:
				fmt.Println(styleMuted.Render("  unreachable"))
			default:
				for _, model := range list.External {
					fmt.Printf("  %s\n", model)
				}
			}

			fmt.Println()
			fmt.Println(stylePrimary.Render("Logical models"))
			names := make([]string, 0, len(cfg.LLM.Local.Models))
			for name := range cfg.LLM.Local.Models {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("  %-12s %s\n", name, cfg.LLM.Local.Models[name])
			}

			if showUsage {
				fmt.Println()
				fmt.Println(llm.GetCostSummaryFormatted())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showUsage, "usage", false, "show per-provider call, token and cost accounting")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// CLASSIFY AND TRANSLATE COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [text]",
		Short: "Show the detected language and task category for a prompt",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			text := strings.Join(args, " ")
			fmt.Printf("language: %s\n", dispatch.DetectLanguage(text))
			fmt.Printf("category: %s\n", dispatch.ClassifyTask(text))
		},
	}
}

func translateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "translate [text]",
		Short: "Translate text to English with the configured translator model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")

			d, _, _, _, cleanup, err := buildDispatcher()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			out, err := d.TranslateToEnglish(ctx, text)
			if err != nil {
				return renderDispatchError(err)
			}
			fmt.Println(out)
			return nil
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// KNOWLEDGE COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func knowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "knowledge",
		Aliases: []string{"kb"},
		Short:   "Manage the rated answer cache",
	}

	var (
		provider string
		model    string
		category string
	)
	addCmd := &cobra.Command{
		Use:   "add [question] [answer]",
		Short: "Store a question/answer pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openKnowledge()
			if err != nil {
				return err
			}
			defer store.Close()

			entry := &knowledge.Entry{
				Question: args[0],
				Answer:   args[1],
				Provider: provider,
				Model:    model,
				Language: string(dispatch.DetectLanguage(args[0])),
				Category: category,
			}
			if err := store.Save(cmd.Context(), entry); err != nil {
				return fmt.Errorf("save entry: %w", err)
			}

			fmt.Println(styleSuccess.Render("Saved ") + entry.ID)
			return nil
		},
	}
	addCmd.Flags().StringVar(&provider, "provider", "", "provider the answer came from")
	addCmd.Flags().StringVar(&model, "model", "", "model the answer came from")
	addCmd.Flags().StringVar(&category, "category", "", "task category")
	cmd.AddCommand(addCmd)

	var searchLimit int
	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Find stored answers similar to a prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			store, err := openKnowledge()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.LookupSimilar(cmd.Context(), query, searchLimit)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			if len(entries) == 0 {
				fmt.Printf("No matches for: %s\n", query)
				return nil
			}

			for i, e := range entries {
				printEntry(i+1, e)
			}
			return nil
		},
	}
	searchCmd.Flags().IntVar(&searchLimit, "limit", 5, "maximum results")
	cmd.AddCommand(searchCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "rate [id] [rating]",
		Short: "Rate a stored answer from 1 to 5",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rating, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("rating must be a number: %w", err)
			}

			store, err := openKnowledge()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Rate(cmd.Context(), args[0], rating); err != nil {
				return err
			}

			entry, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s now averages %.1f/5 over %d ratings\n",
				styleSuccess.Render(entry.ID), entry.AverageRating(), entry.RatingCount)
			return nil
		},
	})

	var listLimit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openKnowledge()
			if err != nil {
				return err
			}
			defer store.Close()

			total, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := store.Recent(cmd.Context(), listLimit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("Knowledge base is empty.")
				return nil
			}

			fmt.Printf("%d entries total, newest first:\n\n", total)
			for i, e := range entries {
				printEntry(i+1, e)
			}
			return nil
		},
	}
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum entries to show")
	cmd.AddCommand(listCmd)

	return cmd
}

func printEntry(n int, e knowledge.Entry) {
	rating := "unrated"
	if e.RatingCount > 0 {
		rating = fmt.Sprintf("%.1f/5 (%d)", e.AverageRating(), e.RatingCount)
	}
	fmt.Printf("%d. %s  %s\n", n, stylePrimary.Render(truncate(e.Question, 70)), styleMuted.Render(rating))
	fmt.Printf("   %s\n", truncate(e.Answer, 100))
	fmt.Printf("   %s\n\n", styleMuted.Render("id: "+e.ID))
}

// truncate shortens s to at most maxLen runes, appending an ellipsis.
// Rune-based so Cyrillic text is never cut mid-character.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// ═══════════════════════════════════════════════════════════════════════════════
// SERVE COMMAND (Gateway)
// ═══════════════════════════════════════════════════════════════════════════════

func serveCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Long: `Serve the dispatch API and the WebSocket event stream.

Endpoints:
  POST /api/v1/dispatch   dispatch a prompt
  GET  /api/v1/models     provider model lists
  POST /api/v1/classify   language and task classification
  POST /api/v1/translate  translate text to English
  GET  /events            WebSocket lifecycle event stream
  GET  /health            liveness and stream gauges`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, cfg, events, _, cleanup, err := buildDispatcher()
			if err != nil {
				return err
			}
			defer cleanup()

			if cmd.Flags().Changed("host") {
				cfg.Gateway.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Gateway.Port = port
			}

			srv := gateway.New(cfg.Gateway, d, events, newZerolog(cfg))
			if err := srv.Start(); err != nil {
				return err
			}

			fmt.Println(stylePrimary.Render("relay gateway"))
			fmt.Printf("  URL:    http://%s\n", srv.Addr())
			fmt.Printf("  Events: ws://%s/events\n", srv.Addr())
			if cfg.Gateway.AuthTokenHash == "" {
				fmt.Println(styleMuted.Render("  auth:   disabled (set one with: relay config init --auth-token <token>)"))
			} else {
				fmt.Println(styleMuted.Render("  auth:   bearer token required"))
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			<-sigChan

			fmt.Println(styleMuted.Render("shutting down..."))
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen address")
	cmd.Flags().IntVar(&port, "port", 8901, "listen port")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Println(stylePrimary.Render("Relay configuration"))
			fmt.Printf("Local provider:  enabled=%-5t %s\n", cfg.LLM.Local.Enabled, cfg.LLM.Local.BaseURL)
			fmt.Printf("OpenRouter:      enabled=%-5t %s (key: %t)\n",
				cfg.LLM.OpenRouter.Enabled, cfg.LLM.OpenRouter.BaseURL, cfg.LLM.OpenRouter.Credentialed())
			fmt.Printf("Default models:  local=%s cloud=%s\n",
				cfg.LLM.Local.DefaultModel, cfg.LLM.OpenRouter.DefaultModel)
			fmt.Printf("Smart auto:      enabled=%-5t default=%s fallback=%s\n",
				cfg.SmartAuto.Enabled, cfg.SmartAuto.DefaultModel, cfg.SmartAuto.FallbackModel)
			fmt.Printf("Knowledge base:  enabled=%-5t %s (min rating %.1f)\n",
				cfg.Knowledge.Enabled, cfg.Knowledge.DBPath, cfg.Knowledge.MinRating)
			fmt.Printf("Gateway:         %s auth=%t\n", cfg.Gateway.Addr(), cfg.Gateway.AuthTokenHash != "")
			fmt.Printf("Log level:       %s\n", cfg.Logging.Level)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(configPath())
		},
	})

	cmd.AddCommand(configInitCmd())

	return cmd
}

func configInitCmd() *cobra.Command {
	var (
		authToken string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the config file and create the data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()

			cfg := config.Default()
			if !force {
				if _, err := os.Stat(path); err == nil {
					loaded, err := loadConfig()
					if err != nil {
						return err
					}
					cfg = loaded
				}
			}

			if authToken != "" {
				hash, err := gateway.HashToken(authToken)
				if err != nil {
					return err
				}
				cfg.Gateway.AuthTokenHash = hash
			}

			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			if err := cfg.SaveToPath(path); err != nil {
				return err
			}

			fmt.Println(styleSuccess.Render("Wrote ") + path)
			if authToken != "" {
				fmt.Println(styleMuted.Render("gateway auth enabled; only the bcrypt hash of the token was stored"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&authToken, "auth-token", "", "gateway bearer token to hash into the config")
	cmd.Flags().BoolVar(&force, "force", false, "reset to defaults even if a config exists")
	return cmd
}
