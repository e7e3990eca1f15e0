package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"apriori/internal/config"
	"apriori/internal/hydrator"
	"apriori/internal/llm"
	"apriori/internal/loader"
	"apriori/internal/logging"
	"apriori/internal/pipeline"
	"apriori/internal/report"
	"apriori/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	apiKey     string
	workspace  string
	configPath string

	// Per-command flags
	personasPath string
	adsPath      string
	flowsPath    string
	outPath      string
	noStore      bool
	runsLimit    int

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "apriori",
	Short: "Apriori - synthetic persona marketing simulator",
	Long: `Apriori simulates marketing campaigns against a panel of synthetic
personas before any real money is spent.

Each persona is a grounded profile (occupation, income, digital literacy,
device, scam wariness) reacted through a two-tier LLM engine: a small sample
gets expensive dual-process reasoning, the rest get cheap structured calls.
Reactions pass a consistency validator, then a portfolio optimizer picks the
winning ad mix, or a flow analyzer finds where journeys drop off.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving workspace: %w", err)
			}
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return logging.Initialize(workspace, cfg.Logging.Debug || verbose, cfg.Logging.Level)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// simulateCmd groups the two run modes
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulation against the persona panel",
}

var simulateAdsCmd = &cobra.Command{
	Use:   "ads",
	Short: "Simulate ad reactions and optimize the portfolio",
	Long: `Runs every persona against every ad creative, validates the reactions
for internal consistency, and produces the ad-mode report: winning portfolio
with budget splits, per-ad performance, overlap matrix, audience segments,
and wasted-spend alerts.

Example:
  apriori simulate ads --personas personas.json --ads ads.yaml --out report.json`,
	RunE: runSimulateAds,
}

var simulateFlowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "Simulate user journeys through onboarding flows",
	Long: `Walks every persona screen by screen through each flow variant and
produces the flow-mode report: completion rates, per-screen drop-off,
dominant friction points, inertia metrics, and A/B comparison.

Example:
  apriori simulate flows --personas personas.json --flows flows.yaml --out report.json`,
	RunE: runSimulateFlows,
}

// hydrateCmd enriches raw personas
var hydrateCmd = &cobra.Command{
	Use:   "hydrate",
	Short: "Enrich raw personas into full simulation profiles",
	Long: `Takes a raw persona file (survey rows, partial profiles) and uses the
tier-2 model to fill in missing behavioral fields, writing hydrated personas
ready for simulation.

Example:
  apriori hydrate --personas raw_personas.json --out personas.json`,
	RunE: runHydrate,
}

// runsCmd lists persisted runs
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List persisted simulation runs",
	RunE:  listRuns,
}

// reportCmd re-emits a stored report
var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Write the stored report for a past run",
	Args:  cobra.ExactArgs(1),
	RunE:  emitReport,
}

// initCmd writes a starter config
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file to the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := resolveConfigPath()
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		fmt.Printf("Wrote default config to %s\n", path)
		fmt.Println("Set GEMINI_API_KEY or llm.api_key before running a simulation.")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Gemini API key (or set GEMINI_API_KEY env)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/.apriori/config.yaml)")

	simulateAdsCmd.Flags().StringVar(&personasPath, "personas", "", "Hydrated personas JSON file (required)")
	simulateAdsCmd.Flags().StringVar(&adsPath, "ads", "", "Ad creatives YAML file (required)")
	simulateAdsCmd.Flags().StringVar(&outPath, "out", "ad_report.json", "Report output path")
	simulateAdsCmd.Flags().BoolVar(&noStore, "no-store", false, "Skip run persistence")
	simulateAdsCmd.MarkFlagRequired("personas")
	simulateAdsCmd.MarkFlagRequired("ads")

	simulateFlowsCmd.Flags().StringVar(&personasPath, "personas", "", "Hydrated personas JSON file (required)")
	simulateFlowsCmd.Flags().StringVar(&flowsPath, "flows", "", "Flow definitions YAML file (required)")
	simulateFlowsCmd.Flags().StringVar(&outPath, "out", "flow_report.json", "Report output path")
	simulateFlowsCmd.Flags().BoolVar(&noStore, "no-store", false, "Skip run persistence")
	simulateFlowsCmd.MarkFlagRequired("personas")
	simulateFlowsCmd.MarkFlagRequired("flows")

	hydrateCmd.Flags().StringVar(&personasPath, "personas", "", "Raw personas JSON file (required)")
	hydrateCmd.Flags().StringVar(&outPath, "out", "personas.json", "Hydrated personas output path")
	hydrateCmd.MarkFlagRequired("personas")

	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list")
	reportCmd.Flags().StringVar(&outPath, "out", "", "Output path (default: stdout)")

	simulateCmd.AddCommand(simulateAdsCmd)
	simulateCmd.AddCommand(simulateFlowsCmd)

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(hydrateCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(workspace, ".apriori", "config.yaml")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	return cfg, nil
}

// buildClients wraps both model tiers behind one shared call scheduler so the
// in-flight limit holds across tiers.
func buildClients(cfg *config.Config) (tier1, tier2 llm.Client) {
	scheduler := llm.NewScheduler(llm.SchedulerConfig{
		MaxConcurrentCalls: cfg.Simulation.MaxConcurrentCalls,
	})
	t1 := llm.NewGeminiClient(llm.GeminiConfig{
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Tier1Model,
		Timeout:    cfg.GetLLMTimeout(),
		MaxRetries: cfg.LLM.MaxRetries,
	})
	t2 := llm.NewGeminiClient(llm.GeminiConfig{
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Tier2Model,
		Timeout:    cfg.GetLLMTimeout(),
		MaxRetries: cfg.LLM.MaxRetries,
	})
	tier1 = llm.NewScheduledClient(scheduler, t1, cfg.LLM.MaxRetries)
	tier2 = llm.NewScheduledClient(scheduler, t2, cfg.LLM.MaxRetries)
	return tier1, tier2
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if noStore {
		return nil, nil
	}
	path := cfg.Storage.DBPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	return store.New(path)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()
	return ctx, cancel
}

func runSimulateAds(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	personas, err := loader.LoadPersonas(personasPath)
	if err != nil {
		return err
	}
	ads, err := loader.LoadAds(adsPath)
	if err != nil {
		return err
	}
	logger.Info("Starting ad simulation",
		zap.Int("personas", len(personas)),
		zap.Int("ads", len(ads)))

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	if st != nil {
		defer st.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()

	tier1, tier2 := buildClients(cfg)
	doc, err := pipeline.New(cfg, tier1, tier2, st).RunAds(ctx, personas, ads)
	if err != nil {
		return err
	}

	if err := report.WriteJSON(outPath, doc); err != nil {
		return err
	}
	logger.Info("Ad report written",
		zap.String("path", outPath),
		zap.Int("total_reactions", doc.Metadata.TotalReactions),
		zap.Int("valid_reactions", doc.Metadata.ValidReactions),
		zap.Float64("flagged_pct", doc.ValidationSummary.FlaggedPercentage))
	return nil
}

func runSimulateFlows(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	personas, err := loader.LoadPersonas(personasPath)
	if err != nil {
		return err
	}
	flowDefs, err := loader.LoadFlows(flowsPath)
	if err != nil {
		return err
	}
	logger.Info("Starting flow simulation",
		zap.Int("personas", len(personas)),
		zap.Int("flows", len(flowDefs)))

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	if st != nil {
		defer st.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()

	tier1, tier2 := buildClients(cfg)
	doc, err := pipeline.New(cfg, tier1, tier2, st).RunFlows(ctx, personas, flowDefs)
	if err != nil {
		return err
	}

	if err := report.WriteJSON(outPath, doc); err != nil {
		return err
	}
	logger.Info("Flow report written",
		zap.String("path", outPath),
		zap.String("winner", doc.OverallMetrics.WinningFlowID),
		zap.Float64("completion_rate", doc.OverallMetrics.WinningCompletionRate))
	return nil
}

func runHydrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	raws, err := loader.LoadRawPersonas(personasPath)
	if err != nil {
		return err
	}
	logger.Info("Hydrating personas", zap.Int("count", len(raws)))

	ctx, cancel := signalContext()
	defer cancel()

	_, tier2 := buildClients(cfg)
	h := hydrator.New(tier2, cfg.Simulation.MaxConcurrentCalls)
	personas, err := h.HydrateBatch(ctx, raws)
	if err != nil {
		return fmt.Errorf("hydrating personas: %w", err)
	}

	if err := loader.SavePersonas(outPath, personas); err != nil {
		return err
	}
	logger.Info("Hydrated personas written",
		zap.String("path", outPath),
		zap.Int("count", len(personas)))
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	defer st.Close()

	runs, err := st.ListRuns(runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	for _, r := range runs {
		status := "running"
		if !r.FinishedAt.IsZero() {
			status = "finished " + r.FinishedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%s  %-5s  %3d personas  %2d stimuli  started %s  %s\n",
			r.ID, r.Mode, r.NumPersonas, r.NumStimuli,
			r.StartedAt.Format("2006-01-02 15:04:05"), status)
	}
	return nil
}

func emitReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	defer st.Close()

	var doc map[string]any
	if err := st.GetReport(args[0], &doc); err != nil {
		return err
	}
	if outPath == "" {
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	return report.WriteJSON(outPath, doc)
}
