// Package config loads and validates Apriori configuration.
// Configuration lives in a YAML file; a missing file yields defaults so the
// tool works out of the box with only GEMINI_API_KEY set.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Simulation SimulationConfig `yaml:"simulation"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LLMConfig configures the Gemini backend.
type LLMConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Tier1Model string `yaml:"tier1_model"` // expensive, high-fidelity calls
	Tier2Model string `yaml:"tier2_model"` // cheap structured calls
	Timeout    string `yaml:"timeout"`     // per-call timeout
	MaxRetries int    `yaml:"max_retries"`
}

// SimulationConfig bounds the reaction engine.
type SimulationConfig struct {
	MaxConcurrentCalls int     `yaml:"max_concurrent_calls"` // global in-flight LLM limit
	Tier1SampleSize    float64 `yaml:"tier1_sample_size"`    // fraction of personas given tier-1 reactions
	RunTimeout         string  `yaml:"run_timeout"`          // whole-run deadline
}

// ThresholdsConfig holds the tuning constants for validation and optimization.
type ThresholdsConfig struct {
	TrustScore            int     `yaml:"trust_score"`              // below this, a CLICK is contradictory
	MinLiteracyForForm    int     `yaml:"min_literacy_for_form"`    // complex forms need at least this literacy
	HighOverlap           float64 `yaml:"high_overlap"`             // Jaccard above this discards the weaker ad
	ClickbaitClickRate    float64 `yaml:"clickbait_click_rate"`     // click rate above this with low conversion is a trap
	ClickbaitConversion   float64 `yaml:"clickbait_conversion"`     // conversion below this triggers the trap alert
	DeviceGapFraction     float64 `yaml:"device_gap_fraction"`      // mismatched-device share above this alerts
	CompletionWarn        float64 `yaml:"completion_warn"`          // flow completion below this is flagged
	ScreenDropOffCritical float64 `yaml:"screen_drop_off_critical"` // per-screen drop-off above this is critical
}

// StorageConfig configures run persistence.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	Debug bool   `yaml:"debug"`
	Level string `yaml:"level"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
			Tier1Model: "gemini-2.5-pro",
			Tier2Model: "gemini-2.5-flash",
			Timeout:    "90s",
			MaxRetries: 3,
		},
		Simulation: SimulationConfig{
			MaxConcurrentCalls: 5,
			Tier1SampleSize:    0.1,
			RunTimeout:         "30m",
		},
		Thresholds: ThresholdsConfig{
			TrustScore:            3,
			MinLiteracyForForm:    5,
			HighOverlap:           0.70,
			ClickbaitClickRate:    0.30,
			ClickbaitConversion:   0.10,
			DeviceGapFraction:     0.50,
			CompletionWarn:        0.50,
			ScreenDropOffCritical: 0.40,
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(".apriori", "runs.db"),
		},
		Logging: LoggingConfig{
			Debug: false,
			Level: "info",
		},
	}
}

// Load reads configuration from path. A missing file is not an error;
// defaults plus environment overrides are returned instead.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides lets environment variables win over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("APRIORI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("APRIORI_TIER1_MODEL"); v != "" {
		c.LLM.Tier1Model = v
	}
	if v := os.Getenv("APRIORI_TIER2_MODEL"); v != "" {
		c.LLM.Tier2Model = v
	}
	if v := os.Getenv("APRIORI_DB"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("APRIORI_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Simulation.MaxConcurrentCalls = n
		}
	}
	if v := os.Getenv("APRIORI_DEBUG"); v == "1" || v == "true" {
		c.Logging.Debug = true
	}
}

// Validate rejects configurations the pipeline cannot run with.
// Call at startup; a validation failure is fatal.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (set GEMINI_API_KEY)")
	}
	if c.LLM.Tier1Model == "" || c.LLM.Tier2Model == "" {
		return fmt.Errorf("llm.tier1_model and llm.tier2_model are required")
	}
	if c.Simulation.MaxConcurrentCalls <= 0 {
		return fmt.Errorf("simulation.max_concurrent_calls must be positive, got %d", c.Simulation.MaxConcurrentCalls)
	}
	if c.Simulation.Tier1SampleSize <= 0 || c.Simulation.Tier1SampleSize > 1 {
		return fmt.Errorf("simulation.tier1_sample_size must be in (0, 1], got %g", c.Simulation.Tier1SampleSize)
	}
	if c.Thresholds.HighOverlap <= 0 || c.Thresholds.HighOverlap > 1 {
		return fmt.Errorf("thresholds.high_overlap must be in (0, 1], got %g", c.Thresholds.HighOverlap)
	}
	if c.Thresholds.TrustScore < 0 || c.Thresholds.TrustScore > 10 {
		return fmt.Errorf("thresholds.trust_score must be in [0, 10], got %d", c.Thresholds.TrustScore)
	}
	if c.Thresholds.MinLiteracyForForm < 0 || c.Thresholds.MinLiteracyForForm > 10 {
		return fmt.Errorf("thresholds.min_literacy_for_form must be in [0, 10], got %d", c.Thresholds.MinLiteracyForForm)
	}
	if _, err := time.ParseDuration(c.LLM.Timeout); err != nil {
		return fmt.Errorf("llm.timeout is not a valid duration: %w", err)
	}
	if _, err := time.ParseDuration(c.Simulation.RunTimeout); err != nil {
		return fmt.Errorf("simulation.run_timeout is not a valid duration: %w", err)
	}
	return nil
}

// GetLLMTimeout parses the per-call timeout, falling back to 90s.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 90 * time.Second
	}
	return d
}

// GetRunTimeout parses the whole-run deadline, falling back to 30m.
func (c *Config) GetRunTimeout() time.Duration {
	d, err := time.ParseDuration(c.Simulation.RunTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}
