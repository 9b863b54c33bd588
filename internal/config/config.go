// Package config loads and validates the keeper's YAML configuration,
// following the nested-section / env-var-expansion / Validate() shape of
// the corpus's own configuration package.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// VenueConfig is one entry of the `venues:` map.
type VenueConfig struct {
	APIBase         string  `yaml:"apiBase"`
	APIKey          string  `yaml:"apiKey"`
	SecretKey       string  `yaml:"secretKey"`
	WeightPerMinute int     `yaml:"weightPerMinute"`
	MakerFeeRate    float64 `yaml:"makerFeeRate"`
	TakerFeeRate    float64 `yaml:"takerFeeRate"`
	IsTestnet       bool    `yaml:"isTestnet"`
	IsLending       bool    `yaml:"isLending"`
}

// LoopConfig is one per-loop `{period, budgetWeight}` override.
type LoopConfig struct {
	Period       time.Duration `yaml:"period"`
	BudgetWeight int           `yaml:"budgetWeight"`
}

// LeveragedConfig is the leveraged single-venue variant's threshold block.
type LeveragedConfig struct {
	MinHF                 float64 `yaml:"minHF"`
	TargetHF              float64 `yaml:"targetHF"`
	EmergencyHF           float64 `yaml:"emergencyHF"`
	MaxLeverage           float64 `yaml:"maxLeverage"`
	FundingFlipThreshold  float64 `yaml:"fundingFlipThreshold"`
	MinCarryAPY           float64 `yaml:"minCarryAPY"`
	LiquidationThreshold  float64 `yaml:"liquidationThreshold"`
	DriftLimit            float64 `yaml:"driftLimit"`
	RescueCooldown        time.Duration `yaml:"rescueCooldown"`
}

// StorageConfig picks the persisted-state backend.
type StorageConfig struct {
	Type string `yaml:"type"` // memory | file | sql
	DSN  string `yaml:"dsn"`
}

// ReconcileConfig carries the Open-Question decision on ghost positions.
type ReconcileConfig struct {
	Interval                         time.Duration `yaml:"interval"`
	DivergenceHaltPct                float64       `yaml:"divergenceHaltPct"`
	AutoCloseUnrecognizedPositions   bool          `yaml:"autoCloseUnrecognizedPositions"`
}

// HistoricalConfig tunes the sliding-window store.
type HistoricalConfig struct {
	Retention    time.Duration `yaml:"retention"`
	HalfLife     time.Duration `yaml:"halfLife"`
	MinSamples   int           `yaml:"minSamples"`
	MatchWindow  time.Duration `yaml:"matchWindow"`
}

// TelemetryConfig controls the ambient OTel/Prometheus wiring.
type TelemetryConfig struct {
	ServiceName   string `yaml:"serviceName"`
	MetricsPort   int    `yaml:"metricsPort"`
	TraceExporter string `yaml:"traceExporter"` // stdout | none
}

// SystemConfig is general process-level configuration.
type SystemConfig struct {
	LogLevel        string `yaml:"logLevel"`
	DiagnosticsPort int    `yaml:"diagnosticsPort"`
}

// Config is the full, typed configuration schema.
type Config struct {
	Venues    map[string]VenueConfig `yaml:"venues"`
	Symbols   []string               `yaml:"symbols"`
	Blacklist []string               `yaml:"blacklist"`

	MinSpread       float64 `yaml:"minSpread"`
	TargetAPY       float64 `yaml:"targetAPY"`
	MinPositionUSD  float64 `yaml:"minPositionUSD"`
	Leverage        float64 `yaml:"leverage"`
	BalanceUsagePct float64 `yaml:"balanceUsagePct"`
	MaxBreakEvenDays float64 `yaml:"maxBreakEvenDays"`
	DriftLimit      float64 `yaml:"driftLimit"`
	RotateMargin    float64 `yaml:"rotateMargin"`
	RotateDwell     int     `yaml:"rotateDwell"`

	Loops map[string]LoopConfig `yaml:"loops"`

	Leveraged  LeveragedConfig  `yaml:"leveraged"`
	Historical HistoricalConfig `yaml:"historical"`
	Storage    StorageConfig    `yaml:"storage"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	System    SystemConfig    `yaml:"system"`
}

// ValidationError mirrors the corpus's field/value/message shape.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: field %q value %v invalid: %s", e.Field, e.Value, e.Message)
}

// DefaultConfig returns the keeper's built-in defaults, used by tests and as the
// base a loaded file is merged onto.
func DefaultConfig() *Config {
	return &Config{
		Venues:  map[string]VenueConfig{},
		Symbols: []string{},

		MinSpread:        0.0001,
		TargetAPY:        0.35,
		MinPositionUSD:   1000,
		Leverage:         2.0,
		BalanceUsagePct:  0.9,
		MaxBreakEvenDays: 7,
		DriftLimit:       0.02,
		RotateMargin:     0.05,
		RotateDwell:      3,

		Loops: map[string]LoopConfig{
			"ScanOpportunities":    {Period: 15 * time.Second, BudgetWeight: 1},
			"VerifyRecentFills":    {Period: 45 * time.Second, BudgetWeight: 1},
			"CheckPositionBalance": {Period: 60 * time.Second, BudgetWeight: 1},
			"RefreshCapital":       {Period: 60 * time.Second, BudgetWeight: 1},
			"RetrySingleLeg":       {Period: 90 * time.Second, BudgetWeight: 1},
			"VerifyPositionState":  {Period: 90 * time.Second, BudgetWeight: 1},
			"UpdateMetrics":        {Period: 120 * time.Second, BudgetWeight: 1},
			"CloseUnprofitable":    {Period: 120 * time.Second, BudgetWeight: 1},
			"CleanupStaleOrders":   {Period: 300 * time.Second, BudgetWeight: 1},
			"SpreadRotation":       {Period: 600 * time.Second, BudgetWeight: 1},
			"EmergencyHealthCheck": {Period: 30 * time.Second, BudgetWeight: 1},
		},

		Leveraged: LeveragedConfig{
			MinHF:                1.4,
			TargetHF:             1.8,
			EmergencyHF:          1.3,
			MaxLeverage:          5.0,
			FundingFlipThreshold: 0,
			MinCarryAPY:          0.05,
			LiquidationThreshold: 0.85,
			DriftLimit:           0.02,
			RescueCooldown:       10 * time.Minute,
		},

		Historical: HistoricalConfig{
			Retention:   30 * 24 * time.Hour,
			HalfLife:    24 * time.Hour,
			MinSamples:  3,
			MatchWindow: 5 * time.Minute,
		},

		Storage: StorageConfig{Type: "memory"},

		Reconcile: ReconcileConfig{
			Interval:                        90 * time.Second,
			DivergenceHaltPct:               5.0,
			AutoCloseUnrecognizedPositions:  false,
		},

		Telemetry: TelemetryConfig{
			ServiceName:   "fundingkeeper",
			MetricsPort:   9090,
			TraceExporter: "stdout",
		},

		System: SystemConfig{
			LogLevel:        "info",
			DiagnosticsPort: 8080,
		},
	}
}

// Load reads, env-expands, strictly decodes, and validates a YAML config
// file, merged onto DefaultConfig().
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := os.Expand(string(raw), expandEnvVar)

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true) // unknown top-level keys reject at load time
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
	}
	return cfg, nil
}

func expandEnvVar(key string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return ""
}

// Validate aggregates every field-level check and returns all violations
// found (rather than failing on the first), matching the corpus's
// multi-error Validate().
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if len(c.Venues) < 2 && len(c.Venues) != 0 {
		// a single-venue config is only valid for the leveraged variant;
		// that decision is made at the scheduler layer, not rejected here.
		_ = len(c.Venues)
	}
	for name, v := range c.Venues {
		if v.APIBase == "" {
			errs = append(errs, ValidationError{Field: "venues." + name + ".apiBase", Value: v.APIBase, Message: "must not be empty"})
		}
		if v.WeightPerMinute <= 0 {
			errs = append(errs, ValidationError{Field: "venues." + name + ".weightPerMinute", Value: v.WeightPerMinute, Message: "must be positive"})
		}
	}
	if c.TargetAPY <= 0 {
		errs = append(errs, ValidationError{Field: "targetAPY", Value: c.TargetAPY, Message: "must be positive"})
	}
	if c.MinPositionUSD <= 0 {
		errs = append(errs, ValidationError{Field: "minPositionUSD", Value: c.MinPositionUSD, Message: "must be positive"})
	}
	if c.Leverage < 1 {
		errs = append(errs, ValidationError{Field: "leverage", Value: c.Leverage, Message: "must be >= 1"})
	}
	if c.BalanceUsagePct <= 0 || c.BalanceUsagePct > 1 {
		errs = append(errs, ValidationError{Field: "balanceUsagePct", Value: c.BalanceUsagePct, Message: "must be in (0,1]"})
	}
	if c.DriftLimit <= 0 {
		errs = append(errs, ValidationError{Field: "driftLimit", Value: c.DriftLimit, Message: "must be positive"})
	}
	switch c.Storage.Type {
	case "memory", "file", "sql", "":
	default:
		errs = append(errs, ValidationError{Field: "storage.type", Value: c.Storage.Type, Message: "must be one of memory|file|sql"})
	}
	if c.Storage.Type == "sql" && c.Storage.DSN == "" {
		errs = append(errs, ValidationError{Field: "storage.dsn", Value: c.Storage.DSN, Message: "required when storage.type=sql"})
	}
	switch c.System.LogLevel {
	case "debug", "info", "warn", "error", "":
	default:
		errs = append(errs, ValidationError{Field: "system.logLevel", Value: c.System.LogLevel, Message: "must be one of debug|info|warn|error"})
	}
	if c.Leveraged.EmergencyHF > 0 && c.Leveraged.MinHF > 0 && c.Leveraged.TargetHF > 0 {
		if !(c.Leveraged.EmergencyHF < c.Leveraged.MinHF && c.Leveraged.MinHF < c.Leveraged.TargetHF) {
			errs = append(errs, ValidationError{Field: "leveraged", Value: c.Leveraged, Message: "must satisfy emergencyHF < minHF < targetHF"})
		}
	}
	return errs
}

// Redacted returns a copy of the config with venue credentials masked, safe
// to log — following the corpus's maskString precedent.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Venues = make(map[string]VenueConfig, len(c.Venues))
	for k, v := range c.Venues {
		v.APIKey = maskString(v.APIKey)
		v.SecretKey = maskString(v.SecretKey)
		cp.Venues[k] = v
	}
	return &cp
}

func maskString(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// LoopOrDefault returns a named loop's config, falling back to DefaultConfig's value.
func (c *Config) LoopOrDefault(name string) LoopConfig {
	if lc, ok := c.Loops[name]; ok && lc.Period > 0 {
		return lc
	}
	return DefaultConfig().Loops[name]
}
