package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the monitoring optimization core.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Planning  PlanningConfig  `mapstructure:"planning"`
	Predictor PredictorConfig `mapstructure:"predictor"`
	Trainer   TrainerConfig   `mapstructure:"trainer"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains top-level service settings.
type GeneralConfig struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// ThresholdConfig declares the compliant range for one parameter.
// Max may be omitted (<= 0 means unbounded above) for parameters where only
// a lower bound applies, e.g. dissolved oxygen.
type ThresholdConfig struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

// PlanningConfig contains the site-selection and risk-scoring options.
type PlanningConfig struct {
	Parameters           []string                   `mapstructure:"parameters"`
	AcquisitionFunction  string                     `mapstructure:"acquisition_function"`
	ExplorationWeight    float64                    `mapstructure:"exploration_weight"`
	SpatialDecayRadiusKm float64                    `mapstructure:"spatial_decay_radius_km"`
	SpatialDecayFactor   float64                    `mapstructure:"spatial_decay_factor"`
	MonthlyBudgetSites   int                        `mapstructure:"monthly_budget_sites"`
	RiskThreshold        float64                    `mapstructure:"risk_threshold"`
	ImprovementReference float64                    `mapstructure:"improvement_reference"`
	Weights              map[string]float64         `mapstructure:"weights"`
	Thresholds           map[string]ThresholdConfig `mapstructure:"thresholds"`
	UncertaintyBonus     float64                    `mapstructure:"uncertainty_bonus"`
	MaxUncertaintyBonus  float64                    `mapstructure:"max_uncertainty_bonus"`
}

// Normalize applies defaults for unset planning values.
func (p PlanningConfig) Normalize() PlanningConfig {
	if len(p.Parameters) == 0 {
		p.Parameters = []string{"ph", "tds", "turbidity"}
	}
	if strings.TrimSpace(p.AcquisitionFunction) == "" {
		p.AcquisitionFunction = "ucb"
	}
	if p.ExplorationWeight <= 0 {
		p.ExplorationWeight = 2.0
	}
	if p.SpatialDecayRadiusKm <= 0 {
		p.SpatialDecayRadiusKm = 5.0
	}
	if p.SpatialDecayFactor <= 0 || p.SpatialDecayFactor > 1 {
		p.SpatialDecayFactor = 0.7
	}
	if p.RiskThreshold <= 0 {
		p.RiskThreshold = 50.0
	}
	if p.ImprovementReference <= 0 {
		// EI/PI baseline when no selected site exceeds the risk threshold yet.
		p.ImprovementReference = p.RiskThreshold
	}
	if p.UncertaintyBonus <= 0 {
		p.UncertaintyBonus = 10.0
	}
	if p.MaxUncertaintyBonus <= 0 {
		p.MaxUncertaintyBonus = 30.0
	}
	if len(p.Thresholds) == 0 {
		// WHO/BIS drinking-water limits for the default parameter set.
		p.Thresholds = map[string]ThresholdConfig{
			"ph":               {Min: 6.5, Max: 8.5},
			"tds":              {Min: 0, Max: 500},
			"turbidity":        {Min: 0, Max: 5},
			"dissolved_oxygen": {Min: 5.0, Max: 0},
		}
	}
	return p
}

// Validate ensures the planning options are usable.
func (p PlanningConfig) Validate() error {
	switch p.AcquisitionFunction {
	case "ucb", "ei", "pi":
	default:
		return fmt.Errorf("planning.acquisition_function must be one of ucb, ei, pi (got %q)", p.AcquisitionFunction)
	}
	if p.ExplorationWeight <= 0 {
		return fmt.Errorf("planning.exploration_weight must be > 0")
	}
	if p.SpatialDecayFactor <= 0 || p.SpatialDecayFactor > 1 {
		return fmt.Errorf("planning.spatial_decay_factor must be in (0, 1]")
	}
	if p.SpatialDecayRadiusKm <= 0 {
		return fmt.Errorf("planning.spatial_decay_radius_km must be > 0")
	}
	if p.MonthlyBudgetSites <= 0 {
		return fmt.Errorf("planning.monthly_budget_sites must be > 0")
	}
	if len(p.Parameters) == 0 {
		return fmt.Errorf("planning.parameters must not be empty")
	}
	for name, w := range p.Weights {
		if w < 0 {
			return fmt.Errorf("planning.weights.%s cannot be negative", name)
		}
	}
	for _, param := range p.Parameters {
		if _, ok := p.Thresholds[param]; !ok {
			return fmt.Errorf("planning.thresholds missing entry for parameter %q", param)
		}
	}
	return nil
}

// PredictorConfig contains the Gaussian-Process fitting options.
type PredictorConfig struct {
	MinTrainingPoints    int     `mapstructure:"min_training_points"`
	Restarts             int     `mapstructure:"restarts"`
	CVFolds              int     `mapstructure:"cv_folds"`
	R2WarningFloor       float64 `mapstructure:"r2_warning_floor"`
	UncertaintyInflation float64 `mapstructure:"uncertainty_inflation"`
	Seed                 int64   `mapstructure:"seed"`
}

// Normalize applies defaults for unset predictor values.
func (p PredictorConfig) Normalize() PredictorConfig {
	if p.MinTrainingPoints <= 0 {
		p.MinTrainingPoints = 30
	}
	if p.Restarts < 5 {
		p.Restarts = 5
	}
	if p.CVFolds <= 1 {
		p.CVFolds = 5
	}
	if p.R2WarningFloor <= 0 {
		p.R2WarningFloor = 0.5
	}
	if p.UncertaintyInflation <= 1 {
		p.UncertaintyInflation = 1.5
	}
	if p.Seed == 0 {
		p.Seed = 42
	}
	return p
}

// TrainerConfig contains the retraining schedule and drift settings.
type TrainerConfig struct {
	ScheduleCron          string        `mapstructure:"schedule_cron"`
	DriftThresholdDeltaR2 float64       `mapstructure:"drift_threshold_delta_r2"`
	CUSUMThreshold        float64       `mapstructure:"cusum_threshold"`
	CUSUMDriftMagnitude   float64       `mapstructure:"cusum_drift_magnitude"`
	MaxConcurrent         int           `mapstructure:"max_concurrent"`
	LockTTL               time.Duration `mapstructure:"lock_ttl"`
}

// Normalize applies defaults for unset trainer values.
func (t TrainerConfig) Normalize() TrainerConfig {
	if strings.TrimSpace(t.ScheduleCron) == "" {
		// First day of every month at 02:00.
		t.ScheduleCron = "0 2 1 * *"
	}
	if t.DriftThresholdDeltaR2 <= 0 {
		t.DriftThresholdDeltaR2 = 0.1
	}
	if t.CUSUMThreshold <= 0 {
		t.CUSUMThreshold = 5.0
	}
	if t.CUSUMDriftMagnitude <= 0 {
		t.CUSUMDriftMagnitude = 0.5
	}
	if t.MaxConcurrent <= 0 {
		t.MaxConcurrent = 4
	}
	if t.LockTTL <= 0 {
		t.LockTTL = 10 * time.Minute
	}
	return t
}

// StorageConfig contains storage and persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN assembles a connection string from the individual fields unless an
// explicit URL is configured.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return nil // redis is optional; scheduler falls back to local locking
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required when host is provided")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings.
type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	LogFile string `mapstructure:"log_file"`
}

// LoadConfig loads config from file, falling back to defaults and WFLOW_* env.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("planning.acquisition_function", "ucb")
	viper.SetDefault("planning.exploration_weight", 2.0)
	viper.SetDefault("planning.spatial_decay_radius_km", 5.0)
	viper.SetDefault("planning.spatial_decay_factor", 0.7)
	viper.SetDefault("planning.monthly_budget_sites", 200)
	viper.SetDefault("predictor.min_training_points", 30)
	viper.SetDefault("predictor.restarts", 5)
	viper.SetDefault("predictor.cv_folds", 5)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("WFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Planning = config.Planning.Normalize()
	config.Predictor = config.Predictor.Normalize()
	config.Trainer = config.Trainer.Normalize()

	if err := config.Planning.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	return &config
}
