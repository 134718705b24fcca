package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/trogers1052/oil-risk-service/internal/backtest"
	"github.com/trogers1052/oil-risk-service/internal/engine"
	"github.com/trogers1052/oil-risk-service/internal/exposure"
	"github.com/trogers1052/oil-risk-service/internal/hedge"
	"github.com/trogers1052/oil-risk-service/internal/limits"
	"github.com/trogers1052/oil-risk-service/internal/varmodel"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Risk     RiskConfig     `mapstructure:"risk"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Migrate  bool   `mapstructure:"migrate"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Brokers        []string `mapstructure:"brokers"`
	ContractTopic  string   `mapstructure:"contract_topic"`
	PriceTopic     string   `mapstructure:"price_topic"`
	RiskEventTopic string   `mapstructure:"risk_event_topic"`
	GroupID        string   `mapstructure:"group_id"`
}

// RedisConfig holds the report cache connection
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	ReportTTL time.Duration `mapstructure:"report_ttl"`
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

// ScheduleConfig controls the end-of-day job
type ScheduleConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	EndOfDay   string `mapstructure:"end_of_day"`
	Location   string `mapstructure:"location"`
	RetainDays int    `mapstructure:"retain_days"`
}

// RiskConfig holds the calculation parameters
type RiskConfig struct {
	Confidences         []float64 `mapstructure:"confidences"`
	HistoryObservations int       `mapstructure:"history_observations"`
	MinObservations     int       `mapstructure:"min_observations"`
	Workers             int       `mapstructure:"workers"`

	GARCH       GARCHConfig       `mapstructure:"garch"`
	MonteCarlo  MonteCarloConfig  `mapstructure:"monte_carlo"`
	Hedge       HedgeConfig       `mapstructure:"hedge"`
	Prices      PriceConfig       `mapstructure:"prices"`
	Limits      LimitConfig       `mapstructure:"limits"`
	Unhedged    UnhedgedConfig    `mapstructure:"unhedged"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Backtest    BacktestConfig    `mapstructure:"backtest"`
}

type GARCHConfig struct {
	MinObservations  int     `mapstructure:"min_observations"`
	MaxIterations    int     `mapstructure:"max_iterations"`
	Distribution     string  `mapstructure:"distribution"`
	DegreesOfFreedom float64 `mapstructure:"degrees_of_freedom"`
}

type MonteCarloConfig struct {
	Paths           int    `mapstructure:"paths"`
	Seed            uint64 `mapstructure:"seed"`
	Workers         int    `mapstructure:"workers"`
	ChunkSize       int    `mapstructure:"chunk_size"`
	MinObservations int    `mapstructure:"min_observations"`
}

type HedgeConfig struct {
	WindowDays        int     `mapstructure:"window_days"`
	MinObservations   int     `mapstructure:"min_observations"`
	EffectivenessLow  float64 `mapstructure:"effectiveness_low"`
	EffectivenessHigh float64 `mapstructure:"effectiveness_high"`
}

type PriceConfig struct {
	StalenessBusinessDays int      `mapstructure:"staleness_business_days"`
	Preference            []string `mapstructure:"preference"`
}

type LimitConfig struct {
	WarningThreshold float64 `mapstructure:"warning_threshold"`
	BreachThreshold  float64 `mapstructure:"breach_threshold"`
	MediumAt         float64 `mapstructure:"medium_at"`
	HighAt           float64 `mapstructure:"high_at"`
	CriticalAt       float64 `mapstructure:"critical_at"`
}

type UnhedgedConfig struct {
	Medium float64 `mapstructure:"medium"`
	High   float64 `mapstructure:"high"`
}

// CorrelationConfig selects realized or static correlations. Static pairs
// are keyed "A|B".
type CorrelationConfig struct {
	Strategy string             `mapstructure:"strategy"`
	Default  float64            `mapstructure:"default"`
	Pairs    map[string]float64 `mapstructure:"pairs"`
}

type BacktestConfig struct {
	Lookback      int     `mapstructure:"lookback"`
	Workers       int     `mapstructure:"workers"`
	CriticalValue float64 `mapstructure:"critical_value"`
}

// Load reads configuration from an optional YAML file and RISK_ environment
// variables, e.g. RISK_DATABASE_HOST overrides database.host.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "oilrisk")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.migrate", true)

	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.contract_topic", "contract-events")
	v.SetDefault("kafka.price_topic", "price-events")
	v.SetDefault("kafka.risk_event_topic", "risk-events")
	v.SetDefault("kafka.group_id", "oil-risk-service")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.report_ttl", "15m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.development", false)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)

	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.end_of_day", "0 30 18 * * 1-5")
	v.SetDefault("schedule.location", "UTC")
	v.SetDefault("schedule.retain_days", 1100)

	v.SetDefault("risk.confidences", []float64{0.95, 0.99})
	v.SetDefault("risk.history_observations", 250)
	v.SetDefault("risk.min_observations", 250)
	v.SetDefault("risk.workers", 4)
	v.SetDefault("risk.garch.min_observations", 100)
	v.SetDefault("risk.garch.max_iterations", 2000)
	v.SetDefault("risk.garch.distribution", varmodel.DistributionNormal)
	v.SetDefault("risk.garch.degrees_of_freedom", 6)
	v.SetDefault("risk.monte_carlo.paths", 10000)
	v.SetDefault("risk.monte_carlo.seed", 42)
	v.SetDefault("risk.monte_carlo.workers", 4)
	v.SetDefault("risk.monte_carlo.chunk_size", 1000)
	v.SetDefault("risk.monte_carlo.min_observations", 30)
	v.SetDefault("risk.hedge.window_days", 90)
	v.SetDefault("risk.hedge.min_observations", 20)
	v.SetDefault("risk.hedge.effectiveness_low", 0.80)
	v.SetDefault("risk.hedge.effectiveness_high", 1.25)
	v.SetDefault("risk.prices.staleness_business_days", 5)
	v.SetDefault("risk.prices.preference", []string{"FUTURES", "SPOT"})
	v.SetDefault("risk.limits.warning_threshold", 0.80)
	v.SetDefault("risk.limits.breach_threshold", 1.0)
	v.SetDefault("risk.limits.medium_at", 1.10)
	v.SetDefault("risk.limits.high_at", 1.25)
	v.SetDefault("risk.limits.critical_at", 1.50)
	v.SetDefault("risk.unhedged.medium", 1000000)
	v.SetDefault("risk.unhedged.high", 5000000)
	v.SetDefault("risk.correlation.strategy", varmodel.CorrelationHistorical)
	v.SetDefault("risk.correlation.default", 0.0)
	v.SetDefault("risk.backtest.lookback", 250)
	v.SetDefault("risk.backtest.workers", 4)
	v.SetDefault("risk.backtest.critical_value", backtest.DefaultCriticalValue)
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	r := c.Risk
	if len(r.Confidences) == 0 {
		return errors.New("risk.confidences must not be empty")
	}
	for _, cl := range r.Confidences {
		if cl <= 0 || cl >= 1 {
			return fmt.Errorf("risk.confidences: %v is not in (0, 1)", cl)
		}
	}
	if r.HistoryObservations <= 0 || r.MinObservations <= 0 {
		return errors.New("risk.history_observations and risk.min_observations must be positive")
	}
	if r.MonteCarlo.Paths <= 0 || r.MonteCarlo.ChunkSize <= 0 {
		return errors.New("risk.monte_carlo.paths and chunk_size must be positive")
	}
	switch r.GARCH.Distribution {
	case varmodel.DistributionNormal:
	case varmodel.DistributionStudentT:
		if r.GARCH.DegreesOfFreedom <= 2 {
			return errors.New("risk.garch.degrees_of_freedom must exceed 2")
		}
	default:
		return fmt.Errorf("risk.garch.distribution: unknown %q", r.GARCH.Distribution)
	}
	if r.Hedge.EffectivenessLow >= r.Hedge.EffectivenessHigh {
		return errors.New("risk.hedge.effectiveness_low must be below effectiveness_high")
	}
	l := r.Limits
	if l.WarningThreshold <= 0 || l.WarningThreshold >= l.BreachThreshold {
		return errors.New("risk.limits.warning_threshold must be positive and below breach_threshold")
	}
	if !(l.BreachThreshold <= l.MediumAt && l.MediumAt <= l.HighAt && l.HighAt <= l.CriticalAt) {
		return errors.New("risk.limits severity bands must be ascending from breach_threshold")
	}
	for _, p := range r.Prices.Preference {
		if p != "FUTURES" && p != "SPOT" {
			return fmt.Errorf("risk.prices.preference: unknown price type %q", p)
		}
	}
	return nil
}

// EngineConfig maps the risk section onto the engine's stage configurations
func (c *Config) EngineConfig() engine.Config {
	r := c.Risk
	return engine.Config{
		VaR: varmodel.Config{
			Confidences:               r.Confidences,
			MinObservations:           r.MinObservations,
			Window:                    r.HistoryObservations,
			GARCHMinObservations:      r.GARCH.MinObservations,
			GARCHMaxIterations:        r.GARCH.MaxIterations,
			Distribution:              r.GARCH.Distribution,
			StudentTDegrees:           r.GARCH.DegreesOfFreedom,
			MonteCarloPaths:           r.MonteCarlo.Paths,
			MonteCarloSeed:            r.MonteCarlo.Seed,
			MonteCarloWorkers:         r.MonteCarlo.Workers,
			MonteCarloChunkSize:       r.MonteCarlo.ChunkSize,
			MonteCarloMinObservations: r.MonteCarlo.MinObservations,
		},
		Hedge: hedge.Config{
			WindowDays:        r.Hedge.WindowDays,
			MinObservations:   r.Hedge.MinObservations,
			EffectivenessLow:  decimal.NewFromFloat(r.Hedge.EffectivenessLow),
			EffectivenessHigh: decimal.NewFromFloat(r.Hedge.EffectivenessHigh),
		},
		Exposure: exposure.Config{
			StalenessBusinessDays: r.Prices.StalenessBusinessDays,
			PriceTypes:            r.Prices.Preference,
		},
		Limits: limits.Config{
			WarningThreshold: decimal.NewFromFloat(r.Limits.WarningThreshold),
			BreachThreshold:  decimal.NewFromFloat(r.Limits.BreachThreshold),
			MediumAt:         decimal.NewFromFloat(r.Limits.MediumAt),
			HighAt:           decimal.NewFromFloat(r.Limits.HighAt),
			CriticalAt:       decimal.NewFromFloat(r.Limits.CriticalAt),
		},
		Backtest: backtest.Config{
			CriticalValue: r.Backtest.CriticalValue,
			Lookback:      r.Backtest.Lookback,
			Workers:       r.Backtest.Workers,
		},
		UnhedgedThresholds: hedge.Thresholds{
			Medium: decimal.NewFromFloat(r.Unhedged.Medium),
			High:   decimal.NewFromFloat(r.Unhedged.High),
		},
		HistoryObservations: r.HistoryObservations,
		Workers:             r.Workers,
	}
}

// CorrelationSource builds the configured correlation strategy
func (c *Config) CorrelationSource() (varmodel.CorrelationSource, error) {
	cc := c.Risk.Correlation
	return varmodel.NewCorrelationSource(cc.Strategy, cc.Pairs, cc.Default)
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}
