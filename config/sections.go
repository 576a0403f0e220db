package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mohammad-safakhou/catengine/models"
)

type GeneralConfig struct {
	LogMode string `mapstructure:"log_mode"`
	Debug   bool   `mapstructure:"debug"`
}

func (g GeneralConfig) Normalize() GeneralConfig {
	g.LogMode = strings.ToLower(strings.TrimSpace(g.LogMode))
	if g.Debug {
		g.LogMode = "dev"
	}
	if g.LogMode == "" {
		g.LogMode = "prod"
	}
	return g
}

func (g GeneralConfig) Validate() error {
	if g.LogMode != "dev" && g.LogMode != "prod" {
		return fmt.Errorf("general.log_mode must be dev or prod, got %q", g.LogMode)
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host      string        `mapstructure:"host"`
	Port      string        `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Timeout   time.Duration `mapstructure:"timeout"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

func (r RedisConfig) Normalize() RedisConfig {
	if r.Timeout <= 0 {
		r.Timeout = 2 * time.Second
	}
	if r.KeyPrefix == "" {
		r.KeyPrefix = "adaptive:"
	}
	return r
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	if r.DB < 0 {
		return fmt.Errorf("storage.redis.db cannot be negative")
	}
	return nil
}

// PostgresConfig describes the item bank database. Driver sqlite uses
// SQLitePath and ignores the connection fields.
type PostgresConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
	URL        string `mapstructure:"url"`
	Host       string `mapstructure:"host"`
	Port       string `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	DBName     string `mapstructure:"dbname"`
	SSLMode    string `mapstructure:"sslmode"`
}

func (p PostgresConfig) Normalize() PostgresConfig {
	p.Driver = strings.ToLower(strings.TrimSpace(p.Driver))
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.SSLMode == "" {
		p.SSLMode = "disable"
	}
	return p
}

func (p PostgresConfig) Validate() error {
	switch p.Driver {
	case "sqlite":
		if strings.TrimSpace(p.SQLitePath) == "" {
			return fmt.Errorf("storage.postgres.sqlite_path required for the sqlite driver")
		}
		return nil
	case "postgres":
	default:
		return fmt.Errorf("storage.postgres.driver must be postgres or sqlite, got %q", p.Driver)
	}
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN returns the connection string for the configured driver.
func (p PostgresConfig) DSN() string {
	if p.Driver == "sqlite" {
		return p.SQLitePath
	}
	if p.URL != "" {
		return p.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     p.Host + ":" + p.Port,
		Path:     "/" + p.DBName,
		RawQuery: url.Values{"sslmode": {p.SSLMode}}.Encode(),
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u.String()
}

type SessionConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

func (s SessionConfig) Normalize() SessionConfig {
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend == "" {
		s.Backend = "memory"
	}
	if s.TTL <= 0 {
		s.TTL = 24 * time.Hour
	}
	return s
}

func (s SessionConfig) Validate() error {
	if s.Backend != "memory" && s.Backend != "redis" {
		return fmt.Errorf("session.backend must be memory or redis, got %q", s.Backend)
	}
	return nil
}

type EstimatorConfig struct {
	Method    string  `mapstructure:"method"`
	PriorMean float64 `mapstructure:"prior_mean"`
	PriorSD   float64 `mapstructure:"prior_sd"`
}

func (e EstimatorConfig) Normalize() EstimatorConfig {
	e.Method = strings.ToLower(strings.TrimSpace(e.Method))
	if e.Method == "" {
		e.Method = "online"
	}
	if e.PriorSD <= 0 {
		e.PriorSD = 1
	}
	return e
}

func (e EstimatorConfig) Validate() error {
	switch e.Method {
	case "online", "mle", "map", "eap":
		return nil
	}
	return fmt.Errorf("estimator.method must be one of online, mle, map, eap; got %q", e.Method)
}

type StopConfig struct {
	MaxItems    int           `mapstructure:"max_items"`
	TimeLimit   time.Duration `mapstructure:"time_limit"`
	SEThreshold float64       `mapstructure:"se_threshold"`
}

func (s StopConfig) Validate() error {
	if s.MaxItems <= 0 {
		return fmt.Errorf("stop.max_items must be > 0")
	}
	if s.TimeLimit < 0 {
		return fmt.Errorf("stop.time_limit cannot be negative")
	}
	if s.SEThreshold < 0 {
		return fmt.Errorf("stop.se_threshold cannot be negative")
	}
	return nil
}

// TimeLimitPtr returns nil when the time limit is disabled.
func (s StopConfig) TimeLimitPtr() *time.Duration {
	if s.TimeLimit <= 0 {
		return nil
	}
	d := s.TimeLimit
	return &d
}

type SelectionConfig struct {
	PreferBalanced   bool          `mapstructure:"prefer_balanced"`
	Deterministic    bool          `mapstructure:"deterministic"`
	MaxPerTopic      int           `mapstructure:"max_per_topic"`
	TopKRandom       int           `mapstructure:"top_k_random"`
	InfoBandFraction float64       `mapstructure:"info_band_fraction"`
	PolicyTTL        time.Duration `mapstructure:"policy_ttl"`
	ResolveHierarchy bool          `mapstructure:"resolve_hierarchy"`
}

func (s SelectionConfig) Normalize() SelectionConfig {
	if s.InfoBandFraction <= 0 {
		s.InfoBandFraction = models.DefaultInfoBandFraction
	}
	return s
}

func (s SelectionConfig) Validate() error {
	if s.MaxPerTopic < 0 || s.TopKRandom < 0 {
		return fmt.Errorf("selection.max_per_topic and selection.top_k_random cannot be negative")
	}
	if s.PolicyTTL < 0 {
		return fmt.Errorf("selection.policy_ttl cannot be negative")
	}
	return nil
}

// Policy is the default selection policy described by this section.
func (s SelectionConfig) Policy() models.SelectionPolicy {
	p := models.SelectionPolicy{
		PreferBalanced:   s.PreferBalanced,
		Deterministic:    s.Deterministic,
		InfoBandFraction: s.InfoBandFraction,
	}
	if s.MaxPerTopic > 0 {
		p.MaxPerTopic = models.IntPtr(s.MaxPerTopic)
	}
	if s.TopKRandom > 0 {
		p.TopKRandom = models.IntPtr(s.TopKRandom)
	}
	return p.Normalize()
}

type ExposureConfig struct {
	MaxPerWindow int           `mapstructure:"max_per_window"`
	Window       time.Duration `mapstructure:"window"`
}

func (e ExposureConfig) Validate() error {
	if e.MaxPerWindow < 0 {
		return fmt.Errorf("exposure.max_per_window cannot be negative")
	}
	if e.MaxPerWindow > 0 && e.Window <= 0 {
		return fmt.Errorf("exposure.window must be > 0 when max_per_window is set")
	}
	return nil
}

type ScaleConfig struct {
	MeanRef float64 `mapstructure:"mean_ref"`
	SDRef   float64 `mapstructure:"sd_ref"`
}

func (s ScaleConfig) Normalize() ScaleConfig {
	if s.SDRef == 0 {
		s.SDRef = 15
	}
	return s
}

type RecalibrationConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Interval          time.Duration `mapstructure:"interval"`
	Cron              string        `mapstructure:"cron"`
	Method            string        `mapstructure:"method"`
	TargetCorrectRate float64       `mapstructure:"target_correct_rate"`
	LearningRate      float64       `mapstructure:"learning_rate"`
	MinResponses      int           `mapstructure:"min_responses"`
	MaxItemsPerRun    int           `mapstructure:"max_items_per_run"`
	StatsView         string        `mapstructure:"stats_view"`
	ItemsTable        string        `mapstructure:"items_table"`
	ChangeLogTable    string        `mapstructure:"change_log_table"`
}

func (r RecalibrationConfig) Normalize() RecalibrationConfig {
	if r.Interval < time.Second {
		r.Interval = time.Second
	}
	r.Method = strings.ToLower(strings.TrimSpace(r.Method))
	if r.Method == "" {
		r.Method = "heuristic"
	}
	if r.TargetCorrectRate <= 0 || r.TargetCorrectRate >= 1 {
		r.TargetCorrectRate = 0.5
	}
	if r.LearningRate <= 0 {
		r.LearningRate = 0.1
	}
	r.Cron = strings.TrimSpace(r.Cron)
	return r
}

func (r RecalibrationConfig) Validate() error {
	if r.MinResponses < 0 || r.MaxItemsPerRun < 0 {
		return fmt.Errorf("recalibration.min_responses and recalibration.max_items_per_run cannot be negative")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
	MetricsPort    int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.MetricsEnabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when metrics are enabled")
	}
	return nil
}
