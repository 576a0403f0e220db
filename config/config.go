package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "CATENGINE"

// Config holds all configuration for the engine and its background jobs.
type Config struct {
	General       GeneralConfig       `mapstructure:"general"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Session       SessionConfig       `mapstructure:"session"`
	Estimator     EstimatorConfig     `mapstructure:"estimator"`
	Stop          StopConfig          `mapstructure:"stop"`
	Selection     SelectionConfig     `mapstructure:"selection"`
	Exposure      ExposureConfig      `mapstructure:"exposure"`
	Scale         ScaleConfig         `mapstructure:"scale"`
	Recalibration RecalibrationConfig `mapstructure:"recalibration"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_mode", "prod")
	v.SetDefault("general.debug", false)

	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", "2s")
	v.SetDefault("storage.redis.key_prefix", "adaptive:")
	v.SetDefault("storage.postgres.driver", "sqlite")
	v.SetDefault("storage.postgres.sqlite_path", "catengine.db")
	v.SetDefault("storage.postgres.sslmode", "disable")

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.ttl", "24h")

	v.SetDefault("estimator.method", "online")
	v.SetDefault("estimator.prior_mean", 0.0)
	v.SetDefault("estimator.prior_sd", 1.0)

	v.SetDefault("stop.max_items", 20)
	v.SetDefault("stop.time_limit", "60s")
	v.SetDefault("stop.se_threshold", 0.3)

	v.SetDefault("selection.prefer_balanced", true)
	v.SetDefault("selection.deterministic", false)
	v.SetDefault("selection.max_per_topic", 0)
	v.SetDefault("selection.top_k_random", 0)
	v.SetDefault("selection.info_band_fraction", 0.05)
	v.SetDefault("selection.policy_ttl", "0s")
	v.SetDefault("selection.resolve_hierarchy", true)

	v.SetDefault("exposure.max_per_window", 0)
	v.SetDefault("exposure.window", "24h")

	v.SetDefault("scale.mean_ref", 100.0)
	v.SetDefault("scale.sd_ref", 15.0)

	v.SetDefault("recalibration.enabled", false)
	v.SetDefault("recalibration.interval", "1h")
	v.SetDefault("recalibration.method", "heuristic")
	v.SetDefault("recalibration.target_correct_rate", 0.5)
	v.SetDefault("recalibration.learning_rate", 0.1)
	v.SetDefault("recalibration.min_responses", 0)
	v.SetDefault("recalibration.max_items_per_run", 0)
	v.SetDefault("recalibration.stats_view", "irt_item_stats")
	v.SetDefault("recalibration.items_table", "items")
	v.SetDefault("recalibration.change_log_table", "irt_param_changes")

	v.SetDefault("telemetry.metrics_enabled", false)
	v.SetDefault("telemetry.metrics_port", 9090)
}

// LoadConfig reads config.{json,yaml} from path or the usual search locations,
// overlays CATENGINE_* environment variables and validates the result. A missing
// config file is not an error when no explicit path was given.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills in defaults for zero or out-of-range values.
func (c *Config) Normalize() {
	c.General = c.General.Normalize()
	c.Storage.Redis = c.Storage.Redis.Normalize()
	c.Storage.Postgres = c.Storage.Postgres.Normalize()
	c.Session = c.Session.Normalize()
	c.Estimator = c.Estimator.Normalize()
	c.Selection = c.Selection.Normalize()
	c.Scale = c.Scale.Normalize()
	c.Recalibration = c.Recalibration.Normalize()
}

func (c *Config) Validate() error {
	validators := []func() error{
		c.General.Validate,
		c.Storage.Redis.Validate,
		c.Storage.Postgres.Validate,
		c.Session.Validate,
		c.Estimator.Validate,
		c.Stop.Validate,
		c.Selection.Validate,
		c.Exposure.Validate,
		c.Recalibration.Validate,
		c.Telemetry.Validate,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}
