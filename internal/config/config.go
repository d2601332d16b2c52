package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // Asia/Seoul must resolve on hosts without zoneinfo

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Timezone  string          `mapstructure:"timezone"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Calendar  CalendarConfig  `mapstructure:"calendar"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Reclaim   ReclaimConfig   `mapstructure:"reclaim"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ownership OwnershipConfig `mapstructure:"ownership"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// QuotaConfig defines daily budgets and the uncharged window
type QuotaConfig struct {
	WorkingDayBudget    string                `mapstructure:"working_day_budget"`
	NonWorkingDayBudget string                `mapstructure:"non_working_day_budget"`
	ExclusionWindow     ExclusionWindowConfig `mapstructure:"exclusion_window"`
	Lookback            string                `mapstructure:"lookback"` // How far before midnight to look for open sessions
}

// ExclusionWindowConfig is a daily HH:MM interval
type ExclusionWindowConfig struct {
	Start string `mapstructure:"start"`
	End   string `mapstructure:"end"`
}

// CalendarConfig defines the holiday table source
type CalendarConfig struct {
	HolidaysFile string `mapstructure:"holidays_file"` // Empty uses the built-in table
	Watch        bool   `mapstructure:"watch"`
}

// ScheduleConfig defines cron specs for the periodic jobs
type ScheduleConfig struct {
	Reset                string `mapstructure:"reset"`
	Reconcile            string `mapstructure:"reconcile"`
	Deferred             string `mapstructure:"deferred"`
	WindowEndStop        string `mapstructure:"window_end_stop"`
	WindowEndStopEnabled bool   `mapstructure:"window_end_stop_enabled"`
	UpdatePeriodOnly     bool   `mapstructure:"update_period_only"`
}

// ReclaimConfig defines reclamation behavior
type ReclaimConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	StopRetries int    `mapstructure:"stop_retries"`
	Message     string `mapstructure:"message"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"` // 0 when Host already includes the port
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// OwnershipConfig defines the owner lookup cache
type OwnershipConfig struct {
	CacheSize int    `mapstructure:"cache_size"`
	CacheTTL  string `mapstructure:"cache_ttl"`
}

// PolicyConfig defines where gate policies are loaded from
type PolicyConfig struct {
	PolicyDir string `mapstructure:"policy_dir"` // Empty uses the embedded policy
}

// ServerConfig defines the metrics and status listener
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("QUOTAKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration produced by defaults alone.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	v.SetDefault("timezone", "Asia/Seoul")

	// Quota defaults
	v.SetDefault("quota.working_day_budget", "6h")
	v.SetDefault("quota.non_working_day_budget", "12h")
	v.SetDefault("quota.exclusion_window.start", "08:30")
	v.SetDefault("quota.exclusion_window.end", "18:00")
	v.SetDefault("quota.lookback", "6h")

	// Calendar defaults
	v.SetDefault("calendar.holidays_file", "")
	v.SetDefault("calendar.watch", false)

	// Schedule defaults
	v.SetDefault("schedule.reset", "0 0 * * *")
	v.SetDefault("schedule.reconcile", "@every 5m")
	v.SetDefault("schedule.deferred", "@every 1m")
	v.SetDefault("schedule.window_end_stop", "0 18 * * *")
	v.SetDefault("schedule.window_end_stop_enabled", true)
	v.SetDefault("schedule.update_period_only", false)

	// Reclaim defaults
	v.SetDefault("reclaim.concurrency", 10)
	v.SetDefault("reclaim.stop_retries", 3)
	v.SetDefault("reclaim.message", "Today's usage time has expired. Your instances are being stopped automatically.")

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "quotakeeper")

	// Ownership cache defaults
	v.SetDefault("ownership.cache_size", 1024)
	v.SetDefault("ownership.cache_ttl", "1m")

	// Policy defaults
	v.SetDefault("policy.policy_dir", "")

	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.metrics_port", 9090)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	for name, value := range map[string]string{
		"quota.working_day_budget":     cfg.Quota.WorkingDayBudget,
		"quota.non_working_day_budget": cfg.Quota.NonWorkingDayBudget,
		"quota.lookback":               cfg.Quota.Lookback,
		"ownership.cache_ttl":          cfg.Ownership.CacheTTL,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	start, err := time.Parse("15:04", cfg.Quota.ExclusionWindow.Start)
	if err != nil {
		return fmt.Errorf("invalid quota.exclusion_window.start: %w", err)
	}
	end, err := time.Parse("15:04", cfg.Quota.ExclusionWindow.End)
	if err != nil {
		return fmt.Errorf("invalid quota.exclusion_window.end: %w", err)
	}
	if !start.Before(end) {
		return fmt.Errorf("exclusion window start %s must be before end %s",
			cfg.Quota.ExclusionWindow.Start, cfg.Quota.ExclusionWindow.End)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "redis"
	}
	if cfg.Storage.Type != "redis" {
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	if cfg.Reclaim.Concurrency <= 0 {
		return fmt.Errorf("reclaim.concurrency must be positive, got %d", cfg.Reclaim.Concurrency)
	}
	if cfg.Reclaim.StopRetries < 0 {
		return fmt.Errorf("reclaim.stop_retries must not be negative, got %d", cfg.Reclaim.StopRetries)
	}

	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	return nil
}
