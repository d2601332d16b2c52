package main

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/quotakeeper/internal/config"
	"github.com/goodtune/quotakeeper/internal/schedule"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the quotakeeper configuration file for syntax and semantic errors.

Also checks the cron schedules and whether the holiday table covers the
current year.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	for name, spec := range map[string]string{
		"schedule.reset":           cfg.Schedule.Reset,
		"schedule.reconcile":       cfg.Schedule.Reconcile,
		"schedule.deferred":        cfg.Schedule.Deferred,
		"schedule.window_end_stop": cfg.Schedule.WindowEndStop,
	} {
		if err := schedule.Validate(spec); err != nil {
			fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %s: %v\n", name, err)
			return err
		}
	}

	cal, err := buildCalendar(cfg, quietLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	year := time.Now().In(cal.Location()).Year()
	if !cal.Covers(year) {
		yellow := color.New(color.FgYellow, color.Bold)
		_, _ = yellow.Fprintf(os.Stdout, "⚠️  Holiday table has no entries for %d; only weekends will be non-working days\n", year)
	}

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Defaults(), unknownKeys)
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}

	return unknown, nil
}

// getValidKeys returns every key that defaults register, plus the optional ones
func getValidKeys() map[string]bool {
	v := viper.New()
	config.SetDefaults(v)

	keys := map[string]bool{
		"storage.redis.password": true,
	}
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	dumpField("timezone", cfg.Timezone, defaultCfg.Timezone, yellow, green)

	_, _ = cyan.Println("\n[quota]")
	dumpField("  working_day_budget", cfg.Quota.WorkingDayBudget, defaultCfg.Quota.WorkingDayBudget, yellow, green)
	dumpField("  non_working_day_budget", cfg.Quota.NonWorkingDayBudget, defaultCfg.Quota.NonWorkingDayBudget, yellow, green)
	dumpField("  lookback", cfg.Quota.Lookback, defaultCfg.Quota.Lookback, yellow, green)
	_, _ = cyan.Println("  [quota.exclusion_window]")
	dumpField("    start", cfg.Quota.ExclusionWindow.Start, defaultCfg.Quota.ExclusionWindow.Start, yellow, green)
	dumpField("    end", cfg.Quota.ExclusionWindow.End, defaultCfg.Quota.ExclusionWindow.End, yellow, green)

	_, _ = cyan.Println("\n[calendar]")
	dumpField("  holidays_file", cfg.Calendar.HolidaysFile, defaultCfg.Calendar.HolidaysFile, yellow, green)
	dumpField("  watch", cfg.Calendar.Watch, defaultCfg.Calendar.Watch, yellow, green)

	_, _ = cyan.Println("\n[schedule]")
	dumpField("  reset", cfg.Schedule.Reset, defaultCfg.Schedule.Reset, yellow, green)
	dumpField("  reconcile", cfg.Schedule.Reconcile, defaultCfg.Schedule.Reconcile, yellow, green)
	dumpField("  deferred", cfg.Schedule.Deferred, defaultCfg.Schedule.Deferred, yellow, green)
	dumpField("  window_end_stop", cfg.Schedule.WindowEndStop, defaultCfg.Schedule.WindowEndStop, yellow, green)
	dumpField("  window_end_stop_enabled", cfg.Schedule.WindowEndStopEnabled, defaultCfg.Schedule.WindowEndStopEnabled, yellow, green)
	dumpField("  update_period_only", cfg.Schedule.UpdatePeriodOnly, defaultCfg.Schedule.UpdatePeriodOnly, yellow, green)

	_, _ = cyan.Println("\n[reclaim]")
	dumpField("  concurrency", cfg.Reclaim.Concurrency, defaultCfg.Reclaim.Concurrency, yellow, green)
	dumpField("  stop_retries", cfg.Reclaim.StopRetries, defaultCfg.Reclaim.StopRetries, yellow, green)
	dumpField("  message", cfg.Reclaim.Message, defaultCfg.Reclaim.Message, yellow, green)

	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redactPassword(cfg.Storage.Redis.Password), redactPassword(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)
	dumpField("    key_prefix", cfg.Storage.Redis.KeyPrefix, defaultCfg.Storage.Redis.KeyPrefix, yellow, green)

	_, _ = cyan.Println("\n[ownership]")
	dumpField("  cache_size", cfg.Ownership.CacheSize, defaultCfg.Ownership.CacheSize, yellow, green)
	dumpField("  cache_ttl", cfg.Ownership.CacheTTL, defaultCfg.Ownership.CacheTTL, yellow, green)

	_, _ = cyan.Println("\n[policy]")
	dumpField("  policy_dir", cfg.Policy.PolicyDir, defaultCfg.Policy.PolicyDir, yellow, green)

	_, _ = cyan.Println("\n[server]")
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)

	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		_, _ = cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
