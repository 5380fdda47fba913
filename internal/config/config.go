// Package config loads backend configuration from file, environment and
// defaults using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full backend configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Strategy StrategyConfig `mapstructure:"strategy"`
}

// ServerConfig configures the HTTP/WebSocket API server.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig configures the SQLite account store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ExchangeConfig configures exchange connectivity. With empty credentials the
// backend runs in simulation mode: synthetic candles and a paper gateway.
type ExchangeConfig struct {
	RESTURL   string        `mapstructure:"rest_url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Simulated reports whether the backend should run without real exchange
// connectivity.
func (e ExchangeConfig) Simulated() bool {
	return e.APIKey == "" || e.APISecret == ""
}

// StrategyConfig holds the decision-engine parameters.
type StrategyConfig struct {
	Symbol          string        `mapstructure:"symbol"`
	CheckInterval   time.Duration `mapstructure:"check_interval"`
	InitialBalance  float64       `mapstructure:"initial_balance"`
	BaseLot         float64       `mapstructure:"base_lot"`
	PyramidFactor   float64       `mapstructure:"pyramid_factor"`
	TrailingFactor  float64       `mapstructure:"trailing_factor"`
	GlobalStopPct   float64       `mapstructure:"global_stop_pct"`
	MinLot          float64       `mapstructure:"min_lot"`
	MonthlyDeposit  float64       `mapstructure:"monthly_deposit"`
	TimeStopDays    int           `mapstructure:"time_stop_days"`
	DepositDays     int           `mapstructure:"deposit_days"`
	DailyCandles    int           `mapstructure:"daily_candles"`
	WeeklyCandles   int           `mapstructure:"weekly_candles"`
}

// setDefaults registers all defaults on a viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.path", "accounts.db")

	v.SetDefault("exchange.rest_url", "https://api.huobi.pro")
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.api_secret", "")
	v.SetDefault("exchange.timeout", 10*time.Second)

	v.SetDefault("strategy.symbol", "btcusdt")
	v.SetDefault("strategy.check_interval", 60*time.Second)
	v.SetDefault("strategy.initial_balance", 100.0)
	v.SetDefault("strategy.base_lot", 40.0)
	v.SetDefault("strategy.pyramid_factor", 1.3)
	v.SetDefault("strategy.trailing_factor", 0.90)
	v.SetDefault("strategy.global_stop_pct", 0.25)
	v.SetDefault("strategy.min_lot", 1.0)
	v.SetDefault("strategy.monthly_deposit", 500.0)
	v.SetDefault("strategy.time_stop_days", 60)
	v.SetDefault("strategy.deposit_days", 30)
	v.SetDefault("strategy.daily_candles", 200)
	v.SetDefault("strategy.weekly_candles", 100)
}

// Default returns the configuration with every value at its default.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		panic(err) // defaults always unmarshal
	}
	return cfg
}

// Load reads configuration from an optional YAML file and PYRAMID_* env vars,
// falling back to defaults for everything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PYRAMID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Strategy.CheckInterval <= 0 {
		return nil, fmt.Errorf("strategy.check_interval must be positive, got %s", cfg.Strategy.CheckInterval)
	}
	return cfg, nil
}
