package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Cron       CronConfig       `mapstructure:"cron"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Venue      VenueConfig      `mapstructure:"venue"`
	Automation AutomationConfig `mapstructure:"automation"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// EngineConfig holds the protocol-wide fee and escrow parameters. Rates are
// decimal strings so they survive parsing without float rounding.
type EngineConfig struct {
	SwapFeePercent      string `mapstructure:"swap_fee_percent"`
	PerformanceFeeRate  string `mapstructure:"performance_fee_rate"`
	DefaultEscrowLevel  string `mapstructure:"default_escrow_level"`
	MinimumSwapAmount   string `mapstructure:"minimum_swap_amount"`
	FeeCollectorAddress string `mapstructure:"fee_collector_address"`
	// AdminAddress is the only account allowed to publish swap adjustment
	// multipliers. Leaving it empty disables publishing entirely.
	AdminAddress    string `mapstructure:"admin_address"`
	MaxDestinations int    `mapstructure:"max_destinations"`
}

type VenueConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	WSURL           string        `mapstructure:"ws_url"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	CallbackTimeout time.Duration `mapstructure:"callback_timeout"`
}

type AutomationConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	ScanInterval  time.Duration `mapstructure:"scan_interval"`
	SweepLimit    int           `mapstructure:"sweep_limit"`
	EscrowEnabled bool          `mapstructure:"escrow_enabled"`
	EscrowCron    string        `mapstructure:"escrow_cron"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CALC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)

	v.SetDefault("engine.swap_fee_percent", "0.0015")
	v.SetDefault("engine.performance_fee_rate", "0.2")
	v.SetDefault("engine.default_escrow_level", "0.05")
	v.SetDefault("engine.minimum_swap_amount", "50000")
	v.SetDefault("engine.fee_collector_address", "calc-fee-collector")
	v.SetDefault("engine.admin_address", "")
	v.SetDefault("engine.max_destinations", 10)

	v.SetDefault("venue.base_url", "http://localhost:9090")
	v.SetDefault("venue.timeout", "15s")
	v.SetDefault("venue.ws_url", "")
	v.SetDefault("venue.refresh_interval", "30s")
	v.SetDefault("venue.callback_timeout", "10s")

	v.SetDefault("automation.enabled", false)
	v.SetDefault("automation.scan_interval", "10s")
	v.SetDefault("automation.sweep_limit", 100)
	v.SetDefault("automation.escrow_enabled", false)
	v.SetDefault("automation.escrow_cron", "@every 5m")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
