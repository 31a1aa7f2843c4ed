package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config represents the engine's full runtime configuration (spec §6).
type Config struct {
	// Ledger adapter selection and connection.
	Ledger struct {
		Driver  string `mapstructure:"driver"` // "local" or "rest"
		DSN     string `mapstructure:"dsn"`     // localdriver: gorm DSN
		BaseURL string `mapstructure:"base_url"`
		Auth    struct {
			Token string `mapstructure:"token"`
		} `mapstructure:"auth"`
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
		Burst             int     `mapstructure:"burst"`
	} `mapstructure:"ledger"`

	// MatchingEngine adaptive polling and cooldown cadence.
	MatchingEngine struct {
		BaseIntervalMs        int      `mapstructure:"base_interval_ms"`
		MediumIdleIntervalMs  int      `mapstructure:"medium_idle_interval_ms"`
		SlowIdleIntervalMs    int      `mapstructure:"slow_idle_interval_ms"`
		WatchdogMs            int      `mapstructure:"watchdog_ms"`
		RematchCooldownMs     int      `mapstructure:"rematch_cooldown_ms"`
		TradingPairs          []string `mapstructure:"trading_pairs"`
	} `mapstructure:"matching_engine"`

	// RecentTradeCache on-disk mirror (spec §6).
	Cache struct {
		MaxTradesPerPair int    `mapstructure:"max_trades_per_pair"`
		SaveDebounceMs   int    `mapstructure:"save_debounce_ms"`
		Path             string `mapstructure:"path"`
	} `mapstructure:"cache"`

	// StopLoss backup poll cadence.
	StopLoss struct {
		BackupPollMs int `mapstructure:"backup_poll_ms"`
	} `mapstructure:"stop_loss"`

	// Order placement tuning.
	Order struct {
		MarketSlippageBuffer float64 `mapstructure:"market_slippage_buffer"`
		SubmissionsPerMinute int64   `mapstructure:"submissions_per_minute"`
	} `mapstructure:"order"`

	// Settlement dust suppression.
	Settlement struct {
		DustThreshold          string            `mapstructure:"dust_threshold"`
		DustThresholdOverrides map[string]string `mapstructure:"dust_threshold_overrides"`
		AllocationPoolSize     int               `mapstructure:"allocation_pool_size"`
	} `mapstructure:"settlement"`

	// Events publication backend.
	Events struct {
		Backend string `mapstructure:"backend"` // "inprocess" or "nats"
		NATSURL string `mapstructure:"nats_url"`
	} `mapstructure:"events"`

	// WsBridge external websocket surface.
	WsBridge struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
		Path string `mapstructure:"path"`
	} `mapstructure:"ws_bridge"`

	// Monitoring configuration.
	Monitoring struct {
		PrometheusPort int    `mapstructure:"prometheus_port"`
		LogLevel       string `mapstructure:"log_level"`
	} `mapstructure:"monitoring"`
}

var (
	config *Config
	once   sync.Once
)

// LoadConfig loads the configuration from the specified path.
func LoadConfig(configPath string) (*Config, error) {
	var err error

	once.Do(func() {
		config = &Config{}
		setDefaults()

		v := viper.New()
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("./config")
			v.AddConfigPath("/etc/clobcore")
		}

		v.AutomaticEnv()
		v.SetEnvPrefix("CLOBCORE")

		if err = v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("failed to read config file: %w", err)
				return
			}
			err = nil
		}

		if err = v.Unmarshal(config); err != nil {
			err = fmt.Errorf("failed to unmarshal config: %w", err)
			return
		}
	})

	return config, err
}

// GetConfig returns the current configuration, loading defaults if no
// LoadConfig call has happened yet.
func GetConfig() *Config {
	if config == nil {
		_, err := LoadConfig("")
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	}
	return config
}

// SaveConfig writes cfg to path as JSON, for operator inspection or
// seeding a new deployment from a running one's effective config.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func setDefaults() {
	config.Ledger.Driver = "local"
	config.Ledger.RequestsPerSecond = 20
	config.Ledger.Burst = 40

	config.MatchingEngine.BaseIntervalMs = 2000
	config.MatchingEngine.MediumIdleIntervalMs = 10000
	config.MatchingEngine.SlowIdleIntervalMs = 30000
	config.MatchingEngine.WatchdogMs = 25000
	config.MatchingEngine.RematchCooldownMs = 30000
	config.MatchingEngine.TradingPairs = []string{"BTC/USD", "ETH/USD"}

	config.Cache.MaxTradesPerPair = 200
	config.Cache.SaveDebounceMs = 2000
	config.Cache.Path = "./data/recent_trades.json.gz"

	config.StopLoss.BackupPollMs = 5000

	config.Order.MarketSlippageBuffer = 0.05
	config.Order.SubmissionsPerMinute = 120

	config.Settlement.DustThreshold = "0.000001"
	config.Settlement.AllocationPoolSize = 64

	config.Events.Backend = "inprocess"

	config.WsBridge.Host = "0.0.0.0"
	config.WsBridge.Port = 8081
	config.WsBridge.Path = "/ws"

	config.Monitoring.PrometheusPort = 9090
	config.Monitoring.LogLevel = "info"
}

// InitLogger builds a *zap.Logger from cfg.Monitoring.LogLevel.
func InitLogger(cfg *Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	switch cfg.Monitoring.LogLevel {
	case "debug":
		logger, err = zap.NewDevelopment()
	case "info", "warn", "error":
		logger, err = zap.NewProduction()
	default:
		logger, err = zap.NewProduction()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger, nil
}
