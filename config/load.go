package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"oms-roundtrip-go/infrastructure/logger"
	"oms-roundtrip-go/risk"
)

// AppConfig holds the runtime configuration shared by the oms and sim binaries.
type AppConfig struct {
	Env    string        `yaml:"env"`
	Log    logger.Config `yaml:"log"`
	OMS    OMSConfig     `yaml:"oms"`
	Venue  VenueConfig   `yaml:"venue"`
	Risk   RiskConfig    `yaml:"risk"`
	Ledger LedgerConfig  `yaml:"ledger"`
	Admin  AdminConfig   `yaml:"admin"`
}

type OMSConfig struct {
	VenueAddr     string        `yaml:"venueAddr"`     // venue 地址 host:port
	Symbol        string        `yaml:"symbol"`        // 交易标的
	FirstClientID int64         `yaml:"firstClientId"` // 第一个 client id
	DialTimeout   time.Duration `yaml:"dialTimeout"`
}

type VenueConfig struct {
	ListenAddr   string        `yaml:"listenAddr"`
	FirstVenueID int64         `yaml:"firstVenueId"`
	FillDelay    time.Duration `yaml:"fillDelay"` // ACK 之后多久整单成交
	Liquidity    string        `yaml:"liquidity"` // 单字符流动性标记
	MetricsAddr  string        `yaml:"metricsAddr"`
}

type RiskConfig struct {
	MaxOrderQty    int64   `yaml:"maxOrderQty"`
	MaxNotional    float64 `yaml:"maxNotional"`
	MaxOpenOrders  int     `yaml:"maxOpenOrders"`
	MaxAbsPosition int64   `yaml:"maxAbsPosition"`
}

// LedgerConfig 成交流水目标。SQLitePath 为空时只写 CSV。
type LedgerConfig struct {
	CSVPath    string `yaml:"csvPath"`
	SQLitePath string `yaml:"sqlitePath"`
}

// AdminConfig OMS 管理接口，Addr 为空时不启动。
type AdminConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// Default 返回内置默认值，未配置文件时直接使用。
func Default() AppConfig {
	limits := risk.DefaultLimits()
	return AppConfig{
		Env: "dev",
		Log: logger.DefaultConfig(),
		OMS: OMSConfig{
			VenueAddr:     "127.0.0.1:9001",
			Symbol:        "ABC",
			FirstClientID: 1001,
			DialTimeout:   5 * time.Second,
		},
		Venue: VenueConfig{
			ListenAddr:   "127.0.0.1:9001",
			FirstVenueID: 90001,
			FillDelay:    500 * time.Millisecond,
			Liquidity:    "A",
		},
		Risk: RiskConfig{
			MaxOrderQty:    limits.MaxOrderQty,
			MaxNotional:    limits.MaxNotional,
			MaxOpenOrders:  limits.MaxOpenOrders,
			MaxAbsPosition: limits.MaxAbsPosition,
		},
		Ledger: LedgerConfig{CSVPath: "fills.csv"},
	}
}

// RiskLimits 转换成风控模块使用的限额。
func (c AppConfig) RiskLimits() risk.Limits {
	return risk.Limits{
		MaxOrderQty:    c.Risk.MaxOrderQty,
		MaxNotional:    c.Risk.MaxNotional,
		MaxOpenOrders:  c.Risk.MaxOpenOrders,
		MaxAbsPosition: c.Risk.MaxAbsPosition,
	}
}

// Load reads YAML config from path on top of Default and validates it.
// An empty path returns the defaults.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, Validate(cfg)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then applies OMS_* env vars if present.
// envFile is loaded first via godotenv; a missing file is not an error.
func LoadWithEnvOverrides(path, envFile string) (AppConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return AppConfig{}, fmt.Errorf("load env file: %w", err)
		}
	}
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

func applyEnv(cfg *AppConfig) error {
	str := map[string]*string{
		"OMS_ENV":           &cfg.Env,
		"OMS_LOG_LEVEL":     &cfg.Log.Level,
		"OMS_VENUE_ADDR":    &cfg.OMS.VenueAddr,
		"OMS_SYMBOL":        &cfg.OMS.Symbol,
		"OMS_LISTEN_ADDR":   &cfg.Venue.ListenAddr,
		"OMS_LEDGER_CSV":    &cfg.Ledger.CSVPath,
		"OMS_LEDGER_SQLITE": &cfg.Ledger.SQLitePath,
		"OMS_ADMIN_ADDR":    &cfg.Admin.Addr,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v := os.Getenv("OMS_FILL_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("OMS_FILL_DELAY: %w", err)
		}
		cfg.Venue.FillDelay = d
	}
	ints := map[string]*int64{
		"OMS_MAX_ORDER_QTY":    &cfg.Risk.MaxOrderQty,
		"OMS_MAX_ABS_POSITION": &cfg.Risk.MaxAbsPosition,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	if v := os.Getenv("OMS_MAX_NOTIONAL"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("OMS_MAX_NOTIONAL: %w", err)
		}
		cfg.Risk.MaxNotional = f
	}
	if v := os.Getenv("OMS_MAX_OPEN_ORDERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("OMS_MAX_OPEN_ORDERS: %w", err)
		}
		cfg.Risk.MaxOpenOrders = n
	}
	return nil
}

// Validate ensures required fields are present and limits are sane.
func Validate(cfg AppConfig) error {
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if cfg.OMS.VenueAddr == "" {
		return errors.New("oms.venueAddr is required")
	}
	if cfg.OMS.Symbol == "" {
		return errors.New("oms.symbol is required")
	}
	if cfg.OMS.FirstClientID <= 0 {
		return errors.New("oms.firstClientId must be > 0")
	}
	if cfg.OMS.DialTimeout < 0 {
		return errors.New("oms.dialTimeout must be >= 0")
	}
	if cfg.Venue.ListenAddr == "" {
		return errors.New("venue.listenAddr is required")
	}
	if cfg.Venue.FirstVenueID <= 0 {
		return errors.New("venue.firstVenueId must be > 0")
	}
	if cfg.Venue.FillDelay < 0 {
		return errors.New("venue.fillDelay must be >= 0")
	}
	if len(cfg.Venue.Liquidity) != 1 {
		return fmt.Errorf("venue.liquidity must be a single character, got %q", cfg.Venue.Liquidity)
	}
	if cfg.Risk.MaxOrderQty <= 0 {
		return errors.New("risk.maxOrderQty must be > 0")
	}
	if cfg.Risk.MaxNotional <= 0 {
		return errors.New("risk.maxNotional must be > 0")
	}
	if cfg.Risk.MaxOpenOrders <= 0 {
		return errors.New("risk.maxOpenOrders must be > 0")
	}
	if cfg.Risk.MaxAbsPosition <= 0 {
		return errors.New("risk.maxAbsPosition must be > 0")
	}
	if cfg.Ledger.CSVPath == "" {
		return errors.New("ledger.csvPath is required")
	}
	return nil
}
