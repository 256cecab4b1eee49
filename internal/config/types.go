package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ServerConfig 控制对外 HTTP 服务。
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TradingConfig 控制模拟交易账户参数。手续费率与初始资金为显式配置，
// 不使用隐藏常量，测试可按需覆盖。
type TradingConfig struct {
	CommissionRate float64 `mapstructure:"commission_rate"`
	InitialBalance float64 `mapstructure:"initial_balance"`
}

// StrategyConfig 控制策略默认参数与批量信号生成并发度。
type StrategyConfig struct {
	DefaultShortPeriod int `mapstructure:"default_short_period"`
	DefaultLongPeriod  int `mapstructure:"default_long_period"`
	BatchConcurrency   int `mapstructure:"batch_concurrency"`
}

// PricingConfig 描述价格协作方（股票行情服务）连接信息及本地模拟价兜底参数。
type PricingConfig struct {
	BaseURL          string             `mapstructure:"base_url"`
	Timeout          time.Duration      `mapstructure:"timeout"`
	HistoryDays      int                `mapstructure:"history_days"`
	BasePrices       map[string]float64 `mapstructure:"base_prices"`
	DefaultBasePrice float64            `mapstructure:"default_base_price"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, errors.New("server.port 必须位于(0,65535]"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("server.shutdown_timeout 必须大于0"))
	}
	if c.Trading.CommissionRate < 0 || c.Trading.CommissionRate > 0.01 {
		err = multierr.Append(err, errors.New("trading.commission_rate 应位于[0,0.01]"))
	}
	if c.Trading.InitialBalance <= 0 {
		err = multierr.Append(err, errors.New("trading.initial_balance 必须大于0"))
	}
	if c.Strategy.DefaultShortPeriod < 2 || c.Strategy.DefaultShortPeriod > 100 {
		err = multierr.Append(err, errors.New("strategy.default_short_period 必须位于[2,100]"))
	}
	if c.Strategy.DefaultLongPeriod < 2 || c.Strategy.DefaultLongPeriod > 200 {
		err = multierr.Append(err, errors.New("strategy.default_long_period 必须位于[2,200]"))
	}
	if c.Strategy.DefaultShortPeriod >= c.Strategy.DefaultLongPeriod {
		err = multierr.Append(err, errors.New("strategy.default_short_period 必须小于 default_long_period"))
	}
	if c.Strategy.BatchConcurrency <= 0 {
		err = multierr.Append(err, errors.New("strategy.batch_concurrency 必须大于0"))
	}
	if c.Pricing.BaseURL == "" {
		err = multierr.Append(err, errors.New("pricing.base_url 不能为空"))
	}
	if c.Pricing.Timeout <= 0 {
		err = multierr.Append(err, errors.New("pricing.timeout 必须大于0"))
	}
	if c.Pricing.HistoryDays <= 0 || c.Pricing.HistoryDays > 365 {
		err = multierr.Append(err, errors.New("pricing.history_days 必须位于(0,365]"))
	}
	if c.Pricing.DefaultBasePrice <= 0 {
		err = multierr.Append(err, errors.New("pricing.default_base_price 必须大于0"))
	}
	for code, price := range c.Pricing.BasePrices {
		if price <= 0 {
			err = multierr.Append(err, fmt.Errorf("pricing.base_prices[%s] 必须大于0", code))
		}
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
