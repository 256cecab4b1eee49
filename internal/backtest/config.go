package backtest

import "github.com/shopspring/decimal"

// Config 定义回测参数。
type Config struct {
	InstrumentCode   string          // 标的代码
	InitialBalance   decimal.Decimal // 初始资金
	CommissionRate   decimal.Decimal // 手续费率
	PositionFraction float64         // 单次买入动用的资金比例 (0,1]
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.InitialBalance.LessThanOrEqual(decimal.Zero) {
		cfg.InitialBalance = decimal.NewFromInt(1000000)
	}
	if cfg.CommissionRate.IsNegative() {
		cfg.CommissionRate = decimal.Zero
	}
	if cfg.PositionFraction <= 0 || cfg.PositionFraction > 1 {
		cfg.PositionFraction = 1
	}
	return cfg
}
