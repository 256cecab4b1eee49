package strategy

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind 标识策略类型。
type Kind string

// SignalKind 表示信号方向。
type SignalKind string

const (
	SignalBuy  SignalKind = "BUY"
	SignalSell SignalKind = "SELL"
	SignalHold SignalKind = "HOLD"
)

// Signal 为一次策略评估的输出。除 Executed 标志外创建后不再修改，
// 调用方执行信号后可将 Executed 置位。
type Signal struct {
	InstrumentCode string
	StrategyKind   Kind
	Kind           SignalKind
	Price          decimal.Decimal
	Strength       decimal.Decimal // 交叉幅度的绝对值，0-100
	Reason         string
	GeneratedAt    time.Time
	Executed       bool
}

// Config 为来自外部的未定型策略配置，Kind 与数值参数表
// 在注册表构造策略时完成一次性解析与校验。
type Config struct {
	Kind   Kind               `mapstructure:"kind"`
	Params map[string]float64 `mapstructure:"params"`
}
