package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeKind 表示交易方向。
type TradeKind string

const (
	TradeBuy  TradeKind = "BUY"
	TradeSell TradeKind = "SELL"
)

// TradeStatus 表示交易状态。被拒绝的指令不会产生 Trade 记录，
// 因此正常流程下只会出现 COMPLETED。
type TradeStatus string

const (
	StatusPending   TradeStatus = "PENDING"
	StatusCompleted TradeStatus = "COMPLETED"
	StatusFailed    TradeStatus = "FAILED"
)

// Account 为模拟交易账户快照。Balance 为可用现金，
// TotalAssets = Balance + Σ持仓市值，读取时重算。
type Account struct {
	AccountID   string
	UserID      string
	Balance     decimal.Decimal
	TotalAssets decimal.Decimal
	CreatedAt   time.Time
}

// Position 为单只标的的持仓快照。同一账户同一标的至多一条，
// 数量减至0时整条删除，不会以零数量保存。
type Position struct {
	AccountID      string
	InstrumentCode string
	Quantity       int64
	AvgCost        decimal.Decimal
	CurrentPrice   decimal.Decimal
	MarketValue    decimal.Decimal
	ProfitLoss     decimal.Decimal
	ProfitLossPct  decimal.Decimal
	UpdatedAt      time.Time
}

// CostBasis 返回持仓成本 = 加权平均成本 × 数量。
func (p Position) CostBasis() decimal.Decimal {
	return p.AvgCost.Mul(decimal.NewFromInt(p.Quantity))
}

// Trade 为一笔已通过校验的成交记录。
type Trade struct {
	TradeID        string
	AccountID      string
	InstrumentCode string
	Kind           TradeKind
	Quantity       int64
	Price          decimal.Decimal
	Amount         decimal.Decimal
	Commission     decimal.Decimal
	Status         TradeStatus
	ExecutedAt     time.Time
}
